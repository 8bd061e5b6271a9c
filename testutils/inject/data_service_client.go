package inject

import (
	"context"
	"fmt"
	"sync"

	"github.com/viamrobotics/scavenger-hunt/training"
)

// Uploader is an injected training uploader that remembers every upload.
type Uploader struct {
	UploadFunc func(ctx context.Context, u training.Upload) (string, error)

	mu      sync.Mutex
	uploads []training.Upload
}

// Upload records u and calls the injected Upload, or returns a sequential file id.
func (u *Uploader) Upload(ctx context.Context, up training.Upload) (string, error) {
	u.mu.Lock()
	u.uploads = append(u.uploads, up)
	n := len(u.uploads)
	u.mu.Unlock()
	if u.UploadFunc == nil {
		return fmt.Sprintf("file-%d", n), nil
	}
	return u.UploadFunc(ctx, up)
}

// Uploads returns every upload attempted so far.
func (u *Uploader) Uploads() []training.Upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]training.Upload{}, u.uploads...)
}
