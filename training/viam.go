package training

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/app"
	"go.viam.com/rdk/logging"
)

const (
	componentType = "rdk:component:camera"
	methodName    = "ReadImage"
)

// CloudConfig names the credentials and machine part uploads are filed under.
type CloudConfig struct {
	BaseURL       string
	APIKey        string
	APIKeyID      string
	PartID        string
	ComponentName string
}

// CloudUploader sends images to the cloud data service.
type CloudUploader struct {
	client *app.ViamClient
	cfg    CloudConfig
}

// NewCloudUploader dials the cloud app with an API key.
func NewCloudUploader(ctx context.Context, cfg CloudConfig, logger logging.Logger) (*CloudUploader, error) {
	if cfg.PartID == "" {
		return nil, errors.New("a machine part id is required to upload training images")
	}
	client, err := app.CreateViamClientWithAPIKey(ctx, app.Options{BaseURL: cfg.BaseURL}, cfg.APIKey, cfg.APIKeyID, logger)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to the cloud app")
	}
	return &CloudUploader{client: client, cfg: cfg}, nil
}

// Upload implements Uploader.
func (u *CloudUploader) Upload(ctx context.Context, up Upload) (string, error) {
	times := [2]time.Time{up.RequestedAt, up.RequestedAt}
	return u.client.DataClient().BinaryDataCaptureUpload(
		ctx,
		up.Data,
		u.cfg.PartID,
		componentType,
		u.cfg.ComponentName,
		methodName,
		up.Extension,
		&app.BinaryDataCaptureUploadOptions{
			Tags:             up.Tags,
			DataRequestTimes: &times,
		},
	)
}

// Close disconnects from the cloud app.
func (u *CloudUploader) Close() error {
	return u.client.Close()
}
