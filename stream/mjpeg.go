package stream

import (
	"image"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"go.viam.com/rdk/rimage"
	rutils "go.viam.com/rdk/utils"
)

// ServeHTTP writes the stream as multipart/x-mixed-replace JPEG frames until the client
// goes away or the stream stops producing frames.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	writeFrame := func(img image.Image) bool {
		data, err := rimage.EncodeImage(ctx, img, rutils.MimeTypeJPEG)
		if err != nil {
			s.logger.Debugw("cannot encode frame", "error", err)
			return true
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {rutils.MimeTypeJPEG},
			"Content-Length": {strconv.Itoa(len(data))},
		})
		if err != nil {
			return false
		}
		if _, err := part.Write(data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if img, _, ok := s.Latest(); ok {
		if !writeFrame(img) {
			return
		}
	}
	if !s.Active() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case img, ok := <-frames:
			if !ok || !writeFrame(img) {
				return
			}
		}
	}
}
