package connection

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/services/vision"
	rutils "go.viam.com/rdk/utils"
	"go.viam.com/utils/rpc"

	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/poller"
)

// ViamDialer connects to a machine through the robot client.
type ViamDialer struct {
	Logger logging.Logger
}

// Dial implements Dialer.
func (d ViamDialer) Dial(ctx context.Context, creds Credentials) (Session, error) {
	dialOpts := []rpc.DialOption{
		rpc.WithEntityCredentials(creds.APIKeyID, rpc.Credentials{
			Type:    rpc.CredentialsTypeAPIKey,
			Payload: creds.APIKey,
		}),
	}
	if creds.SignalingAddress != "" {
		dialOpts = append(dialOpts, rpc.WithWebRTCOptions(rpc.DialWebRTCOptions{
			SignalingServerAddress: creds.SignalingAddress,
		}))
	}
	robotClient, err := client.New(ctx, creds.Host, d.Logger, client.WithDialOptions(dialOpts...))
	if err != nil {
		return nil, err
	}
	return &robotSession{client: robotClient}, nil
}

type robotSession struct {
	client *client.RobotClient
}

func (s *robotSession) Camera(name string) (Camera, error) {
	cam, err := camera.FromRobot(s.client, name)
	if err != nil {
		return nil, err
	}
	return &robotCamera{cam: cam}, nil
}

func (s *robotSession) Detector(name string) (poller.Detector, error) {
	svc, err := vision.FromRobot(s.client, name)
	if err != nil {
		return nil, err
	}
	return &robotDetector{svc: svc}, nil
}

func (s *robotSession) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

type robotCamera struct {
	cam camera.Camera
}

func (c *robotCamera) ImageBytes(ctx context.Context) ([]byte, string, error) {
	data, meta, err := c.cam.Image(ctx, rutils.MimeTypeJPEG, nil)
	if err != nil {
		return nil, "", err
	}
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = rutils.MimeTypeJPEG
	}
	return data, mimeType, nil
}

func (c *robotCamera) Frame(ctx context.Context) (image.Image, error) {
	data, mimeType, err := c.ImageBytes(ctx)
	if err != nil {
		return nil, err
	}
	return rimage.DecodeImage(ctx, data, mimeType)
}

type robotDetector struct {
	svc vision.Service
}

func (d *robotDetector) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]detection.Detection, error) {
	dets, err := d.svc.DetectionsFromCamera(ctx, cameraName, extra)
	if err != nil {
		return nil, err
	}
	out := make([]detection.Detection, 0, len(dets))
	for _, det := range dets {
		converted, err := convertDetection(det)
		if err != nil {
			return nil, errors.Wrapf(err, "vision service %q", d.svc.Name().ShortName())
		}
		out = append(out, converted)
	}
	return out, nil
}

// labeledBox is the part of an object detection the game reads.
type labeledBox interface {
	BoundingBox() *image.Rectangle
	Score() float64
	Label() string
}

func convertDetection(det labeledBox) (detection.Detection, error) {
	box := det.BoundingBox()
	if box == nil {
		return detection.Detection{}, errors.Errorf("detection %q has no bounding box", det.Label())
	}
	return detection.FromRectangle(*box, det.Label(), det.Score(), ""), nil
}
