package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/hunt"
	"github.com/viamrobotics/scavenger-hunt/testutils/inject"
	"github.com/viamrobotics/scavenger-hunt/training"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]string{"Apple", "Zebra Toy"}, []string{"Zebra Toy"})
	test.That(t, err, test.ShouldBeNil)
	return cat
}

func newServer(t *testing.T, app *hunt.App) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	handler, stop, err := NewHandler(ctx, app, Options{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		cancel()
		stop()
		srv.Close()
		test.That(t, app.Close(context.Background()), test.ShouldBeNil)
	})
	return srv
}

func connectedApp(t *testing.T, uploader training.Uploader) *hunt.App {
	t.Helper()
	logger := logging.NewTestLogger(t)
	session := &inject.Session{
		Cameras: map[string]*inject.Camera{
			"cam": {
				FrameFunc: func(context.Context) (image.Image, error) {
					return inject.SolidImage(32, 24, color.White), nil
				},
				ImageBytesFunc: func(context.Context) ([]byte, string, error) {
					return []byte("png"), "image/png", nil
				},
			},
		},
		Detectors: map[string]*inject.Detector{
			connection.DefaultHouseholdDetector: inject.StaticDetector("household"),
			connection.DefaultCustomDetector: inject.StaticDetector("custom", detection.Detection{
				XMin: 1, YMin: 1, XMax: 10, YMax: 10, ClassName: "Zebra Toy", Confidence: 0.5,
			}),
		},
	}
	machine, err := connection.Connect(context.Background(),
		connection.Config{Credentials: connection.Credentials{Host: "h", APIKeyID: "id", APIKey: "k"}},
		inject.Dialer(session, nil), logger)
	test.That(t, err, test.ShouldBeNil)
	app, err := hunt.New(hunt.Deps{Catalog: testCatalog(t), Machine: machine, Uploader: uploader},
		hunt.Config{Clock: clock.NewMock()}, logger)
	test.That(t, err, test.ShouldBeNil)
	return app
}

func disconnectedApp(t *testing.T) *hunt.App {
	t.Helper()
	app, err := hunt.New(hunt.Deps{Catalog: testCatalog(t), ConnectErr: errors.New("machine unreachable")},
		hunt.Config{Clock: clock.NewMock()}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return app
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	return resp, data
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	test.That(t, json.Unmarshal(data, v), test.ShouldBeNil)
}

func TestIndexPage(t *testing.T) {
	srv := newServer(t, disconnectedApp(t))
	resp, body := do(t, http.MethodGet, srv.URL+"/", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, string(body), test.ShouldContainSubstring, "Scavenger Hunt")
	test.That(t, string(body), test.ShouldContainSubstring, "machine unreachable")
	test.That(t, string(body), test.ShouldContainSubstring, "Zebra Toy")
	test.That(t, string(body), test.ShouldNotContainSubstring, "/stream.mjpeg")

	resp, _ = do(t, http.MethodGet, srv.URL+"/static/app.js", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	resp, _ = do(t, http.MethodGet, srv.URL+"/nope", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
}

func TestGameEndpoints(t *testing.T) {
	srv := newServer(t, disconnectedApp(t))

	var st stateResponse
	resp, body := do(t, http.MethodGet, srv.URL+"/api/state", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	decode(t, body, &st)
	test.That(t, st.Active, test.ShouldBeFalse)
	test.That(t, st.Connected, test.ShouldBeFalse)
	test.That(t, st.Error, test.ShouldEqual, "machine unreachable")

	_, body = do(t, http.MethodPost, srv.URL+"/api/game/start", "")
	decode(t, body, &st)
	test.That(t, st.Active, test.ShouldBeTrue)
	test.That(t, st.TimeRemaining, test.ShouldEqual, 300)
	test.That(t, st.Clock, test.ShouldEqual, "05:00")

	_, body = do(t, http.MethodPost, srv.URL+"/api/game/target", `{"name":"Zebra Toy"}`)
	decode(t, body, &st)
	test.That(t, st.Target, test.ShouldEqual, "Zebra Toy")
	test.That(t, st.TargetSource, test.ShouldEqual, detection.SourceCustom)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/game/target", `{"name":"Unicorn"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/game/target", `not json`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	_, body = do(t, http.MethodPost, srv.URL+"/api/game/skip", "")
	decode(t, body, &st)
	test.That(t, st.SkipCount, test.ShouldEqual, 1)

	_, body = do(t, http.MethodPost, srv.URL+"/api/game/end", "")
	decode(t, body, &st)
	test.That(t, st.Active, test.ShouldBeFalse)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/game/submit", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
	test.That(t, string(body), test.ShouldContainSubstring, "machine unreachable")

	resp, _ = do(t, http.MethodGet, srv.URL+"/stream.mjpeg", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/training/capture", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestCatalogEndpoint(t *testing.T) {
	srv := newServer(t, disconnectedApp(t))
	var objects []struct {
		Name   string           `json:"name"`
		Source detection.Source `json:"source"`
	}
	_, body := do(t, http.MethodGet, srv.URL+"/api/catalog?q=zeb", "")
	decode(t, body, &objects)
	test.That(t, len(objects), test.ShouldEqual, 1)
	test.That(t, objects[0].Name, test.ShouldEqual, "Zebra Toy")
	test.That(t, objects[0].Source, test.ShouldEqual, detection.SourceCustom)

	_, body = do(t, http.MethodGet, srv.URL+"/api/catalog", "")
	decode(t, body, &objects)
	test.That(t, len(objects), test.ShouldEqual, 2)
}

func TestOverlayEndpoints(t *testing.T) {
	srv := newServer(t, disconnectedApp(t))

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/overlay", `{}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	var status map[string]bool
	_, body := do(t, http.MethodPost, srv.URL+"/api/overlay", `{"enabled":true}`)
	decode(t, body, &status)
	test.That(t, status["enabled"], test.ShouldBeTrue)
	_, body = do(t, http.MethodGet, srv.URL+"/api/overlay", "")
	decode(t, body, &status)
	test.That(t, status["enabled"], test.ShouldBeTrue)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/overlay.png?width=40&height=30", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "image/png")
	img, err := png.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Size(), test.ShouldResemble, image.Pt(40, 30))

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/overlay.png?width=-1&height=30", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	// no video, no native size to fall back on
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/overlay.png", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)

	_, body = do(t, http.MethodGet, srv.URL+"/api/detections", "")
	test.That(t, strings.TrimSpace(string(body)), test.ShouldEqual, "[]")
}

func TestSubmitAndGallery(t *testing.T) {
	app := connectedApp(t, nil)
	srv := newServer(t, app)

	do(t, http.MethodPost, srv.URL+"/api/game/start", "")
	do(t, http.MethodPost, srv.URL+"/api/game/target", `{"name":"Zebra Toy"}`)

	var res hunt.SubmitResult
	resp, body := do(t, http.MethodPost, srv.URL+"/api/game/submit", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	decode(t, body, &res)
	test.That(t, res.Found, test.ShouldBeTrue)
	test.That(t, res.State.Score, test.ShouldEqual, 1)

	var entries []struct {
		ID       string `json:"id"`
		Object   string `json:"object"`
		ImageURL     string `json:"image_url"`
		AnnotatedURL string `json:"annotated_url"`
	}
	_, body = do(t, http.MethodGet, srv.URL+"/api/gallery", "")
	decode(t, body, &entries)
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].Object, test.ShouldEqual, "Zebra Toy")

	resp, _ = do(t, http.MethodGet, srv.URL+entries[0].ImageURL, "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "image/jpeg")

	resp, _ = do(t, http.MethodGet, srv.URL+entries[0].ImageURL+"?width=16", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	resp, body = do(t, http.MethodGet, srv.URL+entries[0].AnnotatedURL, "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	annotated, err := jpeg.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, annotated.Bounds().Size(), test.ShouldResemble, image.Pt(32, 24))

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/gallery/not-a-uuid/image", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/gallery/00000000-0000-0000-0000-000000000000/image", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/training/capture", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotImplemented)
}

func TestTrainingCaptureEndpoint(t *testing.T) {
	uploader := &inject.Uploader{}
	srv := newServer(t, connectedApp(t, uploader))

	var out map[string]string
	resp, body := do(t, http.MethodPost, srv.URL+"/api/training/capture", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	decode(t, body, &out)
	test.That(t, out["file_id"], test.ShouldEqual, "file-1")

	uploader.UploadFunc = func(context.Context, training.Upload) (string, error) {
		return "", errors.New("quota exceeded")
	}
	// the mock clock never advances so the limiter rejects the retry
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/training/capture", "")
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusTooManyRequests)
}

func TestWebsocketPushesState(t *testing.T) {
	app := disconnectedApp(t)
	srv := newServer(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	var ev hunt.Event
	test.That(t, conn.ReadJSON(&ev), test.ShouldBeNil)
	test.That(t, ev.Type, test.ShouldEqual, hunt.EventState)
	test.That(t, ev.State.Active, test.ShouldBeFalse)

	app.StartGame()
	test.That(t, conn.ReadJSON(&ev), test.ShouldBeNil)
	test.That(t, ev.Type, test.ShouldEqual, hunt.EventState)
	test.That(t, ev.State.Active, test.ShouldBeTrue)
}
