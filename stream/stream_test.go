package stream_test

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/viamrobotics/scavenger-hunt/stream"
	"github.com/viamrobotics/scavenger-hunt/testutils/inject"
)

func TestStreamPublishesFrames(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	img := inject.SolidImage(4, 3, color.White)
	var fetches atomic.Int64
	cam := &inject.Camera{FrameFunc: func(context.Context) (image.Image, error) {
		fetches.Add(1)
		return img, nil
	}}

	s := stream.New("cam", cam, stream.Config{Clock: clk, FrameInterval: time.Second}, logger)
	test.That(t, s.Active(), test.ShouldBeFalse)
	test.That(t, s.NativeSize(), test.ShouldResemble, image.Point{})

	s.Start()
	defer s.Stop()
	test.That(t, s.Active(), test.ShouldBeTrue)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Second)
		test.That(tb, fetches.Load(), test.ShouldBeGreaterThanOrEqualTo, 3)
	})
	latest, _, ok := s.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, latest, test.ShouldEqual, img)
	test.That(t, s.NativeSize(), test.ShouldResemble, image.Pt(4, 3))
	test.That(t, s.Err(), test.ShouldBeNil)
}

func TestStreamStopDoesNotRearm(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	var fetches atomic.Int64
	cam := &inject.Camera{FrameFunc: func(context.Context) (image.Image, error) {
		fetches.Add(1)
		return inject.SolidImage(2, 2, color.Black), nil
	}}
	s := stream.New("cam", cam, stream.Config{Clock: clk, FrameInterval: time.Second}, logger)
	s.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, fetches.Load(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	s.Stop()
	test.That(t, s.Active(), test.ShouldBeFalse)

	before := fetches.Load()
	for i := 0; i < 5; i++ {
		clk.Add(time.Second)
	}
	test.That(t, fetches.Load(), test.ShouldEqual, before)

	// stopping twice is harmless
	s.Stop()
}

func TestStreamDropsFrameAcrossStop(t *testing.T) {
	logger := logging.NewTestLogger(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	returned := make(chan struct{})
	stale := inject.SolidImage(2, 2, color.Black)
	var fetches atomic.Int64
	cam := &inject.Camera{FrameFunc: func(context.Context) (image.Image, error) {
		if fetches.Add(1) > 1 {
			return inject.SolidImage(3, 3, color.White), nil
		}
		defer close(returned)
		close(entered)
		<-release
		return stale, nil
	}}
	clk := clock.NewMock()
	s := stream.New("cam", cam, stream.Config{Clock: clk, FrameInterval: time.Second}, logger)
	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()
	s.Start()
	<-entered

	// stop does not wait for the camera
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop blocked on a frame fetch")
	}
	test.That(t, s.Active(), test.ShouldBeFalse)
	_, ok := <-frames
	test.That(t, ok, test.ShouldBeFalse)

	// a restart while the old fetch is pending never shows its frame
	s.Start()
	defer s.Stop()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		clk.Add(time.Second)
		test.That(tb, s.NativeSize(), test.ShouldResemble, image.Pt(3, 3))
	})
	close(release)
	<-returned
	for i := 0; i < 3; i++ {
		clk.Add(time.Second)
		latest, _, ok := s.Latest()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, latest, test.ShouldNotEqual, stale)
	}
}

func TestStreamFailureHalts(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var fetches atomic.Int64
	cam := &inject.Camera{FrameFunc: func(context.Context) (image.Image, error) {
		fetches.Add(1)
		return nil, errors.New("camera unplugged")
	}}
	clk := clock.NewMock()
	s := stream.New("cam", cam, stream.Config{Clock: clk}, logger)
	s.Start()
	defer s.Stop()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Err(), test.ShouldNotBeNil)
	})
	test.That(t, s.Active(), test.ShouldBeFalse)
	test.That(t, s.Err().Error(), test.ShouldContainSubstring, "camera unplugged")

	clk.Add(time.Minute)
	test.That(t, fetches.Load(), test.ShouldEqual, 1)
}

func TestSnapshot(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := inject.SolidImage(8, 8, color.White)
	s := stream.New("cam", inject.StaticCamera(img), stream.Config{Clock: clock.NewMock()}, logger)

	// no streamed frame yet, read the camera
	got, err := s.Snapshot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, img)

	broken := stream.New("cam", &inject.Camera{}, stream.Config{Clock: clock.NewMock()}, logger)
	_, err = broken.Snapshot(context.Background())
	test.That(t, errors.Is(err, stream.ErrNoFrame), test.ShouldBeTrue)
}
