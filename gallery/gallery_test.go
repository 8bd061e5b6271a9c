package gallery

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/testutils/inject"
)

type grabber struct {
	img image.Image
	err error
}

func (g grabber) Snapshot(context.Context) (image.Image, error) {
	return g.img, g.err
}

var duck = detection.Detection{XMin: 1, YMin: 2, XMax: 30, YMax: 40, ClassName: "Rubber Duck", Confidence: 0.9, Source: detection.SourceCustom}

func TestRecordPrepends(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	frame := inject.SolidImage(64, 48, color.White)
	r := NewRecorder(grabber{img: frame}, nil, clk, logger)
	defer r.Close()

	var seen []Entry
	r.OnRecord(func(e Entry) { seen = append(seen, e) })

	first, err := r.Record(context.Background(), "Rubber Duck", duck)
	test.That(t, err, test.ShouldBeNil)
	clk.Add(time.Minute)
	second, err := r.Record(context.Background(), "Apple", duck)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, first.ID, test.ShouldNotEqual, second.ID)
	test.That(t, first.MimeType, test.ShouldEqual, "image/jpeg")
	test.That(t, first.CapturedAt, test.ShouldEqual, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first.Image))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Width, test.ShouldEqual, 64)
	test.That(t, cfg.Height, test.ShouldEqual, 48)

	entries, err := r.List(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].TargetObject, test.ShouldEqual, "Apple")
	test.That(t, entries[1].TargetObject, test.ShouldEqual, "Rubber Duck")
	test.That(t, len(seen), test.ShouldEqual, 2)

	got, err := r.Get(context.Background(), first.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Detection, test.ShouldResemble, duck)

	_, err = r.Get(context.Background(), uuid.New())
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
}

func TestRecordFrameFailure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := NewRecorder(grabber{err: errors.New("no frame")}, nil, clock.NewMock(), logger)
	_, err := r.Record(context.Background(), "Apple", duck)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no frame")

	entries, err := r.List(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldBeEmpty)
}

func TestThumbnail(t *testing.T) {
	logger := logging.NewTestLogger(t)
	r := NewRecorder(grabber{img: inject.SolidImage(200, 100, color.Black)}, nil, clock.NewMock(), logger)
	e, err := r.Record(context.Background(), "Apple", duck)
	test.That(t, err, test.ShouldBeNil)

	data, err := r.Thumbnail(context.Background(), e.ID, 50)
	test.That(t, err, test.ShouldBeNil)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Width, test.ShouldEqual, 50)
	test.That(t, cfg.Height, test.ShouldEqual, 25)

	_, err = r.Thumbnail(context.Background(), e.ID, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSQLiteStore(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gallery.db")

	store, err := OpenSQLite(ctx, path, 2, logger)
	test.That(t, err, test.ShouldBeNil)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i, name := range []string{"Apple", "Banana", "Coffee Mug"} {
		e := Entry{
			ID:           uuid.New(),
			TargetObject: name,
			Detection:    duck,
			CapturedAt:   base.Add(time.Duration(i) * time.Second),
			MimeType:     "image/jpeg",
			Image:        []byte{byte(i)},
		}
		ids = append(ids, e.ID)
		test.That(t, store.Add(ctx, e), test.ShouldBeNil)
	}

	entries, err := store.List(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].TargetObject, test.ShouldEqual, "Coffee Mug")
	test.That(t, entries[1].TargetObject, test.ShouldEqual, "Banana")
	test.That(t, entries[0].Detection, test.ShouldResemble, duck)
	test.That(t, entries[0].CapturedAt, test.ShouldEqual, base.Add(2*time.Second))

	// the oldest entry was pruned
	_, err = store.Get(ctx, ids[0])
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
	test.That(t, store.Close(), test.ShouldBeNil)

	// entries survive a reopen
	store, err = OpenSQLite(ctx, path, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	defer store.Close()
	got, err := store.Get(ctx, ids[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.TargetObject, test.ShouldEqual, "Banana")
	test.That(t, got.Image, test.ShouldResemble, []byte{1})
}
