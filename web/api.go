package web

import (
	"bytes"
	"encoding/json"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"goji.io/pat"

	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/gallery"
	"github.com/viamrobotics/scavenger-hunt/game"
	"github.com/viamrobotics/scavenger-hunt/hunt"
	"github.com/viamrobotics/scavenger-hunt/overlay"
	"github.com/viamrobotics/scavenger-hunt/training"
)

// maxOverlaySide bounds the overlay size a client can request.
const maxOverlaySide = 4096

type apiHandlers struct {
	app    *hunt.App
	logger logging.Logger
}

type stateResponse struct {
	game.State
	Clock     string `json:"clock"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	Overlay   bool   `json:"overlay"`
	Streaming bool   `json:"streaming"`
}

func (h *apiHandlers) stateResponse() stateResponse {
	st := h.app.State()
	resp := stateResponse{
		State:     st,
		Clock:     st.Clock(),
		Connected: h.app.Connected(),
		Overlay:   h.app.OverlayEnabled(),
	}
	if err := h.app.Err(); err != nil {
		resp.Error = err.Error()
	}
	if s := h.app.Stream(); s != nil {
		resp.Streaming = s.Active()
		if err := s.Err(); err != nil && resp.Error == "" {
			resp.Error = err.Error()
		}
	}
	return resp
}

func (h *apiHandlers) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stateResponse())
}

func (h *apiHandlers) catalog(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name   string           `json:"name"`
		Source detection.Source `json:"source"`
	}
	cat := h.app.Catalog()
	names := cat.Search(r.URL.Query().Get("q"))
	out := make([]entry, 0, len(names))
	for _, name := range names {
		out = append(out, entry{Name: name, Source: cat.Source(name)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandlers) start(w http.ResponseWriter, _ *http.Request) {
	h.app.StartGame()
	writeJSON(w, http.StatusOK, h.stateResponse())
}

func (h *apiHandlers) end(w http.ResponseWriter, _ *http.Request) {
	h.app.EndGame()
	writeJSON(w, http.StatusOK, h.stateResponse())
}

func (h *apiHandlers) skip(w http.ResponseWriter, _ *http.Request) {
	h.app.Skip()
	writeJSON(w, http.StatusOK, h.stateResponse())
}

func (h *apiHandlers) selectTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if _, err := h.app.SelectTarget(req.Name); err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse())
}

func (h *apiHandlers) submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Submit(r.Context())
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandlers) overlayStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.app.OverlayEnabled()})
}

func (h *apiHandlers) setOverlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"enabled": true|false}`))
		return
	}
	h.app.SetOverlay(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.app.OverlayEnabled()})
}

// overlayImage renders the overlay at the displayed video size given by the width and
// height query parameters. Without them the native video size is used.
func (h *apiHandlers) overlayImage(w http.ResponseWriter, r *http.Request) {
	var native image.Point
	if s := h.app.Stream(); s != nil {
		native = s.NativeSize()
	}
	display := native
	if q := r.URL.Query(); q.Get("width") != "" || q.Get("height") != "" {
		width, err1 := strconv.Atoi(q.Get("width"))
		height, err2 := strconv.Atoi(q.Get("height"))
		if err1 != nil || err2 != nil || width <= 0 || height <= 0 || width > maxOverlaySide || height > maxOverlaySide {
			writeError(w, http.StatusBadRequest, errors.New("width and height must be positive integers"))
			return
		}
		display = image.Pt(width, height)
	}
	if display == (image.Point{}) {
		writeError(w, http.StatusServiceUnavailable, overlay.ErrNoNativeSize)
		return
	}
	var buf bytes.Buffer
	if err := overlay.EncodePNG(&buf, h.app.Overlay(display)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (h *apiHandlers) detections(w http.ResponseWriter, _ *http.Request) {
	dets := h.app.Detections()
	if dets == nil {
		dets = []detection.Detection{}
	}
	writeJSON(w, http.StatusOK, dets)
}

func (h *apiHandlers) gallery(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Gallery().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		gallery.Entry
		ImageURL     string `json:"image_url"`
		AnnotatedURL string `json:"annotated_url"`
		Clock        string `json:"time"`
	}
	out := make([]item, 0, len(entries))
	for _, e := range entries {
		out = append(out, item{
			Entry:        e,
			ImageURL:     "/api/gallery/" + e.ID.String() + "/image",
			AnnotatedURL: "/api/gallery/" + e.ID.String() + "/annotated",
			Clock:        e.CapturedAt.Local().Format(time.Kitchen),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandlers) galleryImage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(pat.Param(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid gallery id"))
		return
	}
	var (
		data     []byte
		mimeType = "image/jpeg"
	)
	if widthParam := r.URL.Query().Get("width"); widthParam != "" {
		width, err := strconv.Atoi(widthParam)
		if err != nil || width <= 0 || width > maxOverlaySide {
			writeError(w, http.StatusBadRequest, errors.New("width must be a positive integer"))
			return
		}
		data, err = h.app.Gallery().Thumbnail(r.Context(), id, width)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
	} else {
		e, err := h.app.Gallery().Get(r.Context(), id)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		data, mimeType = e.Image, e.MimeType
	}
	w.Header().Set("Content-Type", mimeType)
	_, _ = w.Write(data)
}

func (h *apiHandlers) annotatedImage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(pat.Param(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid gallery id"))
		return
	}
	data, err := h.app.AnnotatedFind(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func (h *apiHandlers) captureTraining(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.CaptureTraining(r.Context())
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": id})
}

func (h *apiHandlers) stream(w http.ResponseWriter, r *http.Request) {
	s := h.app.Stream()
	if s == nil {
		h.writeAppError(w, h.app.Err())
		return
	}
	s.ServeHTTP(w, r)
}

// writeAppError maps errors from the game onto HTTP statuses.
func (h *apiHandlers) writeAppError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, game.ErrUnknownTarget):
		status = http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hunt.ErrChecking), errors.Is(err, training.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, training.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, hunt.ErrTrainingDisabled):
		status = http.StatusNotImplemented
	case !h.app.Connected(), errors.Is(err, connection.ErrNotConnected):
		status = http.StatusServiceUnavailable
	default:
		// the machine or the cloud failed
		status = http.StatusBadGateway
		h.logger.Warnw("request failed", "error", err)
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
