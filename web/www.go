// Package web serves the scavenger hunt page, its JSON API and the live video stream.
package web

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/cors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/viamrobotics/scavenger-hunt/game"
	"github.com/viamrobotics/scavenger-hunt/hunt"
)

// Options configure the web server.
type Options struct {
	ListenAddress string
	// AllowedOrigins are the cross-origin callers allowed to use the API and websocket.
	AllowedOrigins []string
	Pprof          bool
}

// huntWebApp renders the game page.
type huntWebApp struct {
	template *template.Template
	app      *hunt.App
	logger   logging.Logger
}

// Init does template initialization work.
func (w *huntWebApp) Init() error {
	t, err := template.New("scavenger").Funcs(template.FuncMap{
		"clock": game.FormatTime,
	}).ParseFS(AppFS, "templates/*.html")
	if err != nil {
		return err
	}
	w.template = t.Lookup("index.html")
	return nil
}

// ServeHTTP serves the UI.
func (w *huntWebApp) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}

	type page struct {
		Connected bool
		Error     string
		State     game.State
		Objects   []string
		Overlay   bool
	}
	temp := page{
		Connected: w.app.Connected(),
		State:     w.app.State(),
		Objects:   w.app.Catalog().List(),
		Overlay:   w.app.OverlayEnabled(),
	}
	if err := w.app.Err(); err != nil {
		temp.Error = err.Error()
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.template.Execute(rw, temp); err != nil {
		w.logger.Debugf("couldn't execute web page: %s", err)
	}
}

// installWeb prepares the given mux to serve the UI, API, stream and websocket.
func installWeb(ctx context.Context, mux *goji.Mux, app *hunt.App, options Options, logger logging.Logger) (*hub, error) {
	page := &huntWebApp{app: app, logger: logger}
	if err := page.Init(); err != nil {
		return nil, err
	}
	api := &apiHandlers{app: app, logger: logger}
	events := newHub(ctx, app, options.AllowedOrigins, logger.Sublogger("ws"))

	mux.HandleFunc(pat.Get("/api/state"), api.state)
	mux.HandleFunc(pat.Get("/api/catalog"), api.catalog)
	mux.HandleFunc(pat.Post("/api/game/start"), api.start)
	mux.HandleFunc(pat.Post("/api/game/end"), api.end)
	mux.HandleFunc(pat.Post("/api/game/skip"), api.skip)
	mux.HandleFunc(pat.Post("/api/game/submit"), api.submit)
	mux.HandleFunc(pat.Post("/api/game/target"), api.selectTarget)
	mux.HandleFunc(pat.Get("/api/overlay"), api.overlayStatus)
	mux.HandleFunc(pat.Post("/api/overlay"), api.setOverlay)
	mux.HandleFunc(pat.Get("/api/overlay.png"), api.overlayImage)
	mux.HandleFunc(pat.Get("/api/detections"), api.detections)
	mux.HandleFunc(pat.Get("/api/gallery"), api.gallery)
	mux.HandleFunc(pat.Get("/api/gallery/:id/image"), api.galleryImage)
	mux.HandleFunc(pat.Get("/api/gallery/:id/annotated"), api.annotatedImage)
	mux.HandleFunc(pat.Post("/api/training/capture"), api.captureTraining)
	mux.HandleFunc(pat.Get("/stream.mjpeg"), api.stream)
	mux.Handle(pat.Get("/ws"), events)
	mux.Handle(pat.Get("/static/*"), http.FileServer(http.FS(AppFS)))
	mux.Handle(pat.Get("/"), page)

	if options.Pprof {
		mux.HandleFunc(pat.New("/debug/pprof/"), pprof.Index)
		mux.HandleFunc(pat.New("/debug/pprof/cmdline"), pprof.Cmdline)
		mux.HandleFunc(pat.New("/debug/pprof/profile"), pprof.Profile)
		mux.HandleFunc(pat.New("/debug/pprof/symbol"), pprof.Symbol)
		mux.HandleFunc(pat.New("/debug/pprof/trace"), pprof.Trace)
	}
	return events, nil
}

// NewHandler returns the full HTTP handler for app. The returned func stops the
// websocket hub.
func NewHandler(ctx context.Context, app *hunt.App, options Options, logger logging.Logger) (http.Handler, func(), error) {
	mux := goji.NewMux()
	events, err := installWeb(ctx, mux, app, options, logger)
	if err != nil {
		return nil, nil, err
	}
	if len(options.AllowedOrigins) == 0 {
		return mux, events.Close, nil
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(mux)
	return handler, events.Close, nil
}

// RunWeb serves app until ctx is done.
func RunWeb(ctx context.Context, app *hunt.App, options Options, logger logging.Logger) error {
	listener, err := net.Listen("tcp", options.ListenAddress)
	if err != nil {
		return err
	}

	handler, stopEvents, err := NewHandler(ctx, app, options, logger)
	if err != nil {
		return multierr.Combine(err, listener.Close())
	}

	httpServer := &http.Server{
		Addr:              listener.Addr().String(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		// long lived streams and websockets end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	goutils.PanicCapturingGo(func() {
		<-ctx.Done()
		stopEvents()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("error shutting down", "error", err)
		}
	})

	logger.Infow("serving", "url", "http://"+listener.Addr().String())
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
