package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/config"
	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/gallery"
	"github.com/viamrobotics/scavenger-hunt/game"
	"github.com/viamrobotics/scavenger-hunt/hunt"
	"github.com/viamrobotics/scavenger-hunt/training"
	"github.com/viamrobotics/scavenger-hunt/web"
)

// ServeAction is the corresponding Action for 'serve'.
func ServeAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String(listenFlag); addr != "" {
		cfg.Web.ListenAddress = addr
	}
	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, closeApp, err := buildApp(ctx, cfg, connection.ViamDialer{Logger: logger.Sublogger("robot")}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeApp(context.Background()); err != nil {
			logger.Errorw("error closing game", "error", err)
		}
	}()

	return web.RunWeb(ctx, app, web.Options{
		ListenAddress:  cfg.Web.ListenAddress,
		AllowedOrigins: cfg.Web.AllowedOrigins,
		Pprof:          cfg.Log.Debug,
	}, logger.Sublogger("web"))
}

// buildApp connects to the machine and assembles the game. A failed connection is
// logged and kept so the page can show it; every other failure is returned. The
// returned func releases the app and everything it was built from.
func buildApp(
	ctx context.Context,
	cfg *config.Config,
	dialer connection.Dialer,
	logger logging.Logger,
) (*hunt.App, func(context.Context) error, error) {
	cat, err := catalog.Load(cfg.Catalog.HouseholdPath, cfg.Catalog.CustomPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading object catalog")
	}
	logger.Debugw("loaded object catalog", "objects", cat.Len())

	deps := hunt.Deps{Catalog: cat}
	deps.Machine, deps.ConnectErr = connection.Connect(ctx, machineConfig(cfg), dialer, logger.Sublogger("connection"))
	if deps.ConnectErr != nil {
		logger.Errorw("could not connect to machine", "machine", cfg.Machine.String(), "error", deps.ConnectErr)
	} else {
		logger.Infow("connected to machine", "host", cfg.Machine.Host)
	}

	if cfg.Gallery.DBPath != "" {
		store, err := gallery.OpenSQLite(ctx, cfg.Gallery.DBPath, cfg.Gallery.MaxEntries, logger.Sublogger("gallery"))
		if err != nil {
			return nil, nil, multierr.Combine(err, deps.Machine.Close(ctx))
		}
		deps.Store = store
	}

	var uploader *training.CloudUploader
	if cfg.Training.Enabled {
		uploader, err = training.NewCloudUploader(ctx, training.CloudConfig{
			BaseURL:       cfg.Training.AppURL,
			APIKey:        cfg.Machine.APIKey,
			APIKeyID:      cfg.Machine.APIKeyID,
			PartID:        cfg.Training.PartID,
			ComponentName: cfg.Machine.CameraName,
		}, logger.Sublogger("training"))
		if err != nil {
			logger.Warnw("training capture disabled", "error", err)
			uploader = nil
		} else {
			deps.Uploader = uploader
		}
	}

	app, err := hunt.New(deps, hunt.Config{
		Threshold:    cfg.Detection.Threshold,
		PollInterval: cfg.Detection.PollInterval,
		Game:         game.Config{Duration: cfg.Game.Duration},
		Training:     training.Config{Tags: cfg.Training.Tags},
	}, logger)
	if err != nil {
		err = multierr.Combine(err, deps.Machine.Close(ctx))
		if deps.Store != nil {
			err = multierr.Combine(err, deps.Store.Close())
		}
		if uploader != nil {
			err = multierr.Combine(err, uploader.Close())
		}
		return nil, nil, err
	}
	return app, func(ctx context.Context) error {
		err := app.Close(ctx)
		if uploader != nil {
			err = multierr.Combine(err, uploader.Close())
		}
		return err
	}, nil
}

func machineConfig(cfg *config.Config) connection.Config {
	return connection.Config{
		Credentials:       cfg.Machine.Credentials(),
		CameraName:        cfg.Machine.CameraName,
		HouseholdDetector: cfg.Machine.HouseholdDetector,
		CustomDetector:    cfg.Machine.CustomDetector,
	}
}
