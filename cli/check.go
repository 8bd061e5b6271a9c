package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/config"
	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/poller"
)

// CheckAction is the corresponding Action for 'check'.
func CheckAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one object name")
	}
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg.Log)
	defer closeLog()
	return checkObject(c.Context, c.App.Writer, cfg, c.Args().First(),
		connection.ViamDialer{Logger: logger.Sublogger("robot")}, logger)
}

// checkObject connects, asks the detector responsible for target what it sees, and
// prints every confident detection with whether it matches.
func checkObject(
	ctx context.Context,
	w io.Writer,
	cfg *config.Config,
	target string,
	dialer connection.Dialer,
	logger logging.Logger,
) (err error) {
	cat, err := catalog.Load(cfg.Catalog.HouseholdPath, cfg.Catalog.CustomPath)
	if err != nil {
		return errors.Wrap(err, "loading object catalog")
	}
	name, ok := cat.Lookup(target)
	if !ok {
		return errors.Errorf("%q is not in the object catalog", target)
	}
	src := cat.Source(name)

	machine, err := connection.Connect(ctx, machineConfig(cfg), dialer, logger.Sublogger("connection"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, machine.Close(ctx))
	}()

	p, err := poller.New(machine.Household, machine.Custom, poller.Config{
		CameraName: machine.CameraName,
		Threshold:  cfg.Detection.Threshold,
	}, logger.Sublogger("poller"))
	if err != nil {
		return err
	}
	defer p.Close()

	dets, err := p.Check(ctx, src)
	if err != nil {
		return err
	}
	printDetections(w, dets, name)
	if _, ok := detection.FirstMatch(dets, name, p.Threshold()); ok {
		printf(w, "Found %q with the %s detector", target, src)
	} else {
		printf(w, "The %s detector does not see %q", src, target)
	}
	return nil
}

func printDetections(w io.Writer, dets []detection.Detection, target string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Label", "Confidence", "Box", "Match"})
	for _, d := range dets {
		match := ""
		if d.Matches(target) {
			match = "yes"
		}
		t.AppendRow(table.Row{
			d.ClassName,
			fmt.Sprintf("%.2f", d.Confidence),
			fmt.Sprintf("(%.0f, %.0f)-(%.0f, %.0f)", d.XMin, d.YMin, d.XMax, d.YMax),
			match,
		})
	}
	t.Render()
}
