package cli

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/viamrobotics/scavenger-hunt/catalog"
	"github.com/viamrobotics/scavenger-hunt/detection"
)

// ListCatalogAction is the corresponding Action for 'catalog list'.
func ListCatalogAction(c *cli.Context) error {
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	names := cat.List()
	if s := c.String(sourceFlag); s != "" {
		src, err := detection.ParseSource(s)
		if err != nil {
			return err
		}
		names = lo.Filter(names, func(name string, _ int) bool {
			return cat.Source(name) == src
		})
	}
	printObjects(c.App.Writer, cat, names)
	return nil
}

// SearchCatalogAction is the corresponding Action for 'catalog search'.
func SearchCatalogAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one search query")
	}
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	names := cat.Search(c.Args().First())
	if len(names) == 0 {
		warningf(c.App.ErrWriter, "no objects match %q", c.Args().First())
		return nil
	}
	printObjects(c.App.Writer, cat, names)
	return nil
}

func loadCatalog(c *cli.Context) (*catalog.Catalog, error) {
	cfg, err := readConfig(c)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.Catalog.HouseholdPath, cfg.Catalog.CustomPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading object catalog")
	}
	return cat, nil
}

func printObjects(w io.Writer, cat *catalog.Catalog, names []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Object", "Detector"})
	for i, name := range names {
		t.AppendRow(table.Row{strconv.Itoa(i + 1), name, cat.Source(name)})
	}
	t.AppendFooter(table.Row{"", "Total", len(names)})
	t.Render()
}
