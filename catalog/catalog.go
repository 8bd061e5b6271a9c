// Package catalog holds the fixed list of objects a player can be asked to find.
//
// The catalog is the union of the household objects known to the stock detector and
// the custom objects known to the scavenger detector. It is loaded once and never
// mutated, so a *Catalog is safe for concurrent use.
package catalog

import (
	"bufio"
	"bytes"
	_ "embed"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/viamrobotics/scavenger-hunt/detection"
)

var (
	//go:embed data/household_objects.txt
	householdObjectsText []byte

	//go:embed data/scavenger_custom_objects.txt
	customObjectsText []byte
)

// ErrEmpty is returned when a catalog would contain no objects.
var ErrEmpty = errors.New("object catalog is empty")

// Catalog is a sorted, deduplicated list of target names plus the custom subset.
type Catalog struct {
	all    []string
	custom map[string]struct{}
}

// New builds a catalog from household and custom object names. Names are trimmed and
// blank names dropped. A name present in both lists is custom.
func New(household, custom []string) (*Catalog, error) {
	household = clean(household)
	custom = clean(custom)

	all := lo.Uniq(append(append([]string{}, household...), custom...))
	if len(all) == 0 {
		return nil, ErrEmpty
	}
	sort.SliceStable(all, func(i, j int) bool {
		return less(all[i], all[j])
	})

	customSet := make(map[string]struct{}, len(custom))
	for _, name := range custom {
		customSet[name] = struct{}{}
	}
	return &Catalog{all: all, custom: customSet}, nil
}

// Default returns the catalog built from the object lists bundled with the binary.
func Default() *Catalog {
	c, err := New(Parse(householdObjectsText), Parse(customObjectsText))
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the household and custom object lists from disk. An empty path falls back
// to the bundled list for that half of the catalog.
func Load(householdPath, customPath string) (*Catalog, error) {
	household, err := readList(householdPath, householdObjectsText)
	if err != nil {
		return nil, err
	}
	custom, err := readList(customPath, customObjectsText)
	if err != nil {
		return nil, err
	}
	return New(household, custom)
}

func readList(path string, fallback []byte) ([]string, error) {
	if path == "" {
		return Parse(fallback), nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading object list %q", path)
	}
	return Parse(data), nil
}

// Parse splits newline separated object names, trimming whitespace and skipping blanks.
func Parse(data []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func clean(names []string) []string {
	return lo.FilterMap(names, func(name string, _ int) (string, bool) {
		name = strings.TrimSpace(name)
		return name, name != ""
	})
}

// less orders names alphabetically ignoring case, breaking ties by byte order so the
// result does not depend on input order.
func less(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// List returns every object name in sorted order. The returned slice is a copy.
func (c *Catalog) List() []string {
	return append([]string(nil), c.all...)
}

// Len is the number of objects in the catalog.
func (c *Catalog) Len() int {
	return len(c.all)
}

// Contains reports whether name is in the catalog. The comparison is exact.
func (c *Catalog) Contains(name string) bool {
	return lo.Contains(c.all, name)
}

// Lookup returns the catalog spelling of name, comparing without regard to case. An
// exact match wins over one differing only in case.
func (c *Catalog) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if c.Contains(name) {
		return name, true
	}
	return lo.Find(c.all, func(candidate string) bool {
		return strings.EqualFold(candidate, name)
	})
}

// IsCustom reports whether name belongs to the custom subset.
func (c *Catalog) IsCustom(name string) bool {
	_, ok := c.custom[name]
	return ok
}

// Source returns the detector responsible for recognizing name.
func (c *Catalog) Source(name string) detection.Source {
	if c.IsCustom(name) {
		return detection.SourceCustom
	}
	return detection.SourceHousehold
}

// Search returns the names containing query, ignoring case, in List order.
func (c *Catalog) Search(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return c.List()
	}
	return lo.Filter(c.all, func(name string, _ int) bool {
		return strings.Contains(strings.ToLower(name), query)
	})
}

// Pick returns a uniformly random name. The previous pick is not excluded.
func (c *Catalog) Pick(r *rand.Rand) string {
	if r == nil {
		return c.all[rand.IntN(len(c.all))] //nolint:gosec
	}
	return c.all[r.IntN(len(c.all))]
}
