package scenario

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a scenario ID is not in the catalog.
var ErrNotFound = errors.New("scenario not found")

//go:embed seed/*.yaml
var seedFS embed.FS

// Catalog is the read-only content repository of scenario definitions.
// It is safe for concurrent use.
type Catalog struct {
	scenarios []Scenario
	byID      map[string]int
}

// NewCatalog indexes scenarios by ID. Duplicate IDs are rejected.
func NewCatalog(scenarios []Scenario) (*Catalog, error) {
	c := &Catalog{
		scenarios: slices.Clone(scenarios),
		byID:      make(map[string]int, len(scenarios)),
	}
	sort.SliceStable(c.scenarios, func(i, j int) bool {
		return c.scenarios[i].ID < c.scenarios[j].ID
	})
	for i, sc := range c.scenarios {
		if _, dup := c.byID[sc.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		c.byID[sc.ID] = i
	}
	return c, nil
}

// Get returns the scenario with the given ID.
func (c *Catalog) Get(id string) (Scenario, error) {
	i, ok := c.byID[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.scenarios[i], nil
}

// List returns all scenarios ordered by ID.
func (c *Catalog) List() []Scenario {
	return slices.Clone(c.scenarios)
}

// Len returns the number of scenarios.
func (c *Catalog) Len() int {
	return len(c.scenarios)
}

// Seed returns the scenarios bundled with the binary.
func Seed() ([]Scenario, error) {
	entries, err := fs.ReadDir(seedFS, "seed")
	if err != nil {
		return nil, fmt.Errorf("read seed catalog: %w", err)
	}
	var out []Scenario
	for _, e := range entries {
		data, err := seedFS.ReadFile("seed/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", e.Name(), err)
		}
		scs, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", e.Name(), err)
		}
		out = append(out, scs...)
	}
	return out, nil
}

// LoadDir parses every *.yaml / *.yml file in dir concurrently.
func LoadDir(ctx context.Context, dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	results := make([][]Scenario, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			scs, err := Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			results[i] = scs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Scenario
	for _, scs := range results {
		out = append(out, scs...)
	}
	return out, nil
}

// Open builds a catalog from the bundled seed plus any extra directories.
// Scenarios in later directories may not reuse an existing ID.
func Open(ctx context.Context, dirs ...string) (*Catalog, error) {
	all, err := Seed()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		scs, err := LoadDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		all = append(all, scs...)
	}
	return NewCatalog(all)
}
