package recipe

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Catalog loads the static, read-only recipe collection.
type Catalog interface {
	Load(ctx context.Context) ([]Recipe, error)
}

// FSCatalog reads one recipe per *.json file from a file system. The file
// name without its extension becomes the recipe slug.
type FSCatalog struct {
	FS     fs.FS
	Logger *zap.Logger

	// Maximum number of files decoded concurrently.
	Concurrency int
}

// NewFSCatalog creates a catalog backed by fsys.
func NewFSCatalog(fsys fs.FS, logger *zap.Logger) *FSCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSCatalog{FS: fsys, Logger: logger, Concurrency: 8}
}

// Load decodes every catalog file. Files that fail to parse or validate are
// logged and skipped. Recipes are returned sorted by slug.
func (c *FSCatalog) Load(ctx context.Context) ([]Recipe, error) {
	names, err := fs.Glob(c.FS, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog files: %w", err)
	}

	results := make([]*Recipe, len(names))
	g, ctx := errgroup.WithContext(ctx)
	if c.Concurrency > 0 {
		g.SetLimit(c.Concurrency)
	}

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := c.readFile(name)
			if err != nil {
				c.Logger.Warn("skipping catalog recipe", zap.String("file", name), zap.Error(err))
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	recipes := make([]Recipe, 0, len(results))
	for _, r := range results {
		if r != nil {
			recipes = append(recipes, *r)
		}
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].Slug < recipes[j].Slug })

	c.Logger.Debug("catalog loaded", zap.Int("files", len(names)), zap.Int("recipes", len(recipes)))
	return recipes, nil
}

func (c *FSCatalog) readFile(name string) (*Recipe, error) {
	data, err := fs.ReadFile(c.FS, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}

	r.Slug = strings.TrimSuffix(path.Base(name), path.Ext(name))
	r.Normalize()
	return &r, nil
}

// StaticCatalog is a fixed in-memory catalog.
type StaticCatalog []Recipe

// Load returns a copy of the catalog.
func (s StaticCatalog) Load(ctx context.Context) ([]Recipe, error) {
	out := make([]Recipe, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out, nil
}
