// Package prefetch warms an offline copy of recipe images.
package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mixbook/internal/recipe"
)

const (
	// BatchSize is how many images are fetched concurrently.
	BatchSize = 5

	userAgent = "mixbook-prefetch/1.0"
)

// Stats summarizes a prefetch run.
type Stats struct {
	Total   int
	Fetched int
	Failed  int
}

// Prefetcher downloads recipe images. Failures are logged and never abort a run.
type Prefetcher struct {
	httpClient  *http.Client
	baseURL     string
	dir         string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// New creates a Prefetcher resolving relative image paths against baseURL.
// When dir is not empty, fetched images are written there. rps limits
// requests per second; zero or less means unlimited.
func New(baseURL, dir string, rps float64, logger *zap.Logger) *Prefetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Prefetcher{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		dir:         dir,
		rateLimiter: rate.NewLimiter(limit, BatchSize),
		logger:      logger,
	}
}

// URLs returns the distinct image URLs for recipes, in recipe order. Inline
// data URLs are skipped.
func (p *Prefetcher) URLs(recipes []recipe.Recipe) []string {
	seen := make(map[string]struct{}, len(recipes))
	out := make([]string, 0, len(recipes))
	for _, r := range recipes {
		src := recipe.ImageSrc(r.Image)
		if strings.HasPrefix(src, "data:") {
			continue
		}
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			src = p.baseURL + src
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

// Run fetches every recipe image in batches of BatchSize. progress, if not
// nil, receives the completed percentage after each batch and is called
// with 100 at the end. Only context cancellation is returned as an error.
func (p *Prefetcher) Run(ctx context.Context, recipes []recipe.Recipe, progress func(percent int)) (Stats, error) {
	urls := p.URLs(recipes)
	stats := Stats{Total: len(urls)}

	var fetched, failed atomic.Int64
	for start := 0; start < len(urls); start += BatchSize {
		end := min(start+BatchSize, len(urls))

		g, gctx := errgroup.WithContext(ctx)
		for _, u := range urls[start:end] {
			u := u
			g.Go(func() error {
				if err := p.fetch(gctx, u); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					p.logger.Warn("failed to prefetch image", zap.String("url", u), zap.Error(err))
					failed.Add(1)
					return nil
				}
				fetched.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			stats.Fetched, stats.Failed = int(fetched.Load()), int(failed.Load())
			return stats, err
		}

		if progress != nil && end < len(urls) {
			progress(end * 100 / len(urls))
		}
	}

	if progress != nil {
		progress(100)
	}

	stats.Fetched, stats.Failed = int(fetched.Load()), int(failed.Load())
	p.logger.Info("image prefetch finished",
		zap.Int("total", stats.Total),
		zap.Int("fetched", stats.Fetched),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (p *Prefetcher) fetch(ctx context.Context, url string) error {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if p.dir == "" {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return p.save(url, resp.Body)
}

func (p *Prefetcher) save(url string, body io.Reader) error {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		return fmt.Errorf("cannot derive file name from %s", url)
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create prefetch directory: %w", err)
	}

	out, err := os.Create(filepath.Join(p.dir, name))
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	return nil
}
