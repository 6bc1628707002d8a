package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"mixbook/internal/recipe"
)

// DefaultThreshold is the fuzziness used when none is configured.
// 0 accepts only exact substrings, 1 accepts anything.
const DefaultThreshold = 0.4

// Field weights. A name hit outranks a keyword hit, which outranks an
// ingredient hit.
const (
	nameWeight       = 3
	keywordWeight    = 2
	ingredientWeight = 1
	totalWeight      = nameWeight + keywordWeight + ingredientWeight
)

// contentSource marks snapshots versioned by SnapshotOf.
const contentSource = "content"

// Snapshot is a recipe list tagged with the source that produced it and a
// version within that source. Two snapshots with the same source and version
// must hold the same content.
type Snapshot struct {
	Source  string
	Version uint64
	Recipes []recipe.Recipe
}

// SnapshotOf tags list with a fingerprint of its content.
func SnapshotOf(list []recipe.Recipe) Snapshot {
	d := xxhash.New()
	for _, r := range list {
		d.Write(r.Canonical())
		d.Write([]byte{0})
	}
	return Snapshot{Source: contentSource, Version: d.Sum64(), Recipes: list}
}

// Engine runs fuzzy searches and caches the folded index of the last
// snapshot it saw. It is safe for concurrent use.
type Engine struct {
	threshold float64

	mu    sync.Mutex
	index *index
}

// NewEngine creates an engine. A threshold outside [0, 1] falls back to
// DefaultThreshold.
func NewEngine(threshold float64) *Engine {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the configured fuzziness.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Invalidate drops the cached index.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.index = nil
	e.mu.Unlock()
}

// Fuzzy ranks the snapshot against query by approximate match over name,
// keywords and ingredient names, best first. An empty query keeps the whole
// list in its original order. Filters are then applied like Advanced.
func (e *Engine) Fuzzy(s Snapshot, query string, f Filters) []recipe.Recipe {
	var results []recipe.Recipe

	pattern := recipe.Fold(strings.TrimSpace(query))
	if pattern == "" {
		results = s.Recipes
	} else {
		results = e.rank(e.indexFor(s), pattern)
	}

	return Advanced(results, Criteria{Ingredients: f.Ingredients, Keywords: f.Keywords})
}

func (e *Engine) indexFor(s Snapshot) *index {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index != nil && e.index.source == s.Source && e.index.version == s.Version && len(e.index.entries) == len(s.Recipes) {
		return e.index
	}
	e.index = buildIndex(s)
	return e.index
}

type indexEntry struct {
	recipe      recipe.Recipe
	name        string
	keywords    []string
	ingredients []string
}

type index struct {
	source  string
	version uint64
	entries []indexEntry
}

func buildIndex(s Snapshot) *index {
	idx := &index{source: s.Source, version: s.Version, entries: make([]indexEntry, len(s.Recipes))}
	for i, r := range s.Recipes {
		e := indexEntry{recipe: r, name: recipe.Fold(r.Name)}
		for _, k := range r.Keywords {
			e.keywords = append(e.keywords, recipe.Fold(k))
		}
		for _, ing := range r.Ingredients {
			e.ingredients = append(e.ingredients, recipe.Fold(ing.Ingredient))
		}
		idx.entries[i] = e
	}
	return idx
}

type scored struct {
	recipe recipe.Recipe
	score  float64
}

func (e *Engine) rank(idx *index, pattern string) []recipe.Recipe {
	var hits []scored
	for _, entry := range idx.entries {
		total, matched := 0.0, false
		for _, field := range []struct {
			weight float64
			values []string
		}{
			{nameWeight, []string{entry.name}},
			{keywordWeight, entry.keywords},
			{ingredientWeight, entry.ingredients},
		} {
			s, ok := e.bestScore(pattern, field.values)
			if ok {
				total += field.weight * (1 - s)
				matched = true
			}
		}
		if matched {
			hits = append(hits, scored{recipe: entry.recipe, score: total / totalWeight})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]recipe.Recipe, len(hits))
	for i, h := range hits {
		out[i] = h.recipe
	}
	return out
}

// bestScore returns the lowest mismatch score of pattern against values and
// whether it is within the threshold.
func (e *Engine) bestScore(pattern string, values []string) (float64, bool) {
	best := 1.0
	for _, v := range values {
		if s := mismatch(pattern, v); s < best {
			best = s
		}
	}
	return best, best <= e.threshold
}

// mismatch scores how far pattern is from appearing somewhere in text:
// 0 for a substring, otherwise the smallest edit distance to any window of
// text of about the pattern's length, relative to the pattern length.
func mismatch(pattern, text string) float64 {
	if text == "" {
		return 1
	}
	if strings.Contains(text, pattern) {
		return 0
	}

	p := []rune(pattern)
	t := []rune(text)
	best := len(p)
	if len(t) <= len(p) {
		best = fuzzy.LevenshteinDistance(pattern, text)
	} else {
		for size := len(p) - 1; size <= len(p)+1; size++ {
			if size <= 0 || size > len(t) {
				continue
			}
			for i := 0; i+size <= len(t); i++ {
				if d := fuzzy.LevenshteinDistance(pattern, string(t[i:i+size])); d < best {
					best = d
				}
			}
		}
	}

	s := float64(best) / float64(len(p))
	if s > 1 {
		s = 1
	}
	return s
}
