// Package search filters and ranks recipe lists. Every function is pure: the
// input list is never modified and results are new slices.
package search

import (
	"strings"

	"mixbook/internal/recipe"
)

// Criteria narrows a structured search. Empty fields do not exclude anything.
type Criteria struct {
	Name        string
	Ingredients []string
	Keywords    []string
}

// Filters are applied after a fuzzy search ranks the list.
type Filters struct {
	Ingredients []string
	Keywords    []string
}

// IsZero reports whether the criteria would keep every recipe.
func (c Criteria) IsZero() bool {
	return strings.TrimSpace(c.Name) == "" && len(terms(c.Ingredients)) == 0 && len(terms(c.Keywords)) == 0
}

// Simple returns the recipes whose name, any keyword or any ingredient name
// contains query, ignoring case.
func Simple(list []recipe.Recipe, query string) []recipe.Recipe {
	q := strings.ToLower(query)
	out := []recipe.Recipe{}
	for _, r := range list {
		if matchesAny(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAny(r recipe.Recipe, q string) bool {
	if strings.Contains(strings.ToLower(r.Name), q) {
		return true
	}
	for _, k := range r.Keywords {
		if strings.Contains(strings.ToLower(k), q) {
			return true
		}
	}
	for _, ing := range r.Ingredients {
		if strings.Contains(strings.ToLower(ing.Ingredient), q) {
			return true
		}
	}
	return false
}

// Advanced returns the recipes matching every given criterion. Each requested
// ingredient must be contained in some ingredient of the recipe, and likewise
// for keywords.
func Advanced(list []recipe.Recipe, c Criteria) []recipe.Recipe {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	ingredients := terms(c.Ingredients)
	keywords := terms(c.Keywords)

	out := []recipe.Recipe{}
	for _, r := range list {
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		if !hasAll(ingredientNames(r), ingredients) {
			continue
		}
		if !hasAll(r.Keywords, keywords) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// terms lower-cases and trims search terms, dropping blanks.
func terms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func ingredientNames(r recipe.Recipe) []string {
	names := make([]string, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		names[i] = ing.Ingredient
	}
	return names
}

// hasAll reports whether every want term is a substring of some value.
func hasAll(values, want []string) bool {
	for _, w := range want {
		found := false
		for _, v := range values {
			if strings.Contains(strings.ToLower(strings.TrimSpace(v)), w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
