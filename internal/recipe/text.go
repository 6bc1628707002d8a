package recipe

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultImage is served for recipes that have no image of their own.
const DefaultImage = "/vite.svg"

// Fold lower-cases s and strips diacritics after compatibility
// normalization, so "Añejo" and "ANEJO" fold to the same string.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	decomp := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomp))
	for _, r := range decomp {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Slugify turns a recipe name into a URL-safe identifier: folded to lower
// case ASCII, runs of anything else collapsed into a single dash.
func Slugify(name string) string {
	folded := Fold(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ImageSrc resolves a recipe image reference to a path the client can load.
func ImageSrc(image string) string {
	if image == "" {
		return DefaultImage
	}
	if strings.HasPrefix(image, "http") || strings.HasPrefix(image, "data:") {
		return image
	}
	return "/img/recipes/" + image
}

// ParseIngredientLines parses free-form ingredient lines such as
// "2 oz Tequila". The first word becomes the quantity and the rest the
// ingredient name; a single word is used as both. Blank lines are dropped.
func ParseIngredientLines(text string) []Ingredient {
	var out []Ingredient
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		ing := Ingredient{Quantity: fields[0], Ingredient: strings.Join(fields[1:], " ")}
		if ing.Ingredient == "" {
			ing.Ingredient = line
		}
		out = append(out, ing)
	}
	return out
}

// ParseKeywords splits a comma separated keyword list, trimming entries and
// dropping blanks and repeats while keeping first-seen order.
func ParseKeywords(text string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, k := range strings.Split(text, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ParseDirections splits newline separated directions, dropping blank lines.
func ParseDirections(text string) []string {
	out := []string{}
	for _, d := range strings.Split(text, "\n") {
		if strings.TrimSpace(d) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(d))
	}
	return out
}
