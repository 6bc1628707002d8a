package recipe

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Ingredient is a single line of a recipe's ingredient list.
type Ingredient struct {
	Quantity   string `json:"quantity"`
	Measure    string `json:"measure,omitempty"`
	Ingredient string `json:"ingredient" validate:"required"`
}

// Recipe represents a cocktail recipe, either bundled with the catalog or created by the user.
type Recipe struct {
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description"`
	Attribution string       `json:"github,omitempty"`
	Ingredients []Ingredient `json:"ingredients" validate:"required,dive"`
	Directions  []string     `json:"directions" validate:"required"`
	Image       string       `json:"image"`
	Source      string       `json:"source,omitempty"`
	Keywords    []string     `json:"keywords"`
	Slug        string       `json:"slug,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Recipe.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	type Alias Recipe // Create an alias to avoid infinite recursion
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Name = strings.TrimSpace(r.Name)
	r.Slug = strings.TrimSpace(r.Slug)

	return nil
}

// Clone returns a deep copy of the recipe.
func (r Recipe) Clone() Recipe {
	c := r
	if r.Ingredients != nil {
		c.Ingredients = append([]Ingredient(nil), r.Ingredients...)
	}
	if r.Directions != nil {
		c.Directions = append([]string(nil), r.Directions...)
	}
	if r.Keywords != nil {
		c.Keywords = append([]string(nil), r.Keywords...)
	}
	return c
}

// Normalize replaces nil lists with empty ones so that a recipe serializes
// the same way regardless of where it came from.
func (r *Recipe) Normalize() {
	if r.Ingredients == nil {
		r.Ingredients = []Ingredient{}
	}
	if r.Directions == nil {
		r.Directions = []string{}
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
}

// Canonical returns the canonical JSON encoding of the recipe. Two recipes
// with the same content always produce the same bytes.
func (r Recipe) Canonical() []byte {
	c := r.Clone()
	c.Normalize()
	// Struct encoding has a fixed field order and the fields are plain
	// strings and slices, so Marshal cannot fail here.
	b, _ := json.Marshal(c)
	return b
}

// Equal reports whether two recipes have identical canonical content.
func Equal(a, b Recipe) bool {
	return bytes.Equal(a.Canonical(), b.Canonical())
}

// NewSlug derives a user recipe slug from its name and creation time.
func NewSlug(name string, createdAt time.Time) string {
	base := Slugify(name)
	if base == "" {
		base = "recipe"
	}
	return base + "-" + strconv.FormatInt(createdAt.UnixMilli(), 10)
}
