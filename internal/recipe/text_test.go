package recipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mixbook/internal/recipe"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"spaces", "Gin and Tonic", "gin-and-tonic"},
		{"punctuation runs", "Mai Tai (Trader Vic's)", "mai-tai-trader-vic-s"},
		{"diacritics", "Añejo Highball", "anejo-highball"},
		{"leading and trailing junk", "  --Negroni--  ", "negroni"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, recipe.Slugify(tt.in))
		})
	}
}

func TestImageSrc(t *testing.T) {
	t.Parallel()

	assert.Equal(t, recipe.DefaultImage, recipe.ImageSrc(""))
	assert.Equal(t, "https://example.com/a.jpg", recipe.ImageSrc("https://example.com/a.jpg"))
	assert.Equal(t, "data:image/png;base64,AAAA", recipe.ImageSrc("data:image/png;base64,AAAA"))
	assert.Equal(t, "/img/recipes/mojito.jpg", recipe.ImageSrc("mojito.jpg"))
}

func TestParseIngredientLines(t *testing.T) {
	t.Parallel()

	got := recipe.ParseIngredientLines("2 oz Tequila\n\n  Mint  \n1 dash Angostura bitters")

	assert.Equal(t, []recipe.Ingredient{
		{Quantity: "2", Ingredient: "oz Tequila"},
		{Quantity: "Mint", Ingredient: "Mint"},
		{Quantity: "1", Ingredient: "dash Angostura bitters"},
	}, got)
}

func TestParseKeywords(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"sour", "classic"}, recipe.ParseKeywords(" sour, classic,,sour "))
	assert.Empty(t, recipe.ParseKeywords(""))
}

func TestParseDirections(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Shake", "Strain"}, recipe.ParseDirections("Shake\n  \n Strain \n"))
}
