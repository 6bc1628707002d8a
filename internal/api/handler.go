package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mixbook/internal/platform/images"
	"mixbook/internal/recipe"
	"mixbook/internal/search"
	"mixbook/internal/store"
)

const requestTimeout = 5 * time.Second

// RecipeStore defines the recipe and favorites operations the handlers use.
type RecipeStore interface {
	Recipes() []recipe.Recipe
	Snapshot() search.Snapshot
	Recipe(slug string) (recipe.Recipe, bool)
	IsUserRecipe(slug string) bool
	AddUserRecipe(ctx context.Context, r recipe.Recipe) (recipe.Recipe, error)
	UpdateUserRecipe(ctx context.Context, r recipe.Recipe) (recipe.Recipe, error)
	DeleteUserRecipe(ctx context.Context, slug string) error
	DeleteAllUserRecipes(ctx context.Context) int

	ToggleFavorite(ctx context.Context, slug string) bool
	IsFavorite(slug string) bool
	FavoriteRecipes() []recipe.Recipe

	ExportRecipes() []recipe.Recipe
	ExportFavorites() []string
	ImportRecipes(ctx context.Context, data []byte) store.ImportResult
	ImportFavorites(ctx context.Context, data []byte) store.FavoritesImportResult
	ActiveImport() *store.ImportSession
}

// ImageSaver stores uploaded recipe images.
type ImageSaver interface {
	Save(imageData []byte, name, ext string) (string, error)
}

// Handler handles HTTP requests.
type Handler struct {
	RecipeStore RecipeStore
	Search      *search.Engine
	Images      ImageSaver
	Logger      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(recipeStore RecipeStore, engine *search.Engine, saver ImageSaver, logger *zap.Logger) *Handler {
	if engine == nil {
		engine = search.NewEngine(search.DefaultThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{RecipeStore: recipeStore, Search: engine, Images: saver, Logger: logger}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/recipes", h.GetRecipes)
	r.POST("/recipes", h.CreateRecipe)
	r.DELETE("/recipes", h.DeleteAllRecipes)
	r.GET("/recipes/:slug", h.GetRecipe)
	r.PUT("/recipes/:slug", h.UpdateRecipe)
	r.DELETE("/recipes/:slug", h.DeleteRecipe)
	r.POST("/recipes/:slug/image", h.UploadImage)

	r.GET("/favorites", h.GetFavorites)
	r.POST("/favorites/:slug", h.ToggleFavorite)

	r.GET("/export/recipes", h.ExportRecipes)
	r.GET("/export/favorites", h.ExportFavorites)
	r.POST("/import/recipes", h.ImportRecipes)
	r.POST("/import/favorites", h.ImportFavorites)
	r.GET("/import/conflicts", h.GetConflict)
	r.POST("/import/conflicts/resolve", h.ResolveConflict)
}

// fail maps store errors to status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateSlug), errors.Is(err, store.ErrNoConflict), errors.Is(err, store.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, recipe.ErrInvalid), errors.Is(err, images.ErrUnsupportedType), errors.Is(err, images.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// GetRecipes lists the visible recipes, optionally filtered.
//
// mode=simple matches q against name, keywords and ingredients. mode=advanced
// requires name, every ingredient and every keyword to match. mode=fuzzy (the
// default) ranks recipes by similarity to q and then applies the ingredient
// and keyword filters.
func (h *Handler) GetRecipes(c *gin.Context) {
	q := c.Query("q")
	ingredients := c.QueryArray("ingredient")
	keywords := c.QueryArray("keyword")

	switch mode := c.DefaultQuery("mode", "fuzzy"); mode {
	case "simple":
		c.JSON(http.StatusOK, search.Simple(h.RecipeStore.Recipes(), q))
	case "advanced":
		c.JSON(http.StatusOK, search.Advanced(h.RecipeStore.Recipes(), search.Criteria{
			Name:        c.Query("name"),
			Ingredients: ingredients,
			Keywords:    keywords,
		}))
	case "fuzzy":
		c.JSON(http.StatusOK, h.Search.Fuzzy(h.RecipeStore.Snapshot(), q, search.Filters{
			Ingredients: ingredients,
			Keywords:    keywords,
		}))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown search mode %q", mode)})
	}
}

type recipeResponse struct {
	recipe.Recipe
	ImageSrc string `json:"image_src"`
	User     bool   `json:"user"`
	Favorite bool   `json:"favorite"`
}

// GetRecipe handles requests to retrieve a single recipe by slug.
func (h *Handler) GetRecipe(c *gin.Context) {
	slug := c.Param("slug")

	r, ok := h.RecipeStore.Recipe(slug)
	if !ok {
		h.fail(c, fmt.Errorf("%w: %s", store.ErrNotFound, slug))
		return
	}

	c.JSON(http.StatusOK, recipeResponse{
		Recipe:   r,
		ImageSrc: recipe.ImageSrc(r.Image),
		User:     h.RecipeStore.IsUserRecipe(slug),
		Favorite: h.RecipeStore.IsFavorite(slug),
	})
}

// CreateRecipe adds a user recipe. The slug is generated when omitted.
func (h *Handler) CreateRecipe(c *gin.Context) {
	var r recipe.Recipe
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid recipe: %s", err.Error())})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	created, err := h.RecipeStore.AddUserRecipe(ctx, r)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.Logger.Info("recipe created", zap.String("slug", created.Slug))
	c.JSON(http.StatusCreated, created)
}

// UpdateRecipe replaces or creates the user recipe named by the path slug.
func (h *Handler) UpdateRecipe(c *gin.Context) {
	var r recipe.Recipe
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid recipe: %s", err.Error())})
		return
	}
	r.Slug = c.Param("slug")

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	updated, err := h.RecipeStore.UpdateUserRecipe(ctx, r)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// DeleteRecipe removes a user recipe.
func (h *Handler) DeleteRecipe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.RecipeStore.DeleteUserRecipe(ctx, c.Param("slug")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAllRecipes removes every user recipe.
func (h *Handler) DeleteAllRecipes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	n := h.RecipeStore.DeleteAllUserRecipes(ctx)
	h.Logger.Info("user recipes deleted", zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// UploadImage stores a photo for a recipe and points the recipe at it. A
// static recipe gets a user copy that shadows it.
func (h *Handler) UploadImage(c *gin.Context) {
	slug := c.Param("slug")

	r, ok := h.RecipeStore.Recipe(slug)
	if !ok {
		h.fail(c, fmt.Errorf("%w: %s", store.ErrNotFound, slug))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("get form err: %s", err.Error())})
		return
	}

	extension, err := images.Extension(file.Filename)
	if err != nil {
		h.fail(c, err)
		return
	}

	src, err := file.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("open file err: %w", err))
		return
	}
	defer src.Close()

	imageData, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, fmt.Errorf("read image err: %w", err))
		return
	}

	name, err := h.Images.Save(imageData, slug, extension)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	r.Image = name
	updated, err := h.RecipeStore.UpdateUserRecipe(ctx, r)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.Logger.Info("recipe image uploaded", zap.String("slug", slug), zap.String("image", name))
	c.JSON(http.StatusOK, recipeResponse{
		Recipe:   updated,
		ImageSrc: recipe.ImageSrc(updated.Image),
		User:     true,
		Favorite: h.RecipeStore.IsFavorite(slug),
	})
}

// GetFavorites lists the favorite recipes in catalog order.
func (h *Handler) GetFavorites(c *gin.Context) {
	c.JSON(http.StatusOK, h.RecipeStore.FavoriteRecipes())
}

// ToggleFavorite flips the favorite flag of a slug.
func (h *Handler) ToggleFavorite(c *gin.Context) {
	slug := c.Param("slug")

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	favorite := h.RecipeStore.ToggleFavorite(ctx, slug)
	c.JSON(http.StatusOK, gin.H{"slug": slug, "favorite": favorite})
}

// ExportRecipes downloads the user recipes as JSON.
func (h *Handler) ExportRecipes(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="user_recipes.json"`)
	c.IndentedJSON(http.StatusOK, h.RecipeStore.ExportRecipes())
}

// ExportFavorites downloads the favorite slugs as JSON.
func (h *Handler) ExportFavorites(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="favorites.json"`)
	c.IndentedJSON(http.StatusOK, h.RecipeStore.ExportFavorites())
}

type importResponse struct {
	store.ImportResult
	SessionID string `json:"session_id,omitempty"`
}

// ImportRecipes merges the JSON array in the request body into the user
// recipes. Conflicts leave an import session open for GetConflict and
// ResolveConflict.
func (h *Handler) ImportRecipes(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read body err: %s", err.Error())})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res := h.RecipeStore.ImportRecipes(ctx, data)
	resp := importResponse{ImportResult: res}

	switch {
	case res.Success:
		c.JSON(http.StatusOK, resp)
	case res.Session != nil:
		resp.SessionID = res.Session.ID
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusBadRequest, resp)
	}
}

// ImportFavorites merges the JSON array of slugs in the request body into
// the favorites.
func (h *Handler) ImportFavorites(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read body err: %s", err.Error())})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res := h.RecipeStore.ImportFavorites(ctx, data)
	if !res.Success {
		c.JSON(http.StatusBadRequest, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetConflict returns the conflict awaiting a decision in the active import.
func (h *Handler) GetConflict(c *gin.Context) {
	session := h.RecipeStore.ActiveImport()
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": store.MsgNoPendingConflicts})
		return
	}

	conflict, ok := session.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": store.MsgNoPendingConflicts})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"remaining":  session.Remaining(),
		"conflict":   conflict,
	})
}

type resolveRequest struct {
	Action string `json:"action" binding:"required"`
}

// ResolveConflict applies keep or overwrite to the current conflict.
func (h *Handler) ResolveConflict(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %s", err.Error())})
		return
	}

	resolution, err := store.ParseResolution(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := h.RecipeStore.ActiveImport()
	if session == nil {
		h.fail(c, store.ErrNoConflict)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res, err := session.Resolve(ctx, resolution)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
