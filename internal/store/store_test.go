package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mixbook/internal/recipe"
	"mixbook/internal/search"
	"mixbook/internal/storage"
	"mixbook/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func cocktail(slug, name string) recipe.Recipe {
	return recipe.Recipe{
		Name:        name,
		Slug:        slug,
		Description: name + " description",
		Ingredients: []recipe.Ingredient{{Quantity: "2", Measure: "oz", Ingredient: "Gin"}},
		Directions:  []string{"Stir"},
		Keywords:    []string{},
	}
}

func slugs(list []recipe.Recipe) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Slug
	}
	return out
}

// loaded returns a store over kv with the given static recipes fully loaded.
func loaded(t *testing.T, kv storage.KV, static ...recipe.Recipe) *store.Store {
	t.Helper()
	s := store.New(kv)
	require.NoError(t, <-s.Load(context.Background(), recipe.StaticCatalog(static)))
	return s
}

func TestStore_Shadowing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := loaded(t, storage.NewMemoryKV(), cocktail("negroni", "Negroni"), cocktail("martini", "Martini"))

	_, err := s.UpdateUserRecipe(ctx, cocktail("negroni", "My Negroni"))
	require.NoError(t, err)
	_, err = s.AddUserRecipe(ctx, cocktail("paloma", "Paloma"))
	require.NoError(t, err)

	got := s.Recipes()
	assert.Equal(t, []string{"martini", "negroni", "paloma"}, slugs(got))
	r, ok := s.Recipe("negroni")
	require.True(t, ok)
	assert.Equal(t, "My Negroni", r.Name)
	assert.True(t, s.IsUserRecipe("negroni"))
	assert.False(t, s.IsUserRecipe("martini"))

	// Deleting the shadowing recipe reveals the static one again.
	require.NoError(t, s.DeleteUserRecipe(ctx, "negroni"))
	r, ok = s.Recipe("negroni")
	require.True(t, ok)
	assert.Equal(t, "Negroni", r.Name)
	assert.Equal(t, []string{"negroni", "martini", "paloma"}, slugs(s.Recipes()))
}

func TestStore_VisibleSlugsAreUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := loaded(t, storage.NewMemoryKV(), cocktail("a", "A"), cocktail("b", "B"))
	for _, r := range []recipe.Recipe{cocktail("b", "B2"), cocktail("c", "C"), cocktail("a", "A2"), cocktail("c", "C2")} {
		_, err := s.UpdateUserRecipe(ctx, r)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, slug := range slugs(s.Recipes()) {
		assert.False(t, seen[slug], "slug %q listed twice", slug)
		seen[slug] = true
	}
	assert.Len(t, seen, 3)
}

func TestStore_AddUserRecipe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("generates a slug from name and time", func(t *testing.T) {
		t.Parallel()
		clock := func() time.Time { return time.UnixMilli(1700000000123) }
		s := store.New(storage.NewMemoryKV(), store.WithClock(clock))
		<-s.Load(ctx, nil)

		r := cocktail("", "Whiskey Sour")
		got, err := s.AddUserRecipe(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, "whiskey-sour-1700000000123", got.Slug)
		assert.True(t, s.IsUserRecipe(got.Slug))
	})

	t.Run("rejects a duplicate slug", func(t *testing.T) {
		t.Parallel()
		s := loaded(t, storage.NewMemoryKV())
		_, err := s.AddUserRecipe(ctx, cocktail("sour", "Sour"))
		require.NoError(t, err)

		_, err = s.AddUserRecipe(ctx, cocktail("sour", "Other Sour"))
		assert.ErrorIs(t, err, store.ErrDuplicateSlug)
		assert.Len(t, s.Recipes(), 1)
	})

	t.Run("rejects an invalid recipe", func(t *testing.T) {
		t.Parallel()
		s := loaded(t, storage.NewMemoryKV())
		r := cocktail("sour", "Sour")
		r.Ingredients = nil
		_, err := s.AddUserRecipe(ctx, r)
		assert.ErrorIs(t, err, recipe.ErrInvalid)
		assert.Empty(t, s.Recipes())
	})

	t.Run("persists before returning", func(t *testing.T) {
		t.Parallel()
		kv := storage.NewMemoryKV()
		s := loaded(t, kv)
		_, err := s.AddUserRecipe(ctx, cocktail("sour", "Sour"))
		require.NoError(t, err)

		data, err := kv.Get(ctx, store.UserRecipesKey)
		require.NoError(t, err)
		var stored []recipe.Recipe
		require.NoError(t, json.Unmarshal(data, &stored))
		assert.Equal(t, []string{"sour"}, slugs(stored))
	})
}

func TestStore_UpdateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := loaded(t, storage.NewMemoryKV(), cocktail("negroni", "Negroni"))

	r := cocktail("negroni", "Mine")
	_, err := s.UpdateUserRecipe(ctx, r)
	require.NoError(t, err)
	once := s.Recipes()

	_, err = s.UpdateUserRecipe(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, once, s.Recipes())
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := loaded(t, storage.NewMemoryKV(), cocktail("negroni", "Negroni"))

	err := s.DeleteUserRecipe(ctx, "negroni")
	assert.ErrorIs(t, err, store.ErrNotFound, "static recipes cannot be deleted")

	for _, slug := range []string{"a", "b", "c"} {
		_, err := s.AddUserRecipe(ctx, cocktail(slug, slug))
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteUserRecipe(ctx, "b"))
	assert.Equal(t, []string{"negroni", "a", "c"}, slugs(s.Recipes()))

	assert.Equal(t, 2, s.DeleteAllUserRecipes(ctx))
	assert.Equal(t, []string{"negroni"}, slugs(s.Recipes()))
	assert.Equal(t, 0, s.DeleteAllUserRecipes(ctx))
}

func TestStore_Favorites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := storage.NewMemoryKV()
	s := loaded(t, kv, cocktail("negroni", "Negroni"), cocktail("martini", "Martini"))

	assert.True(t, s.ToggleFavorite(ctx, "martini"))
	assert.True(t, s.ToggleFavorite(ctx, "negroni"))
	assert.True(t, s.ToggleFavorite(ctx, "gone"))
	assert.True(t, s.IsFavorite("martini"))
	assert.Equal(t, []string{"martini", "negroni", "gone"}, s.Favorites())

	// Visible order, unknown slugs dropped.
	assert.Equal(t, []string{"negroni", "martini"}, slugs(s.FavoriteRecipes()))

	assert.False(t, s.ToggleFavorite(ctx, "martini"))
	assert.False(t, s.IsFavorite("martini"))

	// A fresh store over the same storage sees the persisted set.
	reopened := loaded(t, kv)
	assert.Equal(t, []string{"negroni", "gone"}, reopened.Favorites())
}

func TestStore_SnapshotsShareEngine(t *testing.T) {
	t.Parallel()

	// Both stores sit at the same version with different content.
	first := loaded(t, storage.NewMemoryKV(), cocktail("negroni", "Negroni"))
	second := loaded(t, storage.NewMemoryKV(), cocktail("martini", "Martini"))
	require.Equal(t, first.Version(), second.Version())

	engine := search.NewEngine(search.DefaultThreshold)
	assert.Equal(t, []string{"negroni"}, slugs(engine.Fuzzy(first.Snapshot(), "negroni", search.Filters{})))
	assert.Equal(t, []string{"martini"}, slugs(engine.Fuzzy(second.Snapshot(), "martini", search.Filters{})))
}

func TestStore_Subscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := loaded(t, storage.NewMemoryKV())

	var mu sync.Mutex
	var events []store.Event
	unsubscribe := s.Subscribe(func(e store.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	_, err := s.AddUserRecipe(ctx, cocktail("sour", "Sour"))
	require.NoError(t, err)
	s.ToggleFavorite(ctx, "sour")

	unsubscribe()
	unsubscribe()
	s.ToggleFavorite(ctx, "sour")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, store.RecipesChanged, events[0].Kind)
	assert.Equal(t, s.Version(), events[0].Version)
	assert.Equal(t, store.FavoritesChanged, events[1].Kind)
	assert.Equal(t, "favorites", events[1].Kind.String())
}

type slowCatalog struct {
	release chan struct{}
	recipes []recipe.Recipe
}

func (c slowCatalog) Load(ctx context.Context) ([]recipe.Recipe, error) {
	select {
	case <-c.release:
		return c.recipes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStore_LoadPublishesUserRecipesFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := storage.NewMemoryKV()
	seeded, err := json.Marshal([]recipe.Recipe{cocktail("mine", "Mine")})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, store.UserRecipesKey, seeded))

	catalog := slowCatalog{release: make(chan struct{}), recipes: []recipe.Recipe{cocktail("negroni", "Negroni")}}
	s := store.New(kv)
	done := s.Load(ctx, catalog)

	assert.Equal(t, []string{"mine"}, slugs(s.Recipes()), "user recipes are visible before the catalog arrives")
	before := s.Version()

	close(catalog.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"negroni", "mine"}, slugs(s.Recipes()))
	assert.Greater(t, s.Version(), before)
}

func TestStore_LoadCatalogError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := store.New(storage.NewMemoryKV())
	done := s.Load(ctx, slowCatalog{release: make(chan struct{})})
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, s.Recipes())
}

func TestStore_LoadDropsBadStoredEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.UserRecipesKey, []byte(`[
		{"name": "No slug"},
		{"name": "A", "slug": "a"},
		{"name": "A again", "slug": "a"}
	]`)))
	require.NoError(t, kv.Set(ctx, store.FavoritesKey, []byte(`["a", "a", "b"]`)))

	s := loaded(t, kv)
	assert.Equal(t, []string{"a"}, slugs(s.Recipes()))
	assert.Equal(t, []string{"a", "b"}, s.Favorites())
}

func TestStore_Watch(t *testing.T) {
	t.Parallel()

	kv := storage.NewMemoryKV()
	writer := loaded(t, kv)
	reader := loaded(t, kv)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- reader.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-watchDone)
	}()

	changed := make(chan store.Event, 8)
	unsubscribe := reader.Subscribe(func(e store.Event) {
		select {
		case changed <- e:
		default:
		}
	})
	defer unsubscribe()

	// The watcher registers asynchronously, so keep writing until it reacts.
	assert.Eventually(t, func() bool {
		writer.ToggleFavorite(context.Background(), "negroni")
		writer.ToggleFavorite(context.Background(), "negroni")
		_, _ = writer.UpdateUserRecipe(context.Background(), cocktail("sour", "Sour"))
		return reader.IsUserRecipe("sour")
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case e := <-changed:
		assert.NotZero(t, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no change event delivered")
	}
}

// gatedKV blocks the first read of the user recipes after arm until release
// is closed.
type gatedKV struct {
	*storage.MemoryKV
	armed   chan struct{}
	reading chan struct{}
	release chan struct{}
}

func newGatedKV() *gatedKV {
	return &gatedKV{
		MemoryKV: storage.NewMemoryKV(),
		armed:    make(chan struct{}, 1),
		reading:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedKV) arm() { g.armed <- struct{}{} }

func (g *gatedKV) Get(ctx context.Context, key string) ([]byte, error) {
	if key == store.UserRecipesKey {
		select {
		case <-g.armed:
			close(g.reading)
			<-g.release
		default:
		}
	}
	return g.MemoryKV.Get(ctx, key)
}

func TestStore_WatchDoesNotRevertLocalWrites(t *testing.T) {
	t.Parallel()

	kv := newGatedKV()
	s := loaded(t, kv)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- s.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-watchDone)
	}()

	external, err := json.Marshal([]recipe.Recipe{cocktail("sour", "Sour")})
	require.NoError(t, err)

	// The watcher registers asynchronously, so keep writing until a reload
	// starts reading.
	kv.arm()
	require.Eventually(t, func() bool {
		require.NoError(t, kv.MemoryKV.Set(context.Background(), store.UserRecipesKey, external))
		select {
		case <-kv.reading:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	added := make(chan error, 1)
	go func() {
		_, err := s.AddUserRecipe(context.Background(), cocktail("fizz", "Fizz"))
		added <- err
	}()

	// The local write waits for the reload that is already reading.
	assert.Never(t, func() bool { return len(added) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(kv.release)
	require.NoError(t, <-added)

	assert.True(t, s.IsUserRecipe("fizz"))
	assert.True(t, s.IsUserRecipe("sour"))
}

func TestStore_WatchWithoutWatcher(t *testing.T) {
	t.Parallel()
	s := store.New(failingKV{})
	assert.NoError(t, s.Watch(context.Background()))
}

type failingKV struct{}

var errBroken = errors.New("disk on fire")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errBroken }
func (failingKV) Set(context.Context, string, []byte) error   { return errBroken }
func (failingKV) Delete(context.Context, string) error        { return errBroken }
func (failingKV) Close() error                                { return nil }

func TestStore_StorageFailuresAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	s := store.New(failingKV{}, store.WithLogger(zap.New(core)))
	require.NoError(t, <-s.Load(context.Background(), recipe.StaticCatalog{cocktail("negroni", "Negroni")}))

	// In-memory state still changes.
	_, err := s.AddUserRecipe(context.Background(), cocktail("sour", "Sour"))
	require.NoError(t, err)
	assert.True(t, s.IsUserRecipe("sour"))

	assert.Equal(t, 2, logs.FilterMessage("failed to read stored value").Len())
	entries := logs.FilterMessage("failed to persist stored value").All()
	require.Len(t, entries, 1)
	assert.Equal(t, store.UserRecipesKey, entries[0].ContextMap()["key"])
}

func TestStore_CorruptValueIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.UserRecipesKey, []byte(`{not json`)))

	core, logs := observer.New(zapcore.WarnLevel)
	s := store.New(kv, store.WithLogger(zap.New(core)))
	<-s.Load(ctx, nil)

	assert.Empty(t, s.Recipes())
	assert.Equal(t, 1, logs.FilterMessage("ignoring corrupt stored value").Len())
}
