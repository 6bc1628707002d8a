// Package store owns the visible recipe collection: the static catalog merged
// with the user's own recipes, plus the favorites set. Every mutation is
// persisted to a storage.KV before it returns.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mixbook/internal/recipe"
	"mixbook/internal/search"
	"mixbook/internal/storage"
)

// Keys under which the store persists its state.
const (
	UserRecipesKey = "user_recipes"
	FavoritesKey   = "favorite_recipes"
)

var (
	// ErrNotFound is returned when no user recipe has the requested slug.
	ErrNotFound = errors.New("recipe not found")
	// ErrDuplicateSlug is returned when adding a user recipe whose slug is taken.
	ErrDuplicateSlug = errors.New("recipe slug already exists")
)

// EventKind says which part of the store changed.
type EventKind int

const (
	RecipesChanged EventKind = iota + 1
	FavoritesChanged
)

func (k EventKind) String() string {
	switch k {
	case RecipesChanged:
		return "recipes"
	case FavoritesChanged:
		return "favorites"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a change is applied.
type Event struct {
	Kind    EventKind
	Version uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now, which is used to derive generated slugs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store holds the merged recipe collection and favorites. It is safe for
// concurrent use.
type Store struct {
	id     string
	kv     storage.KV
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	static    []recipe.Recipe
	user      []recipe.Recipe
	favorites []string
	visible   []recipe.Recipe
	version   uint64
	session   *ImportSession

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a store persisting to kv. Call Load before use.
func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		id:     uuid.NewString(),
		kv:     kv,
		logger: zap.NewNop(),
		now:    time.Now,
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted user recipes and favorites and publishes them
// right away, then loads the static catalog in the background. The returned
// channel receives the catalog outcome once and is then closed; callers are
// free to ignore it.
func (s *Store) Load(ctx context.Context, catalog recipe.Catalog) <-chan error {
	user := s.readUserRecipes(ctx)
	favorites := s.readFavorites(ctx)

	s.mu.Lock()
	s.user = user
	s.favorites = favorites
	v := s.remerge()
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	s.publish(Event{Kind: FavoritesChanged, Version: v})

	done := make(chan error, 1)
	if catalog == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		static, err := catalog.Load(ctx)
		if err != nil {
			s.logger.Error("failed to load static recipes", zap.Error(err))
			done <- err
			return
		}

		s.mu.Lock()
		s.static = static
		v := s.remerge()
		s.mu.Unlock()

		s.logger.Info("static recipes loaded", zap.Int("static", len(static)))
		s.publish(Event{Kind: RecipesChanged, Version: v})
		done <- nil
	}()

	return done
}

// remerge rebuilds the visible list and bumps the version. Callers hold s.mu.
func (s *Store) remerge() uint64 {
	userSlugs := make(map[string]struct{}, len(s.user))
	for _, r := range s.user {
		userSlugs[r.Slug] = struct{}{}
	}

	visible := make([]recipe.Recipe, 0, len(s.static)+len(s.user))
	for _, r := range s.static {
		if _, shadowed := userSlugs[r.Slug]; !shadowed {
			visible = append(visible, r)
		}
	}
	visible = append(visible, s.user...)

	s.visible = visible
	s.version++
	return s.version
}

// Recipes returns the visible recipes: unshadowed static recipes followed by
// user recipes.
func (s *Store) Recipes() []recipe.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.visible)
}

// Snapshot returns the visible recipes tagged with this store's identity and
// version, which changes whenever the visible list does.
func (s *Store) Snapshot() search.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return search.Snapshot{Source: s.id, Version: s.version, Recipes: cloneAll(s.visible)}
}

// Version returns the current version of the visible list.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Recipe looks up a visible recipe by slug.
func (s *Store) Recipe(slug string) (recipe.Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.visible {
		if r.Slug == slug {
			return r.Clone(), true
		}
	}
	return recipe.Recipe{}, false
}

// IsUserRecipe reports whether slug belongs to a user recipe.
func (s *Store) IsUserRecipe(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.user, slug) >= 0
}

// AddUserRecipe validates and appends a user recipe. A missing slug is
// generated from the name and the current time. A slug already used by
// another user recipe is rejected with ErrDuplicateSlug; use
// UpdateUserRecipe to overwrite.
func (s *Store) AddUserRecipe(ctx context.Context, r recipe.Recipe) (recipe.Recipe, error) {
	r, err := s.prepare(r)
	if err != nil {
		return recipe.Recipe{}, err
	}

	s.mu.Lock()
	if indexOf(s.user, r.Slug) >= 0 {
		s.mu.Unlock()
		return recipe.Recipe{}, fmt.Errorf("%w: %s", ErrDuplicateSlug, r.Slug)
	}
	s.user = append(s.user, r)
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return r.Clone(), nil
}

// UpdateUserRecipe replaces the user recipe with the same slug, or appends
// it when there is none. Reusing a static recipe's slug shadows it.
func (s *Store) UpdateUserRecipe(ctx context.Context, r recipe.Recipe) (recipe.Recipe, error) {
	r, err := s.prepare(r)
	if err != nil {
		return recipe.Recipe{}, err
	}

	s.mu.Lock()
	s.upsertLocked(r)
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return r.Clone(), nil
}

func (s *Store) upsertLocked(r recipe.Recipe) {
	if i := indexOf(s.user, r.Slug); i >= 0 {
		updated := cloneAll(s.user)
		updated[i] = r
		s.user = updated
		return
	}
	s.user = append(cloneAll(s.user), r)
}

// DeleteUserRecipe removes the user recipe with slug. Static recipes are
// never removed; deleting a user recipe that shadowed one reveals it again.
func (s *Store) DeleteUserRecipe(ctx context.Context, slug string) error {
	s.mu.Lock()
	i := indexOf(s.user, slug)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	updated := make([]recipe.Recipe, 0, len(s.user)-1)
	updated = append(updated, s.user[:i]...)
	updated = append(updated, s.user[i+1:]...)
	s.user = updated
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return nil
}

// DeleteAllUserRecipes removes every user recipe and returns how many there were.
func (s *Store) DeleteAllUserRecipes(ctx context.Context) int {
	s.mu.Lock()
	n := len(s.user)
	s.user = []recipe.Recipe{}
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return n
}

// prepare copies r, fills in a slug and validates it.
func (s *Store) prepare(r recipe.Recipe) (recipe.Recipe, error) {
	r = r.Clone()
	if r.Slug == "" {
		r.Slug = recipe.NewSlug(r.Name, s.now())
	}
	if err := recipe.Validate(&r); err != nil {
		return recipe.Recipe{}, err
	}
	r.Normalize()
	return r, nil
}

// commitUser persists the user list and rebuilds the visible list. Callers
// hold s.mu for writing.
func (s *Store) commitUser(ctx context.Context) uint64 {
	s.persist(ctx, UserRecipesKey, s.user)
	return s.remerge()
}

// persist writes value under key. Failures are logged, not returned: the
// in-memory state stays authoritative for this process.
func (s *Store) persist(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("failed to marshal stored value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		s.logger.Error("failed to persist stored value", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) readUserRecipes(ctx context.Context) []recipe.Recipe {
	var user []recipe.Recipe
	if !s.read(ctx, UserRecipesKey, &user) {
		return []recipe.Recipe{}
	}

	out := make([]recipe.Recipe, 0, len(user))
	seen := make(map[string]struct{}, len(user))
	for _, r := range user {
		if r.Slug == "" {
			s.logger.Warn("dropping stored user recipe without slug", zap.String("name", r.Name))
			continue
		}
		if _, dup := seen[r.Slug]; dup {
			s.logger.Warn("dropping duplicate stored user recipe", zap.String("slug", r.Slug))
			continue
		}
		seen[r.Slug] = struct{}{}
		r.Normalize()
		out = append(out, r)
	}
	return out
}

func (s *Store) readFavorites(ctx context.Context) []string {
	var favorites []string
	if !s.read(ctx, FavoritesKey, &favorites) {
		return []string{}
	}
	return dedupe(favorites)
}

// read decodes the value under key into v. Missing keys, storage errors and
// corrupt values all report false; the latter two are logged.
func (s *Store) read(ctx context.Context, key string, v any) bool {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("failed to read stored value", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("ignoring corrupt stored value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Subscribe registers fn to be called after every change. Calls happen on the
// goroutine that made the change, outside the store's lock. The returned
// function unregisters fn.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(e Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Watch keeps the store in sync with writes made through other handles to
// the same storage, until ctx is done. It returns immediately when the
// backend cannot report changes.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.kv.(storage.Watcher)
	if !ok {
		s.logger.Debug("storage backend does not support change notification")
		return nil
	}
	return w.Watch(ctx, func(key string) {
		s.reload(ctx, key)
	})
}

// reload re-reads key and applies it if it differs from the in-memory state.
// The read happens under s.mu so a local write cannot land between reading
// and applying.
func (s *Store) reload(ctx context.Context, key string) {
	switch key {
	case UserRecipesKey:
		s.mu.Lock()
		user := s.readUserRecipes(ctx)
		if sameRecipes(s.user, user) {
			s.mu.Unlock()
			return
		}
		s.user = user
		v := s.remerge()
		s.mu.Unlock()

		s.logger.Debug("user recipes changed externally", zap.Int("count", len(user)))
		s.publish(Event{Kind: RecipesChanged, Version: v})

	case FavoritesKey:
		s.mu.Lock()
		favorites := s.readFavorites(ctx)
		if sameStrings(s.favorites, favorites) {
			s.mu.Unlock()
			return
		}
		s.favorites = favorites
		v := s.version
		s.mu.Unlock()

		s.logger.Debug("favorites changed externally", zap.Int("count", len(favorites)))
		s.publish(Event{Kind: FavoritesChanged, Version: v})
	}
}

func indexOf(list []recipe.Recipe, slug string) int {
	for i, r := range list {
		if r.Slug == slug {
			return i
		}
	}
	return -1
}

func cloneAll(list []recipe.Recipe) []recipe.Recipe {
	out := make([]recipe.Recipe, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

func sameRecipes(a, b []recipe.Recipe) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !recipe.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
