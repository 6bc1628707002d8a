package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"mixbook/internal/recipe"
)

// Messages reported by failed imports.
const (
	MsgParseFailed        = "Failed to parse JSON."
	MsgRootNotArray       = "Invalid format: Root must be an array."
	MsgNoValidRecipes     = "No valid recipes found in file."
	MsgFavoritesNotSlugs  = "Invalid format: Must be an array of recipe slugs."
	MsgConflictsFound     = "Conflicts found."
	MsgConflictsResolved  = "All conflicts resolved."
	MsgNoPendingConflicts = "No pending conflicts."
)

// Conflict pairs a stored user recipe with an incoming recipe that has the
// same slug but different content.
type Conflict struct {
	Existing recipe.Recipe `json:"existing"`
	Incoming recipe.Recipe `json:"new"`
}

// ImportResult describes the outcome of ImportRecipes.
type ImportResult struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Added     int        `json:"added"`
	Skipped   int        `json:"skipped"`
	Unchanged int        `json:"unchanged"`
	Conflicts []Conflict `json:"conflicts"`

	// Session is set when conflicts block the import.
	Session *ImportSession `json:"-"`
}

// FavoritesImportResult describes the outcome of ImportFavorites.
type FavoritesImportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Added   int    `json:"added"`
}

// ExportRecipes returns the user recipes for serialization.
func (s *Store) ExportRecipes() []recipe.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.user)
}

// ExportFavorites returns the favorite slugs for serialization.
func (s *Store) ExportFavorites() []string {
	return s.Favorites()
}

// ImportRecipes merges a JSON array of recipes into the user recipes.
//
// Entries that fail to decode or validate are skipped. Entries without a slug
// get one generated. Entries whose slug is new are added; entries matching an
// existing user recipe exactly are ignored; entries that differ from an
// existing user recipe are conflicts. When there are conflicts nothing is
// committed and the result carries an ImportSession that must be resolved
// first.
func (s *Store) ImportRecipes(ctx context.Context, data []byte) ImportResult {
	if !json.Valid(data) {
		return ImportResult{Message: MsgParseFailed, Conflicts: []Conflict{}}
	}
	if !isJSONArray(data) {
		return ImportResult{Message: MsgRootNotArray, Conflicts: []Conflict{}}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return ImportResult{Message: MsgParseFailed, Conflicts: []Conflict{}}
	}

	valid := make([]recipe.Recipe, 0, len(entries))
	skipped := 0
	for i, raw := range entries {
		var r recipe.Recipe
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Warn("skipping invalid recipe", zap.Int("index", i), zap.Error(err))
			skipped++
			continue
		}
		if err := recipe.Validate(&r); err != nil {
			s.logger.Warn("skipping invalid recipe", zap.Int("index", i), zap.String("name", r.Name), zap.Error(err))
			skipped++
			continue
		}
		r.Normalize()
		valid = append(valid, r)
	}

	if len(valid) == 0 && len(entries) > 0 {
		return ImportResult{Message: MsgNoValidRecipes, Skipped: skipped, Conflicts: []Conflict{}}
	}

	s.mu.Lock()

	existing := make(map[string]recipe.Recipe, len(s.user))
	for _, r := range s.user {
		existing[r.Slug] = r
	}

	now := s.now()
	batch := make(map[string]struct{}, len(valid))
	var pending []recipe.Recipe
	var conflicts []Conflict
	unchanged := 0

	for _, r := range valid {
		if r.Slug == "" {
			r.Slug = uniqueSlug(recipe.NewSlug(r.Name, now), existing, batch)
		}
		if _, dup := batch[r.Slug]; dup {
			s.logger.Warn("skipping duplicate slug in import", zap.String("slug", r.Slug))
			skipped++
			continue
		}
		batch[r.Slug] = struct{}{}

		cur, ok := existing[r.Slug]
		switch {
		case !ok:
			pending = append(pending, r)
		case recipe.Equal(cur, r):
			unchanged++
		default:
			conflicts = append(conflicts, Conflict{Existing: cur.Clone(), Incoming: r})
		}
	}

	if len(conflicts) > 0 {
		session := newImportSession(s, conflicts, pending, skipped, unchanged)
		s.session = session
		s.mu.Unlock()

		s.logger.Info("import blocked by conflicts",
			zap.String("session", session.ID),
			zap.Int("conflicts", len(conflicts)),
			zap.Int("pending", len(pending)))
		return ImportResult{
			Message:   MsgConflictsFound,
			Skipped:   skipped,
			Unchanged: unchanged,
			Conflicts: cloneConflicts(conflicts),
			Session:   session,
		}
	}

	s.user = append(cloneAll(s.user), pending...)
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	s.logger.Info("recipes imported", zap.Int("added", len(pending)), zap.Int("skipped", skipped), zap.Int("unchanged", unchanged))

	return ImportResult{
		Success:   true,
		Message:   importMessage(len(pending), skipped),
		Added:     len(pending),
		Skipped:   skipped,
		Unchanged: unchanged,
		Conflicts: []Conflict{},
	}
}

// ImportFavorites merges a JSON array of slugs into the favorites.
func (s *Store) ImportFavorites(ctx context.Context, data []byte) FavoritesImportResult {
	if !json.Valid(data) {
		return FavoritesImportResult{Message: MsgParseFailed}
	}

	slugs, ok := decodeSlugs(data)
	if !ok {
		return FavoritesImportResult{Message: MsgFavoritesNotSlugs}
	}

	s.mu.Lock()
	present := make(map[string]struct{}, len(s.favorites))
	for _, f := range s.favorites {
		present[f] = struct{}{}
	}
	updated := append([]string{}, s.favorites...)
	added := 0
	for _, slug := range slugs {
		if _, ok := present[slug]; ok {
			continue
		}
		present[slug] = struct{}{}
		updated = append(updated, slug)
		added++
	}
	s.favorites = updated
	s.persist(ctx, FavoritesKey, s.favorites)
	v := s.version
	s.mu.Unlock()

	s.publish(Event{Kind: FavoritesChanged, Version: v})
	return FavoritesImportResult{
		Success: true,
		Message: fmt.Sprintf("Imported %d new favorites.", added),
		Added:   added,
	}
}

// ActiveImport returns the import session waiting for conflict resolution,
// if any.
func (s *Store) ActiveImport() *ImportSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// DiscardImport drops the active import session without committing anything.
func (s *Store) DiscardImport() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// isActive reports whether session is still the store's active import.
func (s *Store) isActive(session *ImportSession) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session == session
}

// overwrite replaces a user recipe on behalf of session, provided session is
// still the active import.
func (s *Store) overwrite(ctx context.Context, session *ImportSession, r recipe.Recipe) error {
	r, err := s.prepare(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.upsertLocked(r)
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return nil
}

// commitPending adds recipes left over from a resolved import and closes the
// session. Recipes whose slug was taken in the meantime are skipped rather
// than overwritten.
func (s *Store) commitPending(ctx context.Context, session *ImportSession, pending []recipe.Recipe) (added, skipped int, err error) {
	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return 0, 0, ErrSessionClosed
	}
	s.session = nil
	updated := cloneAll(s.user)
	for _, r := range pending {
		if indexOf(updated, r.Slug) >= 0 {
			skipped++
			continue
		}
		updated = append(updated, r)
		added++
	}
	s.user = updated
	v := s.commitUser(ctx)
	s.mu.Unlock()

	s.publish(Event{Kind: RecipesChanged, Version: v})
	return added, skipped, nil
}

func importMessage(added, skipped int) string {
	if skipped > 0 {
		return fmt.Sprintf("Imported %d recipes. (%d invalid skipped)", added, skipped)
	}
	return fmt.Sprintf("Imported %d recipes.", added)
}

// uniqueSlug appends -2, -3, ... to base until it collides with neither the
// stored recipes nor the current batch.
func uniqueSlug(base string, existing map[string]recipe.Recipe, batch map[string]struct{}) string {
	taken := func(slug string) bool {
		if _, ok := existing[slug]; ok {
			return true
		}
		_, ok := batch[slug]
		return ok
	}

	slug := base
	for n := 2; taken(slug); n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	return slug
}

// decodeSlugs decodes a JSON array whose elements are all strings. Any other
// element, null included, rejects the whole array.
func decodeSlugs(data []byte) ([]string, bool) {
	if !isJSONArray(data) {
		return nil, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	slugs := make([]string, 0, len(raw))
	for _, elem := range raw {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '"' {
			return nil, false
		}
		var slug string
		if err := json.Unmarshal(elem, &slug); err != nil {
			return nil, false
		}
		slugs = append(slugs, slug)
	}
	return slugs, true
}

func isJSONArray(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func cloneConflicts(in []Conflict) []Conflict {
	out := make([]Conflict, len(in))
	for i, c := range in {
		out[i] = Conflict{Existing: c.Existing.Clone(), Incoming: c.Incoming.Clone()}
	}
	return out
}
