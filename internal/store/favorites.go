package store

import (
	"context"

	"mixbook/internal/recipe"
)

// ToggleFavorite adds slug to the favorites when absent and removes it when
// present. It returns whether slug is a favorite afterwards.
func (s *Store) ToggleFavorite(ctx context.Context, slug string) bool {
	s.mu.Lock()
	updated := make([]string, 0, len(s.favorites)+1)
	removed := false
	for _, f := range s.favorites {
		if f == slug {
			removed = true
			continue
		}
		updated = append(updated, f)
	}
	if !removed {
		updated = append(updated, slug)
	}
	s.favorites = updated
	s.persist(ctx, FavoritesKey, s.favorites)
	v := s.version
	s.mu.Unlock()

	s.publish(Event{Kind: FavoritesChanged, Version: v})
	return !removed
}

// IsFavorite reports whether slug is in the favorites set.
func (s *Store) IsFavorite(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.favorites {
		if f == slug {
			return true
		}
	}
	return false
}

// Favorites returns the favorite slugs in the order they were added.
func (s *Store) Favorites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.favorites...)
}

// FavoriteRecipes returns the visible recipes that are favorites, in visible
// order. Favorites pointing at unknown slugs are left out.
func (s *Store) FavoriteRecipes() []recipe.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{}, len(s.favorites))
	for _, f := range s.favorites {
		set[f] = struct{}{}
	}

	out := []recipe.Recipe{}
	for _, r := range s.visible {
		if _, ok := set[r.Slug]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}
