package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mixbook/internal/recipe"
)

var (
	// ErrNoConflict is returned when resolving a session that has no conflicts left.
	ErrNoConflict = errors.New("no pending conflict")
	// ErrSessionClosed is returned when resolving a session that was discarded
	// or replaced by a newer import.
	ErrSessionClosed = errors.New("import session closed")
)

// Resolution is the decision taken for one import conflict.
type Resolution int

const (
	// Keep leaves the stored recipe untouched.
	Keep Resolution = iota + 1
	// Overwrite replaces the stored recipe with the incoming one.
	Overwrite
)

func (r Resolution) String() string {
	switch r {
	case Keep:
		return "keep"
	case Overwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ParseResolution parses "keep" or "overwrite".
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep":
		return Keep, nil
	case "overwrite":
		return Overwrite, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q", s)
	}
}

// ResolveResult reports progress after resolving one conflict.
type ResolveResult struct {
	Remaining int    `json:"remaining"`
	Done      bool   `json:"done"`
	Added     int    `json:"added"`
	Message   string `json:"message"`
}

// ImportSession walks the conflicts of a blocked import one at a time. Once
// the last conflict is resolved the import's new recipes are committed.
type ImportSession struct {
	ID string

	store *Store

	// resolveMu serializes Resolve calls. It is never held by the
	// accessors, so subscribers may inspect the session while it resolves.
	resolveMu sync.Mutex

	mu          sync.Mutex
	conflicts   []Conflict
	pending     []recipe.Recipe
	skipped     int
	unchanged   int
	overwritten int
	done        bool
}

func newImportSession(s *Store, conflicts []Conflict, pending []recipe.Recipe, skipped, unchanged int) *ImportSession {
	return &ImportSession{
		ID:        uuid.NewString(),
		store:     s,
		conflicts: conflicts,
		pending:   pending,
		skipped:   skipped,
		unchanged: unchanged,
	}
}

// Current returns the conflict awaiting a decision.
func (is *ImportSession) Current() (Conflict, bool) {
	is.mu.Lock()
	defer is.mu.Unlock()
	if len(is.conflicts) == 0 {
		return Conflict{}, false
	}
	c := is.conflicts[0]
	return Conflict{Existing: c.Existing.Clone(), Incoming: c.Incoming.Clone()}, true
}

// Remaining returns how many conflicts are still unresolved.
func (is *ImportSession) Remaining() int {
	is.mu.Lock()
	defer is.mu.Unlock()
	return len(is.conflicts)
}

// Pending returns how many new recipes will be added once every conflict is resolved.
func (is *ImportSession) Pending() int {
	is.mu.Lock()
	defer is.mu.Unlock()
	return len(is.pending)
}

// Done reports whether every conflict has been resolved.
func (is *ImportSession) Done() bool {
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.done
}

// Resolve applies res to the current conflict and advances to the next one.
// A session that is no longer the store's active import fails with
// ErrSessionClosed and changes nothing.
func (is *ImportSession) Resolve(ctx context.Context, res Resolution) (ResolveResult, error) {
	if res != Keep && res != Overwrite {
		return ResolveResult{}, fmt.Errorf("invalid resolution %d", res)
	}

	is.resolveMu.Lock()
	defer is.resolveMu.Unlock()

	is.mu.Lock()
	if is.done || len(is.conflicts) == 0 {
		done := is.done
		is.mu.Unlock()
		return ResolveResult{Done: done, Message: MsgNoPendingConflicts}, ErrNoConflict
	}
	head := is.conflicts[0]
	last := len(is.conflicts) == 1
	is.mu.Unlock()

	if res == Overwrite {
		if err := is.store.overwrite(ctx, is, head.Incoming); err != nil {
			return ResolveResult{Remaining: is.Remaining()}, fmt.Errorf("failed to overwrite %s: %w", head.Incoming.Slug, err)
		}
	} else if !is.store.isActive(is) {
		return ResolveResult{Remaining: is.Remaining()}, ErrSessionClosed
	}

	is.mu.Lock()
	is.conflicts = is.conflicts[1:]
	if res == Overwrite {
		is.overwritten++
	}
	remaining := len(is.conflicts)
	var pending []recipe.Recipe
	if last {
		pending = is.pending
		is.pending = nil
	}
	is.mu.Unlock()

	is.store.logger.Debug("import conflict resolved",
		zap.String("session", is.ID),
		zap.String("slug", head.Incoming.Slug),
		zap.Stringer("resolution", res),
		zap.Int("remaining", remaining))

	if !last {
		return ResolveResult{
			Remaining: remaining,
			Message:   fmt.Sprintf("%d conflicts remaining.", remaining),
		}, nil
	}

	added, skipped, err := is.store.commitPending(ctx, is, pending)
	if err != nil {
		return ResolveResult{}, err
	}

	is.mu.Lock()
	is.done = true
	is.skipped += skipped
	overwritten, totalSkipped := is.overwritten, is.skipped
	is.mu.Unlock()

	is.store.logger.Info("import completed",
		zap.String("session", is.ID),
		zap.Int("added", added),
		zap.Int("overwritten", overwritten),
		zap.Int("skipped", totalSkipped))

	return ResolveResult{Done: true, Added: added, Message: MsgConflictsResolved}, nil
}
