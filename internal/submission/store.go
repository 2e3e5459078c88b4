package submission

import (
	"context"
	"time"
)

// Store persists ledger rows. Implementations must make UpdateStatus a true
// compare-and-set so concurrent writers cannot both claim a transition.
type Store interface {
	Insert(ctx context.Context, s *Submission) error // ErrDuplicate on dedupe-key collision
	Get(ctx context.Context, id string) (*Submission, error)
	List(ctx context.Context, f Filter) ([]*Submission, error)
	// FindByDedupeKey returns the live (non-error) submission holding the key
	// within the kind, or ErrNotFound.
	FindByDedupeKey(ctx context.Context, kind, key string) (*Submission, error)
	// UpdateStatus moves id from `from` to `to`, recording result or errMsg
	// and bumping updated_at, only if the row's current status equals `from`.
	// ErrStaleTransition when the guard fails, ErrNotFound when no row exists.
	UpdateStatus(ctx context.Context, id string, from, to Status, result map[string]any, errMsg string, now time.Time) (*Submission, error)
}
