// Package audit keeps the append-only record of who did what. Writes are
// best effort: a failing audit sink never blocks or fails the action it
// describes, it only increments a drop counter and logs locally.
package audit

import (
	"context"
	"strings"
	"time"

	"tramita.org/internal/ids"
	"tramita.org/internal/obs"
)

// Event is one immutable audit entry. SubmissionID is set only for events
// that concern a ledger row; account and session events leave it empty.
type Event struct {
	ID           string            `json:"id"`
	OccurredAt   time.Time         `json:"occurred_at"`
	ActorID      string            `json:"actor_id"`
	ActorName    string            `json:"actor_name,omitempty"`
	Action       string            `json:"action"`
	Kind         string            `json:"kind,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Query narrows reads. Zero values mean "any".
type Query struct {
	ActorID      string
	Action       string
	Kind         string
	SubmissionID string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// Clamped returns the query with Limit and Offset forced into the page
// bounds Query enforces, so callers can echo the effective values.
func (q Query) Clamped() Query {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Store persists audit events. Append-only; there is no update or delete.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Query(ctx context.Context, q Query) ([]*Event, error)
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

// Log is the audit recorder handed to services and handlers.
type Log struct {
	store Store
	now   func() time.Time
}

// Option configures Log behavior.
type Option func(*Log)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs an audit log over the given store.
func New(store Store, opts ...Option) *Log {
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one event. Failures are swallowed after local logging so
// callers on the hot path never depend on the audit sink being up.
func (l *Log) Record(ctx context.Context, e Event) {
	if l == nil || l.store == nil {
		return
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return
	}
	e.ID = ids.New()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}
	if err := l.store.Append(ctx, &e); err != nil {
		obs.AuditDropped()
		obs.Log("error", "audit event dropped", map[string]any{
			"action": e.Action,
			"error":  err.Error(),
		})
	}
}

// Query reads events newest first, with the limit clamped.
func (l *Log) Query(ctx context.Context, q Query) ([]*Event, error) {
	return l.store.Query(ctx, q.Clamped())
}
