// Package submission is the durable ledger of module executions. Every
// accepted request becomes a row whose status advances queued -> running ->
// done|error through compare-and-set transitions in the store.
package submission

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusDone, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// CanTransitionTo reports whether the ledger permits moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusDone || next == StatusError
	}
	return false
}

// Actor identifies who filed a submission, denormalized at creation time so
// the ledger row stays readable after principal changes.
type Actor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

// Submission is one ledger entry.
type Submission struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	// Version records the module's semantic version at creation time, so the
	// row keeps saying which handler revision produced its result.
	Version string         `json:"version"`
	Actor   Actor          `json:"actor"`
	Payload map[string]any `json:"payload"`
	Status  Status         `json:"status"`
	// Result is set only when Status is done; Error only when it is error.
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	// DedupeKey is the value of the module's unique payload field, empty when
	// the module has none.
	DedupeKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows List queries. Zero values mean "any".
type Filter struct {
	Kind    string
	ActorID string
	Status  Status
	Limit   int
	Offset  int
}

// Clamped returns the filter with Limit and Offset forced into the page
// bounds the service enforces, so callers can echo the effective values.
func (f Filter) Clamped() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

var (
	ErrNotFound          = errors.New("submission: not found")
	ErrDuplicate         = errors.New("submission: duplicate")
	ErrInvalidInput      = errors.New("submission: invalid input")
	ErrInvalidTransition = errors.New("submission: invalid transition")
	// ErrStaleTransition means the row's status no longer matched the
	// expected source state when the conditional update ran.
	ErrStaleTransition = errors.New("submission: stale transition")
)
