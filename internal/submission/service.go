package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tramita.org/internal/ids"
	"tramita.org/internal/obs"
	"tramita.org/internal/stream"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Publisher receives submission lifecycle events. Satisfied by *stream.Stream.
type Publisher interface {
	Publish(stream.Event)
}

// Service owns ledger writes. Reads go through it too so access filtering
// stays in one place.
type Service struct {
	store  Store
	events Publisher
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPublisher attaches a lifecycle event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService constructs the ledger service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("submission store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create appends a queued submission stamped with the module version that
// will handle it. When uniqueField is set, the payload must carry a non-empty
// string under it and an existing queued, running or done submission with the
// same value in the same kind surfaces as ErrDuplicate; an error-status
// holder does not block a retry.
func (s *Service) Create(ctx context.Context, kind, version string, actor Actor, payload map[string]any, uniqueField string) (*Submission, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return nil, fmt.Errorf("%w: kind", ErrInvalidInput)
	}
	if strings.TrimSpace(actor.ID) == "" {
		return nil, fmt.Errorf("%w: actor", ErrInvalidInput)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	var dedupeKey string
	if uniqueField != "" {
		raw, ok := payload[uniqueField]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidInput, uniqueField)
		}
		str, ok := raw.(string)
		if !ok || strings.TrimSpace(str) == "" {
			return nil, fmt.Errorf("%w: field %q must be a non-empty string", ErrInvalidInput, uniqueField)
		}
		dedupeKey = strings.TrimSpace(str)

		// Pre-check for a friendly error; the store's uniqueness guarantee
		// still catches the insert race.
		existing, err := s.store.FindByDedupeKey(ctx, kind, dedupeKey)
		if err == nil {
			return nil, fmt.Errorf("%w: %s already holds %q", ErrDuplicate, existing.ID, dedupeKey)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	now := s.now().UTC()
	sub := &Submission{
		ID:        ids.New(),
		Kind:      kind,
		Version:   strings.TrimSpace(version),
		Actor:     actor,
		Payload:   payload,
		Status:    StatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, err
	}
	obs.SubmissionCreated(kind)
	s.publish(sub)
	return sub, nil
}

// Get returns one submission.
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.store.Get(ctx, id)
}

// List returns submissions matching the filter, newest first, with the limit
// clamped to a sane page size.
func (s *Service) List(ctx context.Context, f Filter) ([]*Submission, error) {
	f = f.Clamped()
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, f.Status)
	}
	return s.store.List(ctx, f)
}

// Transition moves a submission from one status to the next legal one. The
// guard is enforced twice: statically here, then atomically in the store, so
// two racing workers resolve to exactly one winner.
func (s *Service) Transition(ctx context.Context, id string, from, to Status, result map[string]any, errMsg string) (*Submission, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	switch to {
	case StatusDone:
		errMsg = ""
	case StatusError:
		result = nil
		if strings.TrimSpace(errMsg) == "" {
			errMsg = "execution failed"
		}
	default:
		result, errMsg = nil, ""
	}

	sub, err := s.store.UpdateStatus(ctx, id, from, to, result, errMsg, s.now().UTC())
	if err != nil {
		return nil, err
	}
	obs.SubmissionTransition(sub.Kind, string(to))
	s.publish(sub)
	return sub, nil
}

func (s *Service) publish(sub *Submission) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.Event{
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		ActorID:      sub.Actor.ID,
		Status:       string(sub.Status),
		Timestamp:    sub.UpdatedAt,
	})
}
