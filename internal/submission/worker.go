package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"tramita.org/internal/audit"
	"tramita.org/internal/module"
	"tramita.org/internal/obs"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultConcurrency  = 4
)

// ArtifactWriter receives the rendered result of a completed submission.
// Satisfied by artifact stores.
type ArtifactWriter interface {
	Put(ctx context.Context, submissionID string, r io.Reader) error
}

// Worker drains queued submissions and runs their module handlers. Claiming
// happens through the ledger's compare-and-set transition, so any number of
// worker processes may poll the same store and each submission still runs at
// most once.
type Worker struct {
	subs      *Service
	registry  *module.Registry
	audits    *audit.Log
	artifacts ArtifactWriter

	interval    time.Duration
	concurrency int
}

// WorkerOption configures Worker behavior.
type WorkerOption func(*Worker)

// WithPollInterval sets the queue polling cadence.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithConcurrency bounds how many handlers run at once per worker.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithArtifacts makes the worker persist each done submission's result as a
// JSON artifact, so the download surface serves something without an external
// renderer.
func WithArtifacts(store ArtifactWriter) WorkerOption {
	return func(w *Worker) { w.artifacts = store }
}

// NewWorker constructs a queue worker. audits may be nil.
func NewWorker(subs *Service, registry *module.Registry, audits *audit.Log, opts ...WorkerOption) (*Worker, error) {
	if subs == nil {
		return nil, errors.New("submission service is required")
	}
	if registry == nil {
		return nil, errors.New("module registry is required")
	}
	w := &Worker{
		subs:        subs,
		registry:    registry,
		audits:      audits,
		interval:    defaultPollInterval,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls until the context ends. Blocks; start it in a goroutine.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain claims and executes every currently queued submission. Exposed
// separately so tests and the CLI can run one pass synchronously.
func (w *Worker) Drain(ctx context.Context) {
	queued, err := w.subs.List(ctx, Filter{Status: StatusQueued, Limit: maxListLimit})
	if err != nil {
		obs.Log("error", "worker list failed", map[string]any{"error": err.Error()})
		return
	}
	if len(queued) == 0 {
		return
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, sub := range queued {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(sub *Submission) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, sub)
		}(sub)
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, sub *Submission) {
	claimed, err := w.subs.Transition(ctx, sub.ID, StatusQueued, StatusRunning, nil, "")
	if err != nil {
		// Someone else won the claim, or the row vanished. Either way this
		// worker has nothing to do.
		if errors.Is(err, ErrStaleTransition) || errors.Is(err, ErrNotFound) {
			return
		}
		obs.Log("error", "worker claim failed", map[string]any{
			"submission_id": sub.ID,
			"error":         err.Error(),
		})
		return
	}

	mod, err := w.registry.Get(claimed.Kind)
	if err != nil {
		w.finish(ctx, claimed, nil, errors.New("module no longer registered"))
		return
	}

	result, runErr := runHandler(ctx, mod, claimed.Payload)
	w.finish(ctx, claimed, result, runErr)
}

func (w *Worker) finish(ctx context.Context, sub *Submission, result map[string]any, runErr error) {
	to := StatusDone
	errMsg := ""
	if runErr != nil {
		to = StatusError
		errMsg = runErr.Error()
	}
	final, err := w.subs.Transition(ctx, sub.ID, StatusRunning, to, result, errMsg)
	if err != nil {
		obs.Log("error", "worker finish failed", map[string]any{
			"submission_id": sub.ID,
			"to":            string(to),
			"error":         err.Error(),
		})
		return
	}
	if to == StatusDone {
		w.writeArtifact(ctx, final)
	}
	if w.audits != nil {
		w.audits.Record(ctx, audit.Event{
			ActorID:      final.Actor.ID,
			ActorName:    final.Actor.Name,
			Action:       "submission." + string(to),
			Kind:         final.Kind,
			SubmissionID: final.ID,
		})
	}
}

// writeArtifact renders the result as JSON. The row is already done; a failed
// write only costs the download, so it is logged and not retried here.
func (w *Worker) writeArtifact(ctx context.Context, sub *Submission) {
	if w.artifacts == nil {
		return
	}
	data, err := json.MarshalIndent(sub.Result, "", "  ")
	if err == nil {
		err = w.artifacts.Put(ctx, sub.ID, bytes.NewReader(data))
	}
	if err != nil {
		obs.Log("error", "artifact write failed", map[string]any{
			"submission_id": sub.ID,
			"error":         err.Error(),
		})
	}
}

// runHandler shields the worker from panicking handlers.
func runHandler(ctx context.Context, mod *module.Module, payload map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.New("handler panicked")
			obs.Log("error", "handler panic", map[string]any{
				"kind":  mod.Kind,
				"panic": r,
			})
		}
	}()
	return mod.Handler(ctx, payload)
}
