// Package reconcile replays recent provider events through the ingest
// pipeline to close gaps left by missed or delayed webhook deliveries.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"paywatch/engine"
	"paywatch/observability"
)

// Paging bounds for one pass. The provider caps list pages at 100.
const (
	DefaultLimit = 100
	MaxLimit     = 100
	// DefaultLookback bounds how far back a pass reaches when the caller
	// does not pin created_after.
	DefaultLookback = 30 * 24 * time.Hour
)

// EventLister is the provider read the reconciler depends on. It returns up
// to limit events created after createdAfter, oldest first, plus a has-more
// marker for caller-driven paging.
type EventLister interface {
	ListEvents(ctx context.Context, types []string, createdAfter time.Time, startingAfterEventID string, limit int) ([]*stripe.Event, bool, error)
}

// Params selects the slice of provider history one pass covers. Zero values
// take the documented defaults.
type Params struct {
	Limit                int
	CreatedAfter         time.Time
	StartingAfterEventID string
}

// Result summarizes one pass. LastEventID feeds the next pass's
// StartingAfterEventID when HasMore is set.
type Result struct {
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Duplicates  int    `json:"duplicates"`
	Failed      int    `json:"failed"`
	LastEventID string `json:"last_event_id,omitempty"`
	HasMore     bool   `json:"has_more"`
}

// Reconciler drives replay passes. At most one pass should run per
// deployment at a time; the dedupe ledger makes overlap safe but wasteful.
type Reconciler struct {
	lister   EventLister
	pipeline *engine.Pipeline
	log      *slog.Logger
	metrics  *observability.ReconcilerMetrics
	now      func() time.Time
}

// New wires a Reconciler over the provider lister and the shared pipeline.
func New(lister EventLister, pipeline *engine.Pipeline, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		lister:   lister,
		pipeline: pipeline,
		log:      log,
		metrics:  observability.Reconciler(),
		now:      time.Now,
	}
}

// Run lists one page of supported events and feeds each through the
// pipeline. Cancellation is honored between events; a canceled pass returns
// the counters accumulated so far along with ctx.Err().
func (r *Reconciler) Run(ctx context.Context, params Params) (*Result, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	createdAfter := params.CreatedAfter
	if createdAfter.IsZero() {
		createdAfter = r.now().Add(-DefaultLookback)
	}

	events, hasMore, err := r.lister.ListEvents(ctx, engine.SupportedEventTypes(), createdAfter, params.StartingAfterEventID, limit)
	if err != nil {
		r.metrics.RecordRun("error")
		return nil, fmt.Errorf("reconcile: list events: %w", err)
	}

	result := &Result{Total: len(events), HasMore: hasMore}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			r.metrics.RecordRun("error")
			return result, err
		}
		if ev == nil {
			continue
		}
		result.LastEventID = ev.ID

		res, err := r.pipeline.ProcessEvent(ctx, ev)
		if err != nil {
			result.Failed++
			r.metrics.RecordReplay("failed")
			r.log.WarnContext(ctx, "reconcile replay failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch res.Status {
		case engine.StatusApplied:
			result.Processed++
			r.metrics.RecordReplay("processed")
		case engine.StatusDuplicate, engine.StatusRetry:
			result.Duplicates++
			r.metrics.RecordReplay("duplicate")
		default:
			result.Failed++
			r.metrics.RecordReplay("failed")
		}
	}

	r.metrics.RecordRun("ok")
	r.log.InfoContext(ctx, "reconciliation pass complete",
		slog.Int("total", result.Total),
		slog.Int("processed", result.Processed),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
		slog.String("event_id", result.LastEventID),
		slog.Bool("has_more", result.HasMore),
	)
	return result, nil
}
