package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"paywatch/observability"
	"paywatch/webhook"
)

// IngestStatus classifies one delivery attempt for the HTTP layer.
type IngestStatus string

const (
	// StatusApplied: the event was processed (or ignored as a no-op) and a
	// success outcome recorded.
	StatusApplied IngestStatus = "applied"
	// StatusDuplicate: a previous delivery already succeeded; nothing was
	// re-applied.
	StatusDuplicate IngestStatus = "duplicate"
	// StatusRetry: another delivery holds the processing claim, or the last
	// attempt failed and has not been retried yet.
	StatusRetry IngestStatus = "retry"
	// StatusFailed: this delivery processed and failed; the failure outcome
	// was recorded and a redelivery will retry it.
	StatusFailed IngestStatus = "failed"
)

// IngestResult is the pipeline's answer for one delivery.
type IngestResult struct {
	Status    IngestStatus
	EventID   string
	EventType string
	// Outcome carries the recorded (or previously recorded) processing
	// result. Nil for in-flight duplicates.
	Outcome *webhook.Outcome
}

// Pipeline runs verify, claim, parse, converge, record for each delivery.
// Webhook ingest and the reconciler share one Pipeline so both observe the
// same dedupe ledger.
type Pipeline struct {
	verifier *webhook.Verifier
	secret   string
	dedupe   webhook.DedupeStore
	engine   *Engine
	log      *slog.Logger
	metrics  *observability.PipelineMetrics
	now      func() time.Time
}

// NewPipeline wires the pipeline. secret is the webhook signing secret used
// by the signature verifier.
func NewPipeline(verifier *webhook.Verifier, secret string, dedupe webhook.DedupeStore, eng *Engine, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		verifier: verifier,
		secret:   secret,
		dedupe:   dedupe,
		engine:   eng,
		log:      log,
		metrics:  observability.Pipeline(),
		now:      time.Now,
	}
}

// Ingest handles one raw webhook delivery. Signature and envelope errors are
// returned as Go errors before the dedupe ledger is touched; everything
// after the claim is folded into the IngestResult.
func (p *Pipeline) Ingest(ctx context.Context, rawBody []byte, sigHeader string) (*IngestResult, error) {
	header, err := p.verifier.Verify(rawBody, sigHeader, p.secret)
	if err != nil {
		p.metrics.RecordRejection(rejectionReason(err))
		return nil, err
	}
	return p.run(ctx, header.ID, header.Type, func() (*webhook.ParsedEvent, error) {
		return webhook.ParseRaw(rawBody)
	})
}

// ProcessEvent feeds an SDK-typed event through the pipeline. The reconciler
// uses this path; the provider API is the authentication, so no signature is
// checked.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev *stripe.Event) (*IngestResult, error) {
	parsed, err := webhook.FromStripeEvent(ev)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, parsed.ID, parsed.Type, func() (*webhook.ParsedEvent, error) {
		return parsed, nil
	})
}

func (p *Pipeline) run(ctx context.Context, eventID, eventType string, parse func() (*webhook.ParsedEvent, error)) (*IngestResult, error) {
	start := p.now()
	result := &IngestResult{EventID: eventID, EventType: eventType}

	started, err := p.dedupe.TryBegin(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("dedupe claim %s: %w", eventID, err)
	}
	if !started {
		existing, err := p.dedupe.GetOutcome(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("dedupe outcome %s: %w", eventID, err)
		}
		result.Outcome = existing
		if existing != nil && existing.Succeeded {
			result.Status = StatusDuplicate
			p.metrics.RecordDuplicate("terminal")
		} else {
			result.Status = StatusRetry
			p.metrics.RecordDuplicate("non_terminal")
		}
		p.log.InfoContext(ctx, "duplicate delivery",
			slog.String("event_id", eventID),
			slog.String("event_type", eventType),
			slog.Bool("duplicate", true),
			slog.String("outcome", string(result.Status)),
		)
		return result, nil
	}

	parsed, err := parse()
	var outcome webhook.Outcome
	if err != nil {
		// The claim is already open, so a payload defect is recorded as a
		// failed outcome rather than surfaced to the transport; a fixed
		// redelivery re-enters cleanly.
		outcome = webhook.Failure(err)
	} else {
		outcome = p.engine.Process(ctx, parsed)
	}

	if err := p.dedupe.RecordOutcome(ctx, eventID, outcome); err != nil {
		return nil, fmt.Errorf("dedupe record %s: %w", eventID, err)
	}

	result.Outcome = &outcome
	if outcome.Succeeded {
		result.Status = StatusApplied
	} else {
		result.Status = StatusFailed
	}
	p.metrics.RecordEvent(eventType, string(result.Status))
	p.metrics.ObserveLatency(eventType, p.now().Sub(start))
	p.log.InfoContext(ctx, "event processed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("outcome", string(result.Status)),
		slog.String("error", outcome.ErrorMessage),
	)
	return result, nil
}

func rejectionReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, webhook.ErrSignatureMalformed):
		return "signature_malformed"
	case errors.Is(err, webhook.ErrSignatureTimestamp):
		return "timestamp_out_of_tolerance"
	case errors.Is(err, webhook.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, webhook.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "other"
	}
}
