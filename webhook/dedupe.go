package webhook

import (
	"context"
	"sync"
	"time"
)

// DefaultLease bounds how long a Processing claim shields an event id from
// takeover by a concurrent or later delivery.
const DefaultLease = 5 * time.Minute

// EntryState is the dedupe state machine position for one event id.
type EntryState string

const (
	StateProcessing EntryState = "processing"
	StateSucceeded  EntryState = "succeeded"
	StateFailed     EntryState = "failed"
)

// Outcome is the recorded result of one processing attempt.
type Outcome struct {
	Succeeded    bool
	ErrorMessage string
	RecordedAt   time.Time
}

// Failure builds a failed Outcome from err.
func Failure(err error) Outcome {
	out := Outcome{Succeeded: false}
	if err != nil {
		out.ErrorMessage = err.Error()
	}
	return out
}

// Success is the terminal successful Outcome.
func Success() Outcome {
	return Outcome{Succeeded: true}
}

// DedupeStore is the per-event-id claim ledger guarding record writes from
// duplicate application. All three operations are serializable against each
// other for the same event id.
//
// TryBegin is an atomic test-and-set: it returns true and (re)opens a
// Processing claim iff the entry is absent, Failed, or Processing with an
// expired lease. A Succeeded entry is terminal and never re-opened.
// RecordOutcome closes the current claim; GetOutcome returns the last
// recorded outcome, nil while an attempt is still in flight.
type DedupeStore interface {
	TryBegin(ctx context.Context, eventID string) (bool, error)
	RecordOutcome(ctx context.Context, eventID string, outcome Outcome) error
	GetOutcome(ctx context.Context, eventID string) (*Outcome, error)
}

type memoryEntry struct {
	state     EntryState
	startedAt time.Time
	outcome   *Outcome
}

// MemoryDedupeStore is the in-memory reference DedupeStore. A single mutex
// makes every operation a per-key critical section.
type MemoryDedupeStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lease   time.Duration
	now     func() time.Time
}

// NewMemoryDedupeStore builds a memory store with the given processing
// lease. Non-positive leases fall back to DefaultLease; a nil clock falls
// back to time.Now.
func NewMemoryDedupeStore(lease time.Duration, now func() time.Time) *MemoryDedupeStore {
	if lease <= 0 {
		lease = DefaultLease
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryDedupeStore{
		entries: make(map[string]*memoryEntry),
		lease:   lease,
		now:     now,
	}
}

func (s *MemoryDedupeStore) TryBegin(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, ok := s.entries[eventID]
	if !ok {
		s.entries[eventID] = &memoryEntry{state: StateProcessing, startedAt: now}
		return true, nil
	}
	switch entry.state {
	case StateSucceeded:
		return false, nil
	case StateFailed:
		s.entries[eventID] = &memoryEntry{state: StateProcessing, startedAt: now}
		return true, nil
	case StateProcessing:
		if now.Sub(entry.startedAt) >= s.lease {
			s.entries[eventID] = &memoryEntry{state: StateProcessing, startedAt: now}
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func (s *MemoryDedupeStore) RecordOutcome(ctx context.Context, eventID string, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recorded := outcome
	if recorded.RecordedAt.IsZero() {
		recorded.RecordedAt = s.now()
	}
	state := StateFailed
	if recorded.Succeeded {
		state = StateSucceeded
	}
	startedAt := s.now()
	if existing, ok := s.entries[eventID]; ok {
		startedAt = existing.startedAt
	}
	s.entries[eventID] = &memoryEntry{state: state, startedAt: startedAt, outcome: &recorded}
	return nil
}

func (s *MemoryDedupeStore) GetOutcome(ctx context.Context, eventID string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventID]
	if !ok || entry.outcome == nil {
		return nil, nil
	}
	out := *entry.outcome
	return &out, nil
}
