package records

import (
	"context"
	"sync"
)

// MemoryPaymentStore is the in-memory reference implementation of
// PaymentStore. Saves copy the record so callers keep value semantics.
type MemoryPaymentStore struct {
	mu         sync.RWMutex
	byBusiness map[string]PaymentRecord
	byProvider map[string]string
}

// NewMemoryPaymentStore returns an empty in-memory payment store.
func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{
		byBusiness: make(map[string]PaymentRecord),
		byProvider: make(map[string]string),
	}
}

func (s *MemoryPaymentStore) Save(ctx context.Context, rec *PaymentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return ErrNilRecord
	}
	if rec.BusinessPaymentID == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byBusiness[rec.BusinessPaymentID]; ok && prev.PaymentIntentID != "" && prev.PaymentIntentID != rec.PaymentIntentID {
		delete(s.byProvider, prev.PaymentIntentID)
	}
	s.byBusiness[rec.BusinessPaymentID] = *rec
	if rec.PaymentIntentID != "" {
		s.byProvider[rec.PaymentIntentID] = rec.BusinessPaymentID
	}
	return nil
}

func (s *MemoryPaymentStore) GetByBusinessID(ctx context.Context, id string) (*PaymentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byBusiness[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryPaymentStore) GetByProviderID(ctx context.Context, id string) (*PaymentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	businessID, ok := s.byProvider[id]
	if !ok {
		return nil, nil
	}
	rec := s.byBusiness[businessID]
	out := rec
	return &out, nil
}

// MemorySubscriptionStore is the in-memory reference implementation of
// SubscriptionStore.
type MemorySubscriptionStore struct {
	mu         sync.RWMutex
	byBusiness map[string]SubscriptionRecord
	byProvider map[string]string
}

// NewMemorySubscriptionStore returns an empty in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		byBusiness: make(map[string]SubscriptionRecord),
		byProvider: make(map[string]string),
	}
}

func (s *MemorySubscriptionStore) Save(ctx context.Context, rec *SubscriptionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return ErrNilRecord
	}
	if rec.BusinessSubscriptionID == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byBusiness[rec.BusinessSubscriptionID]; ok && prev.SubscriptionID != "" && prev.SubscriptionID != rec.SubscriptionID {
		delete(s.byProvider, prev.SubscriptionID)
	}
	s.byBusiness[rec.BusinessSubscriptionID] = *rec
	if rec.SubscriptionID != "" {
		s.byProvider[rec.SubscriptionID] = rec.BusinessSubscriptionID
	}
	return nil
}

func (s *MemorySubscriptionStore) GetByBusinessID(ctx context.Context, id string) (*SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byBusiness[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemorySubscriptionStore) GetByProviderID(ctx context.Context, id string) (*SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	businessID, ok := s.byProvider[id]
	if !ok {
		return nil, nil
	}
	rec := s.byBusiness[businessID]
	out := rec
	return &out, nil
}

// MemoryRefundStore is the in-memory reference implementation of RefundStore.
type MemoryRefundStore struct {
	mu         sync.RWMutex
	byBusiness map[string]RefundRecord
	byProvider map[string]string
}

// NewMemoryRefundStore returns an empty in-memory refund store.
func NewMemoryRefundStore() *MemoryRefundStore {
	return &MemoryRefundStore{
		byBusiness: make(map[string]RefundRecord),
		byProvider: make(map[string]string),
	}
}

func (s *MemoryRefundStore) Save(ctx context.Context, rec *RefundRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return ErrNilRecord
	}
	if rec.BusinessRefundID == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byBusiness[rec.BusinessRefundID]; ok && prev.RefundID != "" && prev.RefundID != rec.RefundID {
		delete(s.byProvider, prev.RefundID)
	}
	s.byBusiness[rec.BusinessRefundID] = *rec
	if rec.RefundID != "" {
		s.byProvider[rec.RefundID] = rec.BusinessRefundID
	}
	return nil
}

func (s *MemoryRefundStore) GetByBusinessID(ctx context.Context, id string) (*RefundRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byBusiness[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryRefundStore) GetByProviderID(ctx context.Context, id string) (*RefundRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	businessID, ok := s.byProvider[id]
	if !ok {
		return nil, nil
	}
	rec := s.byBusiness[businessID]
	out := rec
	return &out, nil
}
