// Package track models in-flight operations as step-sequenced records. The
// store is an explicit, injectable container (one per engine, one per test)
// keyed by flow type: concurrent operations of different types never clobber
// each other, while a second Start of the same type replaces the first.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlend/lenderd/internal/domain"
)

// Store holds at most one record per flow type plus an "active" pointer used
// to guard mutations: terminal transitions clear the pointer so a stale
// reference cannot be updated post-mortem.
type Store struct {
	mu      sync.Mutex
	records map[domain.FlowType]*domain.TxRecord
	active  map[domain.FlowType]string

	pub    domain.RecordPublisher // optional
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(pub domain.RecordPublisher, logger *slog.Logger) *Store {
	return &Store{
		records: make(map[domain.FlowType]*domain.TxRecord),
		active:  make(map[domain.FlowType]string),
		pub:     pub,
		logger:  logger.With(slog.String("component", "track")),
		now:     time.Now,
	}
}

// publish notifies the optional publisher; failures are logged, never
// propagated into the flow.
func (s *Store) publish(ctx context.Context, rec domain.TxRecord) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, rec); err != nil {
		s.logger.Debug("record publish failed", slog.String("error", err.Error()))
	}
}

// Start creates a new pending record for the flow, discarding any prior
// record in the same slot, and returns a copy.
func (s *Store) Start(ctx context.Context, flow domain.FlowType, steps []domain.StepID, meta domain.RecordMeta, initial domain.StepID) domain.TxRecord {
	now := s.now().UTC()
	rec := &domain.TxRecord{
		ID:        uuid.New().String(),
		Flow:      flow,
		Steps:     append([]domain.StepID(nil), steps...),
		Current:   initial,
		Status:    domain.RecordPending,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.records[flow] = rec
	s.active[flow] = rec.ID
	out := *rec
	s.mu.Unlock()

	s.publish(ctx, out)
	return out
}

// Update moves the active record's step pointer. Calling with no active
// record is a no-op, not an error: flows may update speculatively before
// Start resolves, and skipped steps may arrive out of order.
func (s *Store) Update(ctx context.Context, flow domain.FlowType, step domain.StepID) {
	s.mu.Lock()
	rec, ok := s.activeRecord(flow)
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Current = step
	rec.UpdatedAt = s.now().UTC()
	out := *rec
	s.mu.Unlock()

	s.publish(ctx, out)
}

// SetTxHash records the submitted transaction hash on the active record.
func (s *Store) SetTxHash(ctx context.Context, flow domain.FlowType, hash string) {
	s.mu.Lock()
	rec, ok := s.activeRecord(flow)
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.TxHash = hash
	rec.UpdatedAt = s.now().UTC()
	out := *rec
	s.mu.Unlock()

	s.publish(ctx, out)
}

// Complete terminally succeeds the active record and clears the active
// pointer.
func (s *Store) Complete(ctx context.Context, flow domain.FlowType) (domain.TxRecord, bool) {
	return s.finish(ctx, flow, domain.RecordComplete, "")
}

// Fail terminally fails the active record with a user-facing message and
// clears the active pointer.
func (s *Store) Fail(ctx context.Context, flow domain.FlowType, msg string) (domain.TxRecord, bool) {
	return s.finish(ctx, flow, domain.RecordFailed, msg)
}

func (s *Store) finish(ctx context.Context, flow domain.FlowType, status domain.RecordStatus, msg string) (domain.TxRecord, bool) {
	s.mu.Lock()
	rec, ok := s.activeRecord(flow)
	if !ok {
		s.mu.Unlock()
		return domain.TxRecord{}, false
	}
	rec.Status = status
	rec.Error = msg
	rec.UpdatedAt = s.now().UTC()
	delete(s.active, flow)
	out := *rec
	s.mu.Unlock()

	s.publish(ctx, out)
	return out, true
}

// Dismiss removes the flow's record from the store regardless of status.
func (s *Store) Dismiss(flow domain.FlowType) {
	s.mu.Lock()
	delete(s.records, flow)
	delete(s.active, flow)
	s.mu.Unlock()
}

// Get returns a copy of the flow's record, terminal or not.
func (s *Store) Get(flow domain.FlowType) (domain.TxRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[flow]
	if !ok {
		return domain.TxRecord{}, false
	}
	return *rec, true
}

// List returns copies of every stored record.
func (s *Store) List() []domain.TxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TxRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// activeRecord resolves the flow's record only while its id matches the
// active pointer. Callers hold s.mu.
func (s *Store) activeRecord(flow domain.FlowType) (*domain.TxRecord, bool) {
	id, ok := s.active[flow]
	if !ok {
		return nil, false
	}
	rec, ok := s.records[flow]
	if !ok || rec.ID != id {
		return nil, false
	}
	return rec, true
}
