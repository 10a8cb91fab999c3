package record

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"certflow/internal/certification/models"
	"certflow/pkg/platform/sentinel"
)

// InMemoryStore keeps records in process. Every read and write works on a
// deep copy so callers never share state with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[uuid.UUID]*models.CertificationRecord
	byNumber  map[string]uuid.UUID
	sequences map[string]int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[uuid.UUID]*models.CertificationRecord),
		byNumber:  make(map[string]uuid.UUID),
		sequences: make(map[string]int64),
	}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.CertificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
	}
	if _, taken := s.byNumber[r.CertificationNumber]; taken {
		return fmt.Errorf("certification number %s: %w", r.CertificationNumber, sentinel.ErrConflict)
	}
	r.Version = 1
	s.records[r.ID] = r.Clone()
	s.byNumber[r.CertificationNumber] = r.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.CertificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, number string) (*models.CertificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.records[id].Clone(), nil
}

// Update writes r if the stored version still equals expectedVersion.
func (s *InMemoryStore) Update(_ context.Context, r *models.CertificationRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	r.Version = expectedVersion + 1
	s.records[r.ID] = r.Clone()
	return nil
}

// Delete removes a REGISTERED record whose version still equals expectedVersion.
func (s *InMemoryStore) Delete(_ context.Context, id uuid.UUID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	if !current.ValidationStatus.IsDeletable() {
		return sentinel.ErrInvalidState
	}
	delete(s.records, id)
	delete(s.byNumber, current.CertificationNumber)
	return nil
}

// ListByValidationStatus returns records in any of statuses, oldest
// submission first.
func (s *InMemoryStore) ListByValidationStatus(_ context.Context, statuses []models.ValidationStatus, limit int) ([]*models.CertificationRecord, error) {
	want := make(map[models.ValidationStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	out := make([]*models.CertificationRecord, 0)
	for _, r := range s.records {
		if want[r.ValidationStatus] {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return submittedKey(out[i]) < submittedKey(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func submittedKey(r *models.CertificationRecord) int64 {
	if r.SubmittedAt == nil {
		return r.CreatedAt.UnixNano()
	}
	return r.SubmittedAt.UnixNano()
}

// NextSequence returns the next certification number sequence for prefix.
func (s *InMemoryStore) NextSequence(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[prefix]++
	return s.sequences[prefix], nil
}
