package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]*Submission
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{submissions: make(map[string]*Submission), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, caseID, filename string) (Submission, error) {
	sub := newSubmission(caseID, filename, s.now())
	s.mu.Lock()
	s.submissions[sub.Token] = &sub
	s.mu.Unlock()
	return sub, nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[token]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return *sub, nil
}

func (s *MemoryStore) update(token string, fn func(*Submission)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[token]
	if !ok {
		return ErrNotFound
	}
	fn(sub)
	sub.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetState(_ context.Context, token string, state contractreview.State) error {
	return s.update(token, func(sub *Submission) {
		sub.State = state
		sub.Status = statusForState(state)
	})
}

func (s *MemoryStore) Complete(_ context.Context, token string, response []byte) error {
	return s.update(token, func(sub *Submission) {
		sub.State = contractreview.StateComplete
		sub.Status = StatusCompleted
		sub.Response = append([]byte(nil), response...)
	})
}

func (s *MemoryStore) Fail(_ context.Context, token string, kind contractreview.ErrorKind, message string, response []byte) error {
	return s.update(token, func(sub *Submission) {
		sub.State = contractreview.StateFailed
		sub.Status = StatusFailed
		sub.ErrorKind = kind
		sub.Error = message
		sub.Response = append([]byte(nil), response...)
	})
}

// List returns the newest submissions first. limit <= 0 means all.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Submission, error) {
	s.mu.RLock()
	out := make([]Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		out = append(out, *sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
