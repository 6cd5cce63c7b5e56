package store

import (
	"context"
	"sort"
	"sync"

	"github.com/papertrade/portfolio-game/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*model.UserProfile
	ledger   []model.Transaction
	byRef    map[string]int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*model.UserProfile),
		byRef:    make(map[string]int64),
	}
}

func (s *MemoryStore) Get(_ context.Context, username string) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[username]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.Username]; ok {
		return ErrAlreadyExists
	}
	// Store a copy to avoid external mutation.
	s.profiles[p.Username] = p.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, username string, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[username]; !ok {
		return ErrNotFound
	}
	s.profiles[username] = p.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Ref != "" {
		if id, ok := s.byRef[tx.Ref]; ok {
			tx.ID = id
			return nil
		}
	}
	tx.ID = int64(len(s.ledger)) + 1
	s.ledger = append(s.ledger, *tx)
	if tx.Ref != "" {
		s.byRef[tx.Ref] = tx.ID
	}
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, username string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.ledger {
		if tx.Username == username {
			result = append(result, tx)
		}
	}
	return result, nil
}
