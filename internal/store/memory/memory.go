// Package memory is the in-process saved-analysis store. It is the default
// backend: analyses live for the session, which matches the core contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	analyses map[string]store.Analysis
	now      func() time.Time
}

func New() *Store {
	return &Store{
		analyses: map[string]store.Analysis{},
		now:      time.Now,
	}
}

func (s *Store) Save(_ context.Context, name, question, sql string) (store.Analysis, error) {
	if err := store.ValidateName(name); err != nil {
		return store.Analysis{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	analysis := store.Analysis{
		Name:      name,
		Question:  question,
		SQL:       sql,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.analyses[name]; ok {
		analysis.CreatedAt = existing.CreatedAt
	}
	s.analyses[name] = analysis
	return analysis, nil
}

func (s *Store) List(context.Context) ([]store.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Analysis, 0, len(s.analyses))
	for _, analysis := range s.analyses {
		out = append(out, analysis)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Load(_ context.Context, name string) (store.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	analysis, ok := s.analyses[name]
	if !ok {
		return store.Analysis{}, store.ErrNotFound
	}
	return analysis, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.analyses, name)
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
