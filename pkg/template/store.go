package template

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store is the in-memory template collection. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[string]Template
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{items: make(map[string]Template), now: time.Now}
}

// Create adds t after validating it. CreatedAt/UpdatedAt are stamped when zero.
func (s *Store) Create(t Template) (Template, error) {
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	t = t.Clone()
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Args == nil {
		t.Args = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.ID]; ok {
		return Template{}, fmt.Errorf("%w: %s", ErrAlreadyExists, t.ID)
	}
	s.items[t.ID] = t
	return t.Clone(), nil
}

func (s *Store) Get(id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// List returns all templates ordered by ID.
func (s *Store) List() []Template {
	s.mu.RLock()
	out := make([]Template, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Template) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Search returns templates ordered by ID whose category equals category
// (case-insensitive) and that carry every tag in tags. Empty criteria match
// all.
func (s *Store) Search(category string, tags []string) []Template {
	category = strings.TrimSpace(category)
	all := s.List()
	out := all[:0]
	for _, t := range all {
		if category != "" && !strings.EqualFold(t.Category, category) {
			continue
		}
		if !hasTags(t.Tags, tags) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func hasTags(have, want []string) bool {
	for _, w := range want {
		if w = strings.TrimSpace(w); w == "" {
			continue
		}
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// Update replaces the template with the same ID, keeping CreatedAt.
func (s *Store) Update(t Template) (Template, error) {
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	t = t.Clone()
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Args == nil {
		t.Args = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[t.ID]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = s.now().UTC()
	s.items[t.ID] = t
	return t.Clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}

// Put inserts or replaces t verbatim, timestamps included. Restore uses it.
func (s *Store) Put(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[t.ID] = t.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
