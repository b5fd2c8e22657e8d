// Package settings holds the flat key/value preferences that are persisted
// alongside process state.
package settings

import (
	"errors"
	"maps"
	"strings"
	"sync"
)

const (
	KeyAutoRefreshInterval = "auto_refresh_interval"
	KeyAutoSaveInterval    = "auto_save_interval"
	KeyMaxLogLines         = "max_log_lines"
	KeyTheme               = "theme"
)

// Defaults returns the values a fresh store starts with.
func Defaults() map[string]string {
	return map[string]string{
		KeyAutoRefreshInterval: "5",
		KeyAutoSaveInterval:    "300",
		KeyMaxLogLines:         "1000",
		KeyTheme:               "dark",
	}
}

var ErrEmptyKey = errors.New("settings key is empty")

// Store is a concurrency-safe string map. OnChange, when set, is called after
// every successful mutation.
type Store struct {
	mu       sync.RWMutex
	defaults map[string]string
	values   map[string]string
	OnChange func()
}

func New() *Store {
	return NewWithDefaults(nil)
}

// NewWithDefaults is New with some default values replaced, for example the
// auto-save interval taken from the config file.
func NewWithDefaults(overrides map[string]string) *Store {
	def := Defaults()
	maps.Copy(def, overrides)
	delete(def, "")
	return &Store{defaults: def, values: maps.Clone(def)}
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// All returns a copy of every setting.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Store) Set(key, value string) error {
	return s.Update(map[string]string{key: value})
}

// Update merges kv into the store. Keys must be non-empty.
func (s *Store) Update(kv map[string]string) error {
	for k := range kv {
		if strings.TrimSpace(k) == "" {
			return ErrEmptyKey
		}
	}
	s.mu.Lock()
	maps.Copy(s.values, kv)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Replace swaps the whole map, used when restoring a snapshot. Missing
// default keys are filled in.
func (s *Store) Replace(kv map[string]string) {
	next := maps.Clone(s.defaults)
	if next == nil {
		next = Defaults()
	}
	maps.Copy(next, kv)
	delete(next, "")
	s.mu.Lock()
	s.values = next
	s.mu.Unlock()
}

// Merge adds keys from kv that the store does not already have.
func (s *Store) Merge(kv map[string]string) int {
	n := 0
	s.mu.Lock()
	for k, v := range kv {
		if k == "" {
			continue
		}
		if _, ok := s.values[k]; !ok {
			s.values[k] = v
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.changed()
	}
	return n
}

func (s *Store) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
