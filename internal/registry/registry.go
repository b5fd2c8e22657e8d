// Package registry is the concurrent store of process records, the single
// source of truth for supervisor state.
//
// Keys are spread over a fixed number of shards, each guarded by its own
// RWMutex: reads never block each other, writes to keys on different shards
// proceed in parallel, and every mutation of one key is serialized together
// with the precondition that triggered it.
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"

	"github.com/loykin/keepr/internal/buffer"
)

var (
	ErrNotFound      = errors.New("process not found")
	ErrAlreadyExists = errors.New("process already exists")
	ErrStillRunning  = errors.New("process is still running")
	// ErrNoop may be returned by an update function to abandon the update
	// without error; Update then returns the unchanged record.
	ErrNoop = errors.New("no change")
)

const shardCount = 32

// Filter selects records by state for List. The zero value matches all.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterRunning    Filter = "running"
	FilterStopped    Filter = "stopped"
	FilterFailed     Filter = "failed"
	FilterNotStarted Filter = "not_started"
)

// ParseFilter maps the wire name to a Filter; "" means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterRunning, FilterStopped, FilterFailed, FilterNotStarted:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q (want running|stopped|failed|not_started|all)", s)
}

func (f Filter) match(s State) bool {
	if f == "" || f == FilterAll {
		return true
	}
	return State(f) == s
}

// Query combines a state filter with an optional substring that must occur in
// the record's id or command.
type Query struct {
	State Filter
	Name  string
}

func (q Query) Match(rec Record) bool {
	if !q.State.match(rec.State) {
		return false
	}
	return q.Name == "" || strings.Contains(rec.ID, q.Name) || strings.Contains(rec.Command, q.Name)
}

// Registry is the narrow interface the lifecycle controller uses. It hides all
// locking from callers.
type Registry interface {
	// Insert adds rec if its ID is free and allocates its output buffer.
	Insert(rec Record) error
	Get(id string) (Record, error)
	// List returns matching records ordered by ID.
	List(f Filter) []Record
	// Update applies fn to a copy of the current record under the key's write
	// lock and stores the result if fn returns nil. ErrNoop keeps the record
	// unchanged and is not reported.
	Update(id string, fn func(*Record) error) (Record, error)
	// Remove deletes the record and its output buffer unless it is Running.
	Remove(id string) (Record, error)
	// Output returns the output buffer owned by the record's slot.
	Output(id string) (*buffer.Buffer, error)
	Len() int
}

type slot struct {
	rec Record
	out *buffer.Buffer
}

type shard struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// Sharded is the default Registry implementation.
type Sharded struct {
	shards   [shardCount]shard
	capacity int
}

// New creates a registry whose records get output buffers of the given
// capacity (buffer.DefaultCapacity when <= 0).
func New(outputCapacity int) *Sharded {
	r := &Sharded{capacity: outputCapacity}
	for i := range r.shards {
		r.shards[i].slots = make(map[string]*slot)
	}
	return r
}

func (r *Sharded) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Sharded) Insert(rec Record) error {
	if rec.ID == "" {
		return errors.New("process id is required")
	}
	if err := rec.Check(); err != nil {
		return err
	}
	s := r.shardFor(rec.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	s.slots[rec.ID] = &slot{rec: rec.Clone(), out: buffer.New(r.capacity)}
	return nil
}

func (r *Sharded) Get(id string) (Record, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sl.rec.Clone(), nil
}

func (r *Sharded) List(f Filter) []Record {
	var out []Record
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, sl := range s.slots {
			if f.match(sl.rec.State) {
				out = append(out, sl.rec.Clone())
			}
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (r *Sharded) Update(id string, fn func(*Record) error) (Record, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := sl.rec.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoop) {
			return sl.rec.Clone(), nil
		}
		return sl.rec.Clone(), err
	}
	next.ID = sl.rec.ID // immutable
	if err := next.Check(); err != nil {
		return sl.rec.Clone(), err
	}
	sl.rec = next
	return next.Clone(), nil
}

func (r *Sharded) Remove(id string) (Record, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sl.rec.State == StateRunning {
		return sl.rec.Clone(), fmt.Errorf("%w: %s", ErrStillRunning, id)
	}
	delete(s.slots, id)
	return sl.rec, nil
}

func (r *Sharded) Output(id string) (*buffer.Buffer, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sl.out, nil
}

func (r *Sharded) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.slots)
		s.mu.RUnlock()
	}
	return n
}
