// Package buffer implements the bounded, in-memory output log kept for each
// supervised process.
package buffer

import (
	"sync"
	"time"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 5000

// Stream tags the origin of a captured line.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Entry is one captured line. Seq starts at 1 and increases by one per append
// for the lifetime of the buffer, across restarts of the process.
type Entry struct {
	Seq    uint64    `json:"seq"`
	Stream Stream    `json:"stream"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// Buffer is a fixed-capacity ring of entries. Append overwrites the oldest
// entry when full. Reads take the lock once per entry so a writer is never
// held up longer than a single entry copy.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    uint64 // seq of the next append
	floor   uint64 // lowest seq still readable; raised by Clear
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity), next: 1, floor: 1}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.entries) }

// Append stores line and returns its sequence number.
func (b *Buffer) Append(stream Stream, line string) uint64 {
	now := time.Now()
	b.mu.Lock()
	seq := b.next
	b.entries[seq%uint64(len(b.entries))] = Entry{Seq: seq, Stream: stream, Line: line, Time: now}
	b.next++
	b.mu.Unlock()
	return seq
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	n := b.next - b.floor
	if n > uint64(len(b.entries)) {
		return len(b.entries)
	}
	return int(n)
}

// bounds returns the inclusive seq range currently retained.
func (b *Buffer) bounds() (first, last uint64) {
	b.mu.RLock()
	last = b.next - 1
	first = last - uint64(b.lenLocked()) + 1
	b.mu.RUnlock()
	return first, last
}

// Last returns up to k most recent entries in append order. k <= 0 means all.
// Entries overwritten while the read is in progress are skipped, so the result
// may be shorter than k under heavy concurrent writes but is always ordered.
func (b *Buffer) Last(k int) []Entry {
	return b.read(k, nil)
}

// LastFiltered is Last restricted to a single stream. The limit applies to the
// matching entries.
func (b *Buffer) LastFiltered(k int, stream Stream) []Entry {
	return b.read(k, func(e Entry) bool { return e.Stream == stream })
}

func (b *Buffer) read(k int, keep func(Entry) bool) []Entry {
	first, last := b.bounds()
	if last < first {
		return nil
	}
	// Walk backwards so a limit on filtered results stops early.
	out := make([]Entry, 0, min(int(last-first+1), limitOr(k, int(last-first+1))))
	for seq := last; seq >= first && seq > 0; seq-- {
		b.mu.RLock()
		e := b.entries[seq%uint64(len(b.entries))]
		b.mu.RUnlock()
		if e.Seq != seq {
			// overwritten since bounds() was taken; older ones are gone too
			break
		}
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e)
		if k > 0 && len(out) == k {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func limitOr(k, n int) int {
	if k <= 0 || k > n {
		return n
	}
	return k
}

// Lines returns the text of the k most recent entries.
func (b *Buffer) Lines(k int) []string {
	es := b.Last(k)
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Line
	}
	return out
}

// Clear drops all entries but keeps the sequence counter monotonic.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.floor = b.next
	b.mu.Unlock()
}
