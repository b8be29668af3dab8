package logging

import "sync"

// DefaultRecorderSize bounds a Recorder created with a non-positive size.
const DefaultRecorderSize = 200

// Recorder keeps the most recent captured entries.
type Recorder struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	dropped int
}

// NewRecorder returns a recorder holding at most size entries.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{max: size}
}

// Add appends e, evicting the oldest entry when full. Nil-safe.
func (r *Recorder) Add(e Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.max {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.max-1]
		r.dropped++
	}
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the retained entries, oldest first.
func (r *Recorder) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Dropped returns how many entries were evicted.
func (r *Recorder) Dropped() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
