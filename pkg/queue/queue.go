// Package queue implements download admission: a three-tier priority queue
// with FIFO order inside each tier and a global bound on concurrently running
// sessions. Admission is never preemptive; a running session keeps its slot
// until it finishes or pauses.
package queue

import (
	"sync"

	"github.com/glorpus-work/modelstore/pkg/model"
)

type waiting struct {
	sessionID string
	priority  model.Priority
	seq       uint64
}

// Queue is the admission arbiter. All admission decisions go through one
// mutex so two sessions can never be admitted for the last free slot.
type Queue struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	pending []waiting
	running map[string]struct{}

	// ready is signaled (coalesced) whenever an admission might newly be
	// possible.
	ready chan struct{}
}

// New creates a queue admitting at most limit concurrent sessions.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{
		limit:   limit,
		running: make(map[string]struct{}),
		ready:   make(chan struct{}, 1),
	}
}

// Ready returns a channel that receives a wake-up whenever an admission might
// be possible. The dispatcher should drain admissions via Admit after each
// wake-up.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Enqueue adds a session to its priority tier. Duplicate session IDs are
// ignored.
func (q *Queue) Enqueue(sessionID string, priority model.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[sessionID]; ok {
		return
	}
	for _, w := range q.pending {
		if w.sessionID == sessionID {
			return
		}
	}

	q.seq++
	q.pending = append(q.pending, waiting{sessionID: sessionID, priority: priority, seq: q.seq})
	q.wake()
}

// Remove withdraws a session that has not been admitted yet. It returns false
// when the session is not waiting (already admitted or never enqueued).
func (q *Queue) Remove(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.pending {
		if w.sessionID == sessionID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Admit pops the next admissible session and marks it running. It returns
// false when no slot is free or nothing is waiting.
func (q *Queue) Admit() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.running) >= q.limit || len(q.pending) == 0 {
		return "", false
	}

	// Highest tier first; within a tier, lowest sequence number (FIFO).
	best := -1
	for i, w := range q.pending {
		if best < 0 {
			best = i
			continue
		}
		b := q.pending[best]
		if w.priority > b.priority || (w.priority == b.priority && w.seq < b.seq) {
			best = i
		}
	}

	id := q.pending[best].sessionID
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	q.running[id] = struct{}{}
	return id, true
}

// Release frees the slot held by a running session.
func (q *Queue) Release(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[sessionID]; !ok {
		return
	}
	delete(q.running, sessionID)
	q.wake()
}

// Running returns the number of admitted sessions.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Pending returns the number of waiting sessions.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
