package relay

// Queue is a bounded FIFO of events waiting for a connection. When full,
// new events are dropped rather than evicting old ones: the oldest events
// (session start, first turns) give the relay its context.
//
// Queue is owned by the bridge loop and is not safe for concurrent use.
type Queue struct {
	entries  []MirrorEvent
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// Push appends ev. It returns false, and counts a drop, when the queue is full.
func (q *Queue) Push(ev MirrorEvent) bool {
	if len(q.entries) >= q.capacity {
		q.dropped++
		return false
	}
	q.entries = append(q.entries, ev)
	return true
}

// Peek returns the oldest event without removing it.
func (q *Queue) Peek() (MirrorEvent, bool) {
	if len(q.entries) == 0 {
		return MirrorEvent{}, false
	}
	return q.entries[0], true
}

// Pop removes the oldest event. No-op if the queue is empty.
func (q *Queue) Pop() {
	if len(q.entries) == 0 {
		return
	}
	q.entries[0] = MirrorEvent{} // release frame for GC
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.entries) }

// Cap returns the capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of events refused since creation.
func (q *Queue) Dropped() uint64 { return q.dropped }

// Snapshot returns a copy of the queued events in order.
func (q *Queue) Snapshot() []MirrorEvent {
	out := make([]MirrorEvent, len(q.entries))
	copy(out, q.entries)
	return out
}
