package download

import (
	"fmt"
	"sync"
)

// Position names a side relative to a reference entry for Enqueue/Move
// (§4.G.1, §8 "Enqueue ... at a specific position").
type Position int

const (
	Before Position = iota
	After
)

type entry struct {
	id   uint64
	item Item
}

// Queue is the totally ordered list of download roots (§3 "a totally
// ordered list"). Every structural mutation — enqueue, move, remove — is
// performed under a single lock so the list is never observed half-updated.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	nextID  uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// nextItemID allocates a process-unique id for a newly expanded item.
func (q *Queue) nextItemID() uint64 {
	q.nextID++
	return q.nextID
}

// NextID is nextItemID's exported, locked form, used by callers (e.g. the
// tree expansion in expand.go) building Dir/File nodes before they are
// known to belong to any particular queue position.
func (q *Queue) NextID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextItemID()
}

// Append adds item to the end of the queue and returns its allocated id.
func (q *Queue) Append(item Item, id uint64) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id == 0 {
		id = q.nextItemID()
	} else if id > q.nextID {
		q.nextID = id
	}
	q.entries = append(q.entries, entry{id: id, item: item})
	return id
}

// Enqueue inserts item at Before/After a reference id, atomically relative
// to any concurrent Move (§4.G.1). If ref is not found the item is
// appended.
func (q *Queue) Enqueue(item Item, ref uint64, pos Position) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextItemID()
	idx := q.indexOf(ref)
	if idx < 0 {
		q.entries = append(q.entries, entry{id: id, item: item})
		return id
	}
	if pos == After {
		idx++
	}
	q.entries = insertAt(q.entries, idx, entry{id: id, item: item})
	return id
}

// Move relocates the entry identified by id to Before/After ref. It returns
// an error if id is unknown and is a no-op if id == ref; if ref is unknown,
// the entry is moved to the end of the queue.
func (q *Queue) Move(id uint64, ref uint64, pos Position) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id == ref {
		return nil
	}
	src := q.indexOf(id)
	if src < 0 {
		return fmt.Errorf("download: unknown queue entry %d", id)
	}
	e := q.entries[src]
	q.entries = append(q.entries[:src], q.entries[src+1:]...)

	dst := q.indexOf(ref)
	if dst < 0 {
		q.entries = append(q.entries, e)
		return nil
	}
	if pos == After {
		dst++
	}
	q.entries = insertAt(q.entries, dst, e)
	return nil
}

// Remove drops the entry identified by id.
func (q *Queue) Remove(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(id)
	if idx < 0 {
		return
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
}

// Items returns a snapshot of (id, Item) pairs in queue order.
func (q *Queue) Items() []struct {
	ID   uint64
	Item Item
} {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]struct {
		ID   uint64
		Item Item
	}, len(q.entries))
	for i, e := range q.entries {
		out[i] = struct {
			ID   uint64
			Item Item
		}{e.id, e.item}
	}
	return out
}

// Get returns the item for id.
func (q *Queue) Get(id uint64) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return q.entries[idx].item, true
}

func (q *Queue) indexOf(id uint64) int {
	for i, e := range q.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func insertAt(s []entry, idx int, e entry) []entry {
	s = append(s, entry{})
	copy(s[idx+1:], s[idx:])
	s[idx] = e
	return s
}
