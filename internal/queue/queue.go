// Package queue provides the in-memory playback queue. It is deliberately dumb
// and synchronous: it knows nothing about playback, downloads, or the sink. All
// async complexity lives one layer up in the orchestrator, so the ordering
// structure itself needs nothing beyond mutation serialization.
package queue

import (
	"sync"

	"github.com/samber/lo"

	"github.com/mbeck712/troubadour/internal/models"
)

// NoCursor marks an absent cursor: nothing is current.
const NoCursor = -1

// Queue is an ordered FIFO of queue items plus a cursor and a playing flag.
// The cursor indexes the current (playing or about-to-play) item; items before
// it have already played and are dropped in one batch when the queue is
// exhausted.
type Queue struct {
	mu      sync.Mutex
	items   []*models.QueueItem
	cursor  int
	playing bool
	nextID  int64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{cursor: NoCursor, nextID: 1}
}

// Enqueue appends an item for the resolved source. It never blocks and always
// succeeds; there is no capacity limit. IDs are monotonic and never reused,
// even after removal or Clear.
func (q *Queue) Enqueue(source models.MediaSource, requestedBy, originalInput string) *models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := models.NewQueueItem(source, requestedBy, originalInput)
	item.ID = q.nextID
	q.nextID++
	q.items = append(q.items, item)
	return item
}

// Current returns the item the cursor points at, or nil.
func (q *Queue) Current() *models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor == NoCursor || q.cursor >= len(q.items) {
		return nil
	}
	return q.items[q.cursor]
}

// PeekNext returns the item AdvanceToNext would make current, without mutating
// the cursor.
func (q *Queue) PeekNext() *models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.cursor + 1
	if q.cursor == NoCursor {
		next = 0
	}
	if next >= len(q.items) {
		return nil
	}
	return q.items[next]
}

// AdvanceToNext moves the cursor forward one position and returns the new
// current item. When the cursor walks off the end the queue is exhausted:
// every item has been visited exactly once, the played items are dropped and
// the cursor becomes absent. The whole transition runs under the queue mutex
// and is atomic with respect to concurrent Remove calls.
func (q *Queue) AdvanceToNext() *models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.cursor = NoCursor
		return nil
	}

	if q.cursor == NoCursor {
		q.cursor = 0
		return q.items[0]
	}

	q.cursor++
	if q.cursor >= len(q.items) {
		q.dropAllLocked()
		return nil
	}
	return q.items[q.cursor]
}

// Remove deletes an item by identity regardless of position. Removing the
// current item re-derives the cursor in the same critical section: the next
// item shifts into its slot, or the cursor becomes absent if nothing follows.
func (q *Queue) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, item := range q.items {
		if item.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	q.items[idx].ClearPrefetch()
	q.items = append(q.items[:idx], q.items[idx+1:]...)

	switch {
	case q.cursor == NoCursor:
	case idx < q.cursor:
		q.cursor--
	case q.cursor >= len(q.items):
		q.cursor = NoCursor
	}
	return true
}

// Clear empties the queue and resets the cursor. It does not stop any
// in-flight pipeline; that is the orchestrator's job. The ID counter is not
// reset.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropAllLocked()
}

func (q *Queue) dropAllLocked() {
	for _, item := range q.items {
		item.ClearPrefetch()
	}
	q.items = nil
	q.cursor = NoCursor
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Length returns the number of items currently held, played and upcoming.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// UpcomingCount returns how many items remain at or after the cursor.
func (q *Queue) UpcomingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor == NoCursor {
		return len(q.items)
	}
	return len(q.items) - q.cursor
}

// SetPlaying flips the single bit the orchestrator and command layer both read
// to decide whether a "start playback" request is a no-op.
func (q *Queue) SetPlaying(playing bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playing = playing
}

// Playing reports whether the orchestrator owns an active pipeline for the
// current item.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Cursor returns the current cursor index, or NoCursor.
func (q *Queue) Cursor() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Items returns a copy of the queue in insertion order, for the status surface
// and snapshotting.
func (q *Queue) Items() []*models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Map(q.items, func(item *models.QueueItem, _ int) *models.QueueItem {
		return item
	})
}
