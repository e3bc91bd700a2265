// Package queue holds the ordered measurement queue. Position equals launch
// priority: the front element is the next to launch. All operations are
// called from the scheduler loop's goroutine only, so the container carries
// no locking.
package queue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/me/mem/pkg/model"
)

// ErrEmpty is returned when popping from an empty queue.
var ErrEmpty = errors.New("queue is empty")

// ErrIndexOutOfRange is returned when an insert position is outside
// [0, length].
var ErrIndexOutOfRange = errors.New("queue index out of range")

// Queue is an ordered, mutable collection of measurement definitions.
type Queue struct {
	items []*model.Measurement
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of queued measurements.
func (q *Queue) Len() int {
	return len(q.items)
}

// Add appends a measurement to the tail and returns the position at which it
// was added.
func (q *Queue) Add(m *model.Measurement) int {
	q.items = append(q.items, m)
	return len(q.items) - 1
}

// Insert places a measurement at the given position, shifting later entries
// back. Position must be within [0, Len()].
func (q *Queue) Insert(m *model.Measurement, pos int) error {
	if pos < 0 || pos > len(q.items) {
		return fmt.Errorf("insert at %d with length %d: %w", pos, len(q.items), ErrIndexOutOfRange)
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = m
	return nil
}

// Remove deletes the measurements at the given positions. The position set
// is resolved against the queue state before any removal is applied, so
// removing {0, 3} from [A B C D E] yields [B C E]. Out-of-range and negative
// positions are ignored. Returns the positions actually removed, in
// ascending order.
func (q *Queue) Remove(positions []int) []int {
	seen := make(map[int]struct{}, len(positions))
	valid := make([]int, 0, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(q.items) {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		valid = append(valid, p)
	}
	// Delete from the highest index down so earlier entries keep their
	// pre-removal positions.
	sort.Sort(sort.Reverse(sort.IntSlice(valid)))
	for _, p := range valid {
		q.items = append(q.items[:p], q.items[p+1:]...)
	}
	sort.Ints(valid)
	return valid
}

// PeekFront returns the next measurement to launch without removing it.
func (q *Queue) PeekFront() (*model.Measurement, error) {
	if len(q.items) == 0 {
		return nil, ErrEmpty
	}
	return q.items[0], nil
}

// PopFront removes and returns the next measurement to launch.
func (q *Queue) PopFront() (*model.Measurement, error) {
	if len(q.items) == 0 {
		return nil, ErrEmpty
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, nil
}

// Snapshot returns a read-only ordered copy of the queue contents. The
// records themselves are shared; they are immutable once queued.
func (q *Queue) Snapshot() []*model.Measurement {
	out := make([]*model.Measurement, len(q.items))
	copy(out, q.items)
	return out
}
