package engine

import "container/heap"

// scheduled is one future work item: an action due at a clock reading.
// Ties on due time run in scheduling order.
type scheduled struct {
	due    float64
	seq    int64
	label  string
	action func()
}

type scheduleHeap []*scheduled

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scheduleHeap) Push(x any)   { *h = append(*h, x.(*scheduled)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// schedule replaces suspended coroutines and timers: deferred removals and
// snapshot-termination timers become entries drained by the tick driver.
type schedule struct {
	items scheduleHeap
	seq   int64
}

func newSchedule() *schedule {
	return &schedule{}
}

// At schedules action to run once the clock reaches due.
func (s *schedule) At(due float64, label string, action func()) {
	s.seq++
	heap.Push(&s.items, &scheduled{due: due, seq: s.seq, label: label, action: action})
}

// DrainDue runs every entry due at or before now, including entries
// scheduled by the actions themselves. Returns the number run.
func (s *schedule) DrainDue(now float64) int {
	n := 0
	for len(s.items) > 0 && s.items[0].due <= now {
		item := heap.Pop(&s.items).(*scheduled)
		item.action()
		n++
	}
	return n
}

// DrainAll runs every pending entry in due order, regardless of time.
// Entries scheduled while draining are left for a later tick.
func (s *schedule) DrainAll() int {
	pending := s.items
	s.items = nil
	heap.Init(&pending)

	n := 0
	for len(pending) > 0 {
		item := heap.Pop(&pending).(*scheduled)
		item.action()
		n++
	}
	return n
}

// Len returns the number of pending entries.
func (s *schedule) Len() int {
	return len(s.items)
}

// Clear drops every pending entry without running it.
func (s *schedule) Clear() {
	s.items = nil
}
