package engine

// history is a fixed-size ring of every event ever played, oldest dropped
// first. It holds events independent of whether they are still active.
type history struct {
	buf   []*ActiveEvent
	start int
	n     int
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{buf: make([]*ActiveEvent, size)}
}

// Push appends ev, evicting the oldest entry when full.
func (h *history) Push(ev *ActiveEvent) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = ev
		h.n++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % len(h.buf)
}

// Items returns the entries oldest first.
func (h *history) Items() []*ActiveEvent {
	out := make([]*ActiveEvent, h.n)
	for i := range h.n {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of entries held.
func (h *history) Len() int {
	return h.n
}
