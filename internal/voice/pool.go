package voice

// Pool is a fixed-capacity set of voices.
//
// Voices are created lazily on the first acquisition. Once Close has been
// called the pool refuses to create or hand out voices.
//
// Not safe for concurrent use: all runtime access is single-threaded.
type Pool struct {
	device   Device
	capacity int

	voices      map[ID]Voice
	free        []ID // ascending; allocation takes the first
	initialized bool
	closed      bool
}

// NewPool creates a pool of capacity voices backed by device.
func NewPool(capacity int, device Device) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		device:   device,
		capacity: capacity,
		voices:   make(map[ID]Voice, capacity),
	}
}

func (p *Pool) init() {
	if p.initialized || p.closed {
		return
	}
	p.initialized = true
	p.free = make([]ID, 0, p.capacity)
	for i := 0; i < p.capacity; i++ {
		id := ID(i)
		p.voices[id] = p.device.NewVoice(id)
		p.free = append(p.free, id)
	}
}

// Acquire removes the first free voice from the free set.
// Returns false when the pool is exhausted or closed.
func (p *Pool) Acquire() (Voice, bool) {
	p.init()
	if p.closed || len(p.free) == 0 {
		return nil, false
	}
	id := p.free[0]
	p.free = p.free[1:]
	return p.voices[id], true
}

// Release returns voices to the free set and reports how many were
// returned. Identities that no longer exist, or are already free, are
// discarded so the free set never grows beyond the live voices.
func (p *Pool) Release(ids ...ID) int {
	if p.closed {
		return 0
	}
	returned := 0
	for _, id := range ids {
		if _, ok := p.voices[id]; !ok {
			continue
		}
		if p.isFree(id) {
			continue
		}
		p.insertFree(id)
		returned++
	}
	return returned
}

// Destroy drops a voice identity, as when the backend loses a channel.
// A later Release of that ID is discarded.
func (p *Pool) Destroy(id ID) {
	v, ok := p.voices[id]
	if !ok {
		return
	}
	v.Stop()
	delete(p.voices, id)
	for i, f := range p.free {
		if f == id {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
}

// Voice returns a live voice by ID.
func (p *Pool) Voice(id ID) (Voice, bool) {
	v, ok := p.voices[id]
	return v, ok
}

// Free returns the number of voices available for acquisition.
func (p *Pool) Free() int {
	p.init()
	return len(p.free)
}

// Capacity returns the configured pool size.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed
}

// Close stops every voice and shuts the pool down for good.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	for _, v := range p.voices {
		v.Stop()
	}
	p.closed = true
	p.free = nil
}

func (p *Pool) isFree(id ID) bool {
	for _, f := range p.free {
		if f == id {
			return true
		}
	}
	return false
}

func (p *Pool) insertFree(id ID) {
	i := 0
	for i < len(p.free) && p.free[i] < id {
		i++
	}
	p.free = append(p.free, 0)
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = id
}
