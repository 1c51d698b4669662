package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/earshot/internal/audio"
)

func TestPool_LazyInit(t *testing.T) {
	dev := NewSimDevice()
	p := NewPool(4, dev)

	assert.Empty(t, dev.Voices(), "voices are created on first use")
	assert.Equal(t, 4, p.Free())
	assert.Len(t, dev.Voices(), 4)

	// Second init is a no-op
	_, ok := p.Acquire()
	require.True(t, ok)
	assert.Len(t, dev.Voices(), 4)
}

func TestPool_AcquireFirstFree(t *testing.T) {
	p := NewPool(3, NewSimDevice())

	a, _ := p.Acquire()
	b, _ := p.Acquire()
	assert.Equal(t, ID(0), a.ID())
	assert.Equal(t, ID(1), b.ID())

	assert.Equal(t, 1, p.Release(a.ID()))
	c, _ := p.Acquire()
	assert.Equal(t, ID(0), c.ID(), "released voice is first free again")
}

func TestPool_Exhaustion(t *testing.T) {
	p := NewPool(2, NewSimDevice())

	_, ok := p.Acquire()
	require.True(t, ok)
	_, ok = p.Acquire()
	require.True(t, ok)

	v, ok := p.Acquire()
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 0, p.Free())
}

func TestPool_ReleaseRoundTrip(t *testing.T) {
	p := NewPool(5, NewSimDevice())

	var held []ID
	for i := 0; i < 5; i++ {
		v, ok := p.Acquire()
		require.True(t, ok)
		held = append(held, v.ID())
	}
	require.Equal(t, 0, p.Free())

	// Releasing two voices returns exactly two, never more
	assert.Equal(t, 2, p.Release(held[1], held[3]))
	assert.Equal(t, 2, p.Free())

	// Double release is discarded
	assert.Equal(t, 0, p.Release(held[1]))
	assert.Equal(t, 2, p.Free())
}

func TestPool_ReleaseDiscardsVanishedVoices(t *testing.T) {
	p := NewPool(3, NewSimDevice())
	a, _ := p.Acquire()
	b, _ := p.Acquire()

	p.Destroy(a.ID())

	assert.Equal(t, 1, p.Release(a.ID(), b.ID()))
	assert.Equal(t, 2, p.Free())
	_, ok := p.Voice(a.ID())
	assert.False(t, ok)

	assert.Equal(t, 0, p.Release(ID(99)), "unknown identity is discarded")
}

func TestPool_CloseSuppressesCreation(t *testing.T) {
	dev := NewSimDevice()
	p := NewPool(3, dev)
	p.Close()

	_, ok := p.Acquire()
	assert.False(t, ok)
	assert.Empty(t, dev.Voices(), "no voice is created after shutdown")
	assert.True(t, p.Closed())
	assert.Equal(t, 0, p.Free())
}

func TestPool_CloseStopsVoices(t *testing.T) {
	dev := NewSimDevice()
	p := NewPool(1, dev)
	v, _ := p.Acquire()
	v.SetClip(&audio.Clip{Name: "x", Length: 1}, 0)
	v.Play()
	require.True(t, v.Playing())

	p.Close()
	assert.False(t, v.Playing())
	assert.Equal(t, 0, p.Release(v.ID()))
}

func TestSim_AdvanceStopsAtEnd(t *testing.T) {
	dev := NewSimDevice()
	v := dev.NewVoice(0).(*Sim)
	v.SetClip(&audio.Clip{Name: "x", Length: 1}, 0.25)
	v.Play()

	dev.Advance(0.5)
	assert.InDelta(t, 0.75, v.Time(), 1e-9)
	assert.True(t, v.Playing())

	dev.Advance(0.5)
	assert.False(t, v.Playing())
	assert.Equal(t, 1.0, v.Time())
	assert.Equal(t, 0, dev.Playing())
}

func TestSim_AdvanceLoopsAndScalesByPitch(t *testing.T) {
	v := &Sim{Pitch: 2, Volume: 1}
	v.SetClip(&audio.Clip{Name: "x", Length: 1}, 0)
	v.SetLoop(true)
	v.Play()

	v.Advance(0.75)
	assert.True(t, v.Playing())
	assert.InDelta(t, 0.5, v.Time(), 1e-9)
}

func TestSim_PlayWithoutClip(t *testing.T) {
	v := &Sim{}
	v.Play()
	assert.False(t, v.Playing())
	assert.Equal(t, 0, v.Plays)
}
