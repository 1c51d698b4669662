package voice

import (
	"math"

	"github.com/roach88/earshot/internal/audio"
)

// Sim is an in-memory voice. Its position advances only when its device
// is advanced, scaled by pitch; non-looping voices stop at the clip end and
// looping voices wrap.
type Sim struct {
	id      ID
	clip    *audio.Clip
	time    float64
	playing bool

	Volume  float64
	Pitch   float64
	Loop    bool
	Muted   bool
	Pos     audio.Vec3
	Routing audio.Routing

	// Plays counts Play calls, for assertions.
	Plays int
}

// ID implements Voice.
func (s *Sim) ID() ID { return s.id }

// Clip returns the loaded clip.
func (s *Sim) Clip() *audio.Clip { return s.clip }

// SetClip implements Voice.
func (s *Sim) SetClip(clip *audio.Clip, offset float64) {
	s.clip = clip
	s.time = offset
}

// Play implements Voice.
func (s *Sim) Play() {
	if s.clip == nil {
		return
	}
	s.playing = true
	s.Plays++
}

// Stop implements Voice.
func (s *Sim) Stop() { s.playing = false }

// SetVolume implements Voice.
func (s *Sim) SetVolume(v float64) { s.Volume = v }

// SetPitch implements Voice.
func (s *Sim) SetPitch(p float64) { s.Pitch = p }

// SetLoop implements Voice.
func (s *Sim) SetLoop(loop bool) { s.Loop = loop }

// SetMute implements Voice.
func (s *Sim) SetMute(muted bool) { s.Muted = muted }

// SetPosition implements Voice.
func (s *Sim) SetPosition(pos audio.Vec3) { s.Pos = pos }

// Route implements Voice.
func (s *Sim) Route(r audio.Routing) { s.Routing = r }

// Playing implements Voice.
func (s *Sim) Playing() bool { return s.playing }

// Time implements Voice.
func (s *Sim) Time() float64 { return s.time }

// WorldPosition implements Voice.
func (s *Sim) WorldPosition() audio.Vec3 { return s.Pos }

// Advance moves the playback head by dt seconds of wall time.
func (s *Sim) Advance(dt float64) {
	if !s.playing || s.clip == nil || s.clip.Length <= 0 {
		return
	}
	s.time += dt * s.Pitch
	if s.time < s.clip.Length {
		return
	}
	if s.Loop {
		s.time = math.Mod(s.time, s.clip.Length)
		return
	}
	s.time = s.clip.Length
	s.playing = false
}

// SimDevice creates Sim voices and advances them together.
type SimDevice struct {
	voices []*Sim
}

// NewSimDevice creates an empty simulated device.
func NewSimDevice() *SimDevice {
	return &SimDevice{}
}

// NewVoice implements Device.
func (d *SimDevice) NewVoice(id ID) Voice {
	s := &Sim{id: id, Volume: 1, Pitch: 1}
	d.voices = append(d.voices, s)
	return s
}

// Voices returns every voice created so far, in creation order.
func (d *SimDevice) Voices() []*Sim {
	return d.voices
}

// Advance advances every voice by dt seconds.
func (d *SimDevice) Advance(dt float64) {
	for _, s := range d.voices {
		s.Advance(dt)
	}
}

// Playing returns the number of voices currently playing.
func (d *SimDevice) Playing() int {
	n := 0
	for _, s := range d.voices {
		if s.playing {
			n++
		}
	}
	return n
}
