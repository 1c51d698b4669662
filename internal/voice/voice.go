// Package voice defines the playback voice capability consumed by the
// runtime, a fixed-capacity voice pool, and an in-memory simulated device.
//
// The runtime never talks to an audio backend directly. It acquires voices
// from a Pool, configures them through the Voice interface, and reads back
// their playing state and position each tick.
package voice

import "github.com/roach88/earshot/internal/audio"

// ID identifies a voice within its pool.
type ID int

// Voice is one output channel that plays a single clip at a time.
type Voice interface {
	ID() ID

	// SetClip loads a clip and the offset, in seconds, to start from.
	SetClip(clip *audio.Clip, offset float64)
	Play()
	Stop()

	SetVolume(v float64)
	SetPitch(p float64)
	SetLoop(loop bool)
	SetMute(muted bool)
	SetPosition(pos audio.Vec3)

	// Route hands the resolved mixer and spatialization settings to the
	// output device. The runtime treats the device as an opaque sink.
	Route(r audio.Routing)

	Playing() bool
	// Time returns the playback position within the clip, in seconds.
	Time() float64
	// WorldPosition returns the last position set with SetPosition.
	WorldPosition() audio.Vec3
}

// Device creates the voices of a pool.
type Device interface {
	NewVoice(id ID) Voice
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(id ID) Voice

// NewVoice implements Device.
func (f DeviceFunc) NewVoice(id ID) Voice { return f(id) }
