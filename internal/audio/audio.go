// Package audio holds the value types shared between the event graph, the
// voice capability and the runtime: clips, positions and routing.
package audio

import "math"

// Clip is a playable asset reference. Length is in seconds.
type Clip struct {
	Name   string  `json:"name"`
	Length float64 `json:"length"`
}

// Playable reports whether the clip can be bound to a voice.
func (c *Clip) Playable() bool {
	return c != nil && c.Length > 0
}

// Vec3 is a position or direction in world space.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Len returns the euclidean length of v.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.Dot(v))
}

// AngleTo returns the unsigned angle between v and o in degrees.
// Zero-length vectors yield 0.
func (v Vec3) AngleTo(o Vec3) float64 {
	l := v.Len() * o.Len()
	if l == 0 {
		return 0
	}
	cos := v.Dot(o) / l
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// Emitter is anything a playing event can follow, usually a scene object.
type Emitter interface {
	Position() Vec3
}

// Transform is an emitter with an orientation. The gaze reference of an
// event (typically the listener camera) is a Transform.
type Transform interface {
	Emitter
	Forward() Vec3
}

// FixedPoint is an Emitter that never moves.
type FixedPoint Vec3

// Position implements Emitter.
func (p FixedPoint) Position() Vec3 { return Vec3(p) }

// Spatial holds the spatialization settings pushed to the output device.
type Spatial struct {
	Blend       float64 `json:"blend"`        // 0 = 2D, 1 = fully 3D
	MaxDistance float64 `json:"max_distance"` // attenuation range
	Rolloff     string  `json:"rolloff"`      // attenuation curve name
	Doppler     float64 `json:"doppler"`
	ReverbMix   float64 `json:"reverb_mix"`
	Spread      float64 `json:"spread"` // degrees
}

// Routing is the per-voice sink configuration resolved by an Output node.
type Routing struct {
	Mixer   string  `json:"mixer"`
	Loop    bool    `json:"loop"`
	Spatial Spatial `json:"spatial"`
}
