// Package curve implements the response curves that map a parameter value
// to a scalar multiplier.
//
// A Curve is a list of keys sorted by time. Evaluation interpolates linearly
// between neighbouring keys and clamps outside the key range. The zero Curve
// evaluates to 1 everywhere so an unset curve never silences a sound.
package curve

import (
	"fmt"
	"sort"
)

// Key is one control point of a curve.
type Key struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Curve is a piecewise-linear response curve.
type Curve struct {
	Keys []Key `json:"keys"`
}

// New builds a curve from keys, sorting them by time.
// Returns an error if two keys share a time.
func New(keys ...Key) (Curve, error) {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Time == sorted[i-1].Time {
			return Curve{}, fmt.Errorf("duplicate key at time %v", sorted[i].Time)
		}
	}
	return Curve{Keys: sorted}, nil
}

// Constant returns a curve that evaluates to v everywhere.
func Constant(v float64) Curve {
	return Curve{Keys: []Key{{Time: 0, Value: v}}}
}

// Linear returns a two-key curve from (t0, v0) to (t1, v1).
// t0 must be lower than t1.
func Linear(t0, v0, t1, v1 float64) Curve {
	return Curve{Keys: []Key{{Time: t0, Value: v0}, {Time: t1, Value: v1}}}
}

// IsZero reports whether the curve has no keys.
func (c Curve) IsZero() bool {
	return len(c.Keys) == 0
}

// Evaluate returns the curve value at t.
func (c Curve) Evaluate(t float64) float64 {
	n := len(c.Keys)
	switch {
	case n == 0:
		return 1
	case t <= c.Keys[0].Time:
		return c.Keys[0].Value
	case t >= c.Keys[n-1].Time:
		return c.Keys[n-1].Value
	}

	// First key strictly after t; guaranteed in (0, n).
	i := sort.Search(n, func(i int) bool { return c.Keys[i].Time > t })
	a, b := c.Keys[i-1], c.Keys[i]
	f := (t - a.Time) / (b.Time - a.Time)
	return a.Value + (b.Value-a.Value)*f
}
