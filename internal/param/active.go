package param

// Active is the runtime copy of an EventParameter owned by one playing
// event. It mirrors its global Parameter until it is overridden, after
// which it keeps its own value until Reset.
type Active struct {
	def    EventParameter
	global *Parameter
	value  float64
	result float64
	dirty  bool
}

// NewActive creates an instance copy bound to global and synced from it.
func NewActive(def EventParameter, global *Parameter) *Active {
	a := &Active{def: def, global: global}
	a.Sync()
	return a
}

// Name returns the bound parameter name.
func (a *Active) Name() string { return a.def.Name }

// Role returns the modulation role.
func (a *Active) Role() Role { return a.def.Role }

// Gaze reports whether the parameter is gaze-driven.
func (a *Active) Gaze() bool { return a.def.Gaze }

// Value returns the current input value.
func (a *Active) Value() float64 { return a.value }

// Result returns the curve output for the current value.
func (a *Active) Result() float64 { return a.result }

// Dirty reports whether a local override is in effect.
func (a *Active) Dirty() bool { return a.dirty }

// Sync refreshes value and result from the global parameter unless the
// instance is overridden.
func (a *Active) Sync() {
	if a.dirty {
		return
	}
	if a.global != nil {
		a.value = a.global.Value()
	}
	a.result = a.def.Curve.Evaluate(a.value)
}

// Override sets an instance-local value that supersedes the global one.
func (a *Active) Override(v float64) {
	a.dirty = true
	a.value = v
	a.result = a.def.Curve.Evaluate(v)
}

// Reset drops the local override and resyncs from the global parameter.
func (a *Active) Reset() {
	a.dirty = false
	a.Sync()
}
