package graph

import (
	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
)

// Kind identifies a node variant.
type Kind int

const (
	KindOutput Kind = iota + 1
	KindFile
	KindVoiceFile
	KindBlendFile
	KindNull
	KindRandom
	KindSequence
	KindLanguage
	KindSwitch
	KindBlend
	KindDebug
	KindDelay
	KindSnapshot
)

var kindNames = map[Kind]string{
	KindOutput:    "output",
	KindFile:      "file",
	KindVoiceFile: "voice_file",
	KindBlendFile: "blend_file",
	KindNull:      "null",
	KindRandom:    "random",
	KindSequence:  "sequence",
	KindLanguage:  "language",
	KindSwitch:    "switch",
	KindBlend:     "blend",
	KindDebug:     "debug",
	KindDelay:     "delay",
	KindSnapshot:  "snapshot",
}

// String returns the asset name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps an asset type name to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Leaf reports whether nodes of this kind terminate evaluation.
// Leaves have no input connector.
func (k Kind) Leaf() bool {
	switch k {
	case KindFile, KindVoiceFile, KindBlendFile, KindNull:
		return true
	}
	return false
}

// Body is the variant payload of a node. Exactly one of the types below
// implements it; the evaluator dispatches with a type switch.
type Body interface {
	Kind() Kind
}

// Output is the graph terminal. It owns event-wide playback properties.
type Output struct {
	VolumeMin, VolumeMax float64
	PitchMin, PitchMax   float64
	Routing              audio.Routing
}

// File binds a clip to a new voice. MinStart and MaxStart are fractions of
// the clip length bounding the random start offset.
type File struct {
	Clip               *audio.Clip
	MinStart, MaxStart float64
}

// VoiceFile is a File tagged with a BCP 47 language.
type VoiceFile struct {
	File
	Language string
}

// BlendFile is a File whose volume is weighted by a parameter curve.
type BlendFile struct {
	File
	Parameter string
	Curve     curve.Curve
}

// Null is an explicit silent branch.
type Null struct{}

// Random continues into one upstream branch chosen uniformly.
type Random struct{}

// Sequence continues into upstream branches round-robin. The cursor
// persists across evaluations of the same graph.
type Sequence struct {
	next int
}

// Next returns the branch index to take among n and advances the cursor.
func (s *Sequence) Next(n int) int {
	if n <= 0 {
		return -1
	}
	i := s.next % n
	s.next = (i + 1) % n
	return i
}

// Reset rewinds the cursor to the first branch.
func (s *Sequence) Reset() { s.next = 0 }

// Cursor returns the branch index Next will take, before wrapping.
func (s *Sequence) Cursor() int { return s.next }

// Seek moves the cursor to i.
func (s *Sequence) Seek(i int) { s.next = max(i, 0) }

// Language continues into the upstream VoiceFile matching the current
// language.
type Language struct{}

// Switch continues into the upstream branch indexed by a switch value.
type Switch struct {
	Switch string
}

// Blend continues into every upstream branch.
type Blend struct{}

// Debug logs a message then continues into one upstream branch.
type Debug struct {
	Message string
}

// Delay postpones playback start then continues into one upstream branch.
type Delay struct {
	Seconds float64
}

// Snapshot triggers a mixer snapshot transition and terminates the event
// once the transition completes. The duration is Seconds unless Parameter
// is set, in which case it is Curve evaluated at the parameter value.
type Snapshot struct {
	Snapshot  string
	Seconds   float64
	Parameter string
	Curve     curve.Curve
}

func (*Output) Kind() Kind    { return KindOutput }
func (*File) Kind() Kind      { return KindFile }
func (*VoiceFile) Kind() Kind { return KindVoiceFile }
func (*BlendFile) Kind() Kind { return KindBlendFile }
func (*Null) Kind() Kind      { return KindNull }
func (*Random) Kind() Kind    { return KindRandom }
func (*Sequence) Kind() Kind  { return KindSequence }
func (*Language) Kind() Kind  { return KindLanguage }
func (*Switch) Kind() Kind    { return KindSwitch }
func (*Blend) Kind() Kind     { return KindBlend }
func (*Debug) Kind() Kind     { return KindDebug }
func (*Delay) Kind() Kind     { return KindDelay }
func (*Snapshot) Kind() Kind  { return KindSnapshot }

// NodeID identifies a node within its graph.
type NodeID string

// Node is a graph vertex: immutable identity plus its variant payload.
type Node struct {
	ID   NodeID
	Body Body
}

// Kind returns the variant kind of the node.
func (n *Node) Kind() Kind {
	return n.Body.Kind()
}

// Clip returns the clip of file-kind leaves, or nil.
func (n *Node) Clip() *audio.Clip {
	switch b := n.Body.(type) {
	case *File:
		return b.Clip
	case *VoiceFile:
		return b.Clip
	case *BlendFile:
		return b.Clip
	}
	return nil
}
