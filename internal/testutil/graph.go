// Package testutil provides builders and fakes shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/graph"
)

// Clip returns a clip with the given name and length in seconds.
func Clip(name string, length float64) *audio.Clip {
	return &audio.Clip{Name: name, Length: length}
}

// File returns a file leaf starting at the beginning of clip.
func File(clip *audio.Clip) *graph.File {
	return &graph.File{Clip: clip}
}

// AddNode adds a node and fails the test on error.
func AddNode(t testing.TB, g *graph.Graph, id graph.NodeID, body graph.Body) *graph.Node {
	t.Helper()
	n, err := g.AddNode(id, body)
	require.NoError(t, err, "add node %s", id)
	return n
}

// Connect connects each of from into to, in order.
func Connect(t testing.TB, g *graph.Graph, to graph.NodeID, from ...graph.NodeID) {
	t.Helper()
	for _, f := range from {
		require.NoError(t, g.Connect(f, to), "connect %s -> %s", f, to)
	}
}

// SingleFile builds output <- file with one clip.
func SingleFile(t testing.TB, name string, clip *audio.Clip) *graph.Graph {
	t.Helper()
	g := graph.New(name)
	AddNode(t, g, "file", File(clip))
	Connect(t, g, graph.OutputID, "file")
	return g
}

// Selector builds output <- sel <- leaf0..leafN-1 where sel has body sel
// and every leaf plays its own clip named <name>-<i>.
func Selector(t testing.TB, name string, sel graph.Body, clips ...*audio.Clip) *graph.Graph {
	t.Helper()
	g := graph.New(name)
	AddNode(t, g, "sel", sel)
	Connect(t, g, graph.OutputID, "sel")
	for i, c := range clips {
		id := graph.NodeID(c.Name)
		if id == "" {
			id = graph.NodeID(rune('a' + i))
		}
		AddNode(t, g, id, File(c))
		Connect(t, g, "sel", id)
	}
	return g
}

// Rand returns a deterministic PCG generator.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
