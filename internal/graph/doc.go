// Package graph models event graphs: the authored node networks that
// decide which clips an event plays.
//
// A Graph owns its nodes and a table of directed connections. A connection
// From → To means From's output feeds To's input; evaluation walks those
// edges backwards, from the single Output terminal toward the leaves, so a
// node's "upstream" neighbours are the branches it may choose between.
//
// INVARIANTS:
//   - exactly one Output node, with ID OutputID, which cannot be removed
//     and has no output connector
//   - leaf nodes (file, voice_file, blend_file, null) have no input connector
//   - upstream order is connection insertion order unless re-sorted
//
// Cycles are not prevented here. The evaluator detects them at play time and
// the compiler reports them statically.
package graph
