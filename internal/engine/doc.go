// Package engine implements the earshot runtime: graph evaluation, the
// voice registry and the active-event state machine.
//
// ARCHITECTURE:
//
// Runtime context:
// An Engine owns everything that would otherwise be process-wide state:
// the voice pool, the ordered active registry, the bounded history ring,
// the global parameters, the current language and switches, and the clock.
// Independent engines never share anything, so tests build one each.
//
// Play flow:
//  1. Admission control (playable leaves, instance limit, group exclusivity)
//  2. A fresh ActiveEvent in state Initialized
//  3. Graph evaluation from the Output node upstream, binding voices
//  4. Registration in the active registry and history, state Played
//  5. Voices start now or after the initial delay
//
// Per tick:
// Tick(dt) drains queued commands, advances the clock, updates every
// active event in play order, then runs due scheduled entries. Deferred
// removals and snapshot timers are scheduled entries, never goroutines
// or timers.
//
// Single owner:
// Every method except Enqueue must be called from the goroutine that
// drives Tick. Run provides a fixed-rate driver for real-time use.
//
// Failure model:
// Nothing here is fatal. Admission rejections create no state, failed
// evaluations leave an Error entry in history and hold no voices, and a
// graph unloaded mid-playback force-stops its instances.
package engine
