package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// StatusRemoved is the to_state of the transition written when an event
// leaves the active registry.
const StatusRemoved = "removed"

// PlayRecord is one row of the plays table.
type PlayRecord struct {
	EventID string   `json:"event_id"`
	Graph   string   `json:"graph"`
	Seq     int64    `json:"seq"`
	At      float64  `json:"at"`
	Status  string   `json:"status"`
	Clips   []string `json:"clips"`
	Error   string   `json:"error,omitempty"`
}

// TransitionRecord is one row of the transitions table.
type TransitionRecord struct {
	EventID string  `json:"event_id"`
	Seq     int64   `json:"seq"`
	At      float64 `json:"at"`
	From    string  `json:"from"`
	To      string  `json:"to"`
}

// RecordPlay inserts a play record.
// Uses ON CONFLICT(event_id) DO NOTHING for idempotency - a replayed write
// for the same event is silently ignored.
func (s *Store) RecordPlay(ctx context.Context, p PlayRecord) error {
	clips := p.Clips
	if clips == nil {
		clips = []string{}
	}
	clipsJSON, err := json.Marshal(clips)
	if err != nil {
		return fmt.Errorf("record play: marshal clips: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plays (event_id, graph, seq, at, status, clips, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		p.EventID,
		p.Graph,
		p.Seq,
		p.At,
		p.Status,
		string(clipsJSON),
		p.Error,
	)
	if err != nil {
		return fmt.Errorf("record play: %w", err)
	}
	return nil
}

// RecordTransition inserts a lifecycle transition.
//
// Note: The play referenced by EventID must exist (foreign key constraint).
func (s *Store) RecordTransition(ctx context.Context, t TransitionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (event_id, seq, at, from_state, to_state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		t.EventID,
		t.Seq,
		t.At,
		t.From,
		t.To,
	)
	if err != nil {
		return fmt.Errorf("record transition %s: %w", t.EventID, err)
	}
	return nil
}
