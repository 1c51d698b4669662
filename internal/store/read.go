package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a play does not exist.
var ErrNotFound = errors.New("not found")

// ReadPlays returns the most recent limit plays in seq order (all plays
// when limit <= 0).
//
// Returns an empty slice (not nil) when the log is empty.
func (s *Store) ReadPlays(ctx context.Context, limit int) ([]PlayRecord, error) {
	query := `
		SELECT event_id, graph, seq, at, status, clips, error
		FROM plays
		ORDER BY seq ASC, event_id ASC COLLATE BINARY
	`
	args := []any{}
	if limit > 0 {
		query = `
			SELECT event_id, graph, seq, at, status, clips, error FROM (
				SELECT * FROM plays ORDER BY seq DESC LIMIT ?
			)
			ORDER BY seq ASC, event_id ASC COLLATE BINARY
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	plays := []PlayRecord{}
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, err
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plays: %w", err)
	}
	return plays, nil
}

// ReadPlay returns one play by event ID.
// Returns ErrNotFound (wrapped) if the event was never recorded.
func (s *Store) ReadPlay(ctx context.Context, eventID string) (PlayRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, graph, seq, at, status, clips, error
		FROM plays
		WHERE event_id = ?
	`, eventID)

	p, err := scanPlay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayRecord{}, fmt.Errorf("play %s: %w", eventID, ErrNotFound)
	}
	return p, err
}

// ReadTransitions returns the transitions of one event in seq order.
func (s *Store) ReadTransitions(ctx context.Context, eventID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, seq, at, from_state, to_state
		FROM transitions
		WHERE event_id = ?
		ORDER BY seq ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []TransitionRecord{}
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.EventID, &t.Seq, &t.At, &t.From, &t.To); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlay(row scanner) (PlayRecord, error) {
	var p PlayRecord
	var clipsJSON string
	if err := row.Scan(&p.EventID, &p.Graph, &p.Seq, &p.At, &p.Status, &clipsJSON, &p.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlayRecord{}, err
		}
		return PlayRecord{}, fmt.Errorf("scan play: %w", err)
	}
	if err := json.Unmarshal([]byte(clipsJSON), &p.Clips); err != nil {
		return PlayRecord{}, fmt.Errorf("unmarshal clips for %s: %w", p.EventID, err)
	}
	return p, nil
}
