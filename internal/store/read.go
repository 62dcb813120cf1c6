package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ghostbridge/internal/ir"
)

// BroadcastRecord is one journaled incoming frame.
type BroadcastRecord struct {
	Seq     int64
	Session string
	Event   ir.IncomingEvent
	Digest  string
}

// SendRecord is one journaled outgoing event.
type SendRecord struct {
	Seq     int64
	Session string
	Event   ir.OutgoingEvent
	Digest  string
}

// EntryKind distinguishes timeline entries.
type EntryKind string

const (
	EntryBroadcast EntryKind = "broadcast"
	EntrySend      EntryKind = "send"
)

// Entry is one step of a session timeline. Exactly one of Broadcast and
// Send is set, matching Kind.
type Entry struct {
	Seq       int64
	Kind      EntryKind
	Broadcast *BroadcastRecord
	Send      *SendRecord
}

// SessionSummary describes one journaled session.
type SessionSummary struct {
	ID         string
	FirstSeq   int64
	LastSeq    int64
	Broadcasts int
	Sends      int
}

// ReadBroadcasts returns a session's broadcasts ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadBroadcasts(ctx context.Context, session string) ([]BroadcastRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, session_id, name, event_id, payload, digest
		FROM broadcasts
		WHERE session_id = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query broadcasts: %w", err)
	}
	defer rows.Close()

	records := []BroadcastRecord{}
	for rows.Next() {
		rec, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate broadcasts: %w", err)
	}
	return records, nil
}

// ReadSends returns a session's sends ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadSends(ctx context.Context, session string) ([]SendRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, session_id, name, mutation_id, params, digest
		FROM sends
		WHERE session_id = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query sends: %w", err)
	}
	defer rows.Close()

	records := []SendRecord{}
	for rows.Next() {
		rec, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sends: %w", err)
	}
	return records, nil
}

// ReadTimeline merges a session's broadcasts and sends in seq order.
func (s *Store) ReadTimeline(ctx context.Context, session string) ([]Entry, error) {
	broadcasts, err := s.ReadBroadcasts(ctx, session)
	if err != nil {
		return nil, err
	}
	sends, err := s.ReadSends(ctx, session)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(broadcasts)+len(sends))
	i, j := 0, 0
	for i < len(broadcasts) || j < len(sends) {
		if j == len(sends) || (i < len(broadcasts) && broadcasts[i].Seq < sends[j].Seq) {
			entries = append(entries, Entry{Seq: broadcasts[i].Seq, Kind: EntryBroadcast, Broadcast: &broadcasts[i]})
			i++
			continue
		}
		entries = append(entries, Entry{Seq: sends[j].Seq, Kind: EntrySend, Send: &sends[j]})
		j++
	}
	return entries, nil
}

// ListSessions summarizes every journaled session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id,
		       MIN(seq), MAX(seq),
		       SUM(CASE WHEN kind = 'b' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = 's' THEN 1 ELSE 0 END)
		FROM (
			SELECT session_id, seq, 'b' AS kind FROM broadcasts
			UNION ALL
			SELECT session_id, seq, 's' AS kind FROM sends
		)
		GROUP BY session_id
		ORDER BY MIN(seq) ASC, session_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.FirstSeq, &sum.LastSeq, &sum.Broadcasts, &sum.Sends); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LastMutationID returns the highest mutation id a session sent, or
// ir.NoMutation. Replay uses it to continue minting after the journal.
func (s *Store) LastMutationID(ctx context.Context, session string) (ir.MutationID, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(mutation_id) FROM sends WHERE session_id = ?
	`, session).Scan(&id)
	if err != nil {
		return ir.NoMutation, fmt.Errorf("query last mutation id: %w", err)
	}
	if !id.Valid {
		return ir.NoMutation, nil
	}
	return ir.MutationID(id.Int64), nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row scanner) (BroadcastRecord, error) {
	var (
		rec     BroadcastRecord
		eventID sql.NullInt64
		payload string
	)
	if err := row.Scan(&rec.Seq, &rec.Session, &rec.Event.Name, &eventID, &payload, &rec.Digest); err != nil {
		return BroadcastRecord{}, fmt.Errorf("scan broadcast: %w", err)
	}
	if eventID.Valid {
		rec.Event.EventID = ir.MutationID(eventID.Int64)
	}
	params, err := ir.ParseJSON([]byte(payload))
	if err != nil {
		return BroadcastRecord{}, fmt.Errorf("broadcast seq %d: unmarshal payload: %w", rec.Seq, err)
	}
	rec.Event.Params = params
	return rec, nil
}

func scanSend(row scanner) (SendRecord, error) {
	var (
		rec        SendRecord
		mutationID sql.NullInt64
		params     sql.NullString
	)
	if err := row.Scan(&rec.Seq, &rec.Session, &rec.Event.Name, &mutationID, &params, &rec.Digest); err != nil {
		return SendRecord{}, fmt.Errorf("scan send: %w", err)
	}
	if mutationID.Valid {
		rec.Event.MutationID = ir.MutationID(mutationID.Int64)
	}
	if params.Valid {
		v, err := ir.ParseJSON([]byte(params.String))
		if err != nil {
			return SendRecord{}, fmt.Errorf("send seq %d: unmarshal params: %w", rec.Seq, err)
		}
		rec.Event.Params = v
	}
	return rec, nil
}
