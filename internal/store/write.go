package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ghostbridge/internal/ir"
)

// RecordBroadcast appends a decoded incoming frame to the session's
// journal. Params are stored as received, before any coalescing.
func (s *Store) RecordBroadcast(ctx context.Context, session string, ev ir.IncomingEvent) error {
	payload, digest, err := encodePayload(ev.Params)
	if err != nil {
		return fmt.Errorf("record broadcast %s: %w", ev.Name, err)
	}
	err = s.insert(ctx, `
		INSERT INTO broadcasts (seq, session_id, name, event_id, payload, digest)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session, ev.Name, nullableID(ev.EventID), payload, digest)
	if err != nil {
		return fmt.Errorf("record broadcast %s: %w", ev.Name, err)
	}
	return nil
}

// RecordSend appends an outgoing event the transport accepted.
func (s *Store) RecordSend(ctx context.Context, session string, ev ir.OutgoingEvent) error {
	p, digest, err := encodePayload(ev.Params)
	if err != nil {
		return fmt.Errorf("record send %s: %w", ev.Name, err)
	}
	// Absent params stay NULL so they read back as absent.
	params := sql.NullString{String: p, Valid: ev.Params != nil}
	err = s.insert(ctx, `
		INSERT INTO sends (seq, session_id, name, mutation_id, params, digest)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session, ev.Name, nullableID(ev.MutationID), params, digest)
	if err != nil {
		return fmt.Errorf("record send %s: %w", ev.Name, err)
	}
	return nil
}

// Prune keeps the newest keep sessions and deletes the rest, returning
// how many sessions were removed. Sessions are aged by their first seq.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must not be negative, got %d", keep)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	if len(sessions) <= keep {
		return 0, nil
	}
	stale := sessions[:len(sessions)-keep]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, sess := range stale {
		for _, table := range []string{"broadcasts", "sends"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", sess.ID); err != nil {
				return 0, fmt.Errorf("prune %s: %w", sess.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: commit: %w", err)
	}
	return len(stale), nil
}

// insert allocates the next shared seq and runs stmt with it prepended to
// args, in one transaction.
func (s *Store) insert(ctx context.Context, stmt string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM (
			SELECT MAX(seq) AS seq FROM broadcasts
			UNION ALL
			SELECT MAX(seq) AS seq FROM sends
		)
	`).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocate seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, stmt, append([]any{seq}, args...)...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodePayload(v ir.IRValue) (payload, digest string, err error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	digest, err = ir.PayloadDigest(v)
	if err != nil {
		return "", "", err
	}
	return string(data), digest, nil
}

func nullableID(id ir.MutationID) sql.NullInt64 {
	if !id.Valid() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}
