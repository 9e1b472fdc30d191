package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskpilot/pkg/convo"
)

// Journal persists conversation contexts. It implements convo.Journal.
type Journal struct {
	store *Store
}

// NewJournal creates a journal backed by store.
func NewJournal(store *Store) *Journal {
	return &Journal{store: store}
}

// Load returns the saved context for userID, reporting false when none exists.
func (j *Journal) Load(ctx context.Context, userID string) (convo.Context, bool, error) {
	out := convo.Context{UserID: userID}

	var pending sql.NullString
	err := j.store.db.QueryRowContext(ctx,
		`SELECT last_entity_ref, pending FROM conversations WHERE user_id = ?`, userID,
	).Scan(&out.LastEntityRef, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return convo.Context{}, false, nil
	}
	if err != nil {
		return convo.Context{}, false, fmt.Errorf("failed to load conversation: %w", err)
	}

	if pending.Valid && pending.String != "" {
		var c convo.Clarification
		if err := json.Unmarshal([]byte(pending.String), &c); err != nil {
			return convo.Context{}, false, fmt.Errorf("failed to decode pending clarification: %w", err)
		}
		out.Pending = &c
	}

	rows, err := j.store.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return convo.Context{}, false, fmt.Errorf("failed to load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			turn convo.Turn
			role string
		)
		if err := rows.Scan(&role, &turn.Text, &turn.Timestamp); err != nil {
			return convo.Context{}, false, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = convo.Role(role)
		out.Turns = append(out.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return convo.Context{}, false, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return out, true, nil
}

// Save replaces the stored context for c.UserID in one transaction.
func (j *Journal) Save(ctx context.Context, c convo.Context) error {
	var pending sql.NullString
	if c.Pending != nil {
		data, err := json.Marshal(c.Pending)
		if err != nil {
			return fmt.Errorf("failed to encode pending clarification: %w", err)
		}
		pending = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := j.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (user_id, last_entity_ref, pending, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_entity_ref = excluded.last_entity_ref,
			pending = excluded.pending,
			updated_at = excluded.updated_at`,
		c.UserID, c.LastEntityRef, pending, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, c.UserID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (user_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, turn := range c.Turns {
		if _, err := stmt.ExecContext(ctx, c.UserID, i, string(turn.Role), turn.Text, turn.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}
