package persistence

import (
	"context"
	"fmt"
	"time"
)

// OrchestrationRecord is one handled message in the audit trail. Users are stored by pseudonym.
type OrchestrationRecord struct {
	RequestID string        `json:"request_id"`
	UserRef   string        `json:"user_ref"`
	Platform  string        `json:"platform"`
	Intent    string        `json:"intent"`
	Outcome   string        `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditLog stores orchestration records.
type AuditLog struct {
	store *Store
}

// NewAuditLog creates an audit log backed by store.
func NewAuditLog(store *Store) *AuditLog {
	return &AuditLog{store: store}
}

// Record inserts one orchestration record.
func (a *AuditLog) Record(ctx context.Context, rec OrchestrationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := a.store.db.ExecContext(ctx, `
		INSERT INTO orchestrations (request_id, user_ref, platform, intent, outcome, attempts, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.UserRef, rec.Platform, rec.Intent, rec.Outcome, rec.Attempts,
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record orchestration %s: %w", rec.RequestID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]OrchestrationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.store.db.QueryContext(ctx, `
		SELECT request_id, user_ref, platform, intent, outcome, attempts, duration_ms, created_at
		FROM orchestrations ORDER BY created_at DESC, request_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OrchestrationRecord
	for rows.Next() {
		var (
			rec OrchestrationRecord
			ms  int64
		)
		if err := rows.Scan(&rec.RequestID, &rec.UserRef, &rec.Platform, &rec.Intent, &rec.Outcome,
			&rec.Attempts, &ms, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orchestration: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orchestrations: %w", err)
	}
	return out, nil
}

// CountByOutcome aggregates the audit trail by outcome.
func (a *AuditLog) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := a.store.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM orchestrations GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orchestrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}
