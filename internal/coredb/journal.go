// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrJournalQuotaExceeded indicates the requested append cannot be satisfied
// because the payload is larger than the configured journal limit.
var ErrJournalQuotaExceeded = errors.New("coredb: journal quota exceeded")

// JournalEntry represents a persisted audit event.
type JournalEntry struct {
	Seq       int64
	PlanID    string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// Journal provides append-only audit persistence backed by the store. Every
// emitted orchestrator event lands here before any client sees it.
type Journal struct {
	db       *sql.DB
	maxBytes int64
	nowFn    func() time.Time
}

// NewJournal returns a Journal backed by the provided DB with the supplied
// maximum size budget. When maxBytes is zero or negative the default (64 MiB)
// is used.
func NewJournal(db *DB, maxBytes int64) *Journal {
	if db == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = defaultJournalMaxBytes
	}
	return &Journal{
		db:       db.sql,
		maxBytes: maxBytes,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Append stores an event for the provided plan. It returns the persisted entry
// including the allocated sequence number. Appends are performed in a single
// transaction to ensure eviction and insertion remain atomic.
func (j *Journal) Append(ctx context.Context, planID, eventType string, payload []byte, ts time.Time) (entry JournalEntry, err error) {
	if j == nil {
		return entry, nil
	}
	if planID == "" {
		return entry, fmt.Errorf("append journal: plan id required")
	}
	if len(payload) == 0 {
		return entry, fmt.Errorf("append journal: payload required")
	}
	payloadBytes := int64(len(payload))
	if payloadBytes > j.maxBytes {
		return entry, ErrJournalQuotaExceeded
	}

	now := ts
	if now.IsZero() {
		now = j.nowFn()
	}

	var tx *sql.Tx
	tx, err = j.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existingBytes int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(payload)), 0) FROM core_audit_journal`).Scan(&existingBytes); err != nil {
		return entry, fmt.Errorf("journal size lookup: %w", err)
	}

	// Evict oldest entries until the new payload fits within budget.
	for existingBytes+payloadBytes > j.maxBytes {
		var seq int64
		var size int64
		err = tx.QueryRowContext(ctx, `SELECT seq, length(payload) FROM core_audit_journal ORDER BY seq ASC LIMIT 1`).Scan(&seq, &size)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			break
		}
		if err != nil {
			return entry, fmt.Errorf("journal eviction lookup: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM core_audit_journal WHERE seq = ?`, seq); err != nil {
			return entry, fmt.Errorf("journal eviction delete seq=%d: %w", seq, err)
		}
		existingBytes -= size
		if existingBytes < 0 {
			existingBytes = 0
		}
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
INSERT INTO core_audit_journal (plan_id, event_type, payload, ts)
VALUES (?, ?, ?, ?)
`, planID, eventType, payload, now.UnixMilli())
	if err != nil {
		return entry, fmt.Errorf("journal insert: %w", err)
	}
	var seq int64
	seq, err = res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("journal last insert id: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return entry, fmt.Errorf("journal commit: %w", err)
	}

	entry = JournalEntry{
		Seq:       seq,
		PlanID:    planID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		Timestamp: now,
	}
	return entry, nil
}

// Bounds returns the earliest and latest sequence currently retained for the
// provided plan. A zero earliest indicates no events are stored.
func (j *Journal) Bounds(ctx context.Context, planID string) (earliest, latest int64, err error) {
	if j == nil {
		return 0, 0, nil
	}
	if err = j.db.QueryRowContext(ctx, `
SELECT COALESCE(MIN(seq), 0), COALESCE(MAX(seq), 0)
FROM core_audit_journal WHERE plan_id = ?
`, planID).Scan(&earliest, &latest); err != nil {
		return 0, 0, fmt.Errorf("journal bounds: %w", err)
	}
	return earliest, latest, nil
}

// ForEach streams events for the supplied plan strictly after the provided
// sequence (i.e. seq > afterSeq) in ascending order. Iteration halts if the
// callback returns an error.
func (j *Journal) ForEach(ctx context.Context, planID string, afterSeq int64, fn func(JournalEntry) error) error {
	if j == nil || fn == nil {
		return nil
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, event_type, payload, ts
FROM core_audit_journal
WHERE plan_id = ? AND seq > ?
ORDER BY seq ASC
`, planID, afterSeq)
	if err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var eventType string
		var payload []byte
		var tsMillis int64
		if scanErr := rows.Scan(&seq, &eventType, &payload, &tsMillis); scanErr != nil {
			return fmt.Errorf("journal scan: %w", scanErr)
		}
		entry := JournalEntry{
			Seq:       seq,
			PlanID:    planID,
			EventType: eventType,
			Payload:   append([]byte(nil), payload...),
			Timestamp: time.UnixMilli(tsMillis).UTC(),
		}
		if fnErr := fn(entry); fnErr != nil {
			return fnErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("journal rows: %w", rowsErr)
	}
	return nil
}

// ParseEventID converts an SSE event ID into a sequence integer. It returns
// zero when the ID is empty.
func ParseEventID(id string) (int64, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q: %w", id, err)
	}
	return seq, nil
}
