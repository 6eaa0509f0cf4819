// Package ledger provides an append-only history of zhmcctl invocations for
// auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventInvocationSucceeded EventType = "invocation_succeeded"
	EventInvocationFailed    EventType = "invocation_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Module    string         `json:"module"` // vfunction, partitions
	Target    string         `json:"target"` // e.g. CPC1/part1/vf1
	State     string         `json:"state,omitempty"`
	CheckMode bool           `json:"check_mode"`
	Changed   bool           `json:"changed"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only invocation logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// NewRunID returns a new invocation id.
func NewRunID() string {
	return uuid.NewString()
}

// Append adds a new event to the ledger. A missing run id or timestamp is
// filled in.
func (l *Ledger) Append(entry *Entry) error {
	if entry.RunID == "" {
		entry.RunID = NewRunID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var payloadJSON []byte
	if entry.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	result, err := l.db.Exec(`
		INSERT INTO invocation_ledger
			(run_id, event_type, timestamp, module, target, state, check_mode, changed, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.RunID, string(entry.EventType), entry.Timestamp.Unix(), entry.Module, entry.Target,
		entry.State, entry.CheckMode, entry.Changed, entry.Message, string(payloadJSON))
	if err != nil {
		return err
	}

	entry.ID, err = result.LastInsertId()
	return err
}

// Recent returns the most recent entries, newest first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, run_id, event_type, timestamp, module, target, state, check_mode, changed, message, payload
		FROM invocation_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByRunID returns the entries of the invocations whose run id starts with
// runID, so the short ids printed by history can be used as well.
func (l *Ledger) GetByRunID(runID string) ([]*Entry, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := l.db.Query(`
		SELECT id, run_id, event_type, timestamp, module, target, state, check_mode, changed, message, payload
		FROM invocation_ledger
		WHERE substr(run_id, 1, ?) = ?
		ORDER BY id
	`, len(runID), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM invocation_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var target, state, message, payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.EventType, &timestamp, &entry.Module,
			&target, &state, &entry.CheckMode, &entry.Changed, &message, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Target = target.String
		entry.State = state.String
		entry.Message = message.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
