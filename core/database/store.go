package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Execution is one audited command run.
type Execution struct {
	ID         int64     `db:"id"`
	Command    string    `db:"command"`
	Sender     string    `db:"sender"`
	Chat       string    `db:"chat"`
	MessageID  string    `db:"message_id"`
	Status     string    `db:"status"`
	Error      string    `db:"error"`
	DurationMS int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// ExecutionStore persists command executions.
type ExecutionStore struct {
	db *sqlx.DB
}

// NewExecutionStore wraps db.
func NewExecutionStore(db *sqlx.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const insertExecution = `INSERT INTO command_executions
	(command, sender, chat, message_id, status, error, duration_ms, created_at)
	VALUES (:command, :sender, :chat, :message_id, :status, :error, :duration_ms, :created_at)`

// Record stores e. A zero CreatedAt is set to now.
func (s *ExecutionStore) Record(ctx context.Context, e Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, insertExecution, e); err != nil {
		return fmt.Errorf("record execution %s: %w", e.Command, err)
	}
	return nil
}

// Recent returns up to limit executions, newest first.
func (s *ExecutionStore) Recent(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []Execution
	q := s.db.Rebind(`SELECT id, command, sender, chat, message_id, status, error, duration_ms, created_at
		FROM command_executions ORDER BY id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	return out, nil
}
