package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

// ExecutionStore defines persistence for escalation executions and the
// append-only escalation history.
type ExecutionStore interface {
	// Store persists a newly started execution
	Store(ctx context.Context, exec *model.EscalationExecution) error

	// Update persists the current state of an execution
	Update(ctx context.Context, exec *model.EscalationExecution) error

	// Get retrieves an execution by id
	Get(ctx context.Context, id string) (*model.EscalationExecution, error)

	// ListActive retrieves executions that have not reached a terminal state
	ListActive(ctx context.Context) ([]*model.EscalationExecution, error)

	// AppendHistory records one chain transition
	AppendHistory(ctx context.Context, chainID string, entry model.EscalationHistoryEntry) error

	// History retrieves the most recent transitions for a chain
	History(ctx context.Context, chainID string, limit int) ([]model.EscalationHistoryEntry, error)

	// DeleteBefore deletes terminal executions older than the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteExecutionStore implements ExecutionStore using SQLite
type SQLiteExecutionStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteExecutionStore opens (or creates) the store at dbPath
func NewSQLiteExecutionStore(logger *zap.Logger, dbPath string) (*SQLiteExecutionStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteExecutionStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteExecutionStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS escalation_executions (
			id TEXT PRIMARY KEY,
			chain_id TEXT NOT NULL,
			ticket_id TEXT,
			alert_id TEXT,
			current_level INTEGER NOT NULL,
			level_history TEXT,
			status TEXT NOT NULL,
			metadata TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			resolution_notes TEXT,
			resolved_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_chain_id ON escalation_executions(chain_id);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON escalation_executions(status);
		CREATE INDEX IF NOT EXISTS idx_executions_started_at ON escalation_executions(started_at);

		CREATE TABLE IF NOT EXISTS escalation_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chain_id TEXT NOT NULL,
			ticket_id TEXT,
			from_user TEXT,
			to_user TEXT,
			level INTEGER NOT NULL,
			reason TEXT,
			timestamp DATETIME NOT NULL,
			success INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_chain_id ON escalation_history(chain_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements ExecutionStore.Store
func (s *SQLiteExecutionStore) Store(ctx context.Context, exec *model.EscalationExecution) error {
	levelHistory, err := json.Marshal(exec.LevelHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal level history: %w", err)
	}
	metadata, err := json.Marshal(exec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_executions (
			id, chain_id, ticket_id, alert_id, current_level,
			level_history, status, metadata, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.ChainID,
		exec.TicketID,
		exec.AlertID,
		exec.CurrentLevel,
		string(levelHistory),
		exec.Status,
		string(metadata),
		exec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store execution: %w", err)
	}
	return nil
}

// Update implements ExecutionStore.Update
func (s *SQLiteExecutionStore) Update(ctx context.Context, exec *model.EscalationExecution) error {
	levelHistory, err := json.Marshal(exec.LevelHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal level history: %w", err)
	}
	metadata, err := json.Marshal(exec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var completedAt sql.NullTime
	if exec.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *exec.CompletedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE escalation_executions SET
			current_level = ?,
			level_history = ?,
			status = ?,
			metadata = ?,
			completed_at = ?,
			resolution_notes = ?,
			resolved_by = ?
		WHERE id = ?`,
		exec.CurrentLevel,
		string(levelHistory),
		exec.Status,
		string(metadata),
		completedAt,
		sql.NullString{String: exec.ResolutionNotes, Valid: exec.ResolutionNotes != ""},
		sql.NullString{String: exec.ResolvedBy, Valid: exec.ResolvedBy != ""},
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

// Get implements ExecutionStore.Get
func (s *SQLiteExecutionStore) Get(ctx context.Context, id string) (*model.EscalationExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, chain_id, ticket_id, alert_id, current_level,
			level_history, status, metadata, started_at,
			completed_at, resolution_notes, resolved_by
		FROM escalation_executions
		WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	return exec, nil
}

// ListActive implements ExecutionStore.ListActive
func (s *SQLiteExecutionStore) ListActive(ctx context.Context) ([]*model.EscalationExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, chain_id, ticket_id, alert_id, current_level,
			level_history, status, metadata, started_at,
			completed_at, resolution_notes, resolved_by
		FROM escalation_executions
		WHERE status = ?
		ORDER BY started_at ASC`, model.ExecutionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active executions: %w", err)
	}
	defer rows.Close()

	var execs []*model.EscalationExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return execs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*model.EscalationExecution, error) {
	exec := &model.EscalationExecution{}
	var ticketID, alertID, levelHistory, metadata, notes, resolvedBy sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&exec.ID,
		&exec.ChainID,
		&ticketID,
		&alertID,
		&exec.CurrentLevel,
		&levelHistory,
		&exec.Status,
		&metadata,
		&exec.StartedAt,
		&completedAt,
		&notes,
		&resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	exec.TicketID = ticketID.String
	exec.AlertID = alertID.String
	exec.ResolutionNotes = notes.String
	exec.ResolvedBy = resolvedBy.String
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	if levelHistory.Valid && levelHistory.String != "" {
		if err := json.Unmarshal([]byte(levelHistory.String), &exec.LevelHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal level history: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &exec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return exec, nil
}

// AppendHistory implements ExecutionStore.AppendHistory
func (s *SQLiteExecutionStore) AppendHistory(ctx context.Context, chainID string, entry model.EscalationHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_history (
			chain_id, ticket_id, from_user, to_user, level, reason, timestamp, success
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chainID,
		entry.TicketID,
		entry.FromUser,
		entry.ToUser,
		entry.Level,
		entry.Reason,
		entry.Timestamp,
		entry.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to append escalation history: %w", err)
	}
	return nil
}

// History implements ExecutionStore.History
func (s *SQLiteExecutionStore) History(ctx context.Context, chainID string, limit int) ([]model.EscalationHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, from_user, to_user, level, reason, timestamp, success
		FROM escalation_history
		WHERE chain_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation history: %w", err)
	}
	defer rows.Close()

	var entries []model.EscalationHistoryEntry
	for rows.Next() {
		var entry model.EscalationHistoryEntry
		var ticketID, fromUser, toUser, reason sql.NullString
		if err := rows.Scan(&ticketID, &fromUser, &toUser, &entry.Level, &reason, &entry.Timestamp, &entry.Success); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.TicketID = ticketID.String
		entry.FromUser = fromUser.String
		entry.ToUser = toUser.String
		entry.Reason = reason.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// DeleteBefore implements ExecutionStore.DeleteBefore
func (s *SQLiteExecutionStore) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM escalation_executions
		WHERE started_at < ? AND status != ?`, before, model.ExecutionActive)
	if err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old escalation executions",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteExecutionStore) Close() error {
	return s.db.Close()
}
