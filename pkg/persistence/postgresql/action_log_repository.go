package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
)

// ActionLogRepository handles the append-only node processing audit trail.
type ActionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewActionLogRepository creates a new action log repository.
func NewActionLogRepository(db *sql.DB, logger *slog.Logger) *ActionLogRepository {
	return &ActionLogRepository{db: db, logger: logger}
}

// Create inserts a new log entry, normally in status pending.
func (r *ActionLogRepository) Create(ctx context.Context, entry *models.ActionLog) error {
	inputJSON, err := json.Marshal(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal action log input: %w", err)
	}

	outputJSON, err := json.Marshal(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal action log output: %w", err)
	}

	query := `
		INSERT INTO funnel_action_logs
			(id, execution_id, node_id, node_type, status, input, output, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.NodeID,
		entry.NodeType,
		entry.Status,
		inputJSON,
		outputJSON,
		entry.ErrorMessage,
		entry.DurationMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}

	return nil
}

// Update finalizes a pending entry with its outcome.
func (r *ActionLogRepository) Update(ctx context.Context, entry *models.ActionLog) error {
	outputJSON, err := json.Marshal(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal action log output: %w", err)
	}

	query := `
		UPDATE funnel_action_logs
		SET status = $2, output = $3, error_message = $4, duration_ms = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Status,
		outputJSON,
		entry.ErrorMessage,
		entry.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to update action log: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update action log: %w", err)
	}

	if affected == 0 {
		return persistence.ErrActionLogNotFound
	}

	return nil
}

// GetByExecution returns the processing trail of an execution in order.
func (r *ActionLogRepository) GetByExecution(ctx context.Context, executionID string) ([]*models.ActionLog, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, status, input, output, error_message, duration_ms, created_at
		FROM funnel_action_logs
		WHERE execution_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.ActionLog, 0)

	for rows.Next() {
		var (
			entry      models.ActionLog
			inputJSON  []byte
			outputJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.NodeID,
			&entry.NodeType,
			&entry.Status,
			&inputJSON,
			&outputJSON,
			&entry.ErrorMessage,
			&entry.DurationMS,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}

		if err := json.Unmarshal(inputJSON, &entry.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action log input: %w", err)
		}

		if err := json.Unmarshal(outputJSON, &entry.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action log output: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return entries, nil
}
