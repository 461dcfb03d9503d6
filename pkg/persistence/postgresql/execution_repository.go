package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , funnel_id
  , contact_id
  , current_node_id
  , status
  , context
  , error_message
  , started_at
  , completed_at
  , last_action_at
`

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		contextJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.FunnelID,
		&execution.ContactID,
		&execution.CurrentNodeID,
		&execution.Status,
		&contextJSON,
		&execution.ErrorMessage,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.LastActionAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	return &execution, nil
}

// Create inserts a new execution row.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO funnel_executions
			(id, funnel_id, contact_id, current_node_id, status, context, error_message, started_at, completed_at, last_action_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.FunnelID,
		execution.ContactID,
		execution.CurrentNodeID,
		execution.Status,
		contextJSON,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.CompletedAt,
		execution.LastActionAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update persists the mutable fields of an execution.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		UPDATE funnel_executions
		SET current_node_id = $2,
			status = $3,
			context = $4,
			error_message = $5,
			completed_at = $6,
			last_action_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.CurrentNodeID,
		execution.Status,
		contextJSON,
		execution.ErrorMessage,
		execution.CompletedAt,
		execution.LastActionAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// GetByID returns an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM funnel_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// GetWaiting returns up to limit waiting executions with a recorded last
// action, oldest first so a backlog drains fairly.
func (r *ExecutionRepository) GetWaiting(ctx context.Context, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM funnel_executions
		WHERE status = $1 AND last_action_at IS NOT NULL
		ORDER BY last_action_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, models.ExecutionStatusWaiting, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// GetActive returns the running or waiting execution holding the
// (funnel, contact) slot, or nil when the slot is free.
func (r *ExecutionRepository) GetActive(ctx context.Context, funnelID, contactID string) (*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM funnel_executions
		WHERE funnel_id = $1 AND contact_id = $2 AND status IN ($3, $4)
		LIMIT 1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query,
		funnelID, contactID, models.ExecutionStatusRunning, models.ExecutionStatusWaiting))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query active execution: %w", err)
	}

	return execution, nil
}

// ReleaseStale marks the execution failed only while it is still active and
// its last action is missing or older than staleBefore. The condition lives
// in the UPDATE itself so concurrent guards cannot both observe success.
func (r *ExecutionRepository) ReleaseStale(ctx context.Context, executionID string, staleBefore time.Time, reason string) (bool, error) {
	query := `
		UPDATE funnel_executions
		SET status = $2, error_message = $3
		WHERE id = $1
			AND status IN ($4, $5)
			AND (last_action_at IS NULL OR last_action_at < $6)
	`

	result, err := r.db.ExecContext(ctx, query,
		executionID,
		models.ExecutionStatusFailed,
		reason,
		models.ExecutionStatusRunning,
		models.ExecutionStatusWaiting,
		staleBefore,
	)
	if err != nil {
		return false, persistence.NewExecutionError("ReleaseStale", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewExecutionError("ReleaseStale", executionID, err)
	}

	return affected > 0, nil
}
