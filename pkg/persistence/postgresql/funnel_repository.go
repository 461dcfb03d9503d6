package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
)

// FunnelRepository handles funnel-related database operations.
type FunnelRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFunnelRepository creates a new funnel repository.
func NewFunnelRepository(db *sql.DB, logger *slog.Logger) *FunnelRepository {
	return &FunnelRepository{db: db, logger: logger}
}

const funnelColumns = `
	id
  , company_id
  , name
  , description
  , active
  , graph
  , stats
  , created_at
  , updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FunnelRepository) scanFunnel(row rowScanner) (*models.Funnel, error) {
	var (
		funnel    models.Funnel
		graphJSON []byte
		statsJSON []byte
	)

	err := row.Scan(
		&funnel.ID,
		&funnel.CompanyID,
		&funnel.Name,
		&funnel.Description,
		&funnel.Active,
		&graphJSON,
		&statsJSON,
		&funnel.CreatedAt,
		&funnel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(graphJSON, &funnel.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel graph: %w", err)
	}

	if err := json.Unmarshal(statsJSON, &funnel.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel stats: %w", err)
	}

	return &funnel, nil
}

// GetByID returns a funnel by its ID.
func (r *FunnelRepository) GetByID(ctx context.Context, id string) (*models.Funnel, error) {
	query := `SELECT ` + funnelColumns + ` FROM funnels WHERE id = $1`

	funnel, err := r.scanFunnel(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFunnelError("GetByID", id, persistence.ErrFunnelNotFound)
		}

		return nil, persistence.NewFunnelError("GetByID", id, err)
	}

	return funnel, nil
}

// GetActive returns active funnels, scoped to a company when companyID is
// non-empty, newest first.
func (r *FunnelRepository) GetActive(ctx context.Context, companyID string) ([]*models.Funnel, error) {
	query := `SELECT ` + funnelColumns + ` FROM funnels WHERE active = TRUE`

	var args []any

	if companyID != "" {
		query += ` AND company_id = $1`

		args = append(args, companyID)
	}

	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active funnels: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	funnels := make([]*models.Funnel, 0)

	for rows.Next() {
		funnel, err := r.scanFunnel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan funnel: %w", err)
		}

		funnels = append(funnels, funnel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnels: %w", err)
	}

	return funnels, nil
}

// Save inserts or updates a funnel.
func (r *FunnelRepository) Save(ctx context.Context, funnel *models.Funnel) error {
	now := time.Now().UTC()

	if funnel.CreatedAt.IsZero() {
		funnel.CreatedAt = now
	}

	funnel.UpdatedAt = now

	if funnel.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate funnel ID: %w", err)
		}

		funnel.ID = id.String()
	}

	graphJSON, err := json.Marshal(funnel.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal funnel graph: %w", err)
	}

	statsJSON, err := json.Marshal(funnel.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal funnel stats: %w", err)
	}

	query := `
		INSERT INTO funnels (id, company_id, name, description, active, graph, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			graph = EXCLUDED.graph,
			stats = EXCLUDED.stats,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		funnel.ID,
		funnel.CompanyID,
		funnel.Name,
		funnel.Description,
		funnel.Active,
		graphJSON,
		statsJSON,
		funnel.CreatedAt,
		funnel.UpdatedAt,
	)
	if err != nil {
		return persistence.NewFunnelError("Save", funnel.ID, err)
	}

	return nil
}

// AddStats increments the aggregate counters atomically in the stored JSON.
func (r *FunnelRepository) AddStats(ctx context.Context, funnelID string, delta models.FunnelStats) error {
	query := `
		UPDATE funnels
		SET stats = jsonb_build_object(
			'total_executions', COALESCE((stats->>'total_executions')::int, 0) + $2,
			'completed_executions', COALESCE((stats->>'completed_executions')::int, 0) + $3,
			'failed_executions', COALESCE((stats->>'failed_executions')::int, 0) + $4
		),
		updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		funnelID,
		delta.TotalExecutions,
		delta.CompletedExecutions,
		delta.FailedExecutions,
	)
	if err != nil {
		return persistence.NewFunnelError("AddStats", funnelID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFunnelError("AddStats", funnelID, err)
	}

	if affected == 0 {
		return persistence.NewFunnelError("AddStats", funnelID, persistence.ErrFunnelNotFound)
	}

	return nil
}
