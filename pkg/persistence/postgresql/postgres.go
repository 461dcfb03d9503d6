// Package postgresql provides PostgreSQL persistence implementation for the
// funnel store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	funnelRepo   *FunnelRepository
	execRepo     *ExecutionRepository
	logRepo      *ActionLogRepository
	contactRepo  *ContactRepository
	instanceRepo *InstanceRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		funnelRepo:   NewFunnelRepository(database, logger),
		execRepo:     NewExecutionRepository(database, logger),
		logRepo:      NewActionLogRepository(database, logger),
		contactRepo:  NewContactRepository(database, logger),
		instanceRepo: NewInstanceRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) FunnelByID(ctx context.Context, id string) (*models.Funnel, error) {
	return p.funnelRepo.GetByID(ctx, id)
}

func (p *Persistence) ActiveFunnels(ctx context.Context, companyID string) ([]*models.Funnel, error) {
	return p.funnelRepo.GetActive(ctx, companyID)
}

func (p *Persistence) SaveFunnel(ctx context.Context, funnel *models.Funnel) error {
	return p.funnelRepo.Save(ctx, funnel)
}

func (p *Persistence) AddFunnelStats(ctx context.Context, funnelID string, delta models.FunnelStats) error {
	return p.funnelRepo.AddStats(ctx, funnelID, delta)
}

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return p.execRepo.Create(ctx, execution)
}

func (p *Persistence) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	return p.execRepo.Update(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.execRepo.GetByID(ctx, id)
}

func (p *Persistence) WaitingExecutions(ctx context.Context, limit int) ([]*models.Execution, error) {
	return p.execRepo.GetWaiting(ctx, limit)
}

func (p *Persistence) ActiveExecution(ctx context.Context, funnelID, contactID string) (*models.Execution, error) {
	return p.execRepo.GetActive(ctx, funnelID, contactID)
}

func (p *Persistence) ReleaseStaleExecution(ctx context.Context, executionID string, staleBefore time.Time, reason string) (bool, error) {
	return p.execRepo.ReleaseStale(ctx, executionID, staleBefore, reason)
}

func (p *Persistence) CreateActionLog(ctx context.Context, entry *models.ActionLog) error {
	return p.logRepo.Create(ctx, entry)
}

func (p *Persistence) UpdateActionLog(ctx context.Context, entry *models.ActionLog) error {
	return p.logRepo.Update(ctx, entry)
}

func (p *Persistence) ActionLogsByExecution(ctx context.Context, executionID string) ([]*models.ActionLog, error) {
	return p.logRepo.GetByExecution(ctx, executionID)
}

func (p *Persistence) ContactByID(ctx context.Context, id string) (*models.Contact, error) {
	return p.contactRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveContact(ctx context.Context, contact *models.Contact) error {
	return p.contactRepo.Save(ctx, contact)
}

func (p *Persistence) ContactsWithoutReply(ctx context.Context, funnelID, companyID string, inactiveSince, completedSince time.Time, limit int) ([]*models.Contact, error) {
	return p.contactRepo.GetWithoutReply(ctx, funnelID, companyID, inactiveSince, completedSince, limit)
}

func (p *Persistence) MessagingInstanceByCompany(ctx context.Context, companyID string) (*models.MessagingInstance, error) {
	return p.instanceRepo.GetByCompany(ctx, companyID)
}

func (p *Persistence) SaveMessagingInstance(ctx context.Context, instance *models.MessagingInstance) error {
	return p.instanceRepo.Save(ctx, instance)
}
