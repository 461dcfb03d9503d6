// Package persistence provides the data storage abstraction for funnels,
// executions, action logs and contacts.
package persistence

import (
	"context"
	"time"

	"github.com/nexusflow/funnel/pkg/models"
)

type Persistence interface {
	// Funnel definitions. The engine reads them and bumps stats counters;
	// everything else belongs to the editor.
	FunnelByID(ctx context.Context, id string) (*models.Funnel, error)
	// ActiveFunnels returns active funnels, scoped to a company when
	// companyID is non-empty.
	ActiveFunnels(ctx context.Context, companyID string) ([]*models.Funnel, error)
	SaveFunnel(ctx context.Context, funnel *models.Funnel) error
	// AddFunnelStats increments aggregate counters by the given deltas.
	AddFunnelStats(ctx context.Context, funnelID string, delta models.FunnelStats) error

	// Execution records.
	CreateExecution(ctx context.Context, execution *models.Execution) error
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	// WaitingExecutions returns up to limit executions in status waiting with
	// a recorded last action, oldest first.
	WaitingExecutions(ctx context.Context, limit int) ([]*models.Execution, error)
	// ActiveExecution returns the running or waiting execution for the pair,
	// or nil when the slot is free.
	ActiveExecution(ctx context.Context, funnelID, contactID string) (*models.Execution, error)
	// ReleaseStaleExecution marks the execution failed only if it is still
	// active and its last action is missing or older than staleBefore. It
	// reports whether the slot was actually released.
	ReleaseStaleExecution(ctx context.Context, executionID string, staleBefore time.Time, reason string) (bool, error)

	// Action logs, append-only.
	CreateActionLog(ctx context.Context, entry *models.ActionLog) error
	UpdateActionLog(ctx context.Context, entry *models.ActionLog) error
	ActionLogsByExecution(ctx context.Context, executionID string) ([]*models.ActionLog, error)

	// Contacts.
	ContactByID(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
	// ContactsWithoutReply returns up to limit contacts of the company whose
	// last inbound message predates inactiveSince, excluding contacts that
	// hold an active execution of the funnel or completed one after
	// completedSince.
	ContactsWithoutReply(ctx context.Context, funnelID, companyID string, inactiveSince, completedSince time.Time, limit int) ([]*models.Contact, error)

	// Messaging credentials.
	MessagingInstanceByCompany(ctx context.Context, companyID string) (*models.MessagingInstance, error)
	SaveMessagingInstance(ctx context.Context, instance *models.MessagingInstance) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
