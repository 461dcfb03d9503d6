// Package file provides file-based persistence for funnels, executions and
// contacts. Each record is one JSON document on disk; queries scan the
// directory. Intended for development and tests, not production load.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
)

const (
	funnelsDir    = "funnels"
	executionsDir = "executions"
	contactsDir   = "contacts"
	actionLogsDir = "action_logs"
	instancesDir  = "instances"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a file persistence rooted at the given directory,
// accepting either a plain path or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

func (p *Persistence) path(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

func (p *Persistence) write(dir, id string, record any) error {
	if err := os.MkdirAll(filepath.Join(p.root, dir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	if err := os.WriteFile(p.path(dir, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", id, err)
	}

	return nil
}

func (p *Persistence) read(dir, id string, record any) error {
	data, err := os.ReadFile(p.path(dir, id))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, record)
}

// readAll decodes every record in dir through decode, which appends to its
// own result slice.
func (p *Persistence) readAll(dir string, decode func(data []byte) error) error {
	entries, err := os.ReadDir(filepath.Join(p.root, dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.root, dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read record %s: %w", entry.Name(), err)
		}

		if err := decode(data); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func (p *Persistence) FunnelByID(_ context.Context, id string) (*models.Funnel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var funnel models.Funnel

	err := p.read(funnelsDir, id, &funnel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewFunnelError("GetByID", id, persistence.ErrFunnelNotFound)
		}

		return nil, persistence.NewFunnelError("GetByID", id, err)
	}

	return &funnel, nil
}

func (p *Persistence) ActiveFunnels(_ context.Context, companyID string) ([]*models.Funnel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	funnels := make([]*models.Funnel, 0)

	err := p.readAll(funnelsDir, func(data []byte) error {
		var funnel models.Funnel
		if err := json.Unmarshal(data, &funnel); err != nil {
			return err
		}

		if funnel.Active && (companyID == "" || funnel.CompanyID == companyID) {
			funnels = append(funnels, &funnel)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(funnels, func(i, j int) bool {
		return funnels[i].CreatedAt.After(funnels[j].CreatedAt)
	})

	return funnels, nil
}

func (p *Persistence) SaveFunnel(_ context.Context, funnel *models.Funnel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

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

	return p.write(funnelsDir, funnel.ID, funnel)
}

func (p *Persistence) AddFunnelStats(_ context.Context, funnelID string, delta models.FunnelStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var funnel models.Funnel

	err := p.read(funnelsDir, funnelID, &funnel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewFunnelError("AddStats", funnelID, persistence.ErrFunnelNotFound)
		}

		return persistence.NewFunnelError("AddStats", funnelID, err)
	}

	funnel.Stats.TotalExecutions += delta.TotalExecutions
	funnel.Stats.CompletedExecutions += delta.CompletedExecutions
	funnel.Stats.FailedExecutions += delta.FailedExecutions

	return p.write(funnelsDir, funnelID, &funnel)
}

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(executionsDir, execution.ID, execution)
}

func (p *Persistence) UpdateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(p.path(executionsDir, execution.ID)); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return p.write(executionsDir, execution.ID, execution)
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var execution models.Execution

	err := p.read(executionsDir, id, &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (p *Persistence) WaitingExecutions(_ context.Context, limit int) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	err := p.readAll(executionsDir, func(data []byte) error {
		var execution models.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return err
		}

		if execution.Status == models.ExecutionStatusWaiting && execution.LastActionAt != nil {
			executions = append(executions, &execution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].LastActionAt.Before(*executions[j].LastActionAt)
	})

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (p *Persistence) ActiveExecution(_ context.Context, funnelID, contactID string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.activeExecutionLocked(funnelID, contactID)
}

func (p *Persistence) activeExecutionLocked(funnelID, contactID string) (*models.Execution, error) {
	var found *models.Execution

	err := p.readAll(executionsDir, func(data []byte) error {
		if found != nil {
			return nil
		}

		var execution models.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return err
		}

		if execution.FunnelID == funnelID && execution.ContactID == contactID && execution.Status.Active() {
			found = &execution
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

func (p *Persistence) ReleaseStaleExecution(_ context.Context, executionID string, staleBefore time.Time, reason string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var execution models.Execution

	err := p.read(executionsDir, executionID, &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, persistence.NewExecutionError("ReleaseStale", executionID, persistence.ErrExecutionNotFound)
		}

		return false, persistence.NewExecutionError("ReleaseStale", executionID, err)
	}

	if !execution.Status.Active() {
		return false, nil
	}

	if execution.LastActionAt != nil && !execution.LastActionAt.Before(staleBefore) {
		return false, nil
	}

	execution.Status = models.ExecutionStatusFailed
	execution.ErrorMessage = reason

	if err := p.write(executionsDir, executionID, &execution); err != nil {
		return false, err
	}

	return true, nil
}

func (p *Persistence) CreateActionLog(_ context.Context, entry *models.ActionLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write(actionLogsDir, entry.ID, entry)
}

func (p *Persistence) UpdateActionLog(_ context.Context, entry *models.ActionLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(p.path(actionLogsDir, entry.ID)); err != nil {
		return persistence.ErrActionLogNotFound
	}

	return p.write(actionLogsDir, entry.ID, entry)
}

func (p *Persistence) ActionLogsByExecution(_ context.Context, executionID string) ([]*models.ActionLog, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*models.ActionLog, 0)

	err := p.readAll(actionLogsDir, func(data []byte) error {
		var entry models.ActionLog
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}

		if entry.ExecutionID == executionID {
			entries = append(entries, &entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}

		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

func (p *Persistence) ContactByID(_ context.Context, id string) (*models.Contact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var contact models.Contact

	err := p.read(contactsDir, id, &contact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to read contact %s: %w", id, err)
	}

	return &contact, nil
}

func (p *Persistence) SaveContact(_ context.Context, contact *models.Contact) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	contact.UpdatedAt = time.Now().UTC()

	if contact.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate contact ID: %w", err)
		}

		contact.ID = id.String()
	}

	return p.write(contactsDir, contact.ID, contact)
}

func (p *Persistence) ContactsWithoutReply(_ context.Context, funnelID, companyID string, inactiveSince, completedSince time.Time, limit int) ([]*models.Contact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Collect the funnel's executions once so each contact check is a map
	// lookup rather than a directory scan.
	blocked := make(map[string]bool)

	err := p.readAll(executionsDir, func(data []byte) error {
		var execution models.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return err
		}

		if execution.FunnelID != funnelID {
			return nil
		}

		if execution.Status.Active() {
			blocked[execution.ContactID] = true
		}

		if execution.Status == models.ExecutionStatusCompleted && execution.StartedAt.After(completedSince) {
			blocked[execution.ContactID] = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	contacts := make([]*models.Contact, 0)

	err = p.readAll(contactsDir, func(data []byte) error {
		var contact models.Contact
		if err := json.Unmarshal(data, &contact); err != nil {
			return err
		}

		if contact.CompanyID != companyID || blocked[contact.ID] {
			return nil
		}

		if contact.LastInboundAt == nil || !contact.LastInboundAt.Before(inactiveSince) {
			return nil
		}

		contacts = append(contacts, &contact)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastInboundAt.Before(*contacts[j].LastInboundAt)
	})

	if len(contacts) > limit {
		contacts = contacts[:limit]
	}

	return contacts, nil
}

func (p *Persistence) MessagingInstanceByCompany(_ context.Context, companyID string) (*models.MessagingInstance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found *models.MessagingInstance

	err := p.readAll(instancesDir, func(data []byte) error {
		if found != nil {
			return nil
		}

		var instance models.MessagingInstance
		if err := json.Unmarshal(data, &instance); err != nil {
			return err
		}

		if instance.CompanyID == companyID {
			found = &instance
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrInstanceNotFound
	}

	return found, nil
}

func (p *Persistence) SaveMessagingInstance(_ context.Context, instance *models.MessagingInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	return p.write(instancesDir, instance.ID, instance)
}
