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

// ContactRepository handles contact reads and the field mutations performed
// by action nodes.
type ContactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(db *sql.DB, logger *slog.Logger) *ContactRepository {
	return &ContactRepository{db: db, logger: logger}
}

const contactColumns = `
	id
  , company_id
  , name
  , phone
  , email
  , source
  , tags
  , temperature
  , custom_fields
  , lead_score
  , last_inbound_at
  , updated_at
`

func (r *ContactRepository) scanContact(row rowScanner) (*models.Contact, error) {
	var (
		contact    models.Contact
		tagsJSON   []byte
		fieldsJSON []byte
	)

	err := row.Scan(
		&contact.ID,
		&contact.CompanyID,
		&contact.Name,
		&contact.Phone,
		&contact.Email,
		&contact.Source,
		&tagsJSON,
		&contact.Temperature,
		&fieldsJSON,
		&contact.LeadScore,
		&contact.LastInboundAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tagsJSON, &contact.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact tags: %w", err)
	}

	if err := json.Unmarshal(fieldsJSON, &contact.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact custom fields: %w", err)
	}

	return &contact, nil
}

// GetByID returns a contact by its ID.
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	contact, err := r.scanContact(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	return contact, nil
}

// Save inserts or updates a contact.
func (r *ContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	contact.UpdatedAt = time.Now().UTC()

	if contact.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate contact ID: %w", err)
		}

		contact.ID = id.String()
	}

	if contact.Tags == nil {
		contact.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(contact.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal contact tags: %w", err)
	}

	fieldsJSON, err := json.Marshal(contact.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal contact custom fields: %w", err)
	}

	query := `
		INSERT INTO contacts
			(id, company_id, name, phone, email, source, tags, temperature, custom_fields, lead_score, last_inbound_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			source = EXCLUDED.source,
			tags = EXCLUDED.tags,
			temperature = EXCLUDED.temperature,
			custom_fields = EXCLUDED.custom_fields,
			lead_score = EXCLUDED.lead_score,
			last_inbound_at = EXCLUDED.last_inbound_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		contact.ID,
		contact.CompanyID,
		contact.Name,
		contact.Phone,
		contact.Email,
		contact.Source,
		tagsJSON,
		contact.Temperature,
		fieldsJSON,
		contact.LeadScore,
		contact.LastInboundAt,
		contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return nil
}

// GetWithoutReply selects contacts eligible for a no-response trigger: last
// inbound message recorded and older than inactiveSince, no active execution
// of the funnel, and no execution completed after completedSince (the
// anti-loop window).
func (r *ContactRepository) GetWithoutReply(ctx context.Context, funnelID, companyID string, inactiveSince, completedSince time.Time, limit int) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts c
		WHERE c.company_id = $2
			AND c.last_inbound_at IS NOT NULL
			AND c.last_inbound_at < $3
			AND NOT EXISTS (
				SELECT 1 FROM funnel_executions fe
				WHERE fe.funnel_id = $1
					AND fe.contact_id = c.id
					AND (
						fe.status IN ($4, $5)
						OR (fe.status = $6 AND fe.started_at > $7)
					)
			)
		ORDER BY c.last_inbound_at ASC
		LIMIT $8
	`

	rows, err := r.db.QueryContext(ctx, query,
		funnelID,
		companyID,
		inactiveSince,
		models.ExecutionStatusRunning,
		models.ExecutionStatusWaiting,
		models.ExecutionStatusCompleted,
		completedSince,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts without reply: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	contacts := make([]*models.Contact, 0)

	for rows.Next() {
		contact, err := r.scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

// InstanceRepository handles messaging instance credentials.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// GetByCompany returns the first messaging instance configured for a company.
func (r *InstanceRepository) GetByCompany(ctx context.Context, companyID string) (*models.MessagingInstance, error) {
	query := `
		SELECT id, company_id, instance_name, token
		FROM messaging_instances
		WHERE company_id = $1
		LIMIT 1
	`

	var instance models.MessagingInstance

	err := r.db.QueryRowContext(ctx, query, companyID).Scan(
		&instance.ID,
		&instance.CompanyID,
		&instance.InstanceName,
		&instance.Token,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to query messaging instance: %w", err)
	}

	return &instance, nil
}

// Save inserts or updates a messaging instance.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.MessagingInstance) error {
	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	query := `
		INSERT INTO messaging_instances (id, company_id, instance_name, token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			instance_name = EXCLUDED.instance_name,
			token = EXCLUDED.token
	`

	_, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.CompanyID,
		instance.InstanceName,
		instance.Token,
	)
	if err != nil {
		return fmt.Errorf("failed to save messaging instance %s: %w", instance.ID, err)
	}

	return nil
}
