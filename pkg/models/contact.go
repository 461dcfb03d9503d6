package models

import "time"

// Temperature classifies a lead's engagement level.
type Temperature string

const (
	TemperatureCold Temperature = "cold"
	TemperatureWarm Temperature = "warm"
	TemperatureHot  Temperature = "hot"
)

// Contact is the CRM record a funnel runs against. The engine reads it in
// condition and filter nodes and mutates it through action nodes; everything
// else about contacts belongs to the CRM.
type Contact struct {
	ID            string         `json:"id"`
	CompanyID     string         `json:"company_id" validate:"required"`
	Name          string         `json:"name"`
	Phone         string         `json:"phone"`
	Email         string         `json:"email"`
	Source        string         `json:"source"`
	Tags          []string       `json:"tags"`
	Temperature   Temperature    `json:"temperature"`
	CustomFields  map[string]any `json:"custom_fields"`
	LeadScore     int            `json:"lead_score"`
	LastInboundAt *time.Time     `json:"last_inbound_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// HasAllTags reports whether the contact carries every given tag.
func (c *Contact) HasAllTags(tags []string) bool {
	for _, tag := range tags {
		if !c.HasTag(tag) {
			return false
		}
	}

	return true
}

// HasAnyTag reports whether the contact carries at least one of the tags.
func (c *Contact) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if c.HasTag(tag) {
			return true
		}
	}

	return false
}

// MessagingInstance holds the per-company credentials the WhatsApp transport
// sends through.
type MessagingInstance struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"    validate:"required"`
	InstanceName string `json:"instance_name" validate:"required"`
	Token        string `json:"token"`
}
