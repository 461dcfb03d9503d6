// Package testutil provides test data builders for funnels, contacts and
// graphs.
package testutil

import (
	"github.com/google/uuid"

	"github.com/nexusflow/funnel/pkg/models"
)

// CreateTestNode creates a node with default values that can be overridden.
// Node ids must not contain underscores, matching what the graph editor
// generates.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     "node-" + uuid.New().String()[:8],
		Type:   models.NodeTypeAddTag,
		Title:  "Test Node",
		Config: map[string]any{"tag_name": "test"},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithTitle sets the node title.
func WithTitle(title string) func(*models.Node) {
	return func(n *models.Node) {
		n.Title = title
	}
}

// Connect builds a connection between two nodes through the given ports.
func Connect(startNode, startPort, endNode, endPort string) *models.Connection {
	return &models.Connection{
		Start: models.Handle{NodeID: startNode, Port: startPort},
		End:   models.Handle{NodeID: endNode, Port: endPort},
	}
}

// CreateTestFunnel creates an active funnel whose graph is a keyword trigger
// connected to an add_tag action. Overrides mutate the funnel after defaults
// are applied.
func CreateTestFunnel(overrides ...func(*models.Funnel)) *models.Funnel {
	funnel := &models.Funnel{
		ID:          uuid.New().String(),
		CompanyID:   "company-1",
		Name:        "Test Funnel",
		Description: "A funnel for testing",
		Active:      true,
		Graph: models.Graph{
			Nodes: []*models.Node{
				CreateTestNode(WithID("trigger-1"), WithType(models.NodeTypeTriggerKeyword), WithConfig(map[string]any{
					"triggerEvent": "received_message_keyword",
					"keywords":     []any{"oi"},
					"match_type":   "exact",
				})),
				CreateTestNode(WithID("tag-1"), WithType(models.NodeTypeAddTag), WithConfig(map[string]any{
					"tag_name": "engaged",
				})),
			},
			Connections: []*models.Connection{
				Connect("trigger-1", "output", "tag-1", "input"),
			},
		},
	}

	for _, override := range overrides {
		override(funnel)
	}

	return funnel
}

// WithGraph replaces the funnel graph.
func WithGraph(nodes []*models.Node, connections []*models.Connection) func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.Graph = models.Graph{Nodes: nodes, Connections: connections}
	}
}

// WithCompany sets the funnel's company.
func WithCompany(companyID string) func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.CompanyID = companyID
	}
}

// Inactive marks the funnel inactive.
func Inactive() func(*models.Funnel) {
	return func(f *models.Funnel) {
		f.Active = false
	}
}

// CreateTestContact creates a contact with default values that can be
// overridden.
func CreateTestContact(overrides ...func(*models.Contact)) *models.Contact {
	contact := &models.Contact{
		ID:          uuid.New().String(),
		CompanyID:   "company-1",
		Name:        "Maria",
		Phone:       "+55 (11) 91234-5678",
		Email:       "maria@example.com",
		Tags:        []string{},
		Temperature: models.TemperatureCold,
	}

	for _, override := range overrides {
		override(contact)
	}

	return contact
}

// WithTags sets the contact's tags.
func WithTags(tags ...string) func(*models.Contact) {
	return func(c *models.Contact) {
		c.Tags = tags
	}
}

// WithTemperature sets the contact's temperature.
func WithTemperature(temp models.Temperature) func(*models.Contact) {
	return func(c *models.Contact) {
		c.Temperature = temp
	}
}
