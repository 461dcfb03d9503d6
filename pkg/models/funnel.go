package models

import "time"

// Graph is the persisted shape of a funnel's node graph.
type Graph struct {
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
}

// NodeByID resolves a node by id. Executions re-resolve their current node
// through this on every tick, so edits to a live funnel are observed.
func (g *Graph) NodeByID(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// FirstTrigger returns the first trigger node in declaration order, or nil.
// First match wins; graphs with several triggers are not rejected.
func (g *Graph) FirstTrigger() *Node {
	for _, node := range g.Nodes {
		if node.IsTrigger() {
			return node
		}
	}

	return nil
}

// ConnectionsFrom returns the connections whose start handle is anchored at
// the given node.
func (g *Graph) ConnectionsFrom(nodeID string) []*Connection {
	var out []*Connection

	for _, conn := range g.Connections {
		if conn.Start.NodeID == nodeID {
			out = append(out, conn)
		}
	}

	return out
}

// FunnelStats are aggregate counters maintained by the engine.
type FunnelStats struct {
	TotalExecutions     int `json:"total_executions"`
	CompletedExecutions int `json:"completed_executions"`
	FailedExecutions    int `json:"failed_executions"`
}

// Funnel is a graph definition of an automation. The engine only reads it,
// apart from incrementing stats; the editor owns everything else.
type Funnel struct {
	ID          string      `json:"id"`
	CompanyID   string      `json:"company_id"  validate:"required"`
	Name        string      `json:"name"        validate:"required,min=3"`
	Description string      `json:"description"`
	Active      bool        `json:"active"`
	Graph       Graph       `json:"graph"`
	Stats       FunnelStats `json:"stats"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
