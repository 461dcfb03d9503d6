// Package models defines the core domain models for funnel automation graphs.
package models

// NodeType identifies the processor responsible for a graph node. The set is
// closed: the engine dispatches with an exhaustive switch and rejects unknown
// types at graph-load time.
type NodeType string

const (
	// Trigger nodes are graph entry markers; matching logic lives in the scheduler.
	NodeTypeTriggerWhatsApp NodeType = "trigger_whatsapp"
	NodeTypeTriggerKeyword  NodeType = "trigger_keyword"
	NodeTypeTriggerCRM      NodeType = "trigger_crm"

	// Action nodes perform exactly one side effect.
	NodeTypeSendWhatsApp      NodeType = "send_whatsapp"
	NodeTypeSendEmail         NodeType = "send_email"
	NodeTypeSendTelegram      NodeType = "send_telegram"
	NodeTypeAssignAgent       NodeType = "assign_agent"
	NodeTypeAddTag            NodeType = "add_tag"
	NodeTypeRemoveTag         NodeType = "remove_tag"
	NodeTypeUpdateLead        NodeType = "update_lead"
	NodeTypeUpdateTemperature NodeType = "update_temperature"

	// Control nodes suspend, branch, or terminate the execution.
	NodeTypeWait             NodeType = "wait"
	NodeTypeCondition        NodeType = "condition"
	NodeTypeFilterByTags     NodeType = "filter_by_tags"
	NodeTypeRemoveFromFunnel NodeType = "remove_from_funnel"
)

// AllNodeTypes lists every type the engine knows how to process.
var AllNodeTypes = []NodeType{
	NodeTypeTriggerWhatsApp,
	NodeTypeTriggerKeyword,
	NodeTypeTriggerCRM,
	NodeTypeSendWhatsApp,
	NodeTypeSendEmail,
	NodeTypeSendTelegram,
	NodeTypeAssignAgent,
	NodeTypeAddTag,
	NodeTypeRemoveTag,
	NodeTypeUpdateLead,
	NodeTypeUpdateTemperature,
	NodeTypeWait,
	NodeTypeCondition,
	NodeTypeFilterByTags,
	NodeTypeRemoveFromFunnel,
}

// Node represents one typed step in a funnel graph.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Type   NodeType       `json:"type"   validate:"required"`
	Title  string         `json:"title"`
	Config map[string]any `json:"config"`
}

// IsTrigger reports whether the node is a graph entry marker. The original
// editor emits several trigger_* variants, so this is a prefix check over the
// closed set rather than an equality test.
func (n *Node) IsTrigger() bool {
	switch n.Type {
	case NodeTypeTriggerWhatsApp, NodeTypeTriggerKeyword, NodeTypeTriggerCRM:
		return true
	default:
		return false
	}
}

func (n *Node) IsAction() bool {
	switch n.Type {
	case NodeTypeSendWhatsApp, NodeTypeSendEmail, NodeTypeSendTelegram,
		NodeTypeAssignAgent, NodeTypeAddTag, NodeTypeRemoveTag,
		NodeTypeUpdateLead, NodeTypeUpdateTemperature:
		return true
	default:
		return false
	}
}

// Known reports whether t is part of the closed node type set.
func (t NodeType) Known() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}

	return false
}
