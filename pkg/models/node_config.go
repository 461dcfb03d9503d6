package models

import (
	"errors"
	"fmt"
	"time"
)

// Typed per-variant node configurations. The opaque config map on a Node is
// decoded into one of these at graph-load time, so malformed graphs are
// rejected before any execution references them.

var (
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrInvalidConfig   = errors.New("invalid node configuration")
)

// WaitUnit is the time unit of a wait node or a no-response threshold.
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

func (u WaitUnit) base() time.Duration {
	switch u {
	case WaitUnitMinutes:
		return time.Minute
	case WaitUnitHours:
		return time.Hour
	case WaitUnitDays:
		return 24 * time.Hour
	default:
		return 0
	}
}

// WaitConfig configures a wait node.
type WaitConfig struct {
	Value int
	Unit  WaitUnit
}

// Duration converts the configured (value, unit) pair. Unrecognized units
// fall back to hours, the editor's historical default.
func (c WaitConfig) Duration() time.Duration {
	base := c.Unit.base()
	if base == 0 {
		base = time.Hour
	}

	return time.Duration(c.Value) * base
}

func ParseWaitConfig(config map[string]any) WaitConfig {
	value, ok := configInt(config, "wait_value")
	if !ok || value < 1 {
		value = 1
	}

	unit := WaitUnit(configString(config, "wait_unit"))
	if unit == "" {
		unit = WaitUnitHours
	}

	return WaitConfig{Value: value, Unit: unit}
}

// ConditionType selects the predicate kind a condition node evaluates.
type ConditionType string

const (
	ConditionTagCheck         ConditionType = "tag_check"
	ConditionTemperatureCheck ConditionType = "temperature_check"
	ConditionCustomField      ConditionType = "custom_field"
	ConditionLeadScore        ConditionType = "lead_score"
)

// ConditionConfig configures a condition node. An empty Type is evaluated as
// a tag check for compatibility with graphs authored before condition_type
// existed.
type ConditionConfig struct {
	Type        ConditionType
	Tag         string
	Temperature Temperature
	FieldName   string
	FieldValue  string
	Operator    Operator
	ScoreValue  int
}

func ParseConditionConfig(config map[string]any) (ConditionConfig, error) {
	cfg := ConditionConfig{
		Type:        ConditionType(configString(config, "condition_type")),
		Tag:         configString(config, "tag_check"),
		Temperature: Temperature(configString(config, "temperature_value")),
		FieldName:   configString(config, "field_name"),
		FieldValue:  configString(config, "field_value"),
		Operator:    Operator(configString(config, "operator")),
	}

	if score, ok := configInt(config, "score_value"); ok {
		cfg.ScoreValue = score
	}

	switch cfg.Type {
	case "", ConditionTagCheck, ConditionTemperatureCheck, ConditionCustomField:
	case ConditionLeadScore:
		if !cfg.Operator.Known() {
			return cfg, fmt.Errorf("%w: lead_score condition requires a known operator, got %q", ErrInvalidConfig, cfg.Operator)
		}
	default:
		return cfg, fmt.Errorf("%w: unknown condition_type %q", ErrInvalidConfig, cfg.Type)
	}

	return cfg, nil
}

// TagFilterMode selects how a tag set is matched.
type TagFilterMode string

const (
	TagFilterHasAll  TagFilterMode = "has_all"
	TagFilterHasAny  TagFilterMode = "has_any"
	TagFilterHasNone TagFilterMode = "has_none"
)

// FilterConfig configures a filter_by_tags node.
type FilterConfig struct {
	Mode TagFilterMode
	Tags []string
}

func ParseFilterConfig(config map[string]any) (FilterConfig, error) {
	cfg := FilterConfig{
		Mode: TagFilterMode(configString(config, "filter_mode")),
		Tags: configStrings(config, "filter_tags"),
	}

	if cfg.Mode == "" {
		cfg.Mode = TagFilterHasAll
	}

	switch cfg.Mode {
	case TagFilterHasAll, TagFilterHasAny, TagFilterHasNone:
	default:
		return cfg, fmt.Errorf("%w: unknown filter_mode %q", ErrInvalidConfig, cfg.Mode)
	}

	return cfg, nil
}

// RemovalConfig configures a remove_from_funnel node. has_none is not a valid
// removal mode.
type RemovalConfig struct {
	Mode TagFilterMode
	Tags []string
}

func ParseRemovalConfig(config map[string]any) (RemovalConfig, error) {
	cfg := RemovalConfig{
		Mode: TagFilterMode(configString(config, "removal_mode")),
		Tags: configStrings(config, "removal_tags"),
	}

	if cfg.Mode == "" {
		cfg.Mode = TagFilterHasAny
	}

	switch cfg.Mode {
	case TagFilterHasAny, TagFilterHasAll:
	default:
		return cfg, fmt.Errorf("%w: unknown removal_mode %q", ErrInvalidConfig, cfg.Mode)
	}

	return cfg, nil
}

// MessageConfig configures send_whatsapp and send_telegram nodes.
type MessageConfig struct {
	Message string
}

func ParseMessageConfig(config map[string]any) MessageConfig {
	return MessageConfig{Message: configString(config, "message")}
}

// EmailConfig configures a send_email node.
type EmailConfig struct {
	Subject string
	Body    string
}

func ParseEmailConfig(config map[string]any) EmailConfig {
	return EmailConfig{
		Subject: configString(config, "subject"),
		Body:    configString(config, "body"),
	}
}

// AssignAgentConfig configures an assign_agent node.
type AssignAgentConfig struct {
	AgentID string
}

func ParseAssignAgentConfig(config map[string]any) (AssignAgentConfig, error) {
	cfg := AssignAgentConfig{AgentID: configString(config, "agent_id")}
	if cfg.AgentID == "" {
		return cfg, fmt.Errorf("%w: assign_agent requires agent_id", ErrInvalidConfig)
	}

	return cfg, nil
}

// TagConfig configures add_tag and remove_tag nodes.
type TagConfig struct {
	Tag string
}

func ParseTagConfig(config map[string]any) (TagConfig, error) {
	cfg := TagConfig{Tag: configString(config, "tag_name")}
	if cfg.Tag == "" {
		return cfg, fmt.Errorf("%w: tag action requires tag_name", ErrInvalidConfig)
	}

	return cfg, nil
}

// TagsAction selects the submode for update_lead tag changes.
type TagsAction string

const (
	TagsActionAdd     TagsAction = "add"
	TagsActionReplace TagsAction = "replace"
	TagsActionRemove  TagsAction = "remove"
)

// UpdateLeadConfig configures an update_lead node. Only set fields are
// written; custom fields are merged with existing values.
type UpdateLeadConfig struct {
	Name         string
	Email        string
	Phone        string
	Temperature  Temperature
	Source       string
	TagsAction   TagsAction
	Tags         []string
	CustomFields map[string]any
}

func ParseUpdateLeadConfig(config map[string]any) UpdateLeadConfig {
	return UpdateLeadConfig{
		Name:         configString(config, "name"),
		Email:        configString(config, "email"),
		Phone:        configString(config, "phone"),
		Temperature:  Temperature(configString(config, "temperature")),
		Source:       configString(config, "source"),
		TagsAction:   TagsAction(configString(config, "tags_action")),
		Tags:         configStrings(config, "tags"),
		CustomFields: configMap(config, "custom_fields"),
	}
}

// UpdateTemperatureConfig configures an update_temperature node.
type UpdateTemperatureConfig struct {
	Temperature Temperature
}

func ParseUpdateTemperatureConfig(config map[string]any) UpdateTemperatureConfig {
	temp := Temperature(configString(config, "temperature_value"))
	if temp == "" {
		temp = TemperatureWarm
	}

	return UpdateTemperatureConfig{Temperature: temp}
}

// TriggerEvent is the entry condition kind carried by a trigger node.
type TriggerEvent string

const (
	TriggerEventNewConversation    TriggerEvent = "new_conversation"
	TriggerEventReceivedKeyword    TriggerEvent = "received_message_keyword"
	TriggerEventNoResponse         TriggerEvent = "no_response"
	TriggerEventLeadCreated        TriggerEvent = "lead_created"
	TriggerEventTemperatureChanged TriggerEvent = "temperature_changed"
	TriggerEventTagAdded           TriggerEvent = "tag_added"
)

// KeywordMatchType selects the keyword matching policy.
type KeywordMatchType string

const (
	MatchExact    KeywordMatchType = "exact"
	MatchContains KeywordMatchType = "contains"
)

// TemperatureAny is the wildcard accepted by the from-temperature filter of
// CRM triggers.
const TemperatureAny = "any"

// TriggerConfig configures any trigger_* node. Which fields matter depends on
// Event; the matchers read only what applies to them.
type TriggerConfig struct {
	Event            TriggerEvent
	Keywords         []string
	MatchType        KeywordMatchType
	NoResponseAmount int
	NoResponseUnit   WaitUnit
	FromTemperature  string
	ToTemperature    string
	TagName          string
}

// NoResponseThreshold converts the configured no-response window, defaulting
// to 60 minutes.
func (c TriggerConfig) NoResponseThreshold() time.Duration {
	amount := c.NoResponseAmount
	if amount < 1 {
		amount = 60
	}

	base := c.NoResponseUnit.base()
	if base == 0 {
		base = time.Minute
	}

	return time.Duration(amount) * base
}

func ParseTriggerConfig(config map[string]any) TriggerConfig {
	cfg := TriggerConfig{
		Event:           TriggerEvent(configString(config, "triggerEvent")),
		MatchType:       KeywordMatchType(configString(config, "match_type")),
		NoResponseUnit:  WaitUnit(configString(config, "noResponseUnit")),
		FromTemperature: configString(config, "fromTemperature"),
		ToTemperature:   configString(config, "toTemperature"),
		TagName:         configString(config, "tagName"),
	}

	if cfg.Event == "" {
		cfg.Event = TriggerEventReceivedKeyword
	}

	if cfg.MatchType == "" {
		cfg.MatchType = MatchExact
	}

	// Keyword lists have accumulated three key spellings over time.
	for _, key := range []string{"keywords", "keyword", "expected_word"} {
		if kw := configStrings(config, key); len(kw) > 0 {
			cfg.Keywords = kw

			break
		}
	}

	if amount, ok := configInt(config, "noResponseTime"); ok {
		cfg.NoResponseAmount = amount
	}

	return cfg
}

// ValidateNodeConfig decodes and validates the config of a node according to
// its type. It is the single gate between the opaque editor config bag and
// the typed structs the processors consume.
func ValidateNodeConfig(node *Node) error {
	switch node.Type {
	case NodeTypeTriggerWhatsApp, NodeTypeTriggerKeyword, NodeTypeTriggerCRM:
		return nil
	case NodeTypeWait:
		return nil
	case NodeTypeCondition:
		_, err := ParseConditionConfig(node.Config)

		return err
	case NodeTypeFilterByTags:
		_, err := ParseFilterConfig(node.Config)

		return err
	case NodeTypeRemoveFromFunnel:
		_, err := ParseRemovalConfig(node.Config)

		return err
	case NodeTypeAssignAgent:
		_, err := ParseAssignAgentConfig(node.Config)

		return err
	case NodeTypeAddTag, NodeTypeRemoveTag:
		_, err := ParseTagConfig(node.Config)

		return err
	case NodeTypeSendWhatsApp, NodeTypeSendEmail, NodeTypeSendTelegram,
		NodeTypeUpdateLead, NodeTypeUpdateTemperature:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, node.Type)
	}
}
