package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// graphSchema describes the persisted shape of a funnel graph. Structural
// problems (missing ids, non-object configs, malformed handles) are caught
// here; per-type config semantics are checked by ValidateNodeConfig.
var graphSchema = map[string]any{
	"type":     "object",
	"required": []string{"nodes", "connections"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"id", "type"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"type":   map[string]any{"type": "string", "minLength": 1},
					"title":  map[string]any{"type": "string"},
					"config": map[string]any{"type": "object"},
				},
			},
		},
		"connections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"start", "end"},
				"properties": map[string]any{
					"start": map[string]any{"type": "string", "minLength": 1},
					"end":   map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
	},
}

var ErrInvalidGraph = errors.New("invalid funnel graph")

// ValidateGraphDocument validates the raw JSON form of a graph against the
// schema before it is decoded.
func ValidateGraphDocument(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(graphSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("graph schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(details, "; "))
	}

	return nil
}

// ValidateGraph checks a decoded graph: known node types, valid per-type
// configs, and connections that reference existing nodes.
func ValidateGraph(graph *Graph) error {
	ids := make(map[string]bool, len(graph.Nodes))

	for _, node := range graph.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidGraph)
		}

		if ids[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, node.ID)
		}

		ids[node.ID] = true

		if err := ValidateNodeConfig(node); err != nil {
			return fmt.Errorf("node %q: %w", node.ID, err)
		}
	}

	for _, conn := range graph.Connections {
		if !ids[conn.Start.NodeID] {
			return fmt.Errorf("%w: connection starts at unknown node %q", ErrInvalidGraph, conn.Start.NodeID)
		}

		if !ids[conn.End.NodeID] {
			return fmt.Errorf("%w: connection ends at unknown node %q", ErrInvalidGraph, conn.End.NodeID)
		}
	}

	return nil
}
