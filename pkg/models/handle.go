package models

import (
	"encoding/json"
	"strings"
)

// Handle is one endpoint of a connection: a node plus the named port on it.
// The persisted wire form is the composite string the graph editor emits,
// e.g. "node-3_output_yes" or "node-4_input"; node ids themselves never
// contain underscores.
type Handle struct {
	NodeID string
	Port   string
}

// ParseHandle splits a composite handle string into its node id and port.
func ParseHandle(s string) Handle {
	if i := strings.Index(s, "_"); i >= 0 {
		return Handle{NodeID: s[:i], Port: s[i+1:]}
	}

	return Handle{NodeID: s}
}

// String reassembles the composite wire form.
func (h Handle) String() string {
	if h.Port == "" {
		return h.NodeID
	}

	return h.NodeID + "_" + h.Port
}

// MatchesPath reports whether the handle's port references the given path
// token. Condition and filter nodes emit bare tokens ("yes"/"no") while the
// editor names output ports "output_yes"/"output_no", so both spellings match.
func (h Handle) MatchesPath(token string) bool {
	if token == "" {
		return false
	}

	return h.Port == token || strings.HasSuffix(h.Port, "_"+token)
}

func (h Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Handle) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*h = ParseHandle(s)

	return nil
}

// Connection is a directed edge between two handles.
type Connection struct {
	Start Handle `json:"start"`
	End   Handle `json:"end"`
}
