package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/funnel/pkg/models"
)

func TestEventGetType(t *testing.T) {
	tests := []struct {
		event    interface{ GetType() EventType }
		expected EventType
	}{
		{ExecutionStarted{}, ExecutionStartedEvent},
		{ExecutionCompleted{}, ExecutionCompletedEvent},
		{ExecutionFailed{}, ExecutionFailedEvent},
		{ExecutionWaiting{}, ExecutionWaitingEvent},
		{ExecutionResumed{}, ExecutionResumedEvent},
		{NodeExecuted{}, NodeExecutedEvent},
		{ContactRemoved{}, ContactRemovedEvent},
		{MessageReceived{}, MessageReceivedEvent},
		{CRMEventReceived{}, CRMEventReceivedEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.GetType())
		})
	}
}

func TestNewBaseEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewBaseEvent(ExecutionStartedEvent, "funnel-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionStartedEvent, event.Type)
	assert.Equal(t, "funnel-1", event.FunnelID)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Timestamp.Before(before))
}

func TestNodeExecutedSerialization(t *testing.T) {
	original := NodeExecuted{
		BaseEvent:   NewBaseEvent(NodeExecutedEvent, "funnel-1"),
		ExecutionID: "exec-1",
		NodeID:      "wait-1",
		NodeType:    models.NodeTypeWait,
		Status:      models.ActionLogStatusSuccess,
		DurationMs:  15,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"node.executed"`)
	assert.Contains(t, string(data), `"node_type":"wait"`)

	var decoded NodeExecuted

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ExecutionID, decoded.ExecutionID)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.DurationMs, decoded.DurationMs)
}
