package engine

import (
	"errors"
	"fmt"
)

var (
	ErrFunnelInactive = errors.New("funnel is not active")
	ErrNoTriggerNode  = errors.New("funnel has no trigger node")
	ErrNodeNotFound   = errors.New("node not found in funnel graph")
)

// NodeExecutionError wraps a failure while processing one node. The execution
// has already been marked failed when this is returned.
type NodeExecutionError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed at node %s: %v", e.ExecutionID, e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
