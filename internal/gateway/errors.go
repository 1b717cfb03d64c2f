package gateway

import (
	"context"
	"errors"
	"fmt"
)

// CapabilityError is a failed or timed out report call for one agent.
type CapabilityError struct {
	AgentID string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("agent %s: report timed out", e.AgentID)
	}
	return fmt.Sprintf("agent %s: report failed: %v", e.AgentID, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// DeliveryError is a failed post of a final answer. Reason is what gets recorded on the run.
type DeliveryError struct {
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return "delivery failed: " + e.Reason
}

func (e *DeliveryError) Unwrap() error { return e.Err }
