package agent

import "fmt"

// State identifies a node of the agent graph.
type State int

const (
	// StateStart is the entry node. No work happens here; the first
	// transition always moves to StateModelCall.
	StateStart State = iota

	// StateModelCall invokes the model with the accumulated messages.
	StateModelCall

	// StateToolCall executes the tool calls requested by the last model
	// response.
	StateToolCall

	// StateEnd terminates the graph. The last assistant message is the
	// final answer.
	StateEnd
)

// String returns the node name used in logs and traces.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateModelCall:
		return "model_call"
	case StateToolCall:
		return "tool_call"
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transition returns the node that follows from. pendingCalls is the
// number of unexecuted tool calls attached to the last model response; it
// decides the conditional edge out of StateModelCall.
func transition(from State, pendingCalls int) (State, error) {
	switch from {
	case StateStart:
		return StateModelCall, nil
	case StateModelCall:
		if pendingCalls > 0 {
			return StateToolCall, nil
		}
		return StateEnd, nil
	case StateToolCall:
		return StateModelCall, nil
	default:
		return StateEnd, fmt.Errorf("agent: no transition out of state %s", from)
	}
}
