package stream

// State is the lifecycle stage of a session.
type State int32

const (
	StateIdle State = iota
	StatePriming
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePriming:
		return "priming"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome records how a session ended.
type Outcome string

const (
	// OutcomeCompleted means the end marker was sent.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted means a read or send failed and the transport was closed.
	OutcomeAborted Outcome = "aborted"
	// OutcomeDisconnected means the consumer went away before completion.
	OutcomeDisconnected Outcome = "disconnected"
	// OutcomeCancelled means the server shut the session down.
	OutcomeCancelled Outcome = "cancelled"
)
