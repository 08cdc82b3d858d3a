package stream

// State is the life cycle position of a stream
type State int

const (
	// StateIdle is a stream that has not opened its upstream yet
	StateIdle State = iota
	// StateSubscribed is a stream whose upstream is open but has not delivered
	StateSubscribed
	// StateDelivering is a stream handing out events
	StateDelivering
	// StateExhausted is a stream that ended by limit or upstream closure
	StateExhausted
	// StateCancelled is a stream stopped by its caller
	StateCancelled
	// StateFailed is a stream stopped by an error
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateDelivering:
		return "delivering"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s >= StateExhausted
}

// Reason explains why a stream stopped without failing
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonLimitReached means the requested number of events was delivered
	ReasonLimitReached
	// ReasonUpstreamEnded means the cursor was exhausted or the change stream
	// was invalidated
	ReasonUpstreamEnded
	// ReasonCancelled means Cancel was called or the caller's context ended
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonLimitReached:
		return "limit reached"
	case ReasonUpstreamEnded:
		return "upstream ended"
	case ReasonCancelled:
		return "cancelled"
	}
	return ""
}

// Outcome summarizes a stream. It is final once the stream is terminal.
type Outcome struct {
	State  State
	Reason Reason
	// Err is the failure of a failed stream
	Err error
	// Delivered counts the events received by the caller
	Delivered int64
	// Undelivered counts events fetched from upstream but not delivered
	// because the stream was cancelled
	Undelivered int64
	// Checkpoint resumes a watch stream after its last delivered event
	Checkpoint string
	// CloseErr is the error returned by closing the upstream cursor
	CloseErr error
}
