package dispatcher

// ExitReason is why a Dispatcher stopped running.
type ExitReason int32

const (
	// ExitNone means the dispatcher is still running.
	ExitNone ExitReason = iota
	// ExitQuit means PostQuit was called from another goroutine.
	ExitQuit
	// ExitDisconnected means the transport disconnected.
	ExitDisconnected
	// ExitMessageError means the reader or writer goroutine hit a
	// malformed message or other transport-level error.
	ExitMessageError
	// ExitHandlerError means the handler goroutine's HandleMessage or
	// OnIdle returned an error, or panicked.
	ExitHandlerError
)

// String renders the reason for log lines.
func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "still running"
	case ExitQuit:
		return "requested to exit"
	case ExitDisconnected:
		return "transport disconnected"
	case ExitMessageError:
		return "error transporting a message"
	case ExitHandlerError:
		return "error handling a message"
	default:
		return "unknown reason"
	}
}
