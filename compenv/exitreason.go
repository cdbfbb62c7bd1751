package compenv

import "github.com/dreamworksanimation/arras4-core/dispatcher"

// ExitReason is why RunComputation returned, extending
// dispatcher.ExitReason with the two startup-only cases a dispatcher exit
// reason can't express: timing out waiting for "go", and a plug-in panic
// inside Configure("start"/"stop") (as opposed to inside OnMessage/OnIdle,
// which becomes dispatcher.ExitHandlerError).
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitQuit
	ExitGoTimeout
	ExitDisconnected
	ExitMessageError
	ExitHandlerError
	ExitStartException
	ExitStopException
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "still running"
	case ExitQuit:
		return "requested to exit"
	case ExitGoTimeout:
		return "timed out waiting for a 'go' signal"
	case ExitDisconnected:
		return "transport disconnected"
	case ExitMessageError:
		return "error transporting a message"
	case ExitHandlerError:
		return "error handling a message"
	case ExitStartException:
		return "computation panicked in configure(\"start\")"
	case ExitStopException:
		return "computation panicked in configure(\"stop\")"
	default:
		return "unknown reason"
	}
}

// fromDispatcherExitReason maps a dispatcher's exit reason onto the wider
// ExitReason set, mirroring dispatcherToComputationExitReason.
func fromDispatcherExitReason(r dispatcher.ExitReason) ExitReason {
	switch r {
	case dispatcher.ExitQuit:
		return ExitQuit
	case dispatcher.ExitDisconnected:
		return ExitDisconnected
	case dispatcher.ExitMessageError:
		return ExitMessageError
	case dispatcher.ExitHandlerError:
		return ExitHandlerError
	default:
		return ExitNone
	}
}
