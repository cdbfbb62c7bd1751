// Package compenv hosts a computation plug-in's environment: the static
// registry plug-ins register into, the Computation contract they
// implement, and the per-process orchestration (CompEnvironment) that
// loads one, wires it to a dispatcher and addresser, and runs it through
// its startup/shutdown sequence. Grounded on arras4_computation_api's
// Computation/ComputationEnvironment and arras4_core_impl's
// CompEnvironmentImpl.
package compenv

// Result is returned by a Computation's OnMessage and Configure to report
// how it handled the call.
type Result int

const (
	// Success means the call was handled normally.
	Success Result = iota
	// Ignored means the computation deliberately chose not to act on the
	// message/operation; not an error.
	Ignored
	// Invalid means the message or configuration was malformed. Returning
	// it from OnMessage becomes a MessageFormatError that aborts dispatch;
	// returning it from Configure("initialize", ...) aborts startup.
	Invalid
	// Unknown means the computation did not recognize the message or
	// config operation at all. Logged as a warning, otherwise harmless.
	Unknown
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case Ignored:
		return "Ignored"
	case Invalid:
		return "Invalid"
	case Unknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}
