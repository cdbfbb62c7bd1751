// Package exitcode defines the process exit codes execComp can return.
// They are collected here because node, the client library, and the
// worker binary itself all need to agree on their meaning. Most of the
// numeric values are inherited from Arras3.
package exitcode

import "strconv"

const (
	Normal                = 0  // normal termination without error
	InvalidCmdline        = 1  // invalid args to execComp
	ConfigFileLoadError   = 2  // couldn't read supplied config file
	ExecError             = 5  // execv failed
	ComputationLoadError  = 6  // failed to load computation DSO
	ComputationGoTimeout  = 7  // computation timed out waiting for "go"
	InitializationFailed  = 8  // computation failed to initialize
	InvalidConfigData     = 9  // something invalid in contents of config file
	ExceptionCaught       = 13 // exception was thrown by computation or message code
	UnspecifiedError      = 14 // error not fitting any other category
	Disconnected          = 20 // IPC disconnected from computation
	InternalError         = 21 // error in message format or computation state
)

// String returns the human-readable reason for an exit code, in the
// voice used for log messages and terminate callbacks. expected should
// be true only when the supervisor itself requested termination (e.g.
// sent SIGTERM via stop); it only changes the wording for Normal, since
// a worker exiting 0 on its own is unusual enough to call out.
func String(code int, expected bool) string {
	switch code {
	case Normal:
		if expected {
			return "exited normally"
		}
		return "exited unexpectedly with code 0"
	case InvalidCmdline:
		return "exited due to an invalid commandline"
	case ConfigFileLoadError:
		return "failed to load the configuration file"
	case InvalidConfigData:
		return "exited due to an invalid configuration data"
	case InitializationFailed:
		return "failed to initialize properly"
	case ComputationLoadError:
		return "failed to load the computation dso"
	case ComputationGoTimeout:
		return "timed out waiting for a 'go' signal"
	case ExceptionCaught:
		return "threw an exception (see log for details)"
	case ExecError:
		return "failed to start the program (error in execv())"
	case Disconnected:
		return "was disconnected"
	case InternalError:
		return "exited due to a computation or message problem"
	case UnspecifiedError:
		return "exited due to an unspecified error"
	}
	return "exited with code " + strconv.Itoa(code)
}
