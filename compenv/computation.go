package compenv

import (
	"fmt"
	"sync"

	"github.com/dreamworksanimation/arras4-core/message"
)

// Environment is the subset of CompEnvironment a Computation plug-in is
// given at construction and uses to act on the outside world, mirroring
// arras4_computation_api's ComputationEnvironment.
type Environment interface {
	// Send addresses and queues content for delivery. options may carry
	// "sendTo" (an explicit destination list bypassing the routing
	// table) and other per-message hints a future version may define;
	// today only sendTo is interpreted.
	Send(content message.ObjectContent, options map[string]any) error
	// Property looks up a named piece of environment data: currently
	// "apiVersion", "computationName", and "computation.address".
	Property(name string) any
}

// Computation is the plug-in contract a loadable computation implements,
// mirroring arras4_computation_api's Computation class. A factory
// receives the Environment at construction time and holds onto it for
// the computation's lifetime.
type Computation interface {
	// OnMessage handles one inbound application message. Returning
	// Invalid aborts the run with a MessageFormatError; Unknown only logs
	// a warning.
	OnMessage(env message.Envelope) Result
	// OnIdle is called when the incoming queue has sat empty for the
	// configured idle interval.
	OnIdle()
	// Configure is called for the lifecycle operations "initialize",
	// "start", and "stop", plus any plug-in-defined operation a control
	// message might trigger in the future. config is only meaningful for
	// "initialize".
	Configure(op string, config map[string]any) Result
	// WantsHyperthreading reports whether the computation benefits from
	// hyperthread siblings; false causes the worker to disable
	// hyperthreading in its ExecutionLimits before applying affinity.
	WantsHyperthreading() bool
}

// Factory constructs a Computation given the environment it will run in.
type Factory func(env Environment) Computation

// LoadError indicates a requested computation name has no registered
// factory, or its factory returned nil.
type LoadError struct {
	msg string
}

func (e *LoadError) Error() string { return e.msg }

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds factory to the static registry under name, normally from
// a plug-in package's init() function. A later Register under the same
// name replaces the earlier factory (and is expected — tests and
// alternate builds sometimes re-register a stub).
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Load builds the named computation against env, returning a *LoadError
// if name was never registered or its factory returned nil.
func Load(name string, env Environment) (Computation, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &LoadError{msg: fmt.Sprintf("compenv: no computation registered under name %q", name)}
	}
	comp := factory(env)
	if comp == nil {
		return nil, &LoadError{msg: fmt.Sprintf("compenv: factory for %q returned a nil computation", name)}
	}
	return comp, nil
}
