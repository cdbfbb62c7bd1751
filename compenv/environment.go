package compenv

import (
	"sync"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/chunking"
	"github.com/dreamworksanimation/arras4-core/dispatcher"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/perfmon"
	"github.com/dreamworksanimation/arras4-core/routing"
)

// idleInterval is the gap the dispatcher waits for before calling a
// computation's OnIdle, measured from the end of the previous OnIdle call
// to the next. It is fixed: the idle-interval key defined in
// internal/config is not read here.
const idleInterval = 40 * time.Microsecond

// waitForGoTimeout is how long runComputation waits for a "go" control
// message before giving up and returning ExitGoTimeout.
const waitForGoTimeout = 600 * time.Second

// apiVersion is reported via Property("apiVersion").
const apiVersion = "4.0.0"

// CompEnvironment hosts one Computation plug-in for the lifetime of a
// worker process: it owns the addresser, the dispatcher, and the
// control/chunking filter stack, and drives the plug-in through
// initialize -> (wait for go) -> start -> dispatch -> stop, mirroring
// CompEnvironmentImpl.
type CompEnvironment struct {
	name    string
	comp    Computation
	address address.Address

	addresser  *routing.Addresser
	dispatcher *dispatcher.Dispatcher
	chunkCfg   chunking.Config
	goTimeout  time.Duration
	monitorTap perfmon.Tap

	goOnce sync.Once
	goCh   chan struct{}
}

// SetMonitorTap attaches an optional debug observer that receives a copy of
// every heartbeat the performance monitor emits during Run, for example a
// *perfmon.WSTap serving a --monitor-addr listener. Must be called before
// Run; nil clears it.
func (e *CompEnvironment) SetMonitorTap(tap perfmon.Tap) {
	e.monitorTap = tap
}

// New constructs a CompEnvironment for the named computation at addr, and
// loads its plug-in from the static registry. Returns a *LoadError if the
// plug-in can't be loaded.
func New(name string, addr address.Address) (*CompEnvironment, error) {
	env := &CompEnvironment{
		name:      name,
		address:   addr,
		addresser: routing.NewAddresser(),
		chunkCfg:  chunking.DefaultConfig,
		goTimeout: waitForGoTimeout,
		goCh:      make(chan struct{}),
	}
	comp, err := Load(name, env)
	if err != nil {
		return nil, err
	}
	env.comp = comp
	env.dispatcher = dispatcher.New(name, env, idleInterval, nil)
	return env, nil
}

// SetRouting installs the routing table from the "routing" subobject of a
// session description: {sessionId: {computations: {...}}, messageFilter:
// {...}}. Can be called before the computation starts (from the initial
// exec-config) or again afterward (from an "update" control message).
func (e *CompEnvironment) SetRouting(routingDoc map[string]any) bool {
	sessionObj, ok := routingDoc[e.address.Session.String()].(map[string]any)
	if !ok {
		logging.Errorw("invalid computation map in routing data", "computation", e.name)
		return false
	}
	compsObj, ok := sessionObj["computations"].(map[string]any)
	if !ok {
		logging.Errorw("invalid computation map in routing data", "computation", e.name)
		return false
	}
	compMap, err := routing.NewComputationMap(e.address.Session, compsObj)
	if err != nil {
		logging.Errorw("invalid computation map in routing data", "computation", e.name, "error", err)
		return false
	}

	filterObj, ok := routingDoc["messageFilter"].(map[string]any)
	if !ok {
		logging.Errorw("invalid message filter in routing data", "computation", e.name)
		return false
	}

	e.addresser.Update(e.address.Computation, compMap, filterObj)
	return true
}

// Send implements Environment: it addresses content according to options
// ("sendTo" for an explicit destination list, otherwise the routing
// table) and queues it for the writer goroutine.
func (e *CompEnvironment) Send(content message.ObjectContent, options map[string]any) error {
	env := message.New(content, address.Address{}, "")
	if to, ok := destinationsFromOptions(options); ok {
		e.addresser.AddressTo(&env, to...)
	} else {
		e.addresser.Address(&env)
	}
	if err := e.dispatcher.Send(env); err != nil {
		logging.Errorw("message send from computation failed", "computation", e.name, "routingName", env.Metadata.RoutingName, "error", err)
		return err
	}
	return nil
}

func destinationsFromOptions(options map[string]any) ([]address.Address, bool) {
	if options == nil {
		return nil, false
	}
	raw, ok := options["sendTo"]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case address.Address:
		return []address.Address{v}, true
	case []address.Address:
		return v, true
	}
	return nil, false
}

// Property implements Environment.
func (e *CompEnvironment) Property(name string) any {
	switch name {
	case "apiVersion":
		return apiVersion
	case "computationName":
		return e.name
	case "computation.address":
		return e.address.ToObject()
	}
	return nil
}

// HandleMessage implements dispatcher.Handler: it hands env to the
// plug-in's OnMessage, turning an Invalid result into a MessageFormatError
// that aborts the dispatcher.
func (e *CompEnvironment) HandleMessage(env message.Envelope) error {
	result := e.comp.OnMessage(env)
	switch result {
	case Unknown:
		logging.Warnw("computation ignored message", "computation", e.name, "routingName", env.Metadata.RoutingName)
	case Invalid:
		return message.NewMessageFormatError("computation flagged message as invalid: routingName=%s", env.Metadata.RoutingName)
	}
	return nil
}

// OnIdle implements dispatcher.Handler.
func (e *CompEnvironment) OnIdle() {
	e.comp.OnIdle()
}

// ControlMessage implements control.Controlled: it translates "go",
// "stop", "abort", and "update" into the corresponding signal, and drops
// any other command with a logged warning.
func (e *CompEnvironment) ControlMessage(command, data string) {
	switch command {
	case message.ControlCommandGo:
		e.signalGo()
	case message.ControlCommandStop:
		e.signalStop()
	case message.ControlCommandAbort:
		// no different from "stop" at present
		e.signalStop()
	case message.ControlCommandUpdate:
		e.signalUpdate(data)
	default:
		logging.Warnw("ignoring unknown control command", "computation", e.name, "command", command)
	}
}

func (e *CompEnvironment) signalGo() {
	e.goOnce.Do(func() {
		close(e.goCh)
	})
}

func (e *CompEnvironment) signalStop() {
	// make sure the go-wait exits even if "go" is never sent
	e.signalGo()
	e.dispatcher.PostQuit()
}

func (e *CompEnvironment) signalUpdate(data string) {
	doc, err := message.StringToObject(data)
	if err != nil {
		logging.Errorw("invalid data in update control message", "computation", e.name, "error", err)
		return
	}
	routingDoc, ok := doc["routing"].(map[string]any)
	if !ok {
		logging.Errorw("invalid data in update control message: should contain 'routing' object", "computation", e.name)
		return
	}
	e.SetRouting(routingDoc)
}
