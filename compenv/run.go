package compenv

import (
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/chunking"
	"github.com/dreamworksanimation/arras4-core/control"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/limits"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/perfmon"
)

// Initialize applies any chunking overrides from config, disables
// hyperthreading in lim unless the plug-in opts in via
// WantsHyperthreading, stamps the resulting limits back into config for
// the plug-in to see, and calls Configure("initialize", config).
func (e *CompEnvironment) Initialize(lim *limits.ExecutionLimits, config map[string]any) Result {
	e.applyChunkingConfig(config)

	if !e.comp.WantsHyperthreading() {
		lim.DisableHyperthreading()
	}

	if config == nil {
		config = map[string]any{}
	}
	config["maxMemoryMB"] = lim.MaxMemoryMB
	config["maxThreads"] = lim.MaxThreads()

	result := e.comp.Configure("initialize", config)
	if result == Invalid {
		logging.Errorw("configuration of the computation failed, not starting execution", "computation", e.name)
	}
	return result
}

func (e *CompEnvironment) applyChunkingConfig(config map[string]any) {
	if enabled, ok := config["chunking"].(bool); ok {
		e.chunkCfg.Enabled = enabled
	}
	var minSize int
	if mb, ok := asInt(config["minChunkingMb"]); ok {
		minSize = mb * 1024 * 1024
	}
	if b, ok := asInt(config["minChunkingBytes"]); ok {
		minSize += b
	}
	if minSize > 0 {
		e.chunkCfg.MinChunkTriggerSize = minSize
	}
	var chunkSize int
	if mb, ok := asInt(config["chunkSizeMb"]); ok {
		chunkSize = mb * 1024 * 1024
	}
	if b, ok := asInt(config["chunkSizeBytes"]); ok {
		chunkSize += b
	}
	if chunkSize > 0 {
		e.chunkCfg.ChunkSize = chunkSize
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Run wires source through the control-message filter and chunking
// endpoint, spawns the performance monitor, starts queueing, sends a
// "ready" control message to nodeAddr, optionally waits up to 600s for
// "go", then runs configure("start") -> dispatch -> configure("stop"),
// mirroring CompEnvironmentImpl::runComputation. It returns once the
// dispatcher has exited (due to "stop"/"abort" or an error),
// configure("stop") has been called, and the monitor has been stopped and
// joined.
func (e *CompEnvironment) Run(source control.Source, lim *limits.ExecutionLimits, waitForGo bool, nodeAddr address.Address) ExitReason {
	filtered := control.NewFilter(source, e)
	chunked := chunking.NewEndpoint(filtered, e.chunkCfg, message.Default)

	monitorTo := address.New(e.address.Session, nodeAddr.Node, id.Nil)
	monitor := perfmon.New(*lim, e.dispatcher, e.address, monitorTo)
	monitor.SetTap(e.monitorTap)
	monitorDone := make(chan struct{})
	go func() {
		monitor.Run()
		close(monitorDone)
	}()
	defer func() {
		monitor.Stop()
		<-monitorDone
	}()

	if err := e.dispatcher.StartQueueing(chunked); err != nil {
		logging.Errorw("failed to start queueing", "computation", e.name, "error", err)
		return ExitMessageError
	}

	ready := message.New(&message.ControlMessage{Command: message.ControlCommandReady}, e.address, "")
	ready.To = []address.Address{nodeAddr}
	if err := e.dispatcher.Send(ready); err != nil {
		logging.Errorw("failed to send ready message", "computation", e.name, "error", err)
	}

	if waitForGo {
		logging.Infow("computation is waiting for a 'go' signal", "computation", e.name)
		select {
		case <-e.goCh:
		case <-time.After(e.goTimeout):
			return ExitGoTimeout
		}
	}

	startPanicked := e.configureGuarded("start")
	if startPanicked {
		e.dispatcher.PostQuit()
	} else if err := e.dispatcher.StartDispatching(lim); err != nil {
		logging.Warnw("startDispatching rejected; the computation was likely stopped before it started", "computation", e.name, "error", err)
	}

	der := e.dispatcher.WaitForExit()

	stopPanicked := false
	if !startPanicked {
		stopPanicked = e.configureGuarded("stop")
	}

	switch {
	case startPanicked:
		return ExitStartException
	case stopPanicked:
		return ExitStopException
	default:
		return fromDispatcherExitReason(der)
	}
}

// configureGuarded calls Configure(op, nil), recovering a panic the same
// way the dispatcher's handler goroutine would, since configure("start"/
// "stop") runs directly on this goroutine rather than behind the
// dispatcher.
func (e *CompEnvironment) configureGuarded(op string) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("computation panicked", "computation", e.name, "op", op, "panic", r)
			panicked = true
		}
	}()
	e.comp.Configure(op, nil)
	return false
}
