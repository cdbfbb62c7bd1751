// Command execcomp is the worker process bootstrap: it parses its
// command line, layers the exec-config file's contents and the
// ARRAS_* environment over the compiled-in defaults, loads and runs one
// computation plug-in, and connects out to the local-session supervisor
// that spawned it. Grounded on arras4_core_impl's cmd/execComp.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap/zapcore"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/compenv"
	"github.com/dreamworksanimation/arras4-core/exitcode"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/config"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/ipc"
	"github.com/dreamworksanimation/arras4-core/limits"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/perfmon"
)

func main() {
	app := cli.NewApp()
	app.Name = "execcomp"
	app.Usage = "host one computation plug-in for the lifetime of a worker process"
	app.ArgsUsage = "<exec-config-file>"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: config.KeyMemoryMB, Value: 2048, Usage: "memory (MB) allocated to this computation"},
		cli.Float64Flag{Name: config.KeyCores, Value: 1, Usage: "number of cores to use"},
		cli.IntFlag{Name: config.KeyThreadsPerCore, Value: 1, Usage: "number of hyperthreads per core"},
		cli.BoolFlag{Name: config.KeyUseAffinity, Usage: "enable CPU affinity (requires --processorList)"},
		cli.StringFlag{Name: config.KeyProcessorList, Usage: "comma-separated processor indices to pin to"},
		cli.StringFlag{Name: config.KeyHyperthreadProcessors, Usage: "comma-separated hyperthread processor indices"},
		cli.BoolFlag{Name: config.KeyUseColor, Usage: "accepted but not read; the console log style comes from consoleLogStyle"},
		cli.StringFlag{Name: config.KeyMonitorAddr, Usage: "address to serve the performance-monitor websocket tap on"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "execcomp:", err)
		os.Exit(exitcode.UnspecifiedError)
	}
}

func run(c *cli.Context) error {
	v := config.New()

	configPath := c.Args().Get(0)
	if configPath == "" {
		return cli.NewExitError("no exec-config file was provided", exitcode.InvalidCmdline)
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("opening exec-config %q: %v", configPath, err), exitcode.ConfigFileLoadError)
	}
	execConfig, err := message.StringToObject(string(raw))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("parsing exec-config %q: %v", configPath, err), exitcode.ConfigFileLoadError)
	}
	if err := v.MergeConfigMap(execConfig); err != nil {
		return cli.NewExitError(fmt.Sprintf("merging exec-config: %v", err), exitcode.ConfigFileLoadError)
	}
	// an explicit --flag on the command line is the outermost layer,
	// overriding whatever the exec-config file (or ARRAS_* environment)
	// set for the same key.
	applyExplicitFlags(c, v)

	style := logging.ConsoleStyle
	if v.GetInt("consoleLogStyle") != 1 {
		style = logging.JSONStyle
	}
	if err := logging.Initialize(style, zapcore.Level(clampLogLevel(v.GetInt("logLevel")))); err != nil {
		fmt.Fprintln(os.Stderr, "execcomp: failed to initialize logging:", err)
	}

	compConfig, computationName, err := singleComputationConfig(execConfig)
	if err != nil {
		logging.Errorw("invalid computation configuration", "error", err)
		return cli.NewExitError(err.Error(), exitcode.InvalidConfigData)
	}
	dsoName, _ := compConfig["dso"].(string)
	if dsoName == "" {
		logging.Errorw("no dso name provided in computation configuration", "computation", computationName)
		return cli.NewExitError("no dso name provided", exitcode.InvalidConfigData)
	}

	addr, ipcAddr, err := addressFromConfig(execConfig)
	if err != nil {
		logging.Errorw("invalid address/ipc fields in exec-config", "error", err)
		return cli.NewExitError(err.Error(), exitcode.InvalidConfigData)
	}

	routing, ok := execConfig["routing"].(map[string]any)
	if !ok {
		logging.Errorw("exec-config is missing a 'routing' object", "computation", computationName)
		return cli.NewExitError("missing routing object", exitcode.InvalidConfigData)
	}

	lim, err := limitsFromFlags(v)
	if err != nil {
		logging.Errorw("invalid resource limits", "error", err)
		return cli.NewExitError(err.Error(), exitcode.InvalidCmdline)
	}

	env, err := compenv.New(dsoName, addr)
	if err != nil {
		logging.Errorw("failed to load computation plug-in", "dso", dsoName, "error", err)
		return cli.NewExitError(err.Error(), exitcode.ComputationLoadError)
	}
	if !env.SetRouting(routing) {
		return cli.NewExitError("invalid routing data", exitcode.InvalidConfigData)
	}

	if monitorAddr := v.GetString(config.KeyMonitorAddr); monitorAddr != "" {
		tap := perfmon.NewWSTap()
		env.SetMonitorTap(tap)
		go serveMonitorTap(monitorAddr, tap)
	}

	result := env.Initialize(&lim, compConfig)
	if result == compenv.Invalid {
		return cli.NewExitError("computation initialization failed", exitcode.InitializationFailed)
	}

	conn, err := connectToSupervisor(addr, ipcAddr)
	if err != nil {
		logging.Errorw("failed to connect to supervisor", "ipc", ipcAddr, "error", err)
		return cli.NewExitError(err.Error(), exitcode.Disconnected)
	}

	nodeAddr := address.New(addr.Session, addr.Node, id.Nil)
	reason := env.Run(conn, &lim, true, nodeAddr)
	if code := exitCodeForReason(reason); code != exitcode.Normal {
		return cli.NewExitError(reason.String(), code)
	}
	return nil
}

// applyExplicitFlags re-applies the typed flag values set on the command
// line, so --flag always overrides whatever the exec-config file sets for
// the same key.
func applyExplicitFlags(c *cli.Context, v interface{ Set(string, any) }) {
	for _, kv := range []struct {
		name string
		set  bool
		val  any
	}{
		{config.KeyMemoryMB, c.IsSet(config.KeyMemoryMB), c.Int(config.KeyMemoryMB)},
		{config.KeyCores, c.IsSet(config.KeyCores), c.Float64(config.KeyCores)},
		{config.KeyThreadsPerCore, c.IsSet(config.KeyThreadsPerCore), c.Int(config.KeyThreadsPerCore)},
		{config.KeyUseAffinity, c.IsSet(config.KeyUseAffinity), c.Bool(config.KeyUseAffinity)},
		{config.KeyProcessorList, c.IsSet(config.KeyProcessorList), c.String(config.KeyProcessorList)},
		{config.KeyHyperthreadProcessors, c.IsSet(config.KeyHyperthreadProcessors), c.String(config.KeyHyperthreadProcessors)},
		{config.KeyUseColor, c.IsSet(config.KeyUseColor), c.Bool(config.KeyUseColor)},
		{config.KeyMonitorAddr, c.IsSet(config.KeyMonitorAddr), c.String(config.KeyMonitorAddr)},
	} {
		if kv.set {
			v.Set(kv.name, kv.val)
		}
	}
}

func clampLogLevel(level int) int {
	if level < int(zapcore.DebugLevel) {
		return int(zapcore.DebugLevel)
	}
	if level > int(zapcore.FatalLevel) {
		return int(zapcore.FatalLevel)
	}
	return level
}

// singleComputationConfig pulls the one member of the exec-config's
// "config" object, matching ExecComp::run's requirement that it contain
// exactly one computation.
func singleComputationConfig(execConfig map[string]any) (map[string]any, string, error) {
	configObj, ok := execConfig["config"].(map[string]any)
	if !ok || len(configObj) != 1 {
		return nil, "", fmt.Errorf("exec-config 'config' must be an object with exactly one member")
	}
	for name, v := range configObj {
		compConfig, ok := v.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("exec-config 'config.%s' must be an object", name)
		}
		return compConfig, name, nil
	}
	panic("unreachable")
}

func addressFromConfig(execConfig map[string]any) (address.Address, string, error) {
	sessionStr, _ := execConfig["sessionId"].(string)
	compStr, _ := execConfig["compId"].(string)
	nodeStr, _ := execConfig["nodeId"].(string)
	ipcAddr, _ := execConfig["ipc"].(string)
	if sessionStr == "" {
		return address.Address{}, "", fmt.Errorf("no session ID provided")
	}
	if compStr == "" {
		return address.Address{}, "", fmt.Errorf("no computation ID provided")
	}
	if nodeStr == "" {
		return address.Address{}, "", fmt.Errorf("no node ID provided")
	}
	if ipcAddr == "" {
		return address.Address{}, "", fmt.Errorf("no IPC address provided")
	}
	sessionID, err := id.Parse(sessionStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("invalid session ID: %w", err)
	}
	compID, err := id.Parse(compStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("invalid computation ID: %w", err)
	}
	nodeID, err := id.Parse(nodeStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("invalid node ID: %w", err)
	}
	return address.New(sessionID, nodeID, compID), ipcAddr, nil
}

func limitsFromFlags(v interface {
	GetInt(string) int
	GetFloat64(string) float64
	GetBool(string) bool
	GetString(string) string
}) (limits.ExecutionLimits, error) {
	memoryMB := v.GetInt(config.KeyMemoryMB)
	cores := v.GetFloat64(config.KeyCores)
	if cores < 0 {
		return limits.ExecutionLimits{}, fmt.Errorf("cores value must be 0.0 or greater")
	}
	threadsPerCore := v.GetInt(config.KeyThreadsPerCore)
	lim := limits.New(uint(memoryMB), uint(cores), uint(threadsPerCore))

	if v.GetBool(config.KeyUseAffinity) {
		cpuSet := v.GetString(config.KeyProcessorList)
		if cpuSet == "" {
			return limits.ExecutionLimits{}, fmt.Errorf("you must specify a processor list if affinity is not disabled")
		}
		htCpuSet := v.GetString(config.KeyHyperthreadProcessors)
		if htCpuSet == "" && lim.UsesHyperthreads() {
			return limits.ExecutionLimits{}, fmt.Errorf("you must specify a hyperthread processor list if affinity is enabled with more than one thread per core")
		}
		if err := lim.EnableAffinity(cpuSet, htCpuSet); err != nil {
			return limits.ExecutionLimits{}, err
		}
	}
	return lim, nil
}

// connectToSupervisor dials the local-session supervisor's Unix-domain
// IPC socket and sends the RegistrationData handshake identifying this
// process, mirroring ExecComp::connectToServer.
func connectToSupervisor(addr address.Address, ipcAddr string) (*ipc.Conn, error) {
	conn, err := net.DialTimeout("unix", ipcAddr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing supervisor at %s: %w", ipcAddr, err)
	}
	ipcConn := ipc.NewConn(conn, message.Default)
	reg := ipc.NewRegistration(ipc.RegistrationExecutor, addr)
	if err := ipcConn.WriteRegistration(reg); err != nil {
		ipcConn.Shutdown()
		return nil, fmt.Errorf("sending registration: %w", err)
	}
	return ipcConn, nil
}

func serveMonitorTap(addr string, tap *perfmon.WSTap) {
	if err := http.ListenAndServe(addr, tap); err != nil {
		logging.Warnw("performance-monitor tap server stopped", "addr", addr, "error", err)
	}
}

func exitCodeForReason(reason compenv.ExitReason) int {
	switch reason {
	case compenv.ExitQuit, compenv.ExitNone:
		return exitcode.Normal
	case compenv.ExitGoTimeout:
		return exitcode.ComputationGoTimeout
	case compenv.ExitDisconnected:
		return exitcode.Disconnected
	case compenv.ExitMessageError, compenv.ExitHandlerError:
		return exitcode.InternalError
	case compenv.ExitStartException, compenv.ExitStopException:
		return exitcode.ExceptionCaught
	default:
		return exitcode.UnspecifiedError
	}
}
