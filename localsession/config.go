package localsession

import (
	"os"
	"runtime"
	"strconv"

	"github.com/dreamworksanimation/arras4-core/address"
)

const (
	defaultMemoryMB  = 2048
	reservedCores    = 1
	defaultLogLevel  = 3
	defaultMaxCores  = 1024
	consoleLogStyle  = 1 // short/human-readable form, matching log.ConsoleLogStyle::Short
	athenaEnv        = "prod"
	athenaHost       = "localhost"
	athenaPort       = "514"
	overridePkgPathEnv = "ARRASCLIENT_OVR_LOCAL_PACKAGE_PATH_PREFIX"
)

// newSpawnArgs assembles the SpawnArgs for one computation of a local
// session (buildExecConfig assembles its exec-config document), mirroring
// LocalSession::processComputation. ctxName/ctx select the named
// "contexts" entry requirements["context"] points to, if any.
func newSpawnArgs(addr address.Address, name string, definition map[string]any, ctxName string, ctx map[string]any) (*SpawnArgs, error) {
	requirements := getObject(definition, "requirements")
	resources := getObject(requirements, "resources")

	spawnArgs := &SpawnArgs{
		Program:             "execcomp",
		CleanupProcessGroup: true,
		env:                 newEnvLayers(),
	}

	spawnArgs.AssignedMemoryMB = numericOr(resources, "memoryMB", defaultMemoryMB)
	if cores, ok := numeric(resources, "cores"); ok {
		spawnArgs.AssignedCores = cores
	} else {
		maxCores := uint(numericOr(resources, "maxCores", defaultMaxCores))
		reserved := uint(numericOr(resources, "reservedCores", reservedCores))
		n := uint(runtime.NumCPU())
		if n <= reserved {
			n = 1
		} else {
			n -= reserved
		}
		if n > maxCores {
			n = maxCores
		}
		spawnArgs.AssignedCores = n
	}

	if wd := getString(definition, "workingDirectory", ""); wd != "" {
		spawnArgs.WorkingDirectory = wd
	}

	spawnArgs.Args = []string{
		"--memoryMB", strconv.FormatUint(uint64(spawnArgs.AssignedMemoryMB), 10),
		"--cores", strconv.FormatUint(uint64(spawnArgs.AssignedCores), 10),
		"--use_affinity", "0",
	}

	// lowest priority: environment specified for this computation
	spawnArgs.env.setFrom(getObject(definition, "environment"))
	// next: environment specified by the named context, if any, overriding it
	if ctxName != "" {
		spawnArgs.env.setFrom(getObject(ctx, "environment"))
	}
	// finally, values the supervisor always sets, overriding both
	spawnArgs.env.set("ARRAS_ATHENA_ENV", athenaEnv)
	spawnArgs.env.set("ARRAS_ATHENA_HOST", athenaHost)
	spawnArgs.env.set("ARRAS_ATHENA_PORT", athenaPort)
	if user := os.Getenv("LOGNAME"); user != "" {
		spawnArgs.env.set("USER", user)
	}

	packagingCtx := ctx
	fromContext := ctxName != ""
	if !fromContext {
		packagingCtx = requirements
	}
	if err := applyPackaging(spawnArgs, packagingCtx, fromContext); err != nil {
		return nil, err
	}
	return spawnArgs, nil
}

func numeric(obj map[string]any, key string) (uint, bool) {
	if obj == nil {
		return 0, false
	}
	switch v := obj[key].(type) {
	case float64:
		if v >= 0 {
			return uint(v), true
		}
	case int:
		if v >= 0 {
			return uint(v), true
		}
	}
	return 0, false
}

func numericOr(obj map[string]any, key string, def uint) uint {
	if v, ok := numeric(obj, key); ok {
		return v
	}
	return def
}

// buildExecConfig assembles the JSON document execcomp reads at startup,
// mirroring the fields LocalSession::processComputation stamps into
// mExecConfig.
func buildExecConfig(addr address.Address, name string, definition map[string]any, ipcAddress string) map[string]any {
	resources := getObject(getObject(definition, "requirements"), "resources")
	logLevel := int(numericOr(resources, "logLevel", defaultLogLevel))

	compConfig := map[string]any{}
	for k, v := range definition {
		compConfig[k] = v
	}
	compConfig["computationId"] = addr.Computation.String()

	return map[string]any{
		"sessionId":       addr.Session.String(),
		"compId":          addr.Computation.String(),
		"execId":          addr.Computation.String(),
		"nodeId":          addr.Node.String(),
		"ipc":             ipcAddress,
		"logLevel":        logLevel,
		"consoleLogStyle": consoleLogStyle,
		"config": map[string]any{
			name: compConfig,
		},
	}
}
