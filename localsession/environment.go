// Package localsession implements the local-session supervisor: it
// assembles spawn arguments for a worker process, applies a packaging
// system to them, writes the exec-config file the worker reads at
// startup, spawns the worker, accepts its IPC connection, and translates
// its eventual exit into a termination callback. Grounded on
// arras4_client's LocalSession/LocalSessions.
package localsession

import "os"

// envLayers accumulates key=value environment entries in priority order,
// last write wins, mirroring the donor's Environment::set/setFrom.
// newSpawnArgs layers a computation's own "environment" block first, the
// named context's environment over it, and the handful of values the
// supervisor always sets itself over both.
type envLayers struct {
	vars map[string]string
}

func newEnvLayers() *envLayers {
	return &envLayers{vars: map[string]string{}}
}

// set assigns a single key, overwriting any earlier value.
func (e *envLayers) set(key, val string) {
	e.vars[key] = val
}

// setFrom layers every string-valued entry of obj on top of what's
// already set.
func (e *envLayers) setFrom(obj map[string]any) {
	for k, v := range obj {
		if s, ok := v.(string); ok {
			e.vars[k] = s
		}
	}
}

// setFromCurrent layers the worker's own inherited environment on top,
// used by the current-environment packaging system.
func (e *envLayers) setFromCurrent() {
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				e.vars[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
}

// slice renders the accumulated layers as a "key=value" slice suitable
// for exec.Cmd.Env.
func (e *envLayers) slice() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	return out
}
