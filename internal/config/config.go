// Package config implements the runtime's three-layer configuration
// composition: compiled-in defaults, the exec-config JSON file, and
// CLI flags/ARRAS_* environment variables, outermost wins.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Keys bound from the worker CLI / ARRAS_* environment.
const (
	KeyMemoryMB              = "memoryMB"
	KeyCores                 = "cores"
	KeyThreadsPerCore        = "threadsPerCore"
	KeyUseAffinity           = "use_affinity"
	KeyProcessorList         = "processorList"
	KeyHyperthreadProcessors = "hyperthreadProcessorList"
	KeyUseColor              = "use_color"
	KeyMonitorAddr           = "monitor-addr"
	KeyIdleInterval          = "idleIntervalMicros"
)

// Defaults compiled into the bootstrap, overridden by weaker-to-stronger
// layers above it.
var Defaults = map[string]any{
	KeyMemoryMB:       2048,
	KeyCores:          1.0,
	KeyThreadsPerCore: 1,
	KeyUseAffinity:    false,
	KeyUseColor:       false,
	KeyIdleInterval:   40, // microseconds
}

// envBindings maps a config key to the ARRAS_* environment variable that
// overrides it, per the worker CLI's documented environment surface.
var envBindings = map[string]string{
	"athena.env":         "ARRAS_ATHENA_ENV",
	"athena.host":        "ARRAS_ATHENA_HOST",
	"athena.port":        "ARRAS_ATHENA_PORT",
	"breakpadPath":       "ARRAS_BREAKPAD_PATH",
	"logLevel":           "ARRAS_LOG_LEVEL",
	"rezPackagePrefix":   "ARRASCLIENT_OVR_LOCAL_PACKAGE_PATH_PREFIX",
}

// New builds a viper instance seeded with Defaults and the ARRAS_* env
// bindings. Callers then MergeConfigMap the parsed exec-config JSON
// document (layer 2) and BindPFlags the worker CLI's flag set (layer 3,
// outermost) on top.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("ARRAS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, envVar := range envBindings {
		_ = v.BindEnv(key, envVar)
	}
	return v
}
