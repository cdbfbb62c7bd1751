package localsession

import (
	"fmt"
	"os/exec"
)

// PackagingSystem names one of the ways a computation's process can be
// assembled before it runs, taken from its "requirements" (or a named
// context's) "packaging_system" field.
type PackagingSystem string

const (
	PackagingNone               PackagingSystem = "none"
	PackagingCurrentEnvironment PackagingSystem = "current-environment"
	PackagingBash               PackagingSystem = "bash"
	PackagingRez1               PackagingSystem = "rez1"
	PackagingRez2               PackagingSystem = "rez2"
)

// SpawnArgs is everything needed to exec.Command a worker process,
// mirroring the donor's SpawnArgs (the parts package applies to it
// before the process starts).
type SpawnArgs struct {
	Program             string
	Args                []string
	WorkingDirectory    string
	AssignedMemoryMB    uint
	AssignedCores       uint
	EnforceMemory       bool
	EnforceCores        bool
	CleanupProcessGroup bool

	env *envLayers
}

// Environment returns the accumulated "key=value" environment for
// exec.Cmd.Env.
func (s *SpawnArgs) Environment() []string {
	return s.env.slice()
}

func getString(obj map[string]any, key, def string) string {
	if obj == nil {
		return def
	}
	if v, ok := obj[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func getObject(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	if v, ok := obj[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// applyPackaging picks a packaging system from ctx (a named context's
// object, or the computation's own requirements object) and
// rewrites spawnArgs.Program/Args/env to run it, mirroring
// LocalSession::applyPackaging and its five per-system handlers.
// fromContext is true when ctx is a named context rather than the
// computation's own requirements, since the default packaging system
// differs between the two (rez1 vs none).
func applyPackaging(spawnArgs *SpawnArgs, ctx map[string]any, fromContext bool) error {
	system := PackagingSystem(getString(ctx, "packaging_system", ""))
	if system == "" {
		if fromContext {
			system = PackagingNone
		} else {
			system = PackagingRez1
		}
	}

	switch system {
	case PackagingNone, "":
		return applyNoPackaging(spawnArgs, ctx)
	case PackagingCurrentEnvironment:
		return applyCurrentEnvironment(spawnArgs, ctx)
	case PackagingBash:
		return applyShellPackaging(spawnArgs, ctx)
	case PackagingRez1:
		return applyRezPackaging(spawnArgs, ctx, 1)
	case PackagingRez2:
		return applyRezPackaging(spawnArgs, ctx, 2)
	default:
		return fmt.Errorf("localsession: unknown packaging system %q", system)
	}
}

// applyNoPackaging runs the program directly, so it must already be on
// PATH in the environment the supervisor itself runs under.
func applyNoPackaging(spawnArgs *SpawnArgs, ctx map[string]any) error {
	program := spawnArgs.Program
	if pc := getString(ctx, "pseudo-compiler", ""); pc != "" {
		program += "-" + pc
	}
	resolved, err := exec.LookPath(program)
	if err != nil {
		return fmt.Errorf("localsession: cannot find executable %q on PATH: %w", program, err)
	}
	spawnArgs.Program = resolved
	return nil
}

// applyCurrentEnvironment layers the supervisor's own environment onto
// the worker's, rather than starting from an empty environment.
func applyCurrentEnvironment(spawnArgs *SpawnArgs, ctx map[string]any) error {
	spawnArgs.env.setFromCurrent()
	if pc := getString(ctx, "pseudo-compiler", ""); pc != "" {
		spawnArgs.Program += "-" + pc
	}
	return nil
}

// applyShellPackaging wraps the program in a shell script, matching
// ShellContext::wrap: the program and its arguments become trailing
// arguments to the script rather than being exec'd directly.
func applyShellPackaging(spawnArgs *SpawnArgs, ctx map[string]any) error {
	script := getString(ctx, "script", "")
	if script == "" {
		return fmt.Errorf("localsession: bash packaging requires a \"script\"")
	}
	wrapped := append([]string{spawnArgs.Program}, spawnArgs.Args...)
	spawnArgs.Program = "/bin/bash"
	spawnArgs.Args = append([]string{script}, wrapped...)
	return nil
}

// applyRezPackaging wraps the program in a "rez-env" (rez1) or
// "rez2-env" (rez2) invocation built from rez_packages or
// rez_context_file. There's no Go client for either rez major version,
// so (as in the donor) this is a thin exec-time wrapper rather than an
// in-process API call.
func applyRezPackaging(spawnArgs *SpawnArgs, ctx map[string]any, rezMajor int) error {
	packages := getString(ctx, "rez_packages", "")
	contextFile := getString(ctx, "rez_context_file", "")
	wrapped := append([]string{spawnArgs.Program}, spawnArgs.Args...)

	switch {
	case contextFile != "":
		rezCmd := rezEnvCommand(rezMajor)
		spawnArgs.Program = rezCmd
		spawnArgs.Args = append([]string{"--input", contextFile, "--"}, wrapped...)
	case packages != "":
		rezCmd := rezEnvCommand(rezMajor)
		spawnArgs.Program = rezCmd
		spawnArgs.Args = append(append([]string{}, splitFields(packages)...), append([]string{"--"}, wrapped...)...)
	default:
		return fmt.Errorf("localsession: rez%d packaging requires rez_packages or rez_context_file", rezMajor)
	}
	return nil
}

func rezEnvCommand(rezMajor int) string {
	if rezMajor == 2 {
		return "rez2-env"
	}
	return "rez-env"
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}
