// Package limits implements ExecutionLimits: the low-level resource
// restrictions (memory ceiling, core/hyperthread count, CPU affinity) a
// worker applies to the process hosting a computation, grounded on
// arras4_core_impl's ExecutionLimits.
package limits

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const defaultMaxMemoryMB = 2048

// maxProcessorIndex bounds a parsed processor index to a plausible core
// count; the original accepts anything a cpu_set_t can hold.
const maxProcessorIndex = 1024

// ExecutionLimits holds the resource ceiling for one computation's process.
// The zero value is not meaningful; use Default or New.
type ExecutionLimits struct {
	Unlimited      bool
	MaxMemoryMB    uint
	MaxCores       uint
	ThreadsPerCore uint
	UseAffinity    bool
	CPUs           []int
}

// Default returns the unlimited starting point every computation gets
// unless its exec-config overrides it.
func Default() ExecutionLimits {
	return ExecutionLimits{Unlimited: true, MaxMemoryMB: defaultMaxMemoryMB, MaxCores: 1, ThreadsPerCore: 1}
}

// New builds an explicit (non-unlimited) set of limits with affinity
// disabled; call EnableAffinity to turn it on.
func New(maxMemoryMB, maxCores, threadsPerCore uint) ExecutionLimits {
	return ExecutionLimits{MaxMemoryMB: maxMemoryMB, MaxCores: maxCores, ThreadsPerCore: threadsPerCore}
}

// MaxThreads is the total OS-thread budget: cores times threads per core.
func (l ExecutionLimits) MaxThreads() uint { return l.MaxCores * l.ThreadsPerCore }

// UsesHyperthreads reports whether more than one thread is allotted per
// core.
func (l ExecutionLimits) UsesHyperthreads() bool { return l.ThreadsPerCore > 1 }

// DisableAffinity turns off CPU pinning without changing any other field.
func (l *ExecutionLimits) DisableAffinity() { l.UseAffinity = false }

// DisableHyperthreading resets ThreadsPerCore to 1.
func (l *ExecutionLimits) DisableHyperthreading() { l.ThreadsPerCore = 1 }

// EnableAffinity validates cpus (and, if ThreadsPerCore > 1, hyperthreadCpus)
// against MaxCores and ThreadsPerCore and, if they check out, turns on
// affinity pinned to their union. cpus and hyperthreadCpus are
// comma-separated processor indices with no spaces (e.g. "1,2,3"), and must
// not overlap. hyperthreadCpus is ignored when ThreadsPerCore is 1.
func (l *ExecutionLimits) EnableAffinity(cpus, hyperthreadCpus string) error {
	primary, err := parseProcList(cpus, l.MaxCores)
	if err != nil {
		return fmt.Errorf("limits: invalid cpu affinity set: %w", err)
	}
	all := primary
	if l.ThreadsPerCore > 1 {
		ht, err := parseProcList(hyperthreadCpus, l.MaxCores*(l.ThreadsPerCore-1))
		if err != nil {
			return fmt.Errorf("limits: invalid hyperthread cpu affinity set: %w", err)
		}
		if overlaps(primary, ht) {
			return fmt.Errorf("limits: regular and hyperthread cpu affinity sets may not overlap")
		}
		all = append(append([]int{}, primary...), ht...)
	}
	l.UseAffinity = true
	l.CPUs = all
	return nil
}

func parseProcList(s string, required uint) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty processor list")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= maxProcessorIndex {
			return nil, fmt.Errorf("invalid processor index %q", p)
		}
		out = append(out, n)
	}
	if uint(len(out)) != required {
		return nil, fmt.Errorf("expected %d processors, got %d", required, len(out))
	}
	return out, nil
}

func overlaps(a, b []int) bool {
	set := make(map[int]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func cpuListString(cpus []int) string {
	sorted := append([]int{}, cpus...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// FromObject builds limits from a decoded exec-config document: optional
// fields unlimited, maxMemoryMB, maxCores, threadsPerCore, useAffinity,
// cpuSet, hyperthreadCpuSet. Returns an error describing the first
// malformed field, rather than the original's log-and-return-false.
func FromObject(obj map[string]any) (ExecutionLimits, error) {
	l := Default()
	if unlimited, ok := obj["unlimited"].(bool); ok {
		l.Unlimited = unlimited
	} else {
		l.Unlimited = false
	}

	if v, ok := numberField(obj, "maxMemoryMB"); ok {
		if v <= 0 {
			return ExecutionLimits{}, fmt.Errorf("limits: maxMemoryMB must be a positive integer")
		}
		l.MaxMemoryMB = uint(v)
	}
	if v, ok := numberField(obj, "maxCores"); ok {
		if v <= 0 {
			return ExecutionLimits{}, fmt.Errorf("limits: maxCores must be a positive integer")
		}
		l.MaxCores = uint(v)
	}
	if v, ok := numberField(obj, "threadsPerCore"); ok {
		if v <= 0 {
			return ExecutionLimits{}, fmt.Errorf("limits: threadsPerCore must be a positive integer")
		}
		l.ThreadsPerCore = uint(v)
	}

	useAffinity, hasUseAffinity := obj["useAffinity"].(bool)
	cpuSet, _ := obj["cpuSet"].(string)
	htCpuSet, _ := obj["hyperthreadCpuSet"].(string)
	switch {
	case hasUseAffinity && useAffinity:
		if err := l.EnableAffinity(cpuSet, htCpuSet); err != nil {
			return ExecutionLimits{}, err
		}
	case hasUseAffinity:
		l.DisableAffinity()
	case obj["cpuSet"] != nil || obj["hyperthreadCpuSet"] != nil:
		return ExecutionLimits{}, fmt.Errorf("limits: invalid cpu affinity settings")
	}
	return l, nil
}

func numberField(obj map[string]any, key string) (int, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// ToObject renders l in the form FromObject can parse back.
func (l ExecutionLimits) ToObject() map[string]any {
	if l.Unlimited {
		return map[string]any{"unlimited": true}
	}
	obj := map[string]any{
		"maxMemoryMB":    int(l.MaxMemoryMB),
		"maxCores":       int(l.MaxCores),
		"threadsPerCore": int(l.ThreadsPerCore),
	}
	if l.UseAffinity {
		obj["useAffinity"] = true
		primary := l.CPUs
		if l.ThreadsPerCore > 1 && uint(len(l.CPUs)) > l.MaxCores {
			primary = l.CPUs[:l.MaxCores]
			obj["hyperthreadCpuSet"] = cpuListString(l.CPUs[l.MaxCores:])
		}
		obj["cpuSet"] = cpuListString(primary)
	}
	return obj
}

// Apply pins every thread of the current process to l's cpu set. It
// satisfies dispatcher.Limits, so a Dispatcher can apply it once its
// handler goroutine starts. A no-op when Unlimited or affinity is
// disabled.
//
// Affinity is applied to the whole process, matching the original
// executor's behavior, rather than just the calling goroutine's OS
// thread; memory limits are intentionally not enforced, per the same
// original behavior.
func (l ExecutionLimits) Apply() error {
	if l.Unlimited || !l.UseAffinity {
		return nil
	}
	return setAffinityForProcess(l.CPUs, os.Getpid())
}

func setAffinityForProcess(cpus []int, pid int) error {
	var mask unix.CPUSet
	for _, cpu := range cpus {
		mask.Set(cpu)
	}
	taskDir := filepath.Join("/proc", strconv.Itoa(pid), "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return fmt.Errorf("limits: reading %s: %w", taskDir, err)
	}
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // "." and ".." among others
		}
		if err := unix.SchedSetaffinity(tid, &mask); err != nil {
			return fmt.Errorf("limits: sched_setaffinity(%d): %w", tid, err)
		}
	}
	return nil
}
