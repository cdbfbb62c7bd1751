package perfmon

import (
	"os"
	"strconv"
	"strings"
)

// clockTicksPerSecond mirrors sysconf(_SC_CLK_TCK): Linux has reported 100
// user-hz on every architecture that matters here since the early 2.6
// kernels, so a constant avoids a cgo dependency just to call sysconf.
const clockTicksPerSecond = 100.0

// cpuUsage reads /proc/self/stat and returns cumulative user+system CPU
// ticks and the current thread count, mirroring getCpuUsage. Field offsets
// follow the documented /proc/[pid]/stat layout; like the donor, this does
// not defend against a process comm name containing a space.
func cpuUsage() (ticks uint64, threads int) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(string(data))
	// fields[13]=utime fields[14]=stime ... fields[19]=num_threads
	if len(fields) < 20 {
		return 0, 0
	}
	userTicks, _ := strconv.ParseUint(fields[13], 10, 64)
	systemTicks, _ := strconv.ParseUint(fields[14], 10, 64)
	numThreads, _ := strconv.Atoi(fields[19])
	return userTicks + systemTicks, numThreads
}

// memUsageBytes reads the first field of /proc/self/statm -- total program
// size, not resident set size, matching getMemUsage's actual read despite
// its comment describing RSS. The page size is read from the runtime
// rather than hardcoded, since 4096 isn't universal across architectures.
func memUsageBytes() int64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0
	}
	programSizePages, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return programSizePages * int64(os.Getpagesize())
}
