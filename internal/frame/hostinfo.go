package frame

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// HostMemoryBytes returns a best-effort estimate of total physical
// memory, used to scale watermarks, flush batches, and stripe counts.
// On Linux it reads /proc/meminfo; elsewhere (or on any read failure) it
// returns 0, which callers treat as "use the baseline tier". This is the
// one piece of the engine with no idiomatic third-party equivalent in the
// example corpus, so it stays on the standard library (see DESIGN.md).
func HostMemoryBytes() int64 {
	return hostMemoryOnce()
}

var hostMemoryOnce = sync.OnceValue(detectHostMemoryBytes)

func detectHostMemoryBytes() int64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kib, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kib * 1024
	}
	return 0
}

// HardwareConcurrency is runtime.NumCPU() under the name a browser
// caller would expect from navigator.hardwareConcurrency.
func HardwareConcurrency() int {
	return runtime.NumCPU()
}
