package nn

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// DefaultWorkers returns the number of physical cores, falling back to the
// logical CPU count when cpuid cannot tell.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// CPUSummary describes the host for the startup log line.
func CPUSummary() (brand string, cores int, avx2 bool) {
	return cpuid.CPU.BrandName, DefaultWorkers(), cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3)
}

// ForEach splits [0, length) into at most limit contiguous chunks and runs
// body on each chunk in its own goroutine. Chunk boundaries depend only on
// length and limit, so per-worker partial sums reduce in a fixed order.
func ForEach(length, limit int, body func(worker, lo, hi int)) {
	if length <= 0 {
		return
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > length {
		limit = length
	}
	if limit == 1 {
		body(0, 0, length)
		return
	}
	chunk := (length + limit - 1) / limit
	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		lo := w * chunk
		if lo >= length {
			break
		}
		hi := lo + chunk
		if hi > length {
			hi = length
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			body(w, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()
}

// workerCount clamps a configured worker count to a usable value.
func workerCount(n, length int) int {
	if n <= 0 {
		n = 1
	}
	if n > length {
		n = length
	}
	if n < 1 {
		n = 1
	}
	return n
}
