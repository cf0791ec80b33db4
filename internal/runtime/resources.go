package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker samples process usage for the handler stats. buffers, when
// set, reports message buffers not yet returned to the transport.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	buffers func() int64

	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker(buffers func() int64) *resourceTracker {
	return &resourceTracker{
		samples: newResourceSamples(),
		buffers: buffers,
		numCPU:  float64(runtime.NumCPU()),
	}
}

func newResourceSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: sampleCPU},
		{Name: sampleHeap},
		{Name: sampleGoroutines},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = newResourceSamples()
	}
	if r.numCPU <= 0 {
		r.numCPU = float64(runtime.NumCPU())
	}
	metrics.Read(r.samples)

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	now := time.Now()
	for _, sample := range r.samples {
		switch sample.Name {
		case sampleCPU:
			if sample.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpuSeconds := sample.Value.Float64()
			if !r.lastSample.IsZero() {
				if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
					usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / wall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpuSeconds
		case sampleHeap:
			if sample.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = sample.Value.Uint64()
			}
		case sampleGoroutines:
			if sample.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(sample.Value.Uint64())
			}
		}
	}
	r.lastSample = now

	if usage.MemoryBytes == 0 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		usage.MemoryBytes = mem.HeapAlloc
	}
	if r.buffers != nil {
		usage.OutstandingBuffers = r.buffers()
	}
	return usage
}
