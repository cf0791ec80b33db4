package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// UnprocessableMessageError marks a payload the handler rejected as invalid.
// It is counted as a validation error in handler stats.
type UnprocessableMessageError struct {
	payload string
	err     error
}

// NewUnprocessableMessageError wraps err for the given payload.
func NewUnprocessableMessageError(payload []byte, err error) *UnprocessableMessageError {
	return &UnprocessableMessageError{payload: string(payload), err: err}
}

func (e *UnprocessableMessageError) Error() string {
	return "unprocessable message: " + e.payload + " error: " + e.err.Error()
}

func (e *UnprocessableMessageError) Unwrap() error {
	return e.err
}

type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName string `json:"-"`
	messageType int32  `json:"-"`
	busSystem   string `json:"-"`

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency      LatencyMetrics     `json:"latency"`
	Throughput   ThroughputMetrics  `json:"throughput"`
	Errors       ErrorBreakdown     `json:"errors"`
	Resource     ResourceUsage      `json:"resource"`
	Backlog      BacklogMetrics     `json:"backlog"`
	Dependencies []DependencyHealth `json:"dependencies"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
	dependencyIndex  map[string]int    `json:"-"`
}

type HandlerInfo struct {
	Name        string        `json:"name"`
	MessageType int32         `json:"message_type"`
	ReplyType   int32         `json:"reply_type,omitempty"`
	Stats       *HandlerStats `json:"stats"`

	withPrototype bool
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent         float64 `json:"cpu_percent"`
	MemoryBytes        uint64  `json:"memory_bytes"`
	Goroutines         int     `json:"goroutines"`
	OutstandingBuffers int64   `json:"outstanding_buffers"`
}

type BacklogMetrics struct {
	InFlight       uint64 `json:"in_flight"`
	MaxInFlight    uint64 `json:"max_in_flight"`
	LastQueueDepth int64  `json:"last_queue_depth"`
	MaxQueueDepth  int64  `json:"max_queue_depth"`
}

type DependencyHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Details     string    `json:"details,omitempty"`
}

const (
	DependencyStatusUnknown  = "unknown"
	DependencyStatusHealthy  = "healthy"
	DependencyStatusDegraded = "degraded"
)

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(name string, mtype int32, busSystem string, sampler *resourceTracker) *HandlerStats {
	stats := &HandlerStats{
		handlerName:      name,
		messageType:      mtype,
		busSystem:        busSystem,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		Backlog: BacklogMetrics{
			LastQueueDepth: -1,
		},
		dependencyIndex: make(map[string]int),
	}
	stats.addDependency(stats.transportDependency())
	return stats
}

func (h *HandlerStats) transportDependency() string {
	if h.busSystem == "" {
		return "transport"
	}
	return fmt.Sprintf("transport:%s", h.busSystem)
}

func (h *HandlerStats) addDependency(name string) {
	h.Dependencies = append(h.Dependencies, DependencyHealth{
		Name:   name,
		Status: DependencyStatusUnknown,
	})
	if h.dependencyIndex == nil {
		h.dependencyIndex = make(map[string]int)
	}
	h.dependencyIndex[name] = len(h.Dependencies) - 1
}

// onMessageStart records an invocation and the handoff queue depth seen by
// it. A negative depth means unknown.
func (h *HandlerStats) onMessageStart(queueDepth int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}
	if queueDepth >= 0 {
		h.Backlog.LastQueueDepth = int64(queueDepth)
		if int64(queueDepth) > h.Backlog.MaxQueueDepth {
			h.Backlog.MaxQueueDepth = int64(queueDepth)
		}
	}
}

func (h *HandlerStats) onMessageFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if h.MessagesProcessed > 0 {
			snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
		}
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalMessages = h.MessagesProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	category := classifier(err)
	h.Errors.Record(category, err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}

	status := DependencyStatusHealthy
	details := ""
	if category == ErrorCategoryTransport {
		status = DependencyStatusDegraded
		details = err.Error()
	}
	h.setDependencyStatusLocked(h.transportDependency(), status, details)
}

func (h *HandlerStats) setDependencyStatusLocked(name, status, details string) {
	if name == "" {
		return
	}
	idx, ok := h.dependencyIndex[name]
	if !ok {
		h.Dependencies = append(h.Dependencies, DependencyHealth{Name: name})
		idx = len(h.Dependencies) - 1
		h.dependencyIndex[name] = idx
	}
	dep := h.Dependencies[idx]
	dep.Status = status
	dep.Details = details
	dep.LastChecked = time.Now().UTC()
	h.Dependencies[idx] = dep
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// latencyWindow keeps the most recent handler durations in a ring.
type latencyWindow struct {
	ring  []int64
	pos   int
	count int
	last  int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.ring) == 0 {
		return
	}
	lw.last = int64(d)
	lw.ring[lw.pos] = lw.last
	lw.pos = (lw.pos + 1) % len(lw.ring)
	lw.count = min(lw.count+1, len(lw.ring))
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw == nil {
		return LatencyMetrics{}
	}
	metrics := LatencyMetrics{LastNs: lw.last, SampleSize: lw.count}
	if lw.count == 0 {
		return metrics
	}

	// Order is irrelevant once sorted, so the filled prefix is enough.
	sorted := slices.Clone(lw.ring[:lw.count])
	slices.Sort(sorted)

	var total int64
	for _, ns := range sorted {
		total += ns
	}
	metrics.AverageNs = total / int64(len(sorted))
	metrics.P50Ns = percentile(sorted, 0.50)
	metrics.P95Ns = percentile(sorted, 0.95)
	metrics.P99Ns = percentile(sorted, 0.99)
	return metrics
}

// percentile interpolates linearly between the two closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + int64(float64(sorted[hi]-sorted[lo])*(rank-float64(lo)))
}

// throughputWindow counts invocations over a sliding horizon.
type throughputWindow struct {
	horizon time.Duration
	seen    []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, seen: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.seen = append(tw.seen, now)
	tw.expire(now)

	if len(tw.seen) == 0 {
		return throughputSnapshot{}
	}
	span := max(now.Sub(tw.seen[0]), time.Nanosecond)
	return throughputSnapshot{
		Count:         len(tw.seen),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.seen)) / span.Seconds(),
	}
}

// expire drops timestamps older than the horizon. Timestamps are appended in
// order, so the expired ones form a prefix.
func (tw *throughputWindow) expire(now time.Time) {
	cutoff := now.Add(-tw.horizon)
	keep := slices.IndexFunc(tw.seen, func(ts time.Time) bool { return !ts.Before(cutoff) })
	if keep < 0 {
		tw.seen = tw.seen[:0]
		return
	}
	tw.seen = slices.Delete(tw.seen, 0, keep)
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unprocessable *UnprocessableMessageError
	var decode *handlerpkg.DecodeError
	if errors.As(err, &unprocessable) || errors.As(err, &decode) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, errspkg.ErrReplyFailed) ||
		errors.Is(err, errspkg.ErrSendFailed) ||
		errors.Is(err, errspkg.ErrPayloadTooLarge) ||
		errors.Is(err, errspkg.ErrClientClosed) ||
		errors.Is(err, errspkg.ErrNotReady) {
		return ErrorCategoryTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}
