// Package metrics provides request metrics collection for the scanner.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates scan metrics.
type Collector struct {
	// Counters
	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	retriesTotal  atomic.Int64
	bytesTotal    atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordRequest records a completed HTTP request.
func (c *Collector) RecordRequest(statusCode int, bodyBytes int64, d time.Duration) {
	c.requestsTotal.Add(1)
	c.bytesTotal.Add(bodyBytes)
	c.responseTimesSum.Add(d.Milliseconds())
	c.responseTimesNum.Add(1)

	c.statusMu.Lock()
	if c.statusCodes[statusCode] == nil {
		c.statusCodes[statusCode] = &atomic.Int64{}
	}
	c.statusCodes[statusCode].Add(1)
	c.statusMu.Unlock()
}

// RecordError records a failed request by error category.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[errorType] == nil {
		c.errorCounts[errorType] = &atomic.Int64{}
	}
	c.errorCounts[errorType].Add(1)
	c.errorMu.Unlock()
}

// RecordRetry records a retried request attempt.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
}

// AverageResponseTime returns the mean response time so far.
func (c *Collector) AverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time view of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.startTime),
		RequestsTotal:       c.requestsTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		RetriesTotal:        c.retriesTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		AverageResponseTime: c.AverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.requestsTotal.Store(0)
	c.errorsTotal.Store(0)
	c.retriesTotal.Store(0)
	c.bytesTotal.Store(0)
	c.responseTimesSum.Store(0)
	c.responseTimesNum.Store(0)

	c.errorMu.Lock()
	c.errorCounts = make(map[string]*atomic.Int64)
	c.errorMu.Unlock()

	c.statusMu.Lock()
	c.statusCodes = make(map[int]*atomic.Int64)
	c.statusMu.Unlock()

	c.startTime = time.Now()
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	RetriesTotal        int64            `json:"retries_total"`
	BytesTotal          int64            `json:"bytes_total"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns the snapshot as loggable fields.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"errors_total":         s.ErrorsTotal,
		"retries_total":        s.RetriesTotal,
		"error_rate":           s.ErrorRate(),
		"bytes_total":          s.BytesTotal,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}

// Global metrics collector.
var globalCollector = New()

// SetGlobal sets the global metrics collector.
func SetGlobal(c *Collector) {
	globalCollector = c
}

// Global returns the global metrics collector.
func Global() *Collector {
	return globalCollector
}
