// Package metrics records transfer counters and step timings through a
// pluggable backend. The default backend discards everything, so callers
// never need to check whether metrics are configured.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by the engine.
const (
	StepTotal    = "xfer_step_total"
	StepDuration = "xfer_step_duration_seconds"
	RowsTotal    = "xfer_rows_total"
	BatchesTotal = "xfer_batches_total"
)

// Backend is implemented by concrete metric systems.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of step for task and observes its duration.
func RecordStep(task, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"task": task, "step": step, "status": status}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind: read, filtered, matched,
// no_match or written.
func RecordRows(task, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"task": task, "kind": kind})
}

// RecordBatch counts one bulk-write call against table.
func RecordBatch(task, table string) {
	current().IncCounter(BatchesTotal, 1, Labels{"task": task, "table": table})
}
