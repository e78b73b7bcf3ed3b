package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status is the final state of an import run.
type Status string

const (
	StatusRunning           Status = "running"
	StatusCompleted         Status = "completed"
	StatusAborted           Status = "aborted"
	StatusSourceUnavailable Status = "source_unavailable"
	StatusConnectFailed     Status = "connect_failed"
	StatusCancelled         Status = "cancelled"
)

const (
	resultPrefix    = "LDAP Result: "
	detailSeparator = " ;; "
)

// Result is the outcome of one import run.
type Result struct {
	RunID    string
	Status   Status
	Stats    Stats
	Details  []string      // Per-entry and setup details in the order they occurred
	Omitted  int           // Details dropped because the result was bounded
	Duration time.Duration // Set when the run finishes

	maxDetails int
	metrics    *runMetrics
}

func newResult(runID string, maxDetails int) *Result {
	return &Result{
		RunID:      runID,
		Status:     StatusRunning,
		maxDetails: maxDetails,
		metrics:    newRunMetrics(runID),
	}
}

// String renders the result trace: the prefix followed by every kept detail
// terminated by " ;; ".
func (r *Result) String() string {
	var b strings.Builder
	b.WriteString(resultPrefix)
	for _, detail := range r.Details {
		b.WriteString(detail)
		b.WriteString(detailSeparator)
	}
	if r.Omitted > 0 {
		fmt.Fprintf(&b, "... %d more%s", r.Omitted, detailSeparator)
	}
	return b.String()
}

// Succeeded reports whether the run reached the end of the source.
func (r *Result) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Registry returns the run's metrics registry.
func (r *Result) Registry() *prometheus.Registry {
	return r.metrics.registry
}

// WriteMetrics writes the run's metrics to path in the Prometheus text format.
func (r *Result) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, r.metrics.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func (r *Result) appendDetail(detail string) {
	if r.maxDetails > 0 && len(r.Details) >= r.maxDetails {
		r.Omitted++
		return
	}
	r.Details = append(r.Details, detail)
}

// setupFailed records an open, connect or bind failure. An empty detail
// counts the error without adding to the trace.
func (r *Result) setupFailed(kind, detail string) {
	r.Stats.ErrorsEncountered++
	r.Stats.SetupErrors++
	r.metrics.countError(kind)
	if detail != "" {
		r.appendDetail(detail)
	}
}

func (r *Result) entryRead() {
	r.Stats.EntriesRead++
	r.metrics.countEntry(outcomeRead)
}

func (r *Result) entryAdded(detail string) {
	r.Stats.EntriesAdded++
	r.metrics.countEntry(outcomeAdded)
	r.appendDetail(detail)
}

func (r *Result) entryRejected(detail string) {
	r.Stats.ErrorsEncountered++
	r.metrics.countEntry(outcomeRejected)
	r.metrics.countError(kindApply)
	r.appendDetail(detail)
}

func (r *Result) recoverableError() {
	r.Stats.ErrorsEncountered++
	r.Stats.RecoverableErrors++
	r.metrics.countError(kindDecodeRecoverable)
}

func (r *Result) fatalError(detail string) {
	r.Stats.ErrorsEncountered++
	r.Stats.FatalErrors++
	r.metrics.countError(kindDecodeFatal)
	r.appendDetail(detail)
}

func (r *Result) finish(status Status, duration time.Duration) {
	r.Status = status
	r.Duration = duration
	r.metrics.finish(status, duration.Seconds())
}
