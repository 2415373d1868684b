package monitor

import (
	"sync"
	"time"

	"github.com/raulk/clock"
)

// MaxConsecutiveFailures is the number of back-to-back failures a job may
// have before it is reported unhealthy.
const MaxConsecutiveFailures = 3

// JobMonitor tracks the health of a recurring background job.
type JobMonitor struct {
	name       string
	staleAfter time.Duration
	clock      clock.Clock

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	runs              uint64
	consecutiveErrors int
	lastError         string
}

// NewJobMonitor creates a monitor for the job called name. When staleAfter is
// positive, a job whose last success is older than that is unhealthy.
func NewJobMonitor(name string, staleAfter time.Duration) *JobMonitor {
	return &JobMonitor{name: name, staleAfter: staleAfter, clock: clock.New()}
}

// Name returns the job name.
func (jm *JobMonitor) Name() string { return jm.name }

// RecordSuccess records a successful run.
func (jm *JobMonitor) RecordSuccess() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	now := jm.clock.Now()
	jm.lastSuccess = now
	jm.lastAttempt = now
	jm.runs++
	jm.consecutiveErrors = 0
	jm.lastError = ""
}

// RecordFailure records a failed run.
func (jm *JobMonitor) RecordFailure(err error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.lastAttempt = jm.clock.Now()
	jm.runs++
	jm.consecutiveErrors++
	if err != nil {
		jm.lastError = err.Error()
	}
}

// IsHealthy returns true if the job is working properly.
// Unhealthy conditions:
//   - More than MaxConsecutiveFailures consecutive failures
//   - Last success older than the staleness window (if one is set)
func (jm *JobMonitor) IsHealthy() bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.healthyLocked()
}

func (jm *JobMonitor) healthyLocked() bool {
	if jm.consecutiveErrors > MaxConsecutiveFailures {
		return false
	}
	if jm.staleAfter > 0 && !jm.lastSuccess.IsZero() && jm.clock.Since(jm.lastSuccess) > jm.staleAfter {
		return false
	}
	return true
}

// JobStatus is a point-in-time view of a job for health checks.
type JobStatus struct {
	Healthy           bool   `json:"healthy"`
	Runs              uint64 `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current job status for health checks.
func (jm *JobMonitor) Status() JobStatus {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	status := JobStatus{
		Healthy: jm.healthyLocked(),
		Runs:    jm.runs,
	}

	if !jm.lastSuccess.IsZero() {
		status.LastSuccess = jm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = jm.clock.Since(jm.lastSuccess).String()
	}

	if !jm.lastAttempt.IsZero() {
		status.LastAttempt = jm.lastAttempt.Format(time.RFC3339)
	}

	if jm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = jm.consecutiveErrors
		status.LastError = jm.lastError
	}

	return status
}
