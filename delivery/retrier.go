package delivery

import "time"

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the attempt succeeded (2xx).
	Delivered Decision = iota

	// Retry means the delivery should be attempted again after a backoff delay.
	Retry

	// Failed means the delivery has permanently failed (retries exhausted).
	Failed
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Error      string
	Duration   time.Duration
}

// Retrier decides what to do after a delivery attempt and computes backoff
// delays from an ordered schedule.
type Retrier struct {
	schedule []time.Duration
}

// NewRetrier creates a retrier with the given backoff schedule.
func NewRetrier(schedule []time.Duration) *Retrier {
	return &Retrier{schedule: schedule}
}

// Decide determines what to do with a delivery after an attempt.
//
// Any 2xx response is success. Every other outcome, including timeouts and
// network errors, retries while the delivery's current retry count is below
// its ceiling and fails permanently after that. 4xx responses retry like
// any other failure; subscriber endpoints misconfigure auth and fix it
// later often enough that giving up immediately loses deliveries.
func (r *Retrier) Decide(res Result, d *Delivery) Decision {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return Delivered
	}
	if d.RetryCount < d.MaxRetries {
		return Retry
	}
	return Failed
}

// Delay returns the backoff delay for the given retry count:
// schedule[min(retryCount, len(schedule)-1)]. Monotonic non-decreasing
// schedules stay monotonic and cap at the last entry.
func (r *Retrier) Delay(retryCount int) time.Duration {
	if len(r.schedule) == 0 {
		return 0
	}
	idx := retryCount
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	return r.schedule[idx]
}

// NextRetryAt returns the time at which the next attempt should be made.
func (r *Retrier) NextRetryAt(retryCount int) time.Time {
	return time.Now().UTC().Add(r.Delay(retryCount))
}
