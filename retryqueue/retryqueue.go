// Package retryqueue implements the Retry Queue (spec section 4.C): a
// durable, priority-ordered, exponential-backoff execution pipeline for
// operations with at-least-once semantics, persisted across restarts.
package retryqueue

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default error class for the retryqueue package.
var Error = errs.Class("retryqueue")

var mon = monkit.Package()

// Profile bundles the backoff parameters of spec section 4.C.
type Profile struct {
	InitialDelay float64 // seconds
	Multiplier   float64
	MaxDelay     float64 // seconds
	Jitter       float64 // fraction, e.g. 0.25
	MaxRetries   int
}

// DefaultProfile is the spec section 4.C default backoff profile.
var DefaultProfile = Profile{
	InitialDelay: 1,
	Multiplier:   2.0,
	MaxDelay:     300,
	Jitter:       0.25,
	MaxRetries:   5,
}

// AggressiveProfile is the spec section 4.C aggressive backoff profile.
var AggressiveProfile = Profile{
	InitialDelay: 0.5,
	Multiplier:   1.5,
	MaxDelay:     600,
	Jitter:       0.25,
	MaxRetries:   10,
}

// Config configures a Queue.
type Config struct {
	Profile Profile
	// RetryableStatuses is not read by the Queue: it retries an operation
	// only when the executor's error is classified retryable
	// (model.IsRetryable). model.ClassifyHTTPStatus maps a status to such an
	// error using whichever set its caller passes.
	RetryableStatuses map[int]bool `help:"HTTP status codes treated as retryable" default:"408,429,500,502,503,504"`
	PersistencePath   string       `help:"path to the durable RetryQueue.json file"`
}

func (c Config) withDefaults() Config {
	if c.Profile == (Profile{}) {
		c.Profile = DefaultProfile
	}
	if c.PersistencePath == "" {
		c.PersistencePath = "RetryQueue.json"
	}
	return c
}
