// Package oum implements the Optimistic Update Manager (spec section 4.D):
// apply user-visible mutations immediately against a local entity store,
// track pending state, and guarantee rollback on failure or timeout.
package oum

import (
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default error class for the oum package.
var Error = errs.Class("oum")

var mon = monkit.Package()

// Config configures a Manager.
type Config struct {
	RollbackTimeout   time.Duration `help:"deadline after which a pending/syncing update is forced to roll back" default:"30s"`
	MaxPendingUpdates int           `help:"maximum number of in-flight optimistic updates" default:"100"`
}

func (c Config) withDefaults() Config {
	if c.RollbackTimeout == 0 {
		c.RollbackTimeout = 30 * time.Second
	}
	if c.MaxPendingUpdates == 0 {
		c.MaxPendingUpdates = 100
	}
	return c
}
