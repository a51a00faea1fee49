// Package bwo implements the Bandwidth Optimizer (spec section 4.B): a
// network-aware admission and scheduling layer that issues transfer permits
// without performing any I/O itself.
package bwo

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default error class for the bwo package.
var Error = errs.Class("bwo")

var mon = monkit.Package()

// Config configures an Optimizer, using the same help-tagged-struct-with-
// defaults idiom as satellite/gc/service.go's Config.
type Config struct {
	MaxConcurrentTransfers int     `help:"maximum number of concurrent transfers at fair quality or better" default:"4"`
	LargeFileThreshold     int64   `help:"size in bytes above which wifiOnlyForLargeFiles applies" default:"10485760"`
	WifiOnlyForLargeFiles  bool    `help:"restrict large-file transfers to wifi or ethernet" default:"true"`
	BaseChunkSize          int     `help:"base chunk size in bytes before quality-band scaling" default:"65536"`
	ThroughputWindowSize   int     `help:"number of recent throughput samples retained for the rolling average" default:"100"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTransfers == 0 {
		c.MaxConcurrentTransfers = 4
	}
	if c.LargeFileThreshold == 0 {
		c.LargeFileThreshold = 10 << 20
	}
	if c.BaseChunkSize == 0 {
		c.BaseChunkSize = 64 << 10
	}
	if c.ThroughputWindowSize == 0 {
		c.ThroughputWindowSize = 100
	}
	return c
}
