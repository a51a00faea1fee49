// Package ecstore implements the Encrypted Compressed Store (spec section
// 4.A): persistent, authenticated-encrypted, optionally-compressed storage
// of opaque byte payloads under a typed logical key space.
//
// The on-disk layout mirrors storj.io/storj's storage/filestore package:
// a root directory holding data/ and meta/ subtrees, UUID-named blobs,
// atomic create-temp-then-rename commits, and plaintext JSON sidecar
// metadata that stays forward-readable across versions.
package ecstore

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default error class for the ecstore package.
var Error = errs.Class("ecstore")

var mon = monkit.Package()

const (
	dataDirPermission = 0700
	metaDirPermission = 0700
	blobPermission    = 0600
	metaPermission    = 0600
)
