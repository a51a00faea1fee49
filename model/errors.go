// Package model holds the data types shared by every sync-core component:
// operations, pending updates, transfer tasks, network-quality snapshots,
// and the error taxonomy of section 7.
package model

import (
	"github.com/zeebo/errs"
)

// ErrorKind classifies a failure the way section 7 of the spec requires RQ,
// OUM, and ECS to classify it, independent of which component raised it.
type ErrorKind int

const (
	// KindUnknown is the zero value; never returned by the constructors below.
	KindUnknown ErrorKind = iota
	// KindTransientNetwork is a transport-level fault (timeout, connection
	// lost, unreachable). Always retryable.
	KindTransientNetwork
	// KindRetryableServer is a remote response in the configured retryable
	// status set (default 408, 429, 500, 502, 503, 504).
	KindRetryableServer
	// KindTerminalServer is a non-retryable remote rejection (bad request,
	// 4xx outside the retryable set, business-rule failure).
	KindTerminalServer
	// KindConflict is a last-writer-wins collision detected by the puller
	// or executor.
	KindConflict
	// KindStorageIO is a disk I/O failure in the encrypted store.
	KindStorageIO
	// KindCorrupted is an authentication/decryption failure in the
	// encrypted store.
	KindCorrupted
	// KindUnsupportedFormat is an unknown algorithm tag read back from
	// persisted metadata.
	KindUnsupportedFormat
	// KindKeychainError is a secret-vault failure.
	KindKeychainError
	// KindTimeout is an OUM rollback-timer expiry.
	KindTimeout
	// KindCancelled marks a caller-initiated cancellation; never surfaced
	// as an error to observers beyond a status change.
	KindCancelled
	// KindNotFound is returned by the store when an id is absent.
	KindNotFound
)

// CoreError is the typed error value every sync-core component returns.
// It layers a dispatchable Kind on top of zeebo/errs' class+wrap idiom so
// callers (RQ, OUM) can decide retryability without string matching.
type CoreError struct {
	kind  ErrorKind
	class *errs.Class
	err   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.err == nil {
		return e.class.New("").Error()
	}
	return e.class.Wrap(e.err).Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *CoreError) Unwrap() error { return e.err }

// Kind reports which §7 error kind this is.
func (e *CoreError) Kind() ErrorKind { return e.kind }

// Retryable reports whether RQ should schedule a backoff retry for this
// error rather than marking the operation terminally failed.
func (e *CoreError) Retryable() bool {
	switch e.kind {
	case KindTransientNetwork, KindRetryableServer:
		return true
	default:
		return false
	}
}

// Error is the default error class for malformed model values (failed
// invariant checks), distinct from the §7 classification errors below.
var Error = errs.Class("model")

var (
	classTransientNetwork  = errs.Class("transient network")
	classRetryableServer   = errs.Class("retryable server")
	classTerminalServer    = errs.Class("terminal server")
	classConflict          = errs.Class("conflict")
	classStorageIO         = errs.Class("storage io")
	classCorrupted         = errs.Class("corrupted")
	classUnsupportedFormat = errs.Class("unsupported format")
	classKeychainError     = errs.Class("keychain")
	classTimeout           = errs.Class("timeout")
	classCancelled         = errs.Class("cancelled")
	classNotFound          = errs.Class("not found")
)

func wrap(kind ErrorKind, class *errs.Class, err error) *CoreError {
	return &CoreError{kind: kind, class: class, err: err}
}

// TransientNetwork wraps a transport-level fault raised by a remote executor.
func TransientNetwork(err error) *CoreError { return wrap(KindTransientNetwork, &classTransientNetwork, err) }

// RetryableServer wraps a remote response whose status is in the retryable set.
func RetryableServer(err error) *CoreError { return wrap(KindRetryableServer, &classRetryableServer, err) }

// TerminalServer wraps a non-retryable remote rejection.
func TerminalServer(err error) *CoreError { return wrap(KindTerminalServer, &classTerminalServer, err) }

// Conflict wraps a last-writer-wins collision.
func Conflict(err error) *CoreError { return wrap(KindConflict, &classConflict, err) }

// StorageIO wraps an ECS disk I/O failure.
func StorageIO(err error) *CoreError { return wrap(KindStorageIO, &classStorageIO, err) }

// Corrupted wraps an ECS authentication/decryption failure.
func Corrupted(err error) *CoreError { return wrap(KindCorrupted, &classCorrupted, err) }

// UnsupportedFormat wraps an unknown algorithm tag.
func UnsupportedFormat(err error) *CoreError {
	return wrap(KindUnsupportedFormat, &classUnsupportedFormat, err)
}

// KeychainError wraps a secret-vault failure.
func KeychainError(err error) *CoreError { return wrap(KindKeychainError, &classKeychainError, err) }

// Timeout wraps an OUM rollback-timer expiry.
func Timeout(err error) *CoreError { return wrap(KindTimeout, &classTimeout, err) }

// Cancelled marks a caller-initiated cancellation.
func Cancelled(err error) *CoreError { return wrap(KindCancelled, &classCancelled, err) }

// NotFound wraps a missing-id lookup in the encrypted store.
func NotFound(err error) *CoreError { return wrap(KindNotFound, &classNotFound, err) }

// IsRetryable reports whether err, if it is (or wraps) a *CoreError, should
// be retried by RQ. A plain error that isn't a CoreError is treated as
// terminal — only a classified error gets backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce := asCoreError(err); ce != nil {
		return ce.Retryable()
	}
	return false
}

// Kind extracts the ErrorKind from err, or KindUnknown if err is not a
// *CoreError.
func Kind(err error) ErrorKind {
	if ce := asCoreError(err); ce != nil {
		return ce.kind
	}
	return KindUnknown
}

func asCoreError(err error) *CoreError {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			return ce
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// RetryableHTTPStatuses is the default §4.C retryable status set.
var RetryableHTTPStatuses = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// ClassifyHTTPStatus returns RetryableServer or TerminalServer depending on
// whether status is in the retryable set.
func ClassifyHTTPStatus(status int, retryable map[int]bool, err error) *CoreError {
	if retryable == nil {
		retryable = RetryableHTTPStatuses
	}
	if retryable[status] {
		return RetryableServer(err)
	}
	return TerminalServer(err)
}
