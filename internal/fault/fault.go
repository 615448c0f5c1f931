// Package fault classifies failures across the sync pipeline so the
// orchestrator and scheduler can report outcomes and decide retry policy
// without inspecting error strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies where in the pipeline a run failed and how.
type Kind int

const (
	KindUnknown Kind = iota

	// Bluetooth layer.
	KindNotFound
	KindConnectTimeout
	KindAuthFailure
	KindProtocolError
	KindDeviceBusy

	// WiFi layer.
	KindAssociationTimeout
	KindAuthRejected
	KindNoIPAddress

	// Crawl layer.
	KindUnreachable
	KindParseError

	// Download layer.
	KindTransferError
	KindDiskError
	KindSizeMismatch

	// Orchestrator level.
	KindOverallTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindNotFound:           "not-found",
	KindConnectTimeout:     "connect-timeout",
	KindAuthFailure:        "auth-failure",
	KindProtocolError:      "protocol-error",
	KindDeviceBusy:         "device-busy",
	KindAssociationTimeout: "association-timeout",
	KindAuthRejected:       "auth-rejected",
	KindNoIPAddress:        "no-ip-address",
	KindUnreachable:        "unreachable",
	KindParseError:         "parse-error",
	KindTransferError:      "transfer-error",
	KindDiskError:          "disk-error",
	KindSizeMismatch:       "size-mismatch",
	KindOverallTimeout:     "overall-timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether failures of this kind are worth retrying
// locally inside the owning component.
func (k Kind) Transient() bool {
	switch k {
	case KindConnectTimeout, KindAssociationTimeout, KindTransferError:
		return true
	}
	return false
}

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error wrapping cause. cause may be nil.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
