// Package syncerr defines the error taxonomy shared by the sync engine's
// storage, network, and coordination layers.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors. Callers branch on the code to decide
// between retry, fallback, and surfacing the failure.
type Code string

const (
	// CodeStorageUnavailable indicates the durable store cannot be opened or
	// used. Callers degrade to network-only operation with no caching.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeNetworkUnreachable indicates no response from the remote service.
	// Retry-eligible: the failure is assumed transient.
	CodeNetworkUnreachable Code = "NETWORK_UNREACHABLE"

	// CodeRemoteRejected indicates the server explicitly declined the request
	// with a non-2xx status. Writes stop retrying after a bounded attempt
	// count; reads treat it as "no fresh data" and fall back to cache.
	CodeRemoteRejected Code = "REMOTE_REJECTED"

	// CodeNotFound indicates the requested record is absent from both the
	// local store and the freshest network result.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is a categorized engine error with optional structured context.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Status holds the HTTP status for CodeRemoteRejected, zero otherwise.
	Status int

	// Collection names the affected collection, when known.
	Collection string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Code == CodeRemoteRejected && e.Collection != "":
		return fmt.Sprintf("%s: %s (status=%d, collection=%s)", e.Code, e.Message, e.Status, e.Collection)
	case e.Code == CodeRemoteRejected:
		return fmt.Sprintf("%s: %s (status=%d)", e.Code, e.Message, e.Status)
	case e.Collection != "":
		return fmt.Sprintf("%s: %s (collection=%s)", e.Code, e.Message, e.Collection)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// StorageUnavailable wraps a storage-layer failure.
func StorageUnavailable(msg string, cause error) *Error {
	return &Error{Code: CodeStorageUnavailable, Message: msg, Err: cause}
}

// NetworkUnreachable wraps a transport-level failure (no response received).
func NetworkUnreachable(msg string, cause error) *Error {
	return &Error{Code: CodeNetworkUnreachable, Message: msg, Err: cause}
}

// RemoteRejected reports an explicit non-2xx response from the server.
func RemoteRejected(status int, msg string) *Error {
	return &Error{Code: CodeRemoteRejected, Status: status, Message: msg}
}

// NotFound reports a record absent from both cache and network.
func NotFound(collection, id string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Collection: collection,
		Message:    fmt.Sprintf("record %q not found", id),
	}
}

// CodeOf returns the code of err, or "" if err is not an engine error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsStorageUnavailable reports whether err is a storage availability failure.
func IsStorageUnavailable(err error) bool { return CodeOf(err) == CodeStorageUnavailable }

// IsNetworkUnreachable reports whether err is a transport-level failure.
func IsNetworkUnreachable(err error) bool { return CodeOf(err) == CodeNetworkUnreachable }

// IsRemoteRejected reports whether err is an explicit server rejection.
func IsRemoteRejected(err error) bool { return CodeOf(err) == CodeRemoteRejected }

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// RejectedStatus returns the HTTP status carried by a REMOTE_REJECTED error,
// or zero if err is not one.
func RejectedStatus(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code == CodeRemoteRejected {
		return e.Status
	}
	return 0
}
