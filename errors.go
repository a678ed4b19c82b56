package syncengine

import (
	"github.com/tablewise/syncengine/internal/syncerr"
)

// Error classification helpers. The engine reports failures from a small
// closed taxonomy; callers branch on the class, not on error strings.

// IsStorageUnavailable reports whether the durable store cannot be opened or
// used. Callers should degrade to network-only operation.
func IsStorageUnavailable(err error) bool { return syncerr.IsStorageUnavailable(err) }

// IsNetworkUnreachable reports whether the remote service gave no response.
// Retry-eligible; reads fall back to the local store automatically.
func IsNetworkUnreachable(err error) bool { return syncerr.IsNetworkUnreachable(err) }

// IsRemoteRejected reports whether the server explicitly declined a request.
func IsRemoteRejected(err error) bool { return syncerr.IsRemoteRejected(err) }

// RejectedStatus returns the HTTP status of a rejection, or 0.
func RejectedStatus(err error) int { return syncerr.RejectedStatus(err) }

// IsNotFound reports whether a requested record is absent from both the
// local store and the network result.
func IsNotFound(err error) bool { return syncerr.IsNotFound(err) }
