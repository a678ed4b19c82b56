package record

import "time"

// Kind identifies the mutation a pending write carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the known mutation kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// PendingWrite is a durable outbox entry: a mutation accepted locally but
// not yet acknowledged by the remote service.
//
// A pending write exists if and only if its mutation has not received a
// remote acknowledgment. The idempotency key is generated once at enqueue
// time and reused verbatim on every replay attempt, so duplicate delivery
// after a crash cannot create duplicate server-side entities.
type PendingWrite struct {
	// LocalID keys the outbox entry. Client-generated, never sent upstream.
	LocalID string

	// Kind is the mutation type: create, update, or delete.
	Kind Kind

	// Collection names the target collection (e.g. "reviews").
	Collection string

	// Payload is the mutation document. For create/update it is the record
	// body; for delete it carries at least the target id.
	Payload Record

	// IdempotencyKey is the stable client token sent with every replay.
	IdempotencyKey string

	// CreatedAt orders replay oldest-first.
	CreatedAt time.Time

	// AttemptCount counts replay attempts made so far.
	AttemptCount int

	// LastAttemptAt is the time of the most recent attempt; zero before the
	// first one. Gates the exponential backoff between retries.
	LastAttemptAt time.Time
}
