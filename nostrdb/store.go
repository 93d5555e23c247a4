// Package nostrdb defines the event-store contract shared by the
// memory and sqlite backends: save semantics (including replaceable/
// addressable/deletion handling), querying, and capability discovery.
package nostrdb

import (
	"context"
	"fmt"

	"github.com/nostrcore/relaypool/nostr"
)

// SaveStatus classifies the outcome of a Store.Save call.
type SaveStatus int

const (
	// Saved means the event is newly stored.
	Saved SaveStatus = iota
	// Duplicate means an identical event (by id) already existed.
	Duplicate
	// Replaced means the event superseded an older replaceable or
	// addressable event, which was removed.
	Replaced
	// Rejected means the event was not stored; see Result.Reason.
	Rejected
	// Deleted means the event was a deletion request and was processed
	// (the referenced events, if owned by the same author, were removed).
	Deleted
)

func (s SaveStatus) String() string {
	switch s {
	case Saved:
		return "saved"
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	case Rejected:
		return "rejected"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RejectReason explains why Save returned Rejected.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonInvalidSignature
	ReasonSuperseded // an event at least as new already occupies this coordinate
	ReasonDeletedByAuthor
	ReasonVanished
	ReasonEphemeralNotStored // not a rejection in the error sense, but never persisted
)

// Result reports what Save (or a deletion it triggered) did.
type Result struct {
	Status SaveStatus
	Reason RejectReason
	// Message is a human-readable explanation, useful for EVENT/OK wire
	// responses and logs.
	Message string
}

func (r Result) Error() string {
	if r.Status != Rejected {
		return ""
	}
	return r.Message
}

// Capabilities describes optional features a Store backend supports.
type Capabilities struct {
	FullTextSearch bool
	Durable        bool
}

// IDStatus classifies what CheckID learned about an id without
// materializing the full event.
type IDStatus int

const (
	NotExistent IDStatus = iota
	ExistsSaved
	ExistsDeleted
)

// Store is the contract every backend (memory, sqlite) implements.
// Implementations must be safe for concurrent use: Save serializes
// against other Saves but never blocks concurrent Query calls for long.
type Store interface {
	// Save validates e's storage-level constraints (not its signature —
	// callers are expected to have verified it already) and applies it:
	// inserting, replacing, or deleting as its kind class dictates.
	Save(ctx context.Context, e *nostr.Event) (Result, error)

	// CheckID reports whether id is currently stored, was deleted, or
	// was never seen.
	CheckID(ctx context.Context, id nostr.ID) (IDStatus, error)

	// EventByID returns the stored event for id, or ok=false if absent
	// (whether never seen or since deleted).
	EventByID(ctx context.Context, id nostr.ID) (e nostr.Event, ok bool, err error)

	// Query returns every stored event matching f, newest first, capped
	// at f.Limit (or a backend default if f.Limit is zero).
	Query(ctx context.Context, f *nostr.Filter) ([]nostr.Event, error)

	// Count returns the number of stored events matching f without
	// materializing them.
	Count(ctx context.Context, f *nostr.Filter) (int, error)

	// Delete removes every event matching f from every index. Unlike a
	// kind-5 deletion, this never marks ids as deleted — a subsequent
	// Save of the same event is accepted again.
	Delete(ctx context.Context, f *nostr.Filter) (int, error)

	// Wipe removes every stored event and resets deletion/vanish state.
	Wipe(ctx context.Context) error

	// Capabilities reports what this backend can do.
	Capabilities() Capabilities

	// Close releases any resources (file handles, connections) held by
	// the backend.
	Close() error
}

// ErrUnsupportedFilter reports a filter that requires a capability the
// backend does not have. A search filter on a backend without full-text
// search is not such a case: it yields empty results and no error.
var ErrUnsupportedFilter = fmt.Errorf("nostrdb: filter requires an unsupported capability")
