package domain

import "context"

// Document is one record in a store collection.
type Document struct {
	ID     string
	Fields map[string]any
}

// ChangeKind classifies an incremental collection change.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one incremental update emitted by a collection watch.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Store is the shared signaling store: a document-oriented database the two
// participants use as their only rendezvous point. Collections are addressed
// by slash-separated paths ("queue", "rooms/<id>/callerCandidates").
//
// Implementations must deliver collection changes in write order and must
// make Merge atomic with respect to concurrent merges on the same document.
type Store interface {
	// Put creates or fully overwrites a document.
	Put(ctx context.Context, path, id string, fields map[string]any) error

	// Merge updates individual fields of a document, creating it if absent.
	Merge(ctx context.Context, path, id string, fields map[string]any) error

	// Get reads a document. The second return is false when it does not exist.
	Get(ctx context.Context, path, id string) (map[string]any, bool, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path, id string) error

	// Add appends a document with a store-assigned ID and returns that ID.
	Add(ctx context.Context, path string, fields map[string]any) (string, error)

	// List returns up to limit documents in insertion order.
	// limit <= 0 means no limit.
	List(ctx context.Context, path string, limit int) ([]Document, error)

	// WatchDoc subscribes to one document. The current state (if any) is
	// delivered first, then every subsequent write; a nil delivery means
	// the document was deleted. The returned stop func cancels the
	// subscription and closes the channel.
	WatchDoc(ctx context.Context, path, id string) (<-chan map[string]any, func(), error)

	// WatchCollection subscribes to a collection. Existing documents are
	// replayed as ChangeAdded in insertion order, then incremental changes
	// follow in write order.
	WatchCollection(ctx context.Context, path string) (<-chan Change, func(), error)
}

// Transport is the peer transport: one underlying connection attempt between
// exactly two participants. Candidates handed to AddRemoteCandidate before a
// remote description is set must be buffered and applied once it is.
type Transport interface {
	OnCandidate(fn func(ICECandidatePayload))
	OnRemoteTrack(fn func(kind string))
	OnConnectionChange(fn func(connected bool))

	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetRemoteDescription(desc SDPPayload) error
	AddRemoteCandidate(cand ICECandidatePayload) error

	// SetTrackEnabled mutes or unmutes one local kind ("audio"/"video")
	// without renegotiation.
	SetTrackEnabled(kind string, enabled bool) error

	Close() error
}

// MediaSource is a captured local audio/video source.
type MediaSource interface {
	// Kinds reports which track kinds were captured ("audio", "video").
	Kinds() []string

	// Close stops all captured tracks.
	Close() error
}
