// Package message defines the PBFT wire message variants, a canonical
// byte encoding for them, and Ed25519 signing/verification over that
// encoding.
package message

// Kind tags which variant a Message carries. Every replica interprets the
// same Kind the same way; dispatch in replica/ switches on it.
type Kind string

const (
	KindRequest       Kind = "request"
	KindPrePrepare    Kind = "pre_prepare"
	KindPrepare       Kind = "prepare"
	KindCommit        Kind = "commit"
	KindViewChange    Kind = "view_change"
	KindNewView       Kind = "new_view"
	KindByzantineVote Kind = "byzantine_vote"
)

// Message is the inner, unsigned variant — the signing domain is the
// canonical bytes of exactly this struct (see Canonical in codec.go).
// Field order is fixed by this declaration, which is what makes the JSON
// encoding deterministic across replicas without a bespoke canonicalizer.
type Message struct {
	Kind Kind `json:"kind"`

	// Request
	Operation string `json:"operation,omitempty"`

	// PrePrepare / Prepare / Commit / NewView.View
	View   uint64 `json:"view,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Digest string `json:"digest,omitempty"`

	// Prepare.sender_id, ByzantineVote.sender_id
	SenderID int `json:"sender_id,omitempty"`

	// ViewChange
	NewViewNum uint64 `json:"new_view,omitempty"`
	LastSeq    uint64 `json:"last_seq,omitempty"`
	NodeID     int    `json:"node_id,omitempty"`

	// NewView.view_changes (a set of ViewChange SignedMessages)
	ViewChanges []SignedMessage `json:"view_changes,omitempty"`

	// ByzantineVote.suspected_id
	SuspectedID int `json:"suspected_id,omitempty"`
}

// SignedMessage is the on-wire envelope for every inter-replica message
// except PubKey. CorrelationID is stamped for log tracing only; it is
// never part of the signed bytes.
type SignedMessage struct {
	Inner         Message `json:"inner"`
	Signature     []byte  `json:"signature,omitempty"`
	SenderID      int     `json:"sender_id"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// PubKeyMessage is the bootstrap key-distribution message. It travels
// unsigned — trust-on-first-use — which is why it is not a Kind of
// Message/SignedMessage but its own top-level Frame branch (see Frame in
// codec.go).
type PubKeyMessage struct {
	NodeID    int    `json:"node_id"`
	PublicKey []byte `json:"public_key"`
}

// Frame is what actually crosses the Transport Adapter: either the
// bootstrap PubKey or a signed protocol message, never both.
type Frame struct {
	PubKey *PubKeyMessage `json:"pub_key,omitempty"`
	Signed *SignedMessage `json:"signed,omitempty"`
}
