package message

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// GenerateKeypair produces a fresh Ed25519 keypair (32-byte public key,
// 64-byte signature) for a replica's bootstrap.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("message: generate keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign wraps inner in a SignedMessage, computing the signature over its
// canonical bytes.
func Sign(priv ed25519.PrivateKey, senderID int, inner Message) (SignedMessage, error) {
	bytes, err := Canonical(inner)
	if err != nil {
		return SignedMessage{}, err
	}
	sig := ed25519.Sign(priv, bytes)
	return SignedMessage{
		Inner:         inner,
		Signature:     sig,
		SenderID:      senderID,
		CorrelationID: uuid.New().String(),
	}, nil
}

// Verify checks a SignedMessage's signature against the sender's known
// public key. Callers are responsible for the "unknown sender" and
// "blacklisted sender" drops that happen before Verify is reached.
func Verify(pub ed25519.PublicKey, sm SignedMessage) bool {
	bytes, err := Canonical(sm.Inner)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, bytes, sm.Signature)
}
