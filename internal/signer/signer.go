// Package signer holds the service's Nostr identity.
package signer

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// Signer signs events and derives NIP-04 shared secrets with one private key.
type Signer struct {
	secretKey string
	publicKey string
}

// New creates a Signer for the hex private key sk.
func New(sk string) (*Signer, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Signer{secretKey: sk, publicKey: pk}, nil
}

// PublicKey returns the hex public key.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Sign sets the event's pubkey, fills in created_at when zero, and signs it.
func (s *Signer) Sign(evt *nostr.Event) error {
	evt.PubKey = s.publicKey
	if evt.CreatedAt == 0 {
		evt.CreatedAt = nostr.Now()
	}
	if evt.Tags == nil {
		evt.Tags = nostr.Tags{}
	}
	if err := evt.Sign(s.secretKey); err != nil {
		return fmt.Errorf("sign event kind %d: %w", evt.Kind, err)
	}
	return nil
}

// SharedSecret returns the NIP-04 key shared with pubkey.
func (s *Signer) SharedSecret(pubkey string) ([]byte, error) {
	key, err := nip04.ComputeSharedSecret(pubkey, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("shared secret with %s: %w", pubkey, err)
	}
	return key, nil
}
