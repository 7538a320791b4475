package dvm

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// encryptedMarker tags events whose remaining tags travel in the content.
const encryptedMarker = "encrypted"

// KeyAgreement derives the NIP-04 key shared with a public key.
type KeyAgreement interface {
	SharedSecret(pubkey string) ([]byte, error)
}

// Decrypt returns evt with its encrypted tags restored. Events without the
// encrypted marker are returned unchanged with wasEncrypted false.
func Decrypt(ka KeyAgreement, evt *nostr.Event) (out *nostr.Event, wasEncrypted bool, err error) {
	if !hasMarker(evt.Tags) {
		return evt, false, nil
	}

	key, err := ka.SharedSecret(evt.PubKey)
	if err != nil {
		return nil, true, err
	}
	plain, err := nip04.Decrypt(evt.Content, key)
	if err != nil {
		return nil, true, fmt.Errorf("decrypt request %s: %w", evt.ID, err)
	}

	var hidden nostr.Tags
	if err := json.Unmarshal([]byte(plain), &hidden); err != nil {
		return nil, true, fmt.Errorf("decode encrypted tags of %s: %w", evt.ID, err)
	}

	cp := *evt
	cp.Tags = make(nostr.Tags, 0, len(evt.Tags)+len(hidden))
	for _, tag := range evt.Tags {
		if len(tag) > 0 && tag[0] == encryptedMarker {
			continue
		}
		cp.Tags = append(cp.Tags, tag)
	}
	cp.Tags = append(cp.Tags, hidden...)
	return &cp, true, nil
}

// Encrypt moves every tag except p and e into the NIP-04 encrypted content
// for recipient and marks the event as encrypted. The previous content is
// replaced.
func Encrypt(ka KeyAgreement, evt *nostr.Event, recipient string) error {
	var visible, hidden nostr.Tags
	for _, tag := range evt.Tags {
		if len(tag) > 0 && (tag[0] == "p" || tag[0] == "e") {
			visible = append(visible, tag)
			continue
		}
		hidden = append(hidden, tag)
	}
	if hidden == nil {
		hidden = nostr.Tags{}
	}

	raw, err := json.Marshal(hidden)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	key, err := ka.SharedSecret(recipient)
	if err != nil {
		return err
	}
	content, err := nip04.Encrypt(string(raw), key)
	if err != nil {
		return fmt.Errorf("encrypt tags: %w", err)
	}

	evt.Tags = append(visible, nostr.Tag{encryptedMarker})
	evt.Content = content
	return nil
}

func hasMarker(tags nostr.Tags) bool {
	for _, tag := range tags {
		if len(tag) > 0 && tag[0] == encryptedMarker {
			return true
		}
	}
	return false
}
