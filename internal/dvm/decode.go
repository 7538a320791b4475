package dvm

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Sentinel errors for undecodable requests. Such requests are dropped.
var (
	ErrUnknownInputKind = errors.New("unknown input kind")
	ErrMissingInput     = errors.New("request has no input")
	ErrMissingParam     = errors.New("request is missing a required param")
)

// Request is the decoded job a request event asks for. It is one of
// ArchiveRequest or RecoverRequest.
type Request interface {
	isRequest()
}

// ArchiveRequest asks the service to download and publish a video.
type ArchiveRequest struct {
	URL string
}

// RecoverRequest asks the service to upload an archived video, identified
// by its sha256, to blob servers.
type RecoverRequest struct {
	X       string
	EventID string
	Relay   string
	Targets []string
}

func (ArchiveRequest) isRequest() {}
func (RecoverRequest) isRequest() {}

// JobContext is a decoded request and the event it came from.
type JobContext struct {
	Event        *nostr.Event
	WasEncrypted bool
	Request      Request
}

// Decode maps a (decrypted) request event to the job it describes.
func Decode(evt *nostr.Event) (Request, error) {
	input := InputTag(evt)
	if input == nil {
		return nil, fmt.Errorf("%w: event %s", ErrMissingInput, evt.ID)
	}
	inputType := ""
	if len(input) > 2 {
		inputType = input[2]
	}

	switch {
	case inputType == "url" && evt.Kind == KindArchiveRequest:
		return ArchiveRequest{URL: input[1]}, nil

	case inputType == "event" && evt.Kind == KindRecoverRequest:
		x := Param(evt, "x")
		if x == "" {
			return nil, fmt.Errorf("%w: x", ErrMissingParam)
		}
		req := RecoverRequest{
			X:       x,
			EventID: input[1],
			Targets: Params(evt, "target"),
		}
		if len(input) > 3 {
			req.Relay = input[3]
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: %q for kind %d", ErrUnknownInputKind, inputType, evt.Kind)
}

// InputTag returns the request's first i tag, or nil.
func InputTag(evt *nostr.Event) nostr.Tag {
	return evt.Tags.Find("i")
}

// Param returns the value of the first param tag called name.
func Param(evt *nostr.Event, name string) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 3 && tag[0] == "param" && tag[1] == name {
			return tag[2]
		}
	}
	return ""
}

// Params returns the values of every param tag called name.
func Params(evt *nostr.Event, name string) []string {
	var out []string
	for _, tag := range evt.Tags {
		if len(tag) >= 3 && tag[0] == "param" && tag[1] == name {
			out = append(out, tag[2])
		}
	}
	return out
}

// RequestRelays returns the relays listed in the request's relays tag.
func RequestRelays(evt *nostr.Event) []string {
	tag := evt.Tags.Find("relays")
	if tag == nil {
		return nil
	}
	return append([]string(nil), tag[1:]...)
}
