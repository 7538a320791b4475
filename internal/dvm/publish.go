package dvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const statusExpiration = 24 * time.Hour

// PublishResult is the outcome of publishing one event to one relay.
type PublishResult struct {
	Relay string
	Err   error
}

// Transport delivers a signed event to a set of relays and reports the
// outcome per relay.
type Transport interface {
	Publish(ctx context.Context, relays []string, evt nostr.Event) []PublishResult
}

// Signer signs events and derives NIP-04 keys.
type Signer interface {
	KeyAgreement
	Sign(evt *nostr.Event) error
	PublicKey() string
}

// PoolTransport publishes through a go-nostr relay pool.
type PoolTransport struct {
	pool *nostr.SimplePool
}

// NewPoolTransport creates a Transport over pool.
func NewPoolTransport(pool *nostr.SimplePool) *PoolTransport {
	return &PoolTransport{pool: pool}
}

func (t *PoolTransport) Publish(ctx context.Context, relays []string, evt nostr.Event) []PublishResult {
	var results []PublishResult
	for res := range t.pool.PublishMany(ctx, relays, evt) {
		results = append(results, PublishResult{Relay: res.RelayURL, Err: res.Error})
	}
	return results
}

// Publisher signs and publishes status, result and video events. In secret
// mode status and result events are dropped.
type Publisher struct {
	signer    Signer
	transport Transport
	relays    []string
	secret    bool
	onResult  func(PublishResult)
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSecret suppresses status and result events.
func WithSecret(secret bool) PublisherOption {
	return func(p *Publisher) { p.secret = secret }
}

// WithResultHook is called for every per-relay publish outcome.
func WithResultHook(fn func(PublishResult)) PublisherOption {
	return func(p *Publisher) { p.onResult = fn }
}

// NewPublisher creates a Publisher that always publishes to relays in
// addition to any relays a request names.
func NewPublisher(signer Signer, transport Transport, relays []string, opts ...PublisherOption) *Publisher {
	p := &Publisher{signer: signer, transport: transport, relays: relays}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Relays returns the configured publish relays.
func (p *Publisher) Relays() []string {
	return p.relays
}

// Secret reports whether status and result events are suppressed.
func (p *Publisher) Secret() bool {
	return p.secret
}

// Status publishes a kind 7000 status event for jc with msg as its JSON content.
func (p *Publisher) Status(ctx context.Context, jc *JobContext, status, msg string) []PublishResult {
	if p.secret {
		return nil
	}

	content, _ := json.Marshal(map[string]string{"msg": msg})
	evt := &nostr.Event{
		Kind:      KindStatus,
		CreatedAt: nostr.Now(),
		Content:   string(content),
		Tags: nostr.Tags{
			{"status", status},
			{"e", jc.Event.ID},
			{"p", jc.Event.PubKey},
			{"expiration", expiresAt(statusExpiration)},
		},
	}
	if err := p.signer.Sign(evt); err != nil {
		slog.Error("signing status event failed", "error", err, "request", jc.Event.ID)
		return nil
	}
	return p.publish(ctx, evt, p.targets(jc))
}

// Result publishes a result event of kind for jc with payload as JSON
// content. The event echoes the request and expires after ttl. Requests that
// arrived encrypted get an encrypted result.
func (p *Publisher) Result(ctx context.Context, jc *JobContext, kind int, payload any, ttl time.Duration, extra ...nostr.Tag) ([]PublishResult, error) {
	if p.secret {
		return nil, nil
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	request, err := json.Marshal(jc.Event)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	evt := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Content:   string(content),
		Tags: nostr.Tags{
			{"request", string(request)},
			{"e", jc.Event.ID},
			{"p", jc.Event.PubKey},
		},
	}
	if input := InputTag(jc.Event); input != nil {
		evt.Tags = append(evt.Tags, input)
	}
	evt.Tags = append(evt.Tags, nostr.Tag{"expiration", expiresAt(ttl)})
	evt.Tags = append(evt.Tags, extra...)

	if jc.WasEncrypted {
		if err := Encrypt(p.signer, evt, jc.Event.PubKey); err != nil {
			return nil, err
		}
	}
	if err := p.signer.Sign(evt); err != nil {
		return nil, err
	}
	return p.publish(ctx, evt, p.targets(jc)), nil
}

// Event signs evt and publishes it to the configured relays. Secret mode
// does not apply.
func (p *Publisher) Event(ctx context.Context, evt *nostr.Event) ([]PublishResult, error) {
	if err := p.signer.Sign(evt); err != nil {
		return nil, err
	}
	return p.publish(ctx, evt, p.relays), nil
}

func (p *Publisher) publish(ctx context.Context, evt *nostr.Event, relays []string) []PublishResult {
	results := p.transport.Publish(ctx, relays, *evt)
	for _, res := range results {
		if res.Err != nil {
			slog.Debug("publish to relay failed", "relay", res.Relay, "kind", evt.Kind, "error", res.Err)
		}
		if p.onResult != nil {
			p.onResult(res)
		}
	}
	return results
}

// targets is the union of the request's relays and the configured relays.
func (p *Publisher) targets(jc *JobContext) []string {
	return UniqueRelays(RequestRelays(jc.Event), p.relays)
}

// UniqueRelays concatenates lists, dropping repeated URLs. URLs are compared
// after go-nostr normalization.
func UniqueRelays(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, u := range list {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			key := nostr.NormalizeURL(u)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, u)
		}
	}
	return out
}

func expiresAt(ttl time.Duration) string {
	return strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
}
