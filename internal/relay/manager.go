// Package relay keeps the service subscribed to its relays and fetches
// single events on demand.
package relay

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/metrics"
	"github.com/nbd-wtf/go-nostr"
)

const (
	defaultInterval = 30 * time.Second
	defaultLookback = 60 * time.Second
	defaultSeenTTL  = 24 * time.Hour
)

// Subscription is an open relay subscription. Events is closed when the
// subscription ends for any reason.
type Subscription interface {
	Events() <-chan *nostr.Event
	Close()
}

// Dialer opens subscriptions.
type Dialer interface {
	Subscribe(ctx context.Context, url string, filter nostr.Filter) (Subscription, error)
}

// Seen records event ids. MarkSeen reports true only for the first caller
// with a given id.
type Seen interface {
	MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// EventHandler processes one event. It runs on its own goroutine.
type EventHandler func(ctx context.Context, evt *nostr.Event)

type entry struct {
	sub    Subscription
	cancel context.CancelFunc
}

// Manager holds one subscription per relay URL and hands every distinct
// event to its handler.
type Manager struct {
	dialer   Dialer
	seen     Seen
	relays   []string
	kinds    []int
	handle   EventHandler
	interval time.Duration
	lookback time.Duration
	seenTTL  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	subs map[string]*entry
	wg   sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets how often Run re-opens missing subscriptions.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithSeenTTL sets how long event ids are remembered.
func WithSeenTTL(d time.Duration) Option {
	return func(m *Manager) { m.seenTTL = d }
}

// NewManager creates a Manager subscribing to kinds on relays.
func NewManager(dialer Dialer, seen Seen, relays []string, kinds []int, handle EventHandler, opts ...Option) *Manager {
	m := &Manager{
		dialer:   dialer,
		seen:     seen,
		relays:   relays,
		kinds:    kinds,
		handle:   handle,
		interval: defaultInterval,
		lookback: defaultLookback,
		seenTTL:  defaultSeenTTL,
		now:      time.Now,
		subs:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run opens the subscriptions and re-opens closed ones every interval until
// ctx is done. All subscriptions are closed on return.
func (m *Manager) Run(ctx context.Context) {
	m.EnsureSubscriptions(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.EnsureSubscriptions(ctx)
		}
	}
}

// EnsureSubscriptions opens a subscription for every relay without one.
// Dial failures are logged and retried on the next call.
func (m *Manager) EnsureSubscriptions(ctx context.Context) {
	filter := nostr.Filter{Kinds: m.kinds}
	since := nostr.Timestamp(m.now().Add(-m.lookback).Unix())
	filter.Since = &since

	for _, url := range m.relays {
		m.mu.Lock()
		_, open := m.subs[url]
		m.mu.Unlock()
		if open {
			continue
		}

		subCtx, cancel := context.WithCancel(ctx)
		sub, err := m.dialer.Subscribe(subCtx, url, filter)
		if err != nil {
			cancel()
			slog.Warn("relay subscribe failed", "relay", url, "error", err)
			continue
		}

		e := &entry{sub: sub, cancel: cancel}
		m.mu.Lock()
		m.subs[url] = e
		metrics.OpenSubscriptions.Set(float64(len(m.subs)))
		m.mu.Unlock()
		slog.Info("subscribed to relay", "relay", url)

		m.wg.Add(1)
		go m.consume(ctx, url, e)
	}
}

func (m *Manager) consume(ctx context.Context, url string, e *entry) {
	defer m.wg.Done()

	for evt := range e.sub.Events() {
		m.dispatch(ctx, evt)
	}

	e.cancel()
	m.mu.Lock()
	if m.subs[url] == e {
		delete(m.subs, url)
	}
	metrics.OpenSubscriptions.Set(float64(len(m.subs)))
	m.mu.Unlock()
	if ctx.Err() == nil {
		slog.Info("relay subscription closed", "relay", url)
	}
}

func (m *Manager) dispatch(ctx context.Context, evt *nostr.Event) {
	first, err := m.seen.MarkSeen(ctx, evt.ID, m.seenTTL)
	if err != nil {
		slog.Error("seen check failed", "event", evt.ID, "error", err)
		return
	}
	if !first {
		return
	}
	metrics.RequestsReceived.WithLabelValues(strconv.Itoa(evt.Kind)).Inc()
	go m.handle(ctx, evt)
}

// Open returns the URLs that currently have a subscription.
func (m *Manager) Open() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for url := range m.subs {
		out = append(out, url)
	}
	return out
}

// Close ends every subscription and waits for their readers to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, e := range m.subs {
		e.cancel()
		e.sub.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// PoolDialer opens subscriptions through a go-nostr relay pool.
type PoolDialer struct {
	pool *nostr.SimplePool
}

// NewPoolDialer creates a Dialer over pool.
func NewPoolDialer(pool *nostr.SimplePool) *PoolDialer {
	return &PoolDialer{pool: pool}
}

func (d *PoolDialer) Subscribe(ctx context.Context, url string, filter nostr.Filter) (Subscription, error) {
	r, err := d.pool.EnsureRelay(url)
	if err != nil {
		return nil, err
	}
	sub, err := r.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}
	return poolSubscription{sub: sub}, nil
}

type poolSubscription struct {
	sub *nostr.Subscription
}

func (s poolSubscription) Events() <-chan *nostr.Event { return s.sub.Events }
func (s poolSubscription) Close()                      { s.sub.Unsub() }
