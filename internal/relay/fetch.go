package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/dvm"
	"github.com/nbd-wtf/go-nostr"
)

// ErrEventNotFound is returned when no relay returned the requested event.
var ErrEventNotFound = errors.New("event not found on relays")

// Querier returns the first event matching filter from any of urls, or nil.
type Querier interface {
	QuerySingle(ctx context.Context, urls []string, filter nostr.Filter, opts ...nostr.SubscriptionOption) *nostr.RelayEvent
}

// Fetcher looks up single events by id.
type Fetcher struct {
	querier Querier
	relays  []string
	timeout time.Duration
}

// NewFetcher creates a Fetcher that always asks relays in addition to any
// hinted ones.
func NewFetcher(querier Querier, relays []string, timeout time.Duration) *Fetcher {
	return &Fetcher{querier: querier, relays: relays, timeout: timeout}
}

// FetchEvent returns the event with id from the union of hints and the
// configured relays.
func (f *Fetcher) FetchEvent(ctx context.Context, id string, hints []string) (*nostr.Event, error) {
	urls := dvm.UniqueRelays(hints, f.relays)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %s: no relays to ask", ErrEventNotFound, id)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	res := f.querier.QuerySingle(ctx, urls, nostr.Filter{IDs: []string{id}})
	if res == nil || res.Event == nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if res.Event.ID != id {
		return nil, fmt.Errorf("%w: %s: relay returned %s", ErrEventNotFound, id, res.Event.ID)
	}
	return res.Event, nil
}
