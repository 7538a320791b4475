package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	urls   []string
	filter nostr.Filter
	events map[string]*nostr.Event
}

func (q *fakeQuerier) QuerySingle(_ context.Context, urls []string, filter nostr.Filter, _ ...nostr.SubscriptionOption) *nostr.RelayEvent {
	q.urls = urls
	q.filter = filter
	if evt, ok := q.events[filter.IDs[0]]; ok {
		return &nostr.RelayEvent{Event: evt}
	}
	return nil
}

func TestFetchEvent_AsksHintsAndConfiguredRelays(t *testing.T) {
	q := &fakeQuerier{events: map[string]*nostr.Event{"abc": {ID: "abc", Kind: 34235}}}
	f := NewFetcher(q, []string{"wss://config", "wss://hint"}, time.Second)

	evt, err := f.FetchEvent(context.Background(), "abc", []string{"wss://hint"})
	require.NoError(t, err)
	assert.Equal(t, 34235, evt.Kind)
	assert.Equal(t, []string{"wss://hint", "wss://config"}, q.urls)
	assert.Equal(t, []string{"abc"}, q.filter.IDs)
}

func TestFetchEvent_NotFound(t *testing.T) {
	f := NewFetcher(&fakeQuerier{}, []string{"wss://config"}, time.Second)

	_, err := f.FetchEvent(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = NewFetcher(&fakeQuerier{}, nil, 0).FetchEvent(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrEventNotFound)
}
