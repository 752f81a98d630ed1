package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/database"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

type fakeEvents struct {
	settled    *pubsub.Publisher[*store.Session]
	updates    *pubsub.Publisher[sign.SessionUpdateEvent]
	extensions *pubsub.Publisher[sign.SessionExtensionEvent]
	deletions  *pubsub.Publisher[sign.SessionDeletion]
	rejections *pubsub.Publisher[sign.SessionRejection]
	pairings   *pubsub.Publisher[sign.PairingExpiration]
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		settled:    pubsub.NewPublisher[*store.Session](),
		updates:    pubsub.NewPublisher[sign.SessionUpdateEvent](),
		extensions: pubsub.NewPublisher[sign.SessionExtensionEvent](),
		deletions:  pubsub.NewPublisher[sign.SessionDeletion](),
		rejections: pubsub.NewPublisher[sign.SessionRejection](),
		pairings:   pubsub.NewPublisher[sign.PairingExpiration](),
	}
}

func (f *fakeEvents) SessionSettled() *pubsub.Subscription[*store.Session] {
	return f.settled.Subscribe()
}

func (f *fakeEvents) SessionUpdates() *pubsub.Subscription[sign.SessionUpdateEvent] {
	return f.updates.Subscribe()
}

func (f *fakeEvents) SessionExtensions() *pubsub.Subscription[sign.SessionExtensionEvent] {
	return f.extensions.Subscribe()
}

func (f *fakeEvents) SessionDeletions() *pubsub.Subscription[sign.SessionDeletion] {
	return f.deletions.Subscribe()
}

func (f *fakeEvents) SessionRejections() *pubsub.Subscription[sign.SessionRejection] {
	return f.rejections.Subscribe()
}

func (f *fakeEvents) PairingExpirations() *pubsub.Subscription[sign.PairingExpiration] {
	return f.pairings.Subscribe()
}

type memorySink struct {
	mu     sync.Mutex
	events []*database.LifecycleEvent
	err    error
}

func (s *memorySink) Save(_ context.Context, e *database.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) snapshot() []*database.LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*database.LifecycleEvent(nil), s.events...)
}

func TestRecorder(t *testing.T) {
	events := newFakeEvents()
	sink := &memorySink{}
	broken := &memorySink{err: errors.New("queue down")}
	r := NewRecorder(events, broken, sink)
	at := time.Unix(1700000000, 0)
	r.now = func() time.Time { return at }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.NoError(t, events.settled.Publish(ctx, &store.Session{
		Topic:      "s1",
		Controller: "wallet-key",
		Peer:       store.Participant{PublicKey: "wallet-key", Metadata: store.AppMetadata{Name: "Wallet", URL: "https://wallet.example"}},
		Namespaces: map[string]namespace.SessionNamespace{"solana": {}, "eip155": {}},
		Expiry:     1700600000,
	}))
	require.NoError(t, events.deletions.Publish(ctx, sign.SessionDeletion{Topic: "s1", Reason: sign.ReasonUserDisconnected}))
	require.NoError(t, events.rejections.Publish(ctx, sign.SessionRejection{ProposalID: 42, Reason: sign.ReasonUserRejected}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	byType := map[database.LifecycleEventType]*database.LifecycleEvent{}
	for _, e := range sink.snapshot() {
		byType[e.EventType] = e
		assert.Equal(t, at, e.EventTime)
	}

	settled := byType[database.LifecycleEventTypeSessionSettled]
	require.NotNil(t, settled)
	assert.Equal(t, "s1", settled.Topic)
	assert.Equal(t, "Wallet", settled.Event["PeerName"])
	assert.Equal(t, []string{"eip155", "solana"}, settled.Event["Namespaces"])
	assert.NotContains(t, settled.Event, "Self")

	deleted := byType[database.LifecycleEventTypeSessionDeleted]
	require.NotNil(t, deleted)
	assert.Equal(t, sign.ReasonUserDisconnected.Code, deleted.Event["Code"])

	rejected := byType[database.LifecycleEventTypeSessionRejected]
	require.NotNil(t, rejected)
	assert.Equal(t, "proposal:42", rejected.Topic)
}

func TestRecorderStopsWithContext(t *testing.T) {
	events := newFakeEvents()
	sink := &memorySink{}
	r := NewRecorder(events, sink)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	r.Stop()

	require.NoError(t, events.pairings.Publish(context.Background(), sign.PairingExpiration{Topic: "p1"}))
	assert.Empty(t, sink.snapshot())
}
