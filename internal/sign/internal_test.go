package sign

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/kms"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/internal/tvf"
	"moff.io/walletconnect-sign/pkg/concurrent"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

func TestCalculateTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cases := []struct {
		name   string
		expiry int64
		ttl    time.Duration
		err    bool
	}{
		{"default", 0, 300 * time.Second, false},
		{"lower bound", 1700000300, 300 * time.Second, false},
		{"below", 1700000299, 0, true},
		{"upper bound", 1700604800, 604800 * time.Second, false},
		{"above", 1700604801, 0, true},
		{"past", 1699999999, 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ttl, err := Request{ExpiryTimestamp: c.expiry}.CalculateTTL(now)
			if c.err {
				assert.True(t, errors.Is(err, ErrInvalidTTL))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.ttl, ttl)
		})
	}
}

func TestTopicExecutorKeepsOrderPerTopic(t *testing.T) {
	e := newTopicExecutor(concurrent.NewLimiter(4))
	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, topic := range []string{"a", "b", "c"} {
			i, topic := i, topic
			wg.Add(1)
			e.Submit(topic, func() {
				defer wg.Done()
				mu.Lock()
				got[topic] = append(got[topic], i)
				mu.Unlock()
			})
		}
	}
	wg.Wait()
	for _, topic := range []string{"a", "b", "c"} {
		require.Len(t, got[topic], 50)
		for i, v := range got[topic] {
			assert.Equal(t, i, v)
		}
	}
}

func TestTopicLocksAreReleased(t *testing.T) {
	l := newTopicLocks()
	unlock := l.Lock("a")
	other := l.Lock("b")
	other()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Lock("a")()
	}()
	select {
	case <-done:
		t.Fatal("second lock acquired while held")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Empty(t, l.locks)
}

func attestation(claims string) string {
	return "e30." + base64.RawURLEncoding.EncodeToString([]byte(claims)) + ".sig"
}

func TestVerifyContext(t *testing.T) {
	peer := store.AppMetadata{URL: "https://app.example"}
	cases := []struct {
		name       string
		jwt        string
		validation store.Validation
		origin     string
	}{
		{"no attestation", "", store.ValidationUnknown, "https://app.example"},
		{"garbage", "a.b.c", store.ValidationUnknown, "https://app.example"},
		{"matching origin", attestation(`{"origin":"https://app.example/"}`), store.ValidationValid, "https://app.example/"},
		{"other origin", attestation(`{"origin":"https://evil.example"}`), store.ValidationInvalid, "https://evil.example"},
		{"scam", attestation(`{"origin":"https://app.example","isScam":true}`), store.ValidationScam, "https://app.example"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := verifyContext(relay.Message{Attestation: c.jwt}, peer)
			assert.Equal(t, c.validation, v.Validation)
			assert.Equal(t, c.origin, v.Origin)
			assert.Equal(t, c.validation == store.ValidationScam, v.IsScam)
		})
	}
}

// offlineRelay accepts everything and delivers nothing.
type offlineRelay struct {
	mu           sync.Mutex
	unsubscribed []string
	messages     *pubsub.Publisher[relay.Message]
}

func newOfflineRelay() *offlineRelay {
	return &offlineRelay{messages: pubsub.NewPublisher[relay.Message]()}
}

func (r *offlineRelay) Start(context.Context) error { return nil }
func (r *offlineRelay) Messages() *pubsub.Subscription[relay.Message] {
	return r.messages.Subscribe()
}
func (r *offlineRelay) Subscribe(_ context.Context, topic string) (string, error) {
	return topic, nil
}
func (r *offlineRelay) BatchSubscribe(_ context.Context, topics []string) ([]string, error) {
	return topics, nil
}
func (r *offlineRelay) Unsubscribe(_ context.Context, topic string) error {
	r.mu.Lock()
	r.unsubscribed = append(r.unsubscribed, topic)
	r.mu.Unlock()
	return nil
}
func (r *offlineRelay) Request(context.Context, *jsonrpc.Request, string, relay.ProtocolMethod, *tvf.Data) error {
	return nil
}
func (r *offlineRelay) Respond(context.Context, string, *jsonrpc.Response, relay.ProtocolMethod, *tvf.Data) error {
	return nil
}
func (r *offlineRelay) RespondError(context.Context, string, jsonrpc.RPCID, int, string, relay.ProtocolMethod) error {
	return nil
}
func (r *offlineRelay) ProposeSession(context.Context, string, *jsonrpc.Request) error { return nil }
func (r *offlineRelay) ApproveSession(context.Context, relay.ApproveSessionRequest) error {
	return nil
}

type memoryArchiver struct {
	archived []string
}

func (a *memoryArchiver) Archive(_ context.Context, s *store.Session) error {
	a.archived = append(a.archived, s.Topic)
	return nil
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	kv := storage.NewMemoryStore()
	rl := newOfflineRelay()
	archiver := &memoryArchiver{}
	c, err := NewClient(Options{
		Relay:    rl,
		KMS:      kms.New(kv),
		Storage:  kv,
		Archiver: archiver,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	deletions := c.SessionDeletions()
	defer deletions.Cancel()
	expirations := c.PairingExpirations()
	defer expirations.Cancel()

	pairing, _, err := c.CreatePairing(ctx)
	require.NoError(t, err)
	require.NoError(t, c.sessions.Save(ctx, &store.Session{Topic: "old", Expiry: clock.Now().Add(time.Minute).Unix()}))
	require.NoError(t, c.sessions.Save(ctx, &store.Session{Topic: "fresh", Expiry: clock.Now().Add(time.Hour).Unix()}))
	require.NoError(t, c.proposals.Save(ctx, &store.Proposal{ID: 7, ExpiryTimestamp: clock.Now().Add(ProposalTTL).Unix()}))

	res, err := c.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	clock.Advance(10 * time.Minute)
	sweeper := NewSweeper(c, time.Hour)
	sweeper.Sweep(ctx)
	runs, removed := sweeper.Stats()
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, int64(3), removed)

	assert.Equal(t, []string{"old"}, archiver.archived)
	deleted := next(t, deletions)
	assert.Equal(t, "old", deleted.Topic)
	assert.Equal(t, ReasonSessionExpired, deleted.Reason)
	assert.Equal(t, pairing.Topic, next(t, expirations).Topic)

	sessions, err := c.GetSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].Topic)
	_, err = c.proposals.Get(ctx, 7)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.ElementsMatch(t, []string{"old", pairing.Topic}, rl.unsubscribed)
}
