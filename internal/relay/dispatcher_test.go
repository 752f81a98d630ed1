package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/kms"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/internal/tvf"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

type plainCodec struct{}

func (plainCodec) Encode(_ context.Context, _ string, payload []byte, _ *kms.EncodeOptions) (string, error) {
	return string(payload), nil
}

func startDispatcher(t *testing.T, hub *MemoryRelay, opts Options) (*Dispatcher, *MemoryTransport) {
	t.Helper()
	tr := hub.NewTransport()
	opts.Transport = tr
	if opts.Codec == nil {
		opts.Codec = plainCodec{}
	}
	if opts.ReconnectPerSecond == 0 {
		opts.ReconnectPerSecond = 1000
	}
	d := NewDispatcher(opts)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return d, tr
}

func nextMessage(t *testing.T, sub *pubsub.Subscription[Message]) Message {
	t.Helper()
	select {
	case m := <-sub.C():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no relay message delivered")
		return Message{}
	}
}

func TestPublishDeliversToOtherSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	a, _ := startDispatcher(t, hub, Options{})
	b, _ := startDispatcher(t, hub, Options{})

	subA := a.Messages()
	defer subA.Cancel()
	subB := b.Messages()
	defer subB.Cancel()

	_, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)
	_, err = a.Subscribe(ctx, "topic")
	require.NoError(t, err)

	data := &tvf.Data{RPCMethods: []string{"eth_sendTransaction"}, ChainID: "eip155:1", TxHashes: []string{"0x1"}}
	require.NoError(t, a.Publish(ctx, "topic", "hello", PublishOptions{TTL: 300 * time.Second, Tag: 1108, TVF: data}))

	m := nextMessage(t, subB)
	assert.Equal(t, "topic", m.Topic)
	assert.Equal(t, "hello", m.Payload)
	assert.Equal(t, 1108, m.Tag)

	select {
	case <-subA.C():
		t.Fatal("publisher received its own message")
	case <-time.After(50 * time.Millisecond):
	}

	published := hub.Published()
	require.Len(t, published, 1)
	assert.Equal(t, int64(300), published[0].TTL)
	assert.Equal(t, []string{"eth_sendTransaction"}, published[0].RPCMethods)
	assert.Equal(t, "eip155:1", published[0].ChainID)
	assert.Equal(t, []string{"0x1"}, published[0].TxHashes)
}

func TestMailboxDeliveredOnceOnSubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	a, _ := startDispatcher(t, hub, Options{})
	b, _ := startDispatcher(t, hub, Options{})
	sub := b.Messages()
	defer sub.Cancel()

	require.NoError(t, a.Publish(ctx, "late", "stored", PublishOptions{TTL: time.Minute, Tag: 1}))
	_, err := b.Subscribe(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "stored", nextMessage(t, sub).Payload)

	// the relay redelivers its mailbox, the dispatcher drops the duplicate
	_, err = b.Subscribe(ctx, "late")
	require.NoError(t, err)
	select {
	case m := <-sub.C():
		t.Fatalf("duplicate delivery %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAckTimeout(t *testing.T) {
	hub := NewMemoryRelay()
	d, tr := startDispatcher(t, hub, Options{AckTimeout: 50 * time.Millisecond})
	tr.SetSilent(true)

	err := d.Publish(context.Background(), "t", "m", PublishOptions{Tag: 1})
	assert.True(t, errors.Is(err, ErrAckTimeout))
	assert.True(t, IsTransportError(err))
}

func TestNotConnectedWithoutReconnect(t *testing.T) {
	hub := NewMemoryRelay()
	d, tr := startDispatcher(t, hub, Options{})
	require.NoError(t, tr.Disconnect())

	err := d.Publish(context.Background(), "t", "m", PublishOptions{Tag: 1})
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.True(t, IsTransportError(err))
}

func TestRelayErrorIsNetworkError(t *testing.T) {
	hub := NewMemoryRelay()
	d, _ := startDispatcher(t, hub, Options{})

	_, err := d.Subscribe(context.Background(), "")
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, -32602, netErr.Code)
	assert.Equal(t, MethodSubscribe, netErr.Method)
}

func TestBrokenSocketReconnectsResendsAndResubscribes(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	a, trA := startDispatcher(t, hub, Options{ConnectUnconditionally: true})
	b, _ := startDispatcher(t, hub, Options{})
	sub := a.Messages()
	defer sub.Cancel()

	_, err := a.Subscribe(ctx, "inbox")
	require.NoError(t, err)
	status := a.ConnectionStatus()
	defer status.Cancel()

	trA.FailSends(1)
	require.NoError(t, a.Publish(ctx, "outbox", "after-reconnect", PublishOptions{Tag: 1, TTL: time.Minute}))
	assert.True(t, trA.IsConnected())

	require.Eventually(t, func() bool { return hub.Subscribers("inbox") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Publish(ctx, "inbox", "ping", PublishOptions{Tag: 1, TTL: time.Minute}))
	assert.Equal(t, "ping", nextMessage(t, sub).Payload)

	var seen []ConnectionStatus
	for {
		select {
		case s := <-status.C():
			if s == Disconnected || len(seen) > 0 {
				seen = append(seen, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("status transitions %v", seen)
		}
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []ConnectionStatus{Disconnected, Connected}, seen)
}

func TestBatchSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	d, _ := startDispatcher(t, hub, Options{})

	ids, err := d.BatchSubscribe(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, d.Topics())

	require.NoError(t, d.Unsubscribe(ctx, "a"))
	assert.False(t, d.IsSubscribed("a"))
	assert.Equal(t, 0, hub.Subscribers("a"))
	require.NoError(t, d.BatchUnsubscribe(ctx, []string{"b", "never"}))
	assert.Empty(t, d.Topics())
}

func TestBatchSubscribeOmitsReservedChainID(t *testing.T) {
	data, err := json.Marshal(BatchSubscribeParams{Topics: []string{"a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":["a"]}`, string(data))
}

func TestEncryptedPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	dappKeys := kms.New(storage.NewMemoryStore())
	walletKeys := kms.New(storage.NewMemoryStore())

	topic, key, err := dappKeys.CreateSymmetricKey(ctx, "")
	require.NoError(t, err)
	_, err = walletKeys.SetSymmetricKey(ctx, key, "")
	require.NoError(t, err)

	dapp, _ := startDispatcher(t, hub, Options{Codec: dappKeys})
	wallet, _ := startDispatcher(t, hub, Options{Codec: walletKeys})
	dappInbox := dapp.Messages()
	defer dappInbox.Cancel()
	walletInbox := wallet.Messages()
	defer walletInbox.Cancel()
	_, err = dapp.Subscribe(ctx, topic)
	require.NoError(t, err)
	_, err = wallet.Subscribe(ctx, topic)
	require.NoError(t, err)

	reqA, _ := jsonrpc.NewRequest("wc_sessionRequest", map[string]string{"payload": "A"})
	require.NoError(t, dapp.Request(ctx, reqA, topic, SessionRequest, nil))

	m := nextMessage(t, walletInbox)
	assert.Equal(t, topic, m.Topic)
	assert.Equal(t, SessionRequest.Request.Tag, m.Tag)
	plain, _, err := walletKeys.Decode(ctx, m.Topic, m.Payload, "")
	require.NoError(t, err)
	sent, _ := json.Marshal(reqA)
	assert.Equal(t, sent, plain)

	respB, _ := jsonrpc.NewResult(reqA.ID, "B")
	require.NoError(t, wallet.Respond(ctx, topic, respB, SessionRequest, nil))

	m = nextMessage(t, dappInbox)
	assert.Equal(t, topic, m.Topic)
	assert.Equal(t, SessionRequest.Response.Tag, m.Tag)
	plain, _, err = dappKeys.Decode(ctx, m.Topic, m.Payload, "")
	require.NoError(t, err)
	sent, _ = json.Marshal(respB)
	assert.Equal(t, sent, plain)
}

func TestRespondErrorUsesRejectTag(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryRelay()
	d, _ := startDispatcher(t, hub, Options{})

	require.NoError(t, d.RespondError(ctx, "pairing", 1, 5000, "rejected", SessionPropose))
	require.NoError(t, d.RespondError(ctx, "session", 2, 5000, "rejected", SessionRequest))
	published := hub.Published()
	require.Len(t, published, 2)
	assert.Equal(t, 1120, published[0].Tag)
	assert.Equal(t, 1109, published[1].Tag)
}
