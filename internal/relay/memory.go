package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/pkg/common"
	"moff.io/walletconnect-sign/pkg/errors"
)

// MemoryRelay is an in-process relay: it keeps a mailbox per topic, fans
// published messages out to subscribers other than the publisher and
// acknowledges every call. Subscriptions of a transport are dropped when it
// disconnects, like on the real relay.
type MemoryRelay struct {
	mu        sync.Mutex
	subs      map[string]map[*MemoryTransport]string
	mailbox   map[string][]storedMessage
	published []PublishParams
	now       func() time.Time
}

type storedMessage struct {
	id     string
	data   SubscriptionData
	from   *MemoryTransport
	expiry time.Time
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		subs:    make(map[string]map[*MemoryTransport]string),
		mailbox: make(map[string][]storedMessage),
		now:     time.Now,
	}
}

// NewTransport returns a disconnected transport attached to the hub.
func (r *MemoryRelay) NewTransport() *MemoryTransport {
	t := &MemoryTransport{
		relay:     r,
		connected: atomic.NewBool(false),
		silent:    atomic.NewBool(false),
		failSends: atomic.NewInt32(0),
		receive:   make(chan []byte),
		status:    make(chan ConnectionStatus, 16),
		notify:    make(chan struct{}, 1),
	}
	go t.pump()
	return t
}

// Published returns every irn_publish seen, including the ones the hub
// issued for wc_proposeSession and wc_approveSession.
func (r *MemoryRelay) Published() []PublishParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PublishParams, len(r.published))
	copy(out, r.published)
	return out
}

func (r *MemoryRelay) Subscribers(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[topic])
}

func (r *MemoryRelay) handle(t *MemoryTransport, data []byte) {
	msg, err := jsonrpc.Parse(data)
	if err != nil || !msg.IsRequest() {
		// acks of irn_subscription and garbage
		return
	}
	req := msg.Request
	result, rpcErr := r.dispatch(t, req)
	if t.silent.Load() {
		return
	}
	var resp *jsonrpc.Response
	if rpcErr != nil {
		resp = jsonrpc.NewError(req.ID, rpcErr.Code, rpcErr.Message)
	} else {
		resp, _ = jsonrpc.NewResult(req.ID, result)
	}
	out, _ := json.Marshal(resp)
	t.enqueue(out)
}

func (r *MemoryRelay) dispatch(t *MemoryTransport, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	invalid := &jsonrpc.Error{Code: -32602, Message: "invalid params"}
	switch req.Method {
	case MethodPublish:
		var p PublishParams
		if json.Unmarshal(req.Params, &p) != nil || p.Topic == "" {
			return nil, invalid
		}
		r.publishLocked(t, p)
		return true, nil
	case MethodSubscribe:
		var p SubscribeParams
		if json.Unmarshal(req.Params, &p) != nil || p.Topic == "" {
			return nil, invalid
		}
		return r.subscribeLocked(t, p.Topic), nil
	case MethodBatchSubscribe:
		var p BatchSubscribeParams
		if json.Unmarshal(req.Params, &p) != nil {
			return nil, invalid
		}
		ids := make([]string, 0, len(p.Topics))
		for _, topic := range p.Topics {
			ids = append(ids, r.subscribeLocked(t, topic))
		}
		return ids, nil
	case MethodUnsubscribe:
		var p UnsubscribeParams
		if json.Unmarshal(req.Params, &p) != nil {
			return nil, invalid
		}
		delete(r.subs[p.Topic], t)
		return true, nil
	case MethodBatchUnsubscribe:
		var p BatchUnsubscribeParams
		if json.Unmarshal(req.Params, &p) != nil {
			return nil, invalid
		}
		for _, s := range p.Subscriptions {
			delete(r.subs[s.Topic], t)
		}
		return true, nil
	case MethodProposeSession:
		var p ProposeSessionParams
		if json.Unmarshal(req.Params, &p) != nil || p.PairingTopic == "" {
			return nil, invalid
		}
		cfg := SessionPropose.Request
		r.publishLocked(t, PublishParams{
			Topic: p.PairingTopic, Message: p.SessionProposal, TTL: ttlSeconds(cfg.TTL),
			Tag: cfg.Tag, Prompt: cfg.Prompt, CorrelationID: p.CorrelationID,
		})
		return true, nil
	case MethodApproveSession:
		var p ApproveSessionParams
		if json.Unmarshal(req.Params, &p) != nil || p.PairingTopic == "" || p.SessionTopic == "" {
			return nil, invalid
		}
		r.publishLocked(t, PublishParams{
			Topic: p.PairingTopic, Message: p.SessionProposalResponse,
			TTL: ttlSeconds(SessionPropose.Response.TTL), Tag: SessionPropose.Response.Tag,
			CorrelationID: p.CorrelationID,
		})
		r.subscribeLocked(t, p.SessionTopic)
		r.publishLocked(t, PublishParams{
			Topic: p.SessionTopic, Message: p.SessionSettlementRequest,
			TTL: ttlSeconds(SessionSettle.Request.TTL), Tag: SessionSettle.Request.Tag,
			CorrelationID: p.CorrelationID,
		})
		return true, nil
	}
	return nil, &jsonrpc.Error{Code: -32601, Message: fmt.Sprintf("method %s not found", req.Method)}
}

func (r *MemoryRelay) publishLocked(from *MemoryTransport, p PublishParams) {
	r.published = append(r.published, p)
	now := r.now()
	m := storedMessage{
		id: common.SHA256HexString([]byte(p.Topic + p.Message)),
		data: SubscriptionData{
			Topic: p.Topic, Message: p.Message, PublishedAt: now.UnixMilli(), Tag: p.Tag,
		},
		from:   from,
		expiry: now.Add(time.Duration(p.TTL) * time.Second),
	}
	r.mailbox[p.Topic] = append(r.pruneLocked(p.Topic, now), m)
	for sub := range r.subs[p.Topic] {
		if sub != from {
			sub.deliver(m)
		}
	}
}

func (r *MemoryRelay) pruneLocked(topic string, now time.Time) []storedMessage {
	kept := r.mailbox[topic][:0]
	for _, m := range r.mailbox[topic] {
		if now.Before(m.expiry) {
			kept = append(kept, m)
		}
	}
	return kept
}

func (r *MemoryRelay) subscribeLocked(t *MemoryTransport, topic string) string {
	subs, ok := r.subs[topic]
	if !ok {
		subs = make(map[*MemoryTransport]string)
		r.subs[topic] = subs
	}
	id, ok := subs[t]
	if !ok {
		id = common.SHA256HexString([]byte(fmt.Sprintf("%s:%p", topic, t)))
		subs[t] = id
	}
	for _, m := range r.pruneLocked(topic, r.now()) {
		if m.from != t {
			t.deliver(m)
		}
	}
	return id
}

func (r *MemoryRelay) drop(t *MemoryTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.subs {
		delete(subs, t)
	}
}

// MemoryTransport is one client socket on a MemoryRelay.
type MemoryTransport struct {
	relay     *MemoryRelay
	connected *atomic.Bool
	silent    *atomic.Bool
	failSends *atomic.Int32

	queueMu sync.Mutex
	queue   [][]byte
	notify  chan struct{}
	receive chan []byte
	status  chan ConnectionStatus
}

var ErrSocketBroken = errors.New("memory socket broken")

func (t *MemoryTransport) Connect(context.Context) error {
	if t.connected.CAS(false, true) {
		t.status <- Connected
	}
	return nil
}

func (t *MemoryTransport) Disconnect() error {
	if t.connected.CAS(true, false) {
		t.relay.drop(t)
		t.status <- Disconnected
	}
	return nil
}

// Send hands the frame to the hub. With FailSends armed the socket breaks
// instead, as a dead connection would.
func (t *MemoryTransport) Send(_ context.Context, data []byte) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if t.failSends.Load() > 0 {
		t.failSends.Dec()
		_ = t.Disconnect()
		return ErrSocketBroken
	}
	t.relay.handle(t, data)
	return nil
}

func (t *MemoryTransport) Receive() <-chan []byte {
	return t.receive
}

func (t *MemoryTransport) Status() <-chan ConnectionStatus {
	return t.status
}

func (t *MemoryTransport) IsConnected() bool {
	return t.connected.Load()
}

// SetSilent stops the hub from acknowledging this transport's calls.
func (t *MemoryTransport) SetSilent(silent bool) {
	t.silent.Store(silent)
}

// FailSends breaks the socket on the next n sends.
func (t *MemoryTransport) FailSends(n int32) {
	t.failSends.Store(n)
}

func (t *MemoryTransport) deliver(m storedMessage) {
	if !t.connected.Load() {
		return
	}
	req, _ := jsonrpc.NewRequest(MethodSubscription, SubscriptionParams{ID: m.id, Data: m.data})
	data, _ := json.Marshal(req)
	t.enqueue(data)
}

// enqueue never blocks; pump feeds the receive channel in order.
func (t *MemoryTransport) enqueue(data []byte) {
	t.queueMu.Lock()
	t.queue = append(t.queue, data)
	t.queueMu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *MemoryTransport) pump() {
	for range t.notify {
		for {
			t.queueMu.Lock()
			if len(t.queue) == 0 {
				t.queueMu.Unlock()
				break
			}
			next := t.queue[0]
			t.queue = t.queue[1:]
			t.queueMu.Unlock()
			t.receive <- next
		}
	}
}
