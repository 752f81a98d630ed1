// Package relay talks JSON-RPC to the relay network: it publishes encrypted
// envelopes on topics, manages topic subscriptions and delivers the
// envelopes received on them.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/kms"
	"moff.io/walletconnect-sign/internal/tvf"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

// Codec encrypts a peer payload for a topic.
type Codec interface {
	Encode(ctx context.Context, topic string, payload []byte, opts *kms.EncodeOptions) (string, error)
}

type Options struct {
	Transport Transport
	Codec     Codec
	// AckTimeout bounds every wait for a relay acknowledgement.
	AckTimeout time.Duration
	// ReconnectPerSecond throttles connection attempts.
	ReconnectPerSecond int
	// ConnectUnconditionally makes a send on a closed socket reconnect
	// first instead of failing with ErrNotConnected.
	ConnectUnconditionally bool
	// SeenCapacity bounds the relay message ids remembered for dedupe.
	SeenCapacity int
}

const (
	defaultAckTimeout   = 10 * time.Second
	defaultSeenCapacity = 4096
	subscriptionBuffer  = 1024
	ackSendTimeout      = 5 * time.Second
)

type PublishOptions struct {
	TTL           time.Duration
	Tag           int
	Prompt        bool
	CorrelationID int64
	TVF           *tvf.Data
}

type Dispatcher struct {
	opts      Options
	transport Transport
	codec     Codec

	pendingMu sync.Mutex
	pending   map[jsonrpc.RPCID]chan *jsonrpc.Response

	subMu         sync.Mutex
	subscriptions map[string]string

	seen     *seenSet
	messages *pubsub.Publisher[Message]
	status   *pubsub.Publisher[ConnectionStatus]

	throttle  ratelimit.Limiter
	connectMu sync.Mutex
	started   *atomic.Bool
	stopped   *atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.ReconnectPerSecond <= 0 {
		opts.ReconnectPerSecond = 1
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = defaultSeenCapacity
	}
	return &Dispatcher{
		opts:          opts,
		transport:     opts.Transport,
		codec:         opts.Codec,
		pending:       make(map[jsonrpc.RPCID]chan *jsonrpc.Response),
		subscriptions: make(map[string]string),
		seen:          newSeenSet(opts.SeenCapacity),
		messages:      pubsub.NewPublisher[Message](),
		status:        pubsub.NewPublisher[ConnectionStatus](),
		throttle:      ratelimit.New(opts.ReconnectPerSecond),
		started:       atomic.NewBool(false),
		stopped:       atomic.NewBool(false),
	}
}

// Start runs the receive loops and connects the socket. The loops keep
// running when the first connection fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CAS(false, true) {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(2)
	go d.readLoop(loopCtx)
	go d.statusLoop(loopCtx)
	return d.connect(ctx)
}

func (d *Dispatcher) Stop() {
	if !d.stopped.CAS(false, true) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.transport.Disconnect(); err != nil {
		log.Warnf("disconnect relay:%v", err)
	}
	d.failPending()
	d.wg.Wait()
	d.messages.Close()
	d.status.Close()
}

// Messages subscribes to envelopes received on subscribed topics.
func (d *Dispatcher) Messages() *pubsub.Subscription[Message] {
	return d.messages.Subscribe(subscriptionBuffer)
}

// ConnectionStatus subscribes to socket status transitions.
func (d *Dispatcher) ConnectionStatus() *pubsub.Subscription[ConnectionStatus] {
	return d.status.Subscribe()
}

func (d *Dispatcher) IsConnected() bool {
	return d.transport.IsConnected()
}

func (d *Dispatcher) connect(ctx context.Context) error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()
	if d.transport.IsConnected() {
		return nil
	}
	if d.stopped.Load() {
		return ErrStopped
	}
	d.throttle.Take()
	if err := d.transport.Connect(ctx); err != nil {
		return &NetworkError{Method: "connect", Err: err}
	}
	return nil
}

func (d *Dispatcher) ensureConnected(ctx context.Context) error {
	if d.transport.IsConnected() {
		return nil
	}
	if d.stopped.Load() {
		return ErrStopped
	}
	if !d.opts.ConnectUnconditionally {
		return ErrNotConnected
	}
	return d.connect(ctx)
}

func (d *Dispatcher) readLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-d.transport.Receive():
			if !ok {
				return
			}
			d.handleFrame(ctx, data)
		}
	}
}

func (d *Dispatcher) statusLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-d.transport.Status():
			if !ok {
				return
			}
			log.Infof("relay socket %s", s)
			if err := d.status.Publish(ctx, s); err != nil {
				return
			}
			switch s {
			case Connected:
				go d.resubscribe(ctx)
			case Disconnected:
				if d.opts.ConnectUnconditionally && !d.stopped.Load() {
					go d.reconnect(ctx)
				}
			}
		}
	}
}

func (d *Dispatcher) reconnect(ctx context.Context) {
	for !d.stopped.Load() && ctx.Err() == nil {
		err := d.connect(ctx)
		if err == nil || errors.Is(err, ErrStopped) {
			return
		}
		log.Warnf("reconnect relay:%v", err)
	}
}

// resubscribe restores every known subscription with one batch call.
func (d *Dispatcher) resubscribe(ctx context.Context) {
	topics := d.Topics()
	if len(topics) == 0 {
		return
	}
	if _, err := d.BatchSubscribe(ctx, topics); err != nil {
		log.Errorf("resubscribe %d topics:%v", len(topics), err)
		return
	}
	log.Infof("resubscribed %d topics", len(topics))
}

func (d *Dispatcher) handleFrame(ctx context.Context, data []byte) {
	msg, err := jsonrpc.Parse(data)
	if err != nil {
		log.Warnf("drop relay frame:%v", err)
		return
	}
	if !msg.IsRequest() {
		d.pendingMu.Lock()
		ch, ok := d.pending[msg.Response.ID]
		delete(d.pending, msg.Response.ID)
		d.pendingMu.Unlock()
		if ok {
			ch <- msg.Response
		}
		return
	}
	if msg.Request.Method != MethodSubscription {
		log.Warnf("unexpected relay request %s", msg.Request.Method)
		return
	}
	var params SubscriptionParams
	if err := json.Unmarshal(msg.Request.Params, &params); err != nil {
		log.Warnf("malformed irn_subscription:%v", err)
		return
	}
	d.ack(msg.Request.ID)
	if params.ID != "" && !d.seen.Add(params.ID) {
		log.WithTopic(params.Data.Topic).Debugf("duplicate relay message %s", params.ID)
		return
	}
	m := Message{
		Topic:       params.Data.Topic,
		Payload:     params.Data.Message,
		PublishedAt: time.UnixMilli(params.Data.PublishedAt),
		Tag:         params.Data.Tag,
		Attestation: params.Data.Attestation,
	}
	if err := d.messages.Publish(ctx, m); err != nil {
		log.WithTopic(m.Topic).Warnf("deliver relay message:%v", err)
	}
}

func (d *Dispatcher) ack(id jsonrpc.RPCID) {
	resp, _ := jsonrpc.NewResult(id, true)
	data, _ := json.Marshal(resp)
	ctx, cancel := context.WithTimeout(context.Background(), ackSendTimeout)
	defer cancel()
	if err := d.transport.Send(ctx, data); err != nil {
		log.Warnf("ack irn_subscription %d:%v", id, err)
	}
}

func (d *Dispatcher) register(id jsonrpc.RPCID) chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	d.pendingMu.Lock()
	d.pending[id] = ch
	d.pendingMu.Unlock()
	return ch
}

func (d *Dispatcher) unregister(id jsonrpc.RPCID) {
	d.pendingMu.Lock()
	delete(d.pending, id)
	d.pendingMu.Unlock()
}

// failPending releases every waiter on stop.
func (d *Dispatcher) failPending() {
	d.pendingMu.Lock()
	pending := d.pending
	d.pending = make(map[jsonrpc.RPCID]chan *jsonrpc.Response)
	d.pendingMu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// call sends one relay request and waits for its acknowledgement. A send
// that fails on a broken socket is reconnected and resent once.
func (d *Dispatcher) call(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	req, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", method)
	}
	retried := false
	for {
		if err := d.ensureConnected(ctx); err != nil {
			return nil, err
		}
		ch := d.register(req.ID)
		if err := d.transport.Send(ctx, data); err != nil {
			d.unregister(req.ID)
			if d.opts.ConnectUnconditionally && !retried && ctx.Err() == nil {
				retried = true
				log.Warnf("send %s failed, reconnecting:%v", method, err)
				_ = d.transport.Disconnect()
				continue
			}
			return nil, &NetworkError{Method: method, Err: err}
		}
		resp, err := d.await(ctx, method, req.ID, ch)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &NetworkError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp, nil
	}
}

func (d *Dispatcher) await(ctx context.Context, method string, id jsonrpc.RPCID, ch chan *jsonrpc.Response) (*jsonrpc.Response, error) {
	timer := time.NewTimer(d.opts.AckTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrStopped
		}
		return resp, nil
	case <-timer.C:
		d.unregister(id)
		return nil, errors.Wrapf(ErrAckTimeout, "%s after %s", method, d.opts.AckTimeout)
	case <-ctx.Done():
		d.unregister(id)
		return nil, errors.WithStack(ctx.Err())
	}
}

func correlationID(ctx context.Context, fallback int64) int64 {
	if id := meta.CorrelationID(ctx); id != 0 {
		return id
	}
	return fallback
}

// Publish sends an already encrypted message on topic.
func (d *Dispatcher) Publish(ctx context.Context, topic, message string, opts PublishOptions) error {
	params := PublishParams{
		Topic:         topic,
		Message:       message,
		TTL:           ttlSeconds(opts.TTL),
		Tag:           opts.Tag,
		Prompt:        opts.Prompt,
		CorrelationID: correlationID(ctx, opts.CorrelationID),
	}
	if opts.TVF != nil {
		params.RPCMethods = opts.TVF.RPCMethods
		params.ChainID = opts.TVF.ChainID
		params.TxHashes = opts.TVF.TxHashes
		params.ContractAddresses = opts.TVF.ContractAddresses
	}
	_, err := d.call(ctx, MethodPublish, params)
	if err != nil {
		return err
	}
	log.WithTopic(topic).Debugf("published tag %d", opts.Tag)
	return nil
}

func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (string, error) {
	resp, err := d.call(ctx, MethodSubscribe, SubscribeParams{Topic: topic})
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(resp.Result, &id); err != nil {
		return "", &NetworkError{Method: MethodSubscribe, Err: err}
	}
	d.subMu.Lock()
	d.subscriptions[topic] = id
	d.subMu.Unlock()
	log.WithTopic(topic).Debug("subscribed")
	return id, nil
}

// BatchSubscribe subscribes to all topics in one round trip.
func (d *Dispatcher) BatchSubscribe(ctx context.Context, topics []string) ([]string, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	resp, err := d.call(ctx, MethodBatchSubscribe, BatchSubscribeParams{Topics: topics})
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(resp.Result, &ids); err != nil || len(ids) != len(topics) {
		return nil, &NetworkError{Method: MethodBatchSubscribe, Err: errors.Errorf("unexpected result %s", resp.Result)}
	}
	d.subMu.Lock()
	for i, topic := range topics {
		d.subscriptions[topic] = ids[i]
	}
	d.subMu.Unlock()
	return ids, nil
}

// Unsubscribe is a no-op for topics that are not subscribed.
func (d *Dispatcher) Unsubscribe(ctx context.Context, topic string) error {
	d.subMu.Lock()
	id, ok := d.subscriptions[topic]
	d.subMu.Unlock()
	if !ok {
		return nil
	}
	if _, err := d.call(ctx, MethodUnsubscribe, UnsubscribeParams{Topic: topic, ID: id}); err != nil {
		return err
	}
	d.subMu.Lock()
	delete(d.subscriptions, topic)
	d.subMu.Unlock()
	log.WithTopic(topic).Debug("unsubscribed")
	return nil
}

func (d *Dispatcher) BatchUnsubscribe(ctx context.Context, topics []string) error {
	refs := make([]SubscriptionRef, 0, len(topics))
	d.subMu.Lock()
	for _, topic := range topics {
		if id, ok := d.subscriptions[topic]; ok {
			refs = append(refs, SubscriptionRef{Topic: topic, ID: id})
		}
	}
	d.subMu.Unlock()
	if len(refs) == 0 {
		return nil
	}
	if _, err := d.call(ctx, MethodBatchUnsubscribe, BatchUnsubscribeParams{Subscriptions: refs}); err != nil {
		return err
	}
	d.subMu.Lock()
	for _, ref := range refs {
		delete(d.subscriptions, ref.Topic)
	}
	d.subMu.Unlock()
	return nil
}

func (d *Dispatcher) IsSubscribed(topic string) bool {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	_, ok := d.subscriptions[topic]
	return ok
}

// Topics returns the currently subscribed topics.
func (d *Dispatcher) Topics() []string {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	topics := make([]string, 0, len(d.subscriptions))
	for topic := range d.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

func (d *Dispatcher) encode(ctx context.Context, topic string, v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal peer payload")
	}
	return d.codec.Encode(ctx, topic, payload, nil)
}

// Request encrypts req for topic and publishes it with the request settings
// of method.
func (d *Dispatcher) Request(ctx context.Context, req *jsonrpc.Request, topic string, method ProtocolMethod, tvfData *tvf.Data) error {
	msg, err := d.encode(ctx, topic, req)
	if err != nil {
		return err
	}
	cfg := method.Request
	return d.Publish(ctx, topic, msg, PublishOptions{
		TTL: cfg.TTL, Tag: cfg.Tag, Prompt: cfg.Prompt, CorrelationID: req.ID, TVF: tvfData,
	})
}

// Respond publishes a result for a peer request.
func (d *Dispatcher) Respond(ctx context.Context, topic string, resp *jsonrpc.Response, method ProtocolMethod, tvfData *tvf.Data) error {
	return d.respond(ctx, topic, resp, method.Response, tvfData)
}

// RespondError publishes an error response, using the rejection settings
// when the method has them.
func (d *Dispatcher) RespondError(ctx context.Context, topic string, id jsonrpc.RPCID, code int, message string, method ProtocolMethod) error {
	return d.respond(ctx, topic, jsonrpc.NewError(id, code, message), method.errorConfig(), nil)
}

func (d *Dispatcher) respond(ctx context.Context, topic string, resp *jsonrpc.Response, cfg PublishConfig, tvfData *tvf.Data) error {
	msg, err := d.encode(ctx, topic, resp)
	if err != nil {
		return err
	}
	return d.Publish(ctx, topic, msg, PublishOptions{
		TTL: cfg.TTL, Tag: cfg.Tag, Prompt: cfg.Prompt, CorrelationID: resp.ID, TVF: tvfData,
	})
}

// ProposeSession hands a session proposal to the relay, which publishes it
// on the pairing topic.
func (d *Dispatcher) ProposeSession(ctx context.Context, pairingTopic string, proposal *jsonrpc.Request) error {
	msg, err := d.encode(ctx, pairingTopic, proposal)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, MethodProposeSession, ProposeSessionParams{
		PairingTopic:    pairingTopic,
		SessionProposal: msg,
		CorrelationID:   correlationID(ctx, proposal.ID),
	})
	return err
}

type ApproveSessionRequest struct {
	PairingTopic     string
	SessionTopic     string
	ProposalResponse *jsonrpc.Response
	Settlement       *jsonrpc.Request
	ApprovedChains   []string
	ApprovedMethods  []string
	ApprovedEvents   []string
}

// ApproveSession publishes the proposal response on the pairing topic and
// the settlement on the session topic in one relay call.
func (d *Dispatcher) ApproveSession(ctx context.Context, r ApproveSessionRequest) error {
	response, err := d.encode(ctx, r.PairingTopic, r.ProposalResponse)
	if err != nil {
		return err
	}
	settlement, err := d.encode(ctx, r.SessionTopic, r.Settlement)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, MethodApproveSession, ApproveSessionParams{
		PairingTopic:             r.PairingTopic,
		SessionTopic:             r.SessionTopic,
		SessionProposalResponse:  response,
		SessionSettlementRequest: settlement,
		CorrelationID:            correlationID(ctx, r.ProposalResponse.ID),
		ApprovedChains:           nonNil(r.ApprovedChains),
		ApprovedMethods:          nonNil(r.ApprovedMethods),
		ApprovedEvents:           nonNil(r.ApprovedEvents),
	})
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
