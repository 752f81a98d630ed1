package sign

import (
	"context"
	"encoding/json"
	"sync"

	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

type requestHandler func(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error

type responseHandler func(ctx context.Context, rec *store.RequestRecord, resp *jsonrpc.Response) error

func (c *Client) requestHandlers() map[string]requestHandler {
	return map[string]requestHandler{
		relay.SessionPropose.Method:      c.onSessionPropose,
		relay.SessionSettle.Method:       c.onSessionSettle,
		relay.SessionUpdate.Method:       c.onSessionUpdate,
		relay.SessionExtend.Method:       c.onSessionExtend,
		relay.SessionRequest.Method:      c.onSessionRequest,
		relay.SessionEvent.Method:        c.onSessionEvent,
		relay.SessionDelete.Method:       c.onSessionDelete,
		relay.SessionPing.Method:         c.onPing,
		relay.PairingPing.Method:         c.onPing,
		relay.PairingDelete.Method:       c.onPairingDelete,
		relay.SessionAuthenticate.Method: c.onUnsupported,
	}
}

func (c *Client) responseHandlers() map[string]responseHandler {
	return map[string]responseHandler{
		relay.SessionPropose.Method: c.onSessionProposeResponse,
		relay.SessionSettle.Method:  c.onSessionSettleResponse,
		relay.SessionRequest.Method: c.onSessionRequestResponse,
	}
}

func (c *Client) consume(messages *pubsub.Subscription[relay.Message]) {
	defer c.wg.Done()
	defer messages.Cancel()
	requests := c.requestHandlers()
	responses := c.responseHandlers()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-messages.C():
			if !ok {
				return
			}
			c.executor.Submit(msg.Topic, func() {
				c.handle(msg, requests, responses)
			})
		}
	}
}

func (c *Client) handle(msg relay.Message, requests map[string]requestHandler, responses map[string]responseHandler) {
	ctx := meta.Begin(c.ctx)
	payload, _, err := c.kms.Decode(ctx, msg.Topic, msg.Payload, "")
	if err != nil {
		log.WithTopic(msg.Topic).Warnf("decode envelope:%v", err)
		return
	}
	rpc, err := jsonrpc.Parse(payload)
	if err != nil {
		log.WithTopic(msg.Topic).Warnf("parse peer message:%v", err)
		return
	}
	meta.WithCorrelationID(ctx, rpc.ID())
	if rpc.IsRequest() {
		c.handleRequest(ctx, msg, rpc.Request, requests)
		return
	}
	c.handleResponse(ctx, msg, rpc.Response, responses)
}

func (c *Client) handleRequest(ctx context.Context, msg relay.Message, req *jsonrpc.Request, handlers map[string]requestHandler) {
	// relay redelivery: a request id is handled once
	if _, err := c.history.Get(ctx, req.ID); err == nil {
		log.WithTopic(msg.Topic).Debugf("duplicate request %d", req.ID)
		return
	}
	rec := &store.RequestRecord{
		ID:        req.ID,
		Topic:     msg.Topic,
		Method:    req.Method,
		Params:    req.Params,
		CreatedAt: c.opts.Now().Unix(),
	}
	if err := c.history.Save(ctx, rec); err != nil {
		log.WithTopic(msg.Topic).Errorf("record request %d:%v", req.ID, err)
		return
	}
	c.trace(ctx, "inbound_"+req.Method, msg.Topic, req.ID, nil)
	h, ok := handlers[req.Method]
	if !ok {
		h = c.onUnsupported
	}
	if err := h(ctx, msg, req); err != nil {
		log.WithTopic(msg.Topic).Errorf("handle %s %d:%v", req.Method, req.ID, err)
	}
}

func (c *Client) handleResponse(ctx context.Context, msg relay.Message, resp *jsonrpc.Response, handlers map[string]responseHandler) {
	c.waiters.Resolve(resp)
	rec, err := c.history.Get(ctx, resp.ID)
	if err != nil {
		log.WithTopic(msg.Topic).Debugf("response %d without request:%v", resp.ID, err)
		return
	}
	if !rec.Outbound || rec.Response != nil {
		return
	}
	rec.Response = resp
	if err := c.history.Save(ctx, rec); err != nil {
		log.WithTopic(msg.Topic).Errorf("record response %d:%v", resp.ID, err)
	}
	c.trace(ctx, "response_"+rec.Method, msg.Topic, resp.ID, nil)
	if h, ok := handlers[rec.Method]; ok {
		if err := h(ctx, rec, resp); err != nil {
			log.WithTopic(msg.Topic).Errorf("handle %s response %d:%v", rec.Method, resp.ID, err)
		}
	}
}

// respond answers an inbound request and marks its record answered.
func (c *Client) respond(ctx context.Context, topic string, id jsonrpc.RPCID, result interface{}, method relay.ProtocolMethod) error {
	resp, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return err
	}
	if err := c.relay.Respond(ctx, topic, resp, method, nil); err != nil {
		return err
	}
	c.markAnswered(ctx, id, resp)
	return nil
}

func (c *Client) respondError(ctx context.Context, topic string, id jsonrpc.RPCID, reason Reason, method relay.ProtocolMethod) error {
	if err := c.relay.RespondError(ctx, topic, id, reason.Code, reason.Message, method); err != nil {
		return err
	}
	c.markAnswered(ctx, id, jsonrpc.NewError(id, reason.Code, reason.Message))
	return nil
}

func (c *Client) markAnswered(ctx context.Context, id jsonrpc.RPCID, resp *jsonrpc.Response) {
	rec, err := c.history.Get(ctx, id)
	if err != nil {
		return
	}
	rec.Response = resp
	if err := c.history.Save(ctx, rec); err != nil {
		log.Warnf("record answer %d:%v", id, err)
	}
}

// request publishes an outbound peer request, recording it so the
// response can be routed back.
func (c *Client) request(ctx context.Context, topic string, method relay.ProtocolMethod, params interface{}) (*jsonrpc.Request, error) {
	req, err := jsonrpc.NewRequest(method.Method, params)
	if err != nil {
		return nil, err
	}
	if err := c.recordOutbound(ctx, topic, req, "", 0); err != nil {
		return nil, err
	}
	if err := c.relay.Request(ctx, req, topic, method, nil); err != nil {
		_ = c.history.Delete(ctx, req.ID)
		return nil, err
	}
	c.trace(ctx, "outbound_"+method.Method, topic, req.ID, nil)
	return req, nil
}

func (c *Client) recordOutbound(ctx context.Context, topic string, req *jsonrpc.Request, chainID string, expiry int64) error {
	return c.history.Save(ctx, &store.RequestRecord{
		ID:              req.ID,
		Topic:           topic,
		Method:          req.Method,
		Params:          req.Params,
		ChainID:         chainID,
		ExpiryTimestamp: expiry,
		Outbound:        true,
		CreatedAt:       c.opts.Now().Unix(),
	})
}

func decodeParams(req *jsonrpc.Request, v interface{}) error {
	if err := json.Unmarshal(req.Params, v); err != nil {
		return errors.Wrapf(err, "decode %s params", req.Method)
	}
	return nil
}

func (c *Client) onPing(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	method, _ := relay.LookupMethod(req.Method)
	return c.respond(ctx, msg.Topic, req.ID, true, method)
}

func (c *Client) onUnsupported(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	method, ok := relay.LookupMethod(req.Method)
	if !ok {
		method = relay.ProtocolMethod{Method: req.Method, Response: relay.SessionRequest.Response}
	}
	return c.respondError(ctx, msg.Topic, req.ID, ReasonMethodUnsupported, method)
}

// responseWaiters hands responses to callers blocked on them, like Ping.
type responseWaiters struct {
	mu      sync.Mutex
	waiters map[jsonrpc.RPCID]chan *jsonrpc.Response
}

func newResponseWaiters() *responseWaiters {
	return &responseWaiters{waiters: make(map[jsonrpc.RPCID]chan *jsonrpc.Response)}
}

func (w *responseWaiters) Register(id jsonrpc.RPCID) <-chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	w.mu.Lock()
	w.waiters[id] = ch
	w.mu.Unlock()
	return ch
}

func (w *responseWaiters) Forget(id jsonrpc.RPCID) {
	w.mu.Lock()
	delete(w.waiters, id)
	w.mu.Unlock()
}

func (w *responseWaiters) Resolve(resp *jsonrpc.Response) {
	w.mu.Lock()
	ch, ok := w.waiters[resp.ID]
	delete(w.waiters, resp.ID)
	w.mu.Unlock()
	if ok {
		ch <- resp
	}
}
