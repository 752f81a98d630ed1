package sign

import (
	"context"
	"encoding/json"
	"time"

	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/internal/tvf"
	"moff.io/walletconnect-sign/internal/walletservice"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
)

// GetSessions lists the stored sessions that have not expired.
func (c *Client) GetSessions(ctx context.Context) ([]*store.Session, error) {
	all, err := c.sessions.All(ctx)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	live := all[:0]
	for _, s := range all {
		if !s.IsExpired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// liveSession loads a session usable for peer traffic.
func (c *Client) liveSession(ctx context.Context, topic string) (*store.Session, error) {
	s, err := c.sessions.Get(ctx, topic)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNoSessionMatchingTopic, "%s", topic)
	}
	if err != nil {
		return nil, err
	}
	if s.IsExpired(c.opts.Now()) {
		return nil, errors.Wrapf(ErrNoSessionMatchingTopic, "%s expired", topic)
	}
	return s, nil
}

// Request sends a session request to the wallet. A request whose method is
// routed to a wallet service by the session's scoped properties is posted
// there instead of the relay; either way the answer arrives on
// SessionResponses.
func (c *Client) Request(ctx context.Context, r Request) (jsonrpc.RPCID, error) {
	ctx = meta.Begin(ctx)
	now := c.opts.Now()
	ttl, err := r.CalculateTTL(now)
	if err != nil {
		return 0, err
	}
	session, err := c.liveSession(ctx, r.Topic)
	if err != nil {
		return 0, err
	}
	if !session.Acknowledged {
		return 0, errors.Wrapf(ErrNoSessionMatchingTopic, "%s not acknowledged", r.Topic)
	}
	if !namespace.HasPermission(session.Namespaces, r.Method, r.ChainID) {
		return 0, errors.Wrapf(ErrInvalidPermissions, "%s on %s", r.Method, r.ChainID)
	}
	rawParams, err := json.Marshal(r.Params)
	if err != nil {
		return 0, errors.Wrap(err, "encode request params")
	}

	if url, ok := walletservice.Find(session.ScopedProperties, r.Method, r.ChainID); ok && c.wallets != nil {
		return c.requestWalletService(ctx, r, rawParams, url)
	}

	params := sessionRequestParams{ChainID: r.ChainID}
	params.Request.Method = r.Method
	params.Request.Params = rawParams
	params.Request.ExpiryTimestamp = r.ExpiryTimestamp
	req, err := jsonrpc.NewRequest(relay.SessionRequest.Method, params)
	if err != nil {
		return 0, err
	}
	meta.WithCorrelationID(ctx, req.ID)
	expiry := r.ExpiryTimestamp
	if expiry == 0 {
		expiry = now.Add(ttl).Unix()
	}
	if err := c.recordOutbound(ctx, r.Topic, req, r.ChainID, expiry); err != nil {
		return 0, err
	}
	method := relay.SessionRequest
	method.Request.TTL = ttl
	tvfData := tvf.Collect(r.Method, rawParams, r.ChainID, nil, tvf.TagSessionRequest)
	if err := c.relay.Request(ctx, req, r.Topic, method, tvfData); err != nil {
		_ = c.history.Delete(ctx, req.ID)
		return 0, err
	}
	c.trace(ctx, "session_request_sent", r.Topic, req.ID, tvfData)
	return req.ID, nil
}

func (c *Client) requestWalletService(ctx context.Context, r Request, rawParams json.RawMessage, url string) (jsonrpc.RPCID, error) {
	req, err := jsonrpc.NewRequest(r.Method, rawParams)
	if err != nil {
		return 0, err
	}
	resp, err := c.wallets.Request(ctx, req, url)
	if err != nil {
		return 0, err
	}
	log.WithTopic(r.Topic).Infof("%s answered by wallet service %s", r.Method, url)
	emit(c, c.responsesPub, SessionResponseEvent{Topic: r.Topic, ChainID: r.ChainID, Method: r.Method, Response: resp})
	return req.ID, nil
}

func (c *Client) onSessionRequest(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	var params sessionRequestParams
	if err := decodeParams(req, &params); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidMethod, relay.SessionRequest)
	}
	session, err := c.liveSession(ctx, msg.Topic)
	if err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionRequest)
	}
	if !namespace.HasPermission(session.Namespaces, params.Request.Method, params.ChainID) {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnauthorizedMethod, relay.SessionRequest)
	}
	rec, err := c.history.Get(ctx, req.ID)
	if err != nil {
		return err
	}
	rec.ChainID = params.ChainID
	rec.ExpiryTimestamp = params.Request.ExpiryTimestamp
	if rec.IsExpired(c.opts.Now()) {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonSessionRequestExpired, relay.SessionRequest)
	}
	if err := c.history.Save(ctx, rec); err != nil {
		return err
	}
	verify := verifyContext(msg, session.Peer.Metadata)
	if err := c.verify.Set(ctx, req.ID, verify); err != nil {
		log.Warnf("store verify context:%v", err)
	}
	emit(c, c.requestsPub, SessionRequestEvent{Request: rec, VerifyContext: verify})
	c.emitPending(ctx, msg.Topic)
	return nil
}

// GetPendingRequests lists the unanswered session requests received on
// topic, oldest first.
func (c *Client) GetPendingRequests(ctx context.Context, topic string) ([]*store.RequestRecord, error) {
	all, err := c.history.Pending(ctx, topic)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	pending := all[:0]
	for _, rec := range all {
		if rec.Method == relay.SessionRequest.Method && !rec.IsExpired(now) {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (c *Client) emitPending(ctx context.Context, topic string) {
	pending, err := c.GetPendingRequests(ctx, topic)
	if err != nil {
		log.WithTopic(topic).Warnf("pending requests:%v", err)
		return
	}
	emit(c, c.pendingPub, PendingRequestsEvent{Topic: topic, Requests: pending})
}

// RespondSessionRequest answers an inbound session request once.
func (c *Client) RespondSessionRequest(ctx context.Context, topic string, id jsonrpc.RPCID, r Response) error {
	ctx = meta.Begin(ctx)
	meta.WithCorrelationID(ctx, id)
	unlock := c.locks.Lock(topic)
	defer unlock()
	if _, err := c.liveSession(ctx, topic); err != nil {
		return err
	}
	rec, err := c.history.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(ErrRequestNotFound, "%d", id)
	}
	if err != nil {
		return err
	}
	if rec.Outbound || rec.Topic != topic || rec.Method != relay.SessionRequest.Method {
		return errors.Wrapf(ErrRequestNotFound, "%d on %s", id, topic)
	}
	if rec.Response != nil {
		return errors.Wrapf(ErrRequestAlreadyAnswered, "%d", id)
	}
	defer func() { _ = c.verify.Delete(ctx, id) }()
	if rec.IsExpired(c.opts.Now()) {
		if err := c.respondError(ctx, topic, id, ReasonSessionRequestExpired, relay.SessionRequest); err != nil {
			log.WithTopic(topic).Warnf("answer expired request:%v", err)
		}
		return errors.Wrapf(ErrSessionRequestExpired, "%d", id)
	}

	var resp *jsonrpc.Response
	if r.Error != nil {
		resp = jsonrpc.NewError(id, r.Error.Code, r.Error.Message)
	} else if resp, err = jsonrpc.NewResult(id, r.Result); err != nil {
		return err
	}
	var params sessionRequestParams
	_ = json.Unmarshal(rec.Params, &params)
	tvfData := tvf.Collect(params.Request.Method, params.Request.Params, rec.ChainID, resp, tvf.TagSessionResponse)
	if err := c.relay.Respond(ctx, topic, resp, relay.SessionRequest, tvfData); err != nil {
		return err
	}
	c.markAnswered(ctx, id, resp)
	c.trace(ctx, "session_request_answered", topic, id, tvfData)
	time.AfterFunc(c.opts.PendingRefreshDelay, func() {
		if c.ctx.Err() == nil {
			c.emitPending(c.ctx, topic)
		}
	})
	return nil
}

func (c *Client) onSessionRequestResponse(ctx context.Context, rec *store.RequestRecord, resp *jsonrpc.Response) error {
	var params sessionRequestParams
	if err := json.Unmarshal(rec.Params, &params); err != nil {
		return errors.Wrap(err, "decode recorded request")
	}
	emit(c, c.responsesPub, SessionResponseEvent{
		Topic:    rec.Topic,
		ChainID:  rec.ChainID,
		Method:   params.Request.Method,
		Response: resp,
	})
	return nil
}

// controlledSession loads a session the local side controls.
func (c *Client) controlledSession(ctx context.Context, topic string) (*store.Session, error) {
	session, err := c.liveSession(ctx, topic)
	if err != nil {
		return nil, err
	}
	if !session.IsController() {
		return nil, errors.Wrapf(ErrUnauthorized, "not the controller of %s", topic)
	}
	return session, nil
}

// Update replaces the session namespaces; only the controller may.
func (c *Client) Update(ctx context.Context, topic string, namespaces map[string]namespace.SessionNamespace) error {
	ctx = meta.Begin(ctx)
	unlock := c.locks.Lock(topic)
	defer unlock()
	session, err := c.controlledSession(ctx, topic)
	if err != nil {
		return err
	}
	if err := namespace.ValidateSessionNamespaces(namespaces); err != nil {
		return errors.Wrap(ErrInvalidNamespaces, err.Error())
	}
	if _, err := c.request(ctx, topic, relay.SessionUpdate, updateParams{Namespaces: namespaces}); err != nil {
		return err
	}
	session.Namespaces = namespaces
	return c.sessions.Save(ctx, session)
}

func (c *Client) onSessionUpdate(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	session, err := c.liveSession(ctx, msg.Topic)
	if err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionUpdate)
	}
	if session.IsController() {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnauthorizedUpdate, relay.SessionUpdate)
	}
	var params updateParams
	if err := decodeParams(req, &params); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidUpdateRequest, relay.SessionUpdate)
	}
	if err := namespace.ValidateSessionNamespaces(params.Namespaces); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidUpdateRequest, relay.SessionUpdate)
	}
	session.Namespaces = params.Namespaces
	if err := c.sessions.Save(ctx, session); err != nil {
		return err
	}
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.SessionUpdate); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack update:%v", err)
	}
	emit(c, c.updatesPub, SessionUpdateEvent{Topic: msg.Topic, Namespaces: params.Namespaces})
	return nil
}

// Extend pushes the session expiry to now plus the session ttl, capped at
// the max ttl counted from settlement.
func (c *Client) Extend(ctx context.Context, topic string) (time.Time, error) {
	ctx = meta.Begin(ctx)
	unlock := c.locks.Lock(topic)
	defer unlock()
	session, err := c.controlledSession(ctx, topic)
	if err != nil {
		return time.Time{}, err
	}
	now := c.opts.Now()
	expiry := now.Add(c.opts.SessionTTL).Unix()
	if limit := time.Unix(session.SettledAt, 0).Add(c.opts.MaxTTL).Unix(); expiry > limit {
		expiry = limit
	}
	if expiry <= session.Expiry {
		return time.Time{}, errors.Wrapf(ErrInvalidTTL, "session %s cannot be extended further", topic)
	}
	if _, err := c.request(ctx, topic, relay.SessionExtend, extendParams{Expiry: expiry}); err != nil {
		return time.Time{}, err
	}
	session.Expiry = expiry
	if err := c.sessions.Save(ctx, session); err != nil {
		return time.Time{}, err
	}
	return time.Unix(expiry, 0), nil
}

func (c *Client) onSessionExtend(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	session, err := c.liveSession(ctx, msg.Topic)
	if err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionExtend)
	}
	if session.IsController() {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnauthorizedExtend, relay.SessionExtend)
	}
	var params extendParams
	if err := decodeParams(req, &params); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidExtendRequest, relay.SessionExtend)
	}
	if params.Expiry <= session.Expiry || params.Expiry > c.opts.Now().Add(c.opts.MaxTTL).Unix() {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidExtendRequest, relay.SessionExtend)
	}
	session.Expiry = params.Expiry
	if err := c.sessions.Save(ctx, session); err != nil {
		return err
	}
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.SessionExtend); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack extend:%v", err)
	}
	emit(c, c.extensionsPub, SessionExtensionEvent{Topic: msg.Topic, Expiry: time.Unix(params.Expiry, 0)})
	return nil
}

// Emit sends a session event the session namespaces allow on chainID.
func (c *Client) Emit(ctx context.Context, topic, chainID string, event Event) error {
	ctx = meta.Begin(ctx)
	session, err := c.liveSession(ctx, topic)
	if err != nil {
		return err
	}
	if !namespace.HasEvent(session.Namespaces, event.Name, chainID) {
		return errors.Wrapf(ErrInvalidPermissions, "event %s on %s", event.Name, chainID)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(err, "encode event data")
	}
	params := sessionEventParams{ChainID: chainID}
	params.Event.Name = event.Name
	params.Event.Data = data
	_, err = c.request(ctx, topic, relay.SessionEvent, params)
	return err
}

func (c *Client) onSessionEvent(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	var params sessionEventParams
	if err := decodeParams(req, &params); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidEvent, relay.SessionEvent)
	}
	session, err := c.liveSession(ctx, msg.Topic)
	if err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionEvent)
	}
	if !namespace.HasEvent(session.Namespaces, params.Event.Name, params.ChainID) {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnauthorizedEvent, relay.SessionEvent)
	}
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.SessionEvent); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack event:%v", err)
	}
	emit(c, c.eventsPub, SessionEventNotice{
		Topic:   msg.Topic,
		ChainID: params.ChainID,
		Name:    params.Event.Name,
		Data:    params.Event.Data,
	})
	return nil
}

// Ping waits for the peer's answer on a session topic.
func (c *Client) Ping(ctx context.Context, topic string) error {
	ctx = meta.Begin(ctx)
	if _, err := c.liveSession(ctx, topic); err != nil {
		return err
	}
	return c.ping(ctx, topic, relay.SessionPing)
}

// Disconnect ends a session or a pairing, telling the peer first.
func (c *Client) Disconnect(ctx context.Context, topic string, reason Reason) error {
	ctx = meta.Begin(ctx)
	if ok, err := c.sessions.Has(ctx, topic); err != nil {
		return err
	} else if !ok {
		return c.DisconnectPairing(ctx, topic)
	}
	unlock := c.locks.Lock(topic)
	defer unlock()
	session, err := c.sessions.Get(ctx, topic)
	if err != nil {
		return errors.Wrapf(ErrNoSessionMatchingTopic, "%s", topic)
	}
	if _, err := c.request(ctx, topic, relay.SessionDelete, reason); err != nil {
		return err
	}
	if err := c.cleanupSession(ctx, session); err != nil {
		return err
	}
	emit(c, c.deletionsPub, SessionDeletion{Topic: topic, Reason: reason})
	return nil
}

func (c *Client) onSessionDelete(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	session, err := c.sessions.Get(ctx, msg.Topic)
	if err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionDelete)
	}
	var reason Reason
	if err := decodeParams(req, &reason); err != nil {
		log.WithTopic(msg.Topic).Warnf("session delete without reason:%v", err)
	}
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.SessionDelete); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack delete:%v", err)
	}
	if err := c.cleanupSession(ctx, session); err != nil {
		return err
	}
	emit(c, c.deletionsPub, SessionDeletion{Topic: msg.Topic, Reason: reason})
	return nil
}

// cleanupSession drops everything stored for a session: the subscription,
// its request history, its keys and the session itself.
func (c *Client) cleanupSession(ctx context.Context, session *store.Session) error {
	if err := c.relay.Unsubscribe(ctx, session.Topic); err != nil {
		log.WithTopic(session.Topic).Warnf("unsubscribe session:%v", err)
	}
	pending, _ := c.history.ByTopic(ctx, session.Topic)
	for _, rec := range pending {
		_ = c.verify.Delete(ctx, rec.ID)
	}
	if err := c.history.DeleteTopic(ctx, session.Topic); err != nil {
		return err
	}
	if err := c.kms.DeleteSymmetricKey(ctx, session.Topic); err != nil {
		return err
	}
	if err := c.kms.DeleteKeyPair(ctx, session.Self.PublicKey); err != nil {
		return err
	}
	c.trace(ctx, "session_deleted", session.Topic, 0, nil)
	return c.sessions.Delete(ctx, session.Topic)
}
