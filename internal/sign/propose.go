package sign

import (
	"context"
	"encoding/json"

	"moff.io/walletconnect-sign/internal/auth"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
)

// Propose validates the namespaces and publishes a session proposal on the
// pairing topic. Required namespaces are merged into the optional ones and
// sent empty, so wallets never fail a connection over a required chain.
func (c *Client) Propose(ctx context.Context, p ProposeParams) (*store.Proposal, error) {
	ctx = meta.Begin(ctx)
	if _, err := c.livePairing(ctx, p.PairingTopic); err != nil {
		return nil, err
	}
	if err := namespace.Validate(p.RequiredNamespaces); err != nil {
		return nil, errors.Wrap(ErrInvalidNamespaces, err.Error())
	}
	if err := namespace.Validate(p.OptionalNamespaces); err != nil {
		return nil, errors.Wrap(ErrInvalidNamespaces, err.Error())
	}
	merged := namespace.MergeRequiredIntoOptional(p.RequiredNamespaces, p.OptionalNamespaces)
	if len(merged) == 0 {
		return nil, errors.Wrap(ErrInvalidNamespaces, "nothing proposed")
	}

	now := c.opts.Now()
	var requests *store.ProposalRequests
	if len(p.Authentication) > 0 {
		requests = &store.ProposalRequests{}
		for _, raw := range p.Authentication {
			params, err := auth.NewRequestParams(raw)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidTTL) {
					return nil, errors.Wrap(ErrInvalidTTL, err.Error())
				}
				return nil, err
			}
			payload, err := auth.BuildPayload(params, now)
			if err != nil {
				return nil, err
			}
			requests.Authentication = append(requests.Authentication, payload)
		}
	}

	pub, err := c.kms.CreateKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	relays := p.Relays
	if len(relays) == 0 {
		relays = []store.RelayProtocol{store.DefaultRelay()}
	}
	wire := proposeParams{
		Relays:             relays,
		Proposer:           store.Participant{PublicKey: pub, Metadata: c.opts.Metadata},
		RequiredNamespaces: map[string]namespace.ProposalNamespace{},
		OptionalNamespaces: merged,
		SessionProperties:  p.SessionProperties,
		ScopedProperties:   p.ScopedProperties,
		ExpiryTimestamp:    now.Add(ProposalTTL).Unix(),
		Requests:           requests,
	}
	req, err := jsonrpc.NewRequest(relay.SessionPropose.Method, wire)
	if err != nil {
		return nil, err
	}
	meta.WithCorrelationID(ctx, req.ID)
	proposal := proposalFromWire(req.ID, p.PairingTopic, wire)
	proposal.Outbound = true

	unlock := c.locks.Lock(p.PairingTopic)
	defer unlock()
	if err := c.proposals.Save(ctx, proposal); err != nil {
		return nil, err
	}
	if err := c.recordOutbound(ctx, p.PairingTopic, req, "", wire.ExpiryTimestamp); err != nil {
		return nil, err
	}
	if err := c.relay.ProposeSession(ctx, p.PairingTopic, req); err != nil {
		_ = c.proposals.Delete(ctx, req.ID)
		_ = c.history.Delete(ctx, req.ID)
		_ = c.kms.DeleteKeyPair(ctx, pub)
		return nil, err
	}
	c.trace(ctx, "session_proposed", p.PairingTopic, req.ID, nil)
	return proposal, nil
}

func proposalFromWire(id jsonrpc.RPCID, pairingTopic string, w proposeParams) *store.Proposal {
	return &store.Proposal{
		ID:                 id,
		PairingTopic:       pairingTopic,
		Relays:             w.Relays,
		Proposer:           w.Proposer,
		RequiredNamespaces: w.RequiredNamespaces,
		OptionalNamespaces: w.OptionalNamespaces,
		SessionProperties:  w.SessionProperties,
		ScopedProperties:   w.ScopedProperties,
		ExpiryTimestamp:    w.ExpiryTimestamp,
		Requests:           w.Requests,
	}
}

func (c *Client) onSessionPropose(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	var wire proposeParams
	if err := decodeParams(req, &wire); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidMethod, relay.SessionPropose)
	}
	proposal := proposalFromWire(req.ID, msg.Topic, wire)
	if proposal.IsExpired(c.opts.Now()) {
		log.WithTopic(msg.Topic).Infof("drop expired proposal %d", req.ID)
		return nil
	}
	if err := namespace.Validate(wire.RequiredNamespaces); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnsupportedNamespace, relay.SessionPropose)
	}
	if err := namespace.Validate(wire.OptionalNamespaces); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonUnsupportedNamespace, relay.SessionPropose)
	}
	if err := wire.Proposer.Metadata.Validate(); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidMethod, relay.SessionPropose)
	}

	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	if err := c.proposals.Save(ctx, proposal); err != nil {
		return err
	}
	if p, err := c.pairings.Get(ctx, msg.Topic); err == nil {
		p.PeerMetadata = &wire.Proposer.Metadata
		_ = c.pairings.Save(ctx, p)
	}
	verify := verifyContext(msg, wire.Proposer.Metadata)
	if err := c.verify.Set(ctx, req.ID, verify); err != nil {
		log.Warnf("store verify context:%v", err)
	}
	emit(c, c.proposalsPub, SessionProposalEvent{Proposal: proposal, VerifyContext: verify})
	return nil
}

// GetPendingProposals lists the unexpired proposals received from peers.
func (c *Client) GetPendingProposals(ctx context.Context) ([]*store.Proposal, error) {
	all, err := c.proposals.All(ctx)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	pending := all[:0]
	for _, p := range all {
		if !p.Outbound && !p.IsExpired(now) {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// pendingProposal loads a received proposal, deleting it when expired.
// Proposals this client sent are not answerable here.
func (c *Client) pendingProposal(ctx context.Context, id jsonrpc.RPCID) (*store.Proposal, error) {
	proposal, err := c.proposals.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNoProposal, "%d", id)
	}
	if err != nil {
		return nil, err
	}
	// 自己发出的提案只能由对端应答
	if proposal.Outbound {
		return nil, errors.Wrapf(ErrNoProposal, "%d", id)
	}
	if proposal.IsExpired(c.opts.Now()) {
		_ = c.proposals.Delete(ctx, id)
		_ = c.verify.Delete(ctx, id)
		return nil, errors.Wrapf(ErrProposalExpired, "%d", id)
	}
	return proposal, nil
}

// Approve answers a proposal with the granted namespaces: it derives the
// session key from the proposer's key, subscribes to the session topic and
// publishes the proposal response and the settlement.
func (c *Client) Approve(ctx context.Context, proposalID jsonrpc.RPCID, namespaces map[string]namespace.SessionNamespace, opts ApproveOptions) (*store.Session, error) {
	ctx = meta.Begin(ctx)
	meta.WithCorrelationID(ctx, proposalID)
	proposal, err := c.proposals.Get(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNoProposal, "%d", proposalID)
	}
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(proposal.PairingTopic)
	defer unlock()
	if proposal, err = c.pendingProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	if err := namespace.ValidateApproval(proposal.RequiredNamespaces, proposal.OptionalNamespaces, namespaces); err != nil {
		return nil, errors.Wrap(ErrInvalidNamespaces, err.Error())
	}

	selfPub, err := c.kms.CreateKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	agreement, err := c.kms.PerformKeyAgreement(ctx, selfPub, proposal.Proposer.PublicKey)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	relayProtocol := store.DefaultRelay()
	if len(proposal.Relays) > 0 {
		relayProtocol = proposal.Relays[0]
	}
	self := store.Participant{PublicKey: selfPub, Metadata: c.opts.Metadata}
	session := &store.Session{
		Topic:              agreement.Topic,
		PairingTopic:       proposal.PairingTopic,
		Relay:              relayProtocol,
		Self:               self,
		Peer:               proposal.Proposer,
		Controller:         selfPub,
		RequiredNamespaces: proposal.RequiredNamespaces,
		Namespaces:         namespaces,
		SessionProperties:  opts.SessionProperties,
		ScopedProperties:   opts.ScopedProperties,
		Expiry:             now.Add(c.opts.SessionTTL).Unix(),
		SettledAt:          now.Unix(),
		Auths:              opts.Auths,
	}
	if err := c.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	if _, err := c.relay.Subscribe(ctx, session.Topic); err != nil {
		return nil, c.abortSettlement(ctx, session, err)
	}

	proposalResponse, err := jsonrpc.NewResult(proposal.ID, proposeResult{Relay: relayProtocol, ResponderPublicKey: selfPub})
	if err != nil {
		return nil, c.abortSettlement(ctx, session, err)
	}
	settlement, err := jsonrpc.NewRequest(relay.SessionSettle.Method, settleParams{
		Relay:             relayProtocol,
		Controller:        self,
		Namespaces:        namespaces,
		SessionProperties: opts.SessionProperties,
		ScopedProperties:  opts.ScopedProperties,
		Expiry:            session.Expiry,
		PairingTopic:      proposal.PairingTopic,
		Auths:             opts.Auths,
	})
	if err != nil {
		return nil, c.abortSettlement(ctx, session, err)
	}
	if err := c.recordOutbound(ctx, session.Topic, settlement, "", 0); err != nil {
		return nil, c.abortSettlement(ctx, session, err)
	}
	chains, methods, events := namespace.Summary(namespaces)
	if err := c.relay.ApproveSession(ctx, relay.ApproveSessionRequest{
		PairingTopic:     proposal.PairingTopic,
		SessionTopic:     session.Topic,
		ProposalResponse: proposalResponse,
		Settlement:       settlement,
		ApprovedChains:   chains,
		ApprovedMethods:  methods,
		ApprovedEvents:   events,
	}); err != nil {
		return nil, c.abortSettlement(ctx, session, err)
	}

	c.markAnswered(ctx, proposal.ID, proposalResponse)
	_ = c.proposals.Delete(ctx, proposal.ID)
	_ = c.verify.Delete(ctx, proposal.ID)
	c.activatePairing(ctx, proposal.PairingTopic, &proposal.Proposer.Metadata)
	c.trace(ctx, "session_approved", session.Topic, proposal.ID, nil)
	return session, nil
}

// abortSettlement undoes a half made session and returns cause.
func (c *Client) abortSettlement(ctx context.Context, session *store.Session, cause error) error {
	if err := c.cleanupSession(ctx, session); err != nil {
		log.WithTopic(session.Topic).Warnf("cleanup aborted settlement:%v", err)
	}
	return cause
}

// Reject answers a proposal with reason; no session is created.
func (c *Client) Reject(ctx context.Context, proposalID jsonrpc.RPCID, reason Reason) error {
	ctx = meta.Begin(ctx)
	meta.WithCorrelationID(ctx, proposalID)
	proposal, err := c.proposals.Get(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(ErrNoProposal, "%d", proposalID)
	}
	if err != nil {
		return err
	}
	unlock := c.locks.Lock(proposal.PairingTopic)
	defer unlock()
	if proposal, err = c.pendingProposal(ctx, proposalID); err != nil {
		return err
	}
	if err := c.respondError(ctx, proposal.PairingTopic, proposal.ID, reason, relay.SessionPropose); err != nil {
		return err
	}
	_ = c.verify.Delete(ctx, proposal.ID)
	c.trace(ctx, "session_rejected", proposal.PairingTopic, proposal.ID, nil)
	return c.proposals.Delete(ctx, proposal.ID)
}

// onSessionProposeResponse runs on the proposer: a result carries the
// responder key the session topic is derived from, an error is a
// rejection.
func (c *Client) onSessionProposeResponse(ctx context.Context, rec *store.RequestRecord, resp *jsonrpc.Response) error {
	unlock := c.locks.Lock(rec.Topic)
	defer unlock()
	proposal, err := c.proposals.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		_ = c.proposals.Delete(ctx, proposal.ID)
		_ = c.kms.DeleteKeyPair(ctx, proposal.Proposer.PublicKey)
		emit(c, c.rejectionsPub, SessionRejection{
			ProposalID: proposal.ID,
			Reason:     Reason{Code: resp.Error.Code, Message: resp.Error.Message},
		})
		return nil
	}
	var result proposeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return errors.Wrap(err, "decode proposal response")
	}
	agreement, err := c.kms.PerformKeyAgreement(ctx, proposal.Proposer.PublicKey, result.ResponderPublicKey)
	if err != nil {
		return err
	}
	proposal.SessionTopic = agreement.Topic
	if err := c.proposals.Save(ctx, proposal); err != nil {
		return err
	}
	_, err = c.relay.Subscribe(ctx, agreement.Topic)
	return err
}

func (c *Client) proposalForSession(ctx context.Context, sessionTopic string) (*store.Proposal, error) {
	all, err := c.proposals.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Outbound && p.SessionTopic == sessionTopic {
			return p, nil
		}
	}
	return nil, errors.Wrapf(ErrNoProposal, "for session %s", sessionTopic)
}

// onSessionSettle runs on the proposer when the responder settles.
func (c *Client) onSessionSettle(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	proposal, err := c.proposalForSession(ctx, msg.Topic)
	if err != nil {
		_ = c.respondError(ctx, msg.Topic, req.ID, ReasonNoSessionForTopic, relay.SessionSettle)
		return err
	}
	var params settleParams
	if err := decodeParams(req, &params); err != nil {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidSettleRequest, relay.SessionSettle)
	}
	now := c.opts.Now()
	if params.Expiry <= now.Unix() || params.Expiry > now.Add(c.opts.MaxTTL).Unix() {
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidSettleRequest, relay.SessionSettle)
	}
	if err := namespace.ValidateApproval(proposal.RequiredNamespaces, proposal.OptionalNamespaces, params.Namespaces); err != nil {
		log.WithTopic(msg.Topic).Warnf("settle namespaces:%v", err)
		return c.respondError(ctx, msg.Topic, req.ID, ReasonInvalidSettleRequest, relay.SessionSettle)
	}
	if err := c.verifyAuths(ctx, proposal, params.Auths); err != nil {
		log.WithTopic(msg.Topic).Warnf("settle auths:%v", err)
		return c.respondError(ctx, msg.Topic, req.ID, ReasonSettlementFailed, relay.SessionSettle)
	}

	session := &store.Session{
		Topic:              msg.Topic,
		PairingTopic:       proposal.PairingTopic,
		Relay:              params.Relay,
		Self:               proposal.Proposer,
		Peer:               params.Controller,
		Controller:         params.Controller.PublicKey,
		RequiredNamespaces: proposal.RequiredNamespaces,
		Namespaces:         params.Namespaces,
		SessionProperties:  params.SessionProperties,
		ScopedProperties:   params.ScopedProperties,
		Expiry:             params.Expiry,
		SettledAt:          now.Unix(),
		Acknowledged:       true,
		Auths:              params.Auths,
	}
	if err := c.sessions.Save(ctx, session); err != nil {
		return err
	}
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.SessionSettle); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack settlement:%v", err)
	}
	_ = c.proposals.Delete(ctx, proposal.ID)
	c.activatePairing(ctx, proposal.PairingTopic, &params.Controller.Metadata)
	c.trace(ctx, "session_settled", msg.Topic, req.ID, nil)
	emit(c, c.settledPub, session)
	return nil
}

// verifyAuths checks every cacao answers one of the proposal's
// authentication requests and carries a valid signature.
func (c *Client) verifyAuths(ctx context.Context, proposal *store.Proposal, cacaos []auth.Cacao) error {
	if len(cacaos) == 0 {
		return nil
	}
	if proposal.Requests == nil || len(proposal.Requests.Authentication) == 0 {
		return errors.Wrap(auth.ErrMalformedResponseParams, "auths without authentication request")
	}
	for _, cacao := range cacaos {
		if !answersRequest(cacao, proposal.Requests.Authentication) {
			return errors.Wrapf(auth.ErrMalformedResponseParams, "cacao nonce %s matches no request", cacao.P.Nonce)
		}
		if err := c.authEng.RecoverAndVerifySignature(ctx, cacao); err != nil {
			return err
		}
	}
	return nil
}

func answersRequest(cacao auth.Cacao, payloads []auth.Payload) bool {
	for _, p := range payloads {
		if p.Nonce == cacao.P.Nonce && p.Domain == cacao.P.Domain && p.Aud == cacao.P.Aud {
			return true
		}
	}
	return false
}

// onSessionSettleResponse runs on the responder: the proposer acknowledged
// or refused the settlement.
func (c *Client) onSessionSettleResponse(ctx context.Context, rec *store.RequestRecord, resp *jsonrpc.Response) error {
	unlock := c.locks.Lock(rec.Topic)
	defer unlock()
	session, err := c.sessions.Get(ctx, rec.Topic)
	if err != nil {
		return err
	}
	if resp.IsError() {
		log.WithTopic(rec.Topic).Warnf("settlement refused: %d %s", resp.Error.Code, resp.Error.Message)
		if err := c.cleanupSession(ctx, session); err != nil {
			return err
		}
		emit(c, c.deletionsPub, SessionDeletion{Topic: rec.Topic, Reason: Reason{Code: resp.Error.Code, Message: resp.Error.Message}})
		return nil
	}
	session.Acknowledged = true
	if err := c.sessions.Save(ctx, session); err != nil {
		return err
	}
	emit(c, c.settledPub, session)
	return nil
}
