package sign

import (
	"context"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// PairingURI is the out-of-band bootstrap of a pairing:
// wc:{topic}@2?relay-protocol=irn&symKey={hex}&expiryTimestamp={unix}
type PairingURI struct {
	Topic           string
	Version         int
	SymKey          []byte
	Relay           store.RelayProtocol
	ExpiryTimestamp int64
	Methods         []string
}

func (u PairingURI) String() string {
	q := url.Values{}
	q.Set("relay-protocol", u.Relay.Protocol)
	if u.Relay.Data != "" {
		q.Set("relay-data", u.Relay.Data)
	}
	q.Set("symKey", hex.EncodeToString(u.SymKey))
	if u.ExpiryTimestamp != 0 {
		q.Set("expiryTimestamp", strconv.FormatInt(u.ExpiryTimestamp, 10))
	}
	if len(u.Methods) > 0 {
		q.Set("methods", "["+strings.Join(u.Methods, ",")+"]")
	}
	return "wc:" + u.Topic + "@" + strconv.Itoa(u.Version) + "?" + q.Encode()
}

func ParsePairingURI(raw string) (*PairingURI, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "wc" || u.Opaque == "" {
		return nil, errors.Wrapf(ErrInvalidURI, "%q", raw)
	}
	topic, version, ok := strings.Cut(u.Opaque, "@")
	if !ok || topic == "" {
		return nil, errors.Wrap(ErrInvalidURI, "missing topic or version")
	}
	v, err := strconv.Atoi(version)
	if err != nil || v != 2 {
		return nil, errors.Wrapf(ErrInvalidURI, "unsupported version %q", version)
	}
	q := u.Query()
	key, err := hex.DecodeString(q.Get("symKey"))
	if err != nil || len(key) != 32 {
		return nil, errors.Wrap(ErrInvalidURI, "malformed symKey")
	}
	out := &PairingURI{
		Topic:   topic,
		Version: v,
		SymKey:  key,
		Relay:   store.RelayProtocol{Protocol: q.Get("relay-protocol"), Data: q.Get("relay-data")},
	}
	if out.Relay.Protocol == "" {
		return nil, errors.Wrap(ErrInvalidURI, "missing relay-protocol")
	}
	if exp := q.Get("expiryTimestamp"); exp != "" {
		if out.ExpiryTimestamp, err = strconv.ParseInt(exp, 10, 64); err != nil {
			return nil, errors.Wrap(ErrInvalidURI, "malformed expiryTimestamp")
		}
	}
	if methods := strings.Trim(q.Get("methods"), "[]"); methods != "" {
		out.Methods = strings.Split(methods, ",")
	}
	return out, nil
}

// CreatePairing creates a pairing topic and key, subscribes to it and
// returns the pairing with the URI to hand to the peer.
func (c *Client) CreatePairing(ctx context.Context) (*store.Pairing, *PairingURI, error) {
	topic, key, err := c.kms.CreateSymmetricKey(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	p := &store.Pairing{
		Topic:   topic,
		Relay:   store.DefaultRelay(),
		Expiry:  c.opts.Now().Add(InactivePairingTTL).Unix(),
		Methods: []string{relay.SessionPropose.Method},
	}
	if err := c.pairings.Save(ctx, p); err != nil {
		return nil, nil, err
	}
	if _, err := c.relay.Subscribe(ctx, topic); err != nil {
		return nil, nil, err
	}
	c.trace(ctx, "pairing_created", topic, 0, nil)
	return p, &PairingURI{
		Topic: topic, Version: 2, SymKey: key, Relay: p.Relay, ExpiryTimestamp: p.Expiry, Methods: p.Methods,
	}, nil
}

// Pair joins the pairing of uri.
func (c *Client) Pair(ctx context.Context, uri string) (*store.Pairing, error) {
	parsed, err := ParsePairingURI(uri)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	expiry := parsed.ExpiryTimestamp
	if expiry == 0 {
		expiry = now.Add(InactivePairingTTL).Unix()
	}
	if now.Unix() >= expiry {
		return nil, errors.Wrap(ErrInvalidURI, "pairing uri expired")
	}
	unlock := c.locks.Lock(parsed.Topic)
	defer unlock()
	if existing, err := c.pairings.Get(ctx, parsed.Topic); err == nil && existing.Active {
		return existing, nil
	}
	if _, err := c.kms.SetSymmetricKey(ctx, parsed.SymKey, parsed.Topic); err != nil {
		return nil, err
	}
	p := &store.Pairing{Topic: parsed.Topic, Relay: parsed.Relay, Expiry: expiry, Methods: parsed.Methods}
	if err := c.pairings.Save(ctx, p); err != nil {
		return nil, err
	}
	if _, err := c.relay.Subscribe(ctx, p.Topic); err != nil {
		return nil, err
	}
	c.trace(ctx, "pairing_joined", p.Topic, 0, nil)
	return p, nil
}

func (c *Client) GetPairings(ctx context.Context) ([]*store.Pairing, error) {
	all, err := c.pairings.All(ctx)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()
	live := all[:0]
	for _, p := range all {
		if !p.IsExpired(now) {
			live = append(live, p)
		}
	}
	return live, nil
}

// activatePairing marks a pairing used by a settled session and extends it.
func (c *Client) activatePairing(ctx context.Context, topic string, peer *store.AppMetadata) {
	p, err := c.pairings.Get(ctx, topic)
	if err != nil {
		return
	}
	p.Active = true
	p.Expiry = c.opts.Now().Add(ActivePairingTTL).Unix()
	if peer != nil {
		p.PeerMetadata = peer
	}
	if err := c.pairings.Save(ctx, p); err != nil {
		log.WithTopic(topic).Warnf("activate pairing:%v", err)
	}
}

func (c *Client) livePairing(ctx context.Context, topic string) (*store.Pairing, error) {
	p, err := c.pairings.Get(ctx, topic)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNoPairingMatchingTopic, "%s", topic)
	}
	if err != nil {
		return nil, err
	}
	if p.IsExpired(c.opts.Now()) {
		return nil, errors.Wrapf(ErrNoPairingMatchingTopic, "%s expired", topic)
	}
	return p, nil
}

// PingPairing waits for the peer's answer on a pairing topic.
func (c *Client) PingPairing(ctx context.Context, topic string) error {
	if _, err := c.livePairing(ctx, topic); err != nil {
		return err
	}
	return c.ping(ctx, topic, relay.PairingPing)
}

// DisconnectPairing tells the peer and forgets the pairing.
func (c *Client) DisconnectPairing(ctx context.Context, topic string) error {
	unlock := c.locks.Lock(topic)
	defer unlock()
	if _, err := c.livePairing(ctx, topic); err != nil {
		return err
	}
	if _, err := c.request(ctx, topic, relay.PairingDelete, ReasonUserDisconnected); err != nil {
		return err
	}
	return c.deletePairing(ctx, topic)
}

func (c *Client) onPairingDelete(ctx context.Context, msg relay.Message, req *jsonrpc.Request) error {
	unlock := c.locks.Lock(msg.Topic)
	defer unlock()
	if err := c.respond(ctx, msg.Topic, req.ID, true, relay.PairingDelete); err != nil {
		log.WithTopic(msg.Topic).Warnf("ack pairing delete:%v", err)
	}
	return c.deletePairing(ctx, msg.Topic)
}

func (c *Client) deletePairing(ctx context.Context, topic string) error {
	if err := c.relay.Unsubscribe(ctx, topic); err != nil {
		log.WithTopic(topic).Warnf("unsubscribe pairing:%v", err)
	}
	if err := c.history.DeleteTopic(ctx, topic); err != nil {
		return err
	}
	if err := c.kms.DeleteSymmetricKey(ctx, topic); err != nil {
		return err
	}
	c.trace(ctx, "pairing_deleted", topic, 0, nil)
	return c.pairings.Delete(ctx, topic)
}

// ping sends a ping request and blocks until its response, ctx or the
// ping timeout.
func (c *Client) ping(ctx context.Context, topic string, method relay.ProtocolMethod) error {
	req, err := jsonrpc.NewRequest(method.Method, emptyParams{})
	if err != nil {
		return err
	}
	answer := c.waiters.Register(req.ID)
	defer c.waiters.Forget(req.ID)
	if err := c.recordOutbound(ctx, topic, req, "", 0); err != nil {
		return err
	}
	defer func() { _ = c.history.Delete(context.Background(), req.ID) }()
	if err := c.relay.Request(ctx, req, topic, method, nil); err != nil {
		return err
	}
	timer := time.NewTimer(c.opts.PingTimeout)
	defer timer.Stop()
	select {
	case resp := <-answer:
		if resp.IsError() {
			return errors.Errorf("ping rejected: %d %s", resp.Error.Code, resp.Error.Message)
		}
		return nil
	case <-timer.C:
		return errors.Errorf("no pong on %s within %s", topic, c.opts.PingTimeout)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}
