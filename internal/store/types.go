// Package store keeps the sign client's records (pairings, proposals,
// sessions, request history and verify contexts) in a storage.KeyValueStore
// as JSON.
package store

import (
	"encoding/json"
	"net/url"
	"time"

	"moff.io/walletconnect-sign/internal/auth"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

var ErrInvalidMetadata = errors.New("invalid app metadata")

// Redirect carries deep links of a peer app.
type Redirect struct {
	Native    string `json:"native,omitempty" yaml:"native"`
	Universal string `json:"universal,omitempty" yaml:"universal"`
	LinkMode  bool   `json:"linkMode,omitempty" yaml:"link_mode"`
}

type AppMetadata struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	URL         string    `json:"url" yaml:"url"`
	Icons       []string  `json:"icons" yaml:"icons"`
	Redirect    *Redirect `json:"redirect,omitempty" yaml:"redirect"`
}

// Validate checks that link mode comes with an absolute universal link.
func (m AppMetadata) Validate() error {
	if m.Redirect == nil || !m.Redirect.LinkMode {
		return nil
	}
	u, err := url.Parse(m.Redirect.Universal)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Wrapf(ErrInvalidMetadata, "link mode needs an absolute universal link, got %q", m.Redirect.Universal)
	}
	return nil
}

type Participant struct {
	PublicKey string      `json:"publicKey"`
	Metadata  AppMetadata `json:"metadata"`
}

type RelayProtocol struct {
	Protocol string `json:"protocol"`
	Data     string `json:"data,omitempty"`
}

func DefaultRelay() RelayProtocol {
	return RelayProtocol{Protocol: "irn"}
}

// Pairing is the bootstrap channel sessions are proposed over.
type Pairing struct {
	Topic        string        `json:"topic"`
	Relay        RelayProtocol `json:"relay"`
	Expiry       int64         `json:"expiry"`
	Active       bool          `json:"active"`
	PeerMetadata *AppMetadata  `json:"peerMetadata,omitempty"`
	Methods      []string      `json:"methods,omitempty"`
}

func (p *Pairing) IsExpired(now time.Time) bool {
	return now.Unix() >= p.Expiry
}

type ProposalRequests struct {
	Authentication []auth.Payload `json:"authentication,omitempty"`
}

// Proposal is a pending session proposal, kept by id until it is approved,
// rejected or expired.
type Proposal struct {
	ID                 jsonrpc.RPCID                          `json:"id"`
	PairingTopic       string                                 `json:"pairingTopic"`
	Relays             []RelayProtocol                        `json:"relays"`
	Proposer           Participant                            `json:"proposer"`
	RequiredNamespaces map[string]namespace.ProposalNamespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]namespace.ProposalNamespace `json:"optionalNamespaces,omitempty"`
	SessionProperties  map[string]string                      `json:"sessionProperties,omitempty"`
	ScopedProperties   map[string]string                      `json:"scopedProperties,omitempty"`
	ExpiryTimestamp    int64                                  `json:"expiryTimestamp"`
	Requests           *ProposalRequests                      `json:"requests,omitempty"`
	// Outbound marks proposals this client sent.
	Outbound bool `json:"outbound"`
	// SessionTopic is set on the proposer once the responder's key is known.
	SessionTopic string `json:"sessionTopic,omitempty"`
}

// IsExpired only depends on now; proposals live 300s from creation.
func (p *Proposal) IsExpired(now time.Time) bool {
	return now.After(time.Unix(p.ExpiryTimestamp, 0))
}

// Session is a settled (or settling) session.
type Session struct {
	Topic              string                                 `json:"topic"`
	PairingTopic       string                                 `json:"pairingTopic"`
	Relay              RelayProtocol                          `json:"relay"`
	Self               Participant                            `json:"self"`
	Peer               Participant                            `json:"peer"`
	Controller         string                                 `json:"controller"`
	RequiredNamespaces map[string]namespace.ProposalNamespace `json:"requiredNamespaces"`
	Namespaces         map[string]namespace.SessionNamespace  `json:"namespaces"`
	SessionProperties  map[string]string                      `json:"sessionProperties,omitempty"`
	ScopedProperties   map[string]string                      `json:"scopedProperties,omitempty"`
	Expiry             int64                                  `json:"expiry"`
	SettledAt          int64                                  `json:"settledAt"`
	Acknowledged       bool                                   `json:"acknowledged"`
	Auths              []auth.Cacao                           `json:"auths,omitempty"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.Unix() >= s.Expiry
}

// IsController reports whether the local key controls the session, the wallet
// does.
func (s *Session) IsController() bool {
	return s.Controller != "" && s.Controller == s.Self.PublicKey
}

// RequestRecord is a session request in flight, stored until answered.
type RequestRecord struct {
	ID              jsonrpc.RPCID     `json:"id"`
	Topic           string            `json:"topic"`
	Method          string            `json:"method"`
	Params          json.RawMessage   `json:"params,omitempty"`
	ChainID         string            `json:"chainId"`
	ExpiryTimestamp int64             `json:"expiryTimestamp,omitempty"`
	Outbound        bool              `json:"outbound"`
	CreatedAt       int64             `json:"createdAt"`
	Response        *jsonrpc.Response `json:"response,omitempty"`
}

// IsExpired is false for requests without an expiry.
func (r *RequestRecord) IsExpired(now time.Time) bool {
	return r.ExpiryTimestamp != 0 && now.Unix() >= r.ExpiryTimestamp
}

type Validation string

const (
	ValidationUnknown Validation = "UNKNOWN"
	ValidationValid   Validation = "VALID"
	ValidationInvalid Validation = "INVALID"
	ValidationScam    Validation = "SCAM"
)

// VerifyContext is the origin check attached to an inbound request.
type VerifyContext struct {
	Origin     string     `json:"origin"`
	Validation Validation `json:"validation"`
	VerifyURL  string     `json:"verifyUrl"`
	IsScam     bool       `json:"isScam,omitempty"`
}
