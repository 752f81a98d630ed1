package sign

import (
	"encoding/json"
	"time"

	"moff.io/walletconnect-sign/internal/auth"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/internal/tvf"
)

const (
	ProposalTTL        = 300 * time.Second
	DefaultSessionTTL  = 7 * 24 * time.Hour
	DefaultMaxTTL      = 30 * 24 * time.Hour
	InactivePairingTTL = 5 * time.Minute
	ActivePairingTTL   = 30 * 24 * time.Hour

	MinRequestTTL = 300 * time.Second
	MaxRequestTTL = 604800 * time.Second
)

// wire params of the peer methods

type proposeParams struct {
	Relays             []store.RelayProtocol                  `json:"relays"`
	Proposer           store.Participant                      `json:"proposer"`
	RequiredNamespaces map[string]namespace.ProposalNamespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]namespace.ProposalNamespace `json:"optionalNamespaces,omitempty"`
	SessionProperties  map[string]string                      `json:"sessionProperties,omitempty"`
	ScopedProperties   map[string]string                      `json:"scopedProperties,omitempty"`
	ExpiryTimestamp    int64                                  `json:"expiryTimestamp"`
	Requests           *store.ProposalRequests                `json:"requests,omitempty"`
}

type proposeResult struct {
	Relay              store.RelayProtocol `json:"relay"`
	ResponderPublicKey string              `json:"responderPublicKey"`
}

type settleParams struct {
	Relay             store.RelayProtocol                   `json:"relay"`
	Controller        store.Participant                     `json:"controller"`
	Namespaces        map[string]namespace.SessionNamespace `json:"namespaces"`
	SessionProperties map[string]string                     `json:"sessionProperties,omitempty"`
	ScopedProperties  map[string]string                     `json:"scopedProperties,omitempty"`
	Expiry            int64                                 `json:"expiry"`
	PairingTopic      string                                `json:"pairingTopic,omitempty"`
	Auths             []auth.Cacao                          `json:"auths,omitempty"`
}

type updateParams struct {
	Namespaces map[string]namespace.SessionNamespace `json:"namespaces"`
}

type extendParams struct {
	Expiry int64 `json:"expiry"`
}

type sessionRequestParams struct {
	Request struct {
		Method          string          `json:"method"`
		Params          json.RawMessage `json:"params"`
		ExpiryTimestamp int64           `json:"expiryTimestamp,omitempty"`
	} `json:"request"`
	ChainID string `json:"chainId"`
}

type sessionEventParams struct {
	Event struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
	ChainID string `json:"chainId"`
}

type emptyParams struct{}

// ProposeParams is what a dapp proposes.
type ProposeParams struct {
	PairingTopic       string
	RequiredNamespaces map[string]namespace.ProposalNamespace
	OptionalNamespaces map[string]namespace.ProposalNamespace
	SessionProperties  map[string]string
	ScopedProperties   map[string]string
	Relays             []store.RelayProtocol
	// Authentication asks the wallet to sign in with every payload built
	// from these params while approving.
	Authentication []auth.RequestParams
}

type ApproveOptions struct {
	SessionProperties map[string]string
	ScopedProperties  map[string]string
	// Auths answers the proposal's authentication requests.
	Auths []auth.Cacao
}

// Request is an outbound session request. A zero ExpiryTimestamp uses the
// relay default of five minutes.
type Request struct {
	Topic           string
	Method          string
	Params          interface{}
	ChainID         string
	ExpiryTimestamp int64
}

// CalculateTTL returns the publish ttl of r, checking it lies within
// [300s, 604800s].
func (r Request) CalculateTTL(now time.Time) (time.Duration, error) {
	if r.ExpiryTimestamp == 0 {
		return MinRequestTTL, nil
	}
	ttl := time.Duration(r.ExpiryTimestamp-now.Unix()) * time.Second
	if ttl < MinRequestTTL || ttl > MaxRequestTTL {
		return 0, ErrInvalidTTL
	}
	return ttl, nil
}

// Response answers an inbound session request with either Result or Error.
type Response struct {
	Result interface{}
	Error  *jsonrpc.Error
}

type Event struct {
	Name string
	Data interface{}
}

// events published by the client

type SessionProposalEvent struct {
	Proposal      *store.Proposal
	VerifyContext *store.VerifyContext
}

type SessionRejection struct {
	ProposalID jsonrpc.RPCID
	Reason     Reason
}

type SessionRequestEvent struct {
	Request       *store.RequestRecord
	VerifyContext *store.VerifyContext
}

type SessionResponseEvent struct {
	Topic    string
	ChainID  string
	Method   string
	Response *jsonrpc.Response
}

type SessionUpdateEvent struct {
	Topic      string
	Namespaces map[string]namespace.SessionNamespace
}

type SessionExtensionEvent struct {
	Topic  string
	Expiry time.Time
}

type SessionEventNotice struct {
	Topic   string
	ChainID string
	Name    string
	Data    json.RawMessage
}

type SessionDeletion struct {
	Topic  string
	Reason Reason
}

type PendingRequestsEvent struct {
	Topic    string
	Requests []*store.RequestRecord
}

type PairingExpiration struct {
	Topic string
}

// TraceEvent is emitted for every protocol step the client takes.
type TraceEvent struct {
	Name          string        `json:"name"`
	Topic         string        `json:"topic"`
	ID            jsonrpc.RPCID `json:"id,omitempty"`
	CorrelationID int64         `json:"correlationId,omitempty"`
	TVF           *tvf.Data     `json:"tvf,omitempty"`
	At            time.Time     `json:"at"`
}
