package relay

import (
	"time"
)

// Relay (irn) methods.
const (
	MethodPublish          = "irn_publish"
	MethodSubscribe        = "irn_subscribe"
	MethodBatchSubscribe   = "irn_batchSubscribe"
	MethodUnsubscribe      = "irn_unsubscribe"
	MethodBatchUnsubscribe = "irn_batchUnsubscribe"
	MethodSubscription     = "irn_subscription"
	MethodProposeSession   = "wc_proposeSession"
	MethodApproveSession   = "wc_approveSession"
)

type PublishParams struct {
	Topic         string `json:"topic"`
	Message       string `json:"message"`
	TTL           int64  `json:"ttl"`
	Tag           int    `json:"tag"`
	Prompt        bool   `json:"prompt,omitempty"`
	CorrelationID int64  `json:"correlationId,omitempty"`

	// transaction value fingerprint, transport metadata only
	RPCMethods        []string `json:"rpcMethods,omitempty"`
	ChainID           string   `json:"chainId,omitempty"`
	TxHashes          []string `json:"txHashes,omitempty"`
	ContractAddresses []string `json:"contractAddresses,omitempty"`
}

type SubscribeParams struct {
	Topic string `json:"topic"`
}

// BatchSubscribeParams.ChainID is reserved and never populated.
type BatchSubscribeParams struct {
	Topics  []string `json:"topics"`
	ChainID *string  `json:"chainId,omitempty"`
}

type UnsubscribeParams struct {
	Topic string `json:"topic"`
	ID    string `json:"id,omitempty"`
}

type SubscriptionRef struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

type BatchUnsubscribeParams struct {
	Subscriptions []SubscriptionRef `json:"subscriptions"`
}

type SubscriptionData struct {
	Topic       string `json:"topic"`
	Message     string `json:"message"`
	PublishedAt int64  `json:"publishedAt"`
	Tag         int    `json:"tag"`
	Attestation string `json:"attestation,omitempty"`
}

type SubscriptionParams struct {
	ID   string           `json:"id"`
	Data SubscriptionData `json:"data"`
}

type ProposeSessionParams struct {
	PairingTopic    string `json:"pairingTopic"`
	SessionProposal string `json:"sessionProposal"`
	CorrelationID   int64  `json:"correlationId,omitempty"`
}

type ApproveSessionParams struct {
	PairingTopic             string   `json:"pairingTopic"`
	SessionTopic             string   `json:"sessionTopic"`
	SessionProposalResponse  string   `json:"sessionProposalResponse"`
	SessionSettlementRequest string   `json:"sessionSettlementRequest"`
	CorrelationID            int64    `json:"correlationId,omitempty"`
	ApprovedChains           []string `json:"approvedChains"`
	ApprovedMethods          []string `json:"approvedMethods"`
	ApprovedEvents           []string `json:"approvedEvents"`
}

// Message is one envelope delivered on a subscribed topic. Payload is still
// encrypted.
type Message struct {
	Topic       string
	Payload     string
	PublishedAt time.Time
	Tag         int
	Attestation string
}

func ttlSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
