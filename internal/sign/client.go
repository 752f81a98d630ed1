// Package sign implements the WalletConnect sign protocol: pairings, session
// proposal and settlement, session requests and the session lifecycle on
// top of an encrypted relay.
package sign

import (
	"context"
	"sync"
	"time"

	"moff.io/walletconnect-sign/internal/auth"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/kms"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/internal/tvf"
	"moff.io/walletconnect-sign/internal/walletservice"
	"moff.io/walletconnect-sign/pkg/concurrent"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

// Relay is the part of relay.Dispatcher the client drives.
type Relay interface {
	Start(ctx context.Context) error
	Messages() *pubsub.Subscription[relay.Message]
	Subscribe(ctx context.Context, topic string) (string, error)
	BatchSubscribe(ctx context.Context, topics []string) ([]string, error)
	Unsubscribe(ctx context.Context, topic string) error
	Request(ctx context.Context, req *jsonrpc.Request, topic string, method relay.ProtocolMethod, tvfData *tvf.Data) error
	Respond(ctx context.Context, topic string, resp *jsonrpc.Response, method relay.ProtocolMethod, tvfData *tvf.Data) error
	RespondError(ctx context.Context, topic string, id jsonrpc.RPCID, code int, message string, method relay.ProtocolMethod) error
	ProposeSession(ctx context.Context, pairingTopic string, proposal *jsonrpc.Request) error
	ApproveSession(ctx context.Context, r relay.ApproveSessionRequest) error
}

// TraceSink receives trace events; implementations must not block.
type TraceSink interface {
	Trace(ctx context.Context, event TraceEvent)
}

// SessionArchiver keeps expired sessions somewhere before they are
// deleted.
type SessionArchiver interface {
	Archive(ctx context.Context, session *store.Session) error
}

type Options struct {
	Relay    Relay
	KMS      kms.KeyManagement
	Storage  storage.KeyValueStore
	Metadata store.AppMetadata

	// Auth verifies one-click auth cacaos; defaults to auth.NewEngine().
	Auth *auth.Engine
	// WalletServices posts requests a session routes out of band; nil
	// disables the routing.
	WalletServices *walletservice.Requester
	Trace          TraceSink
	Archiver       SessionArchiver

	SessionTTL time.Duration
	MaxTTL     time.Duration
	// MaxConcurrency bounds the inbound messages handled at once.
	MaxConcurrency int
	// PendingRefreshDelay is the wait before pending requests are
	// re-emitted after a response.
	PendingRefreshDelay time.Duration
	PingTimeout         time.Duration
	Now                 func() time.Time
}

type Client struct {
	opts      Options
	relay     Relay
	kms       kms.KeyManagement
	authEng   *auth.Engine
	wallets   *walletservice.Requester
	pairings  *store.PairingStore
	proposals *store.ProposalStore
	sessions  *store.SessionStore
	history   *store.HistoryStore
	verify    *store.VerifyContextStore

	locks    *topicLocks
	executor *topicExecutor
	waiters  *responseWaiters

	proposalsPub  *pubsub.Publisher[SessionProposalEvent]
	settledPub    *pubsub.Publisher[*store.Session]
	rejectionsPub *pubsub.Publisher[SessionRejection]
	requestsPub   *pubsub.Publisher[SessionRequestEvent]
	responsesPub  *pubsub.Publisher[SessionResponseEvent]
	updatesPub    *pubsub.Publisher[SessionUpdateEvent]
	extensionsPub *pubsub.Publisher[SessionExtensionEvent]
	eventsPub     *pubsub.Publisher[SessionEventNotice]
	deletionsPub  *pubsub.Publisher[SessionDeletion]
	pendingPub    *pubsub.Publisher[PendingRequestsEvent]
	pairingExpPub *pubsub.Publisher[PairingExpiration]

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(opts Options) (*Client, error) {
	if opts.Relay == nil || opts.KMS == nil || opts.Storage == nil {
		return nil, errors.New("sign client needs a relay, a kms and a storage")
	}
	if err := opts.Metadata.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, err.Error())
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewEngine()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = DefaultMaxTTL
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 16
	}
	if opts.PendingRefreshDelay <= 0 {
		opts.PendingRefreshDelay = 500 * time.Millisecond
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:          opts,
		relay:         opts.Relay,
		kms:           opts.KMS,
		authEng:       opts.Auth,
		wallets:       opts.WalletServices,
		pairings:      store.NewPairingStore(opts.Storage),
		proposals:     store.NewProposalStore(opts.Storage),
		sessions:      store.NewSessionStore(opts.Storage),
		history:       store.NewHistoryStore(opts.Storage),
		verify:        store.NewVerifyContextStore(opts.Storage),
		locks:         newTopicLocks(),
		executor:      newTopicExecutor(concurrent.NewLimiter(opts.MaxConcurrency)),
		waiters:       newResponseWaiters(),
		proposalsPub:  pubsub.NewPublisher[SessionProposalEvent](),
		settledPub:    pubsub.NewPublisher[*store.Session](),
		rejectionsPub: pubsub.NewPublisher[SessionRejection](),
		requestsPub:   pubsub.NewPublisher[SessionRequestEvent](),
		responsesPub:  pubsub.NewPublisher[SessionResponseEvent](),
		updatesPub:    pubsub.NewPublisher[SessionUpdateEvent](),
		extensionsPub: pubsub.NewPublisher[SessionExtensionEvent](),
		eventsPub:     pubsub.NewPublisher[SessionEventNotice](),
		deletionsPub:  pubsub.NewPublisher[SessionDeletion](),
		pendingPub:    pubsub.NewPublisher[PendingRequestsEvent](),
		pairingExpPub: pubsub.NewPublisher[PairingExpiration](),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start consumes relay messages, starts the relay and restores the
// subscriptions of stored pairings and sessions.
func (c *Client) Start(ctx context.Context) error {
	messages := c.relay.Messages()
	c.wg.Add(1)
	go c.consume(messages)

	if err := c.relay.Start(ctx); err != nil {
		return err
	}
	topics, err := c.liveTopics(ctx)
	if err != nil {
		return err
	}
	if _, err := c.relay.BatchSubscribe(ctx, topics); err != nil {
		return errors.Wrap(err, "restore subscriptions")
	}
	log.Infof("sign client started, %d topics restored", len(topics))
	return nil
}

// Stop detaches the client from the relay and closes every publisher. The
// relay itself is owned by the caller.
func (c *Client) Stop() {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.proposalsPub.Close()
		c.settledPub.Close()
		c.rejectionsPub.Close()
		c.requestsPub.Close()
		c.responsesPub.Close()
		c.updatesPub.Close()
		c.extensionsPub.Close()
		c.eventsPub.Close()
		c.deletionsPub.Close()
		c.pendingPub.Close()
		c.pairingExpPub.Close()
	})
}

func (c *Client) liveTopics(ctx context.Context) ([]string, error) {
	now := c.opts.Now()
	var topics []string
	pairings, err := c.pairings.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pairings {
		if !p.IsExpired(now) {
			topics = append(topics, p.Topic)
		}
	}
	sessions, err := c.sessions.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.IsExpired(now) {
			topics = append(topics, s.Topic)
		}
	}
	return topics, nil
}

func (c *Client) SessionProposals() *pubsub.Subscription[SessionProposalEvent] {
	return c.proposalsPub.Subscribe()
}

func (c *Client) SessionSettled() *pubsub.Subscription[*store.Session] {
	return c.settledPub.Subscribe()
}

func (c *Client) SessionRejections() *pubsub.Subscription[SessionRejection] {
	return c.rejectionsPub.Subscribe()
}

func (c *Client) SessionRequests() *pubsub.Subscription[SessionRequestEvent] {
	return c.requestsPub.Subscribe()
}

func (c *Client) SessionResponses() *pubsub.Subscription[SessionResponseEvent] {
	return c.responsesPub.Subscribe()
}

func (c *Client) SessionUpdates() *pubsub.Subscription[SessionUpdateEvent] {
	return c.updatesPub.Subscribe()
}

func (c *Client) SessionExtensions() *pubsub.Subscription[SessionExtensionEvent] {
	return c.extensionsPub.Subscribe()
}

func (c *Client) SessionEvents() *pubsub.Subscription[SessionEventNotice] {
	return c.eventsPub.Subscribe()
}

func (c *Client) SessionDeletions() *pubsub.Subscription[SessionDeletion] {
	return c.deletionsPub.Subscribe()
}

func (c *Client) PendingRequests() *pubsub.Subscription[PendingRequestsEvent] {
	return c.pendingPub.Subscribe()
}

func (c *Client) PairingExpirations() *pubsub.Subscription[PairingExpiration] {
	return c.pairingExpPub.Subscribe()
}

func emit[T any](c *Client, p *pubsub.Publisher[T], v T) {
	if err := p.Publish(c.ctx, v); err != nil {
		log.Warnf("emit %T:%v", v, err)
	}
}

func (c *Client) trace(ctx context.Context, name, topic string, id jsonrpc.RPCID, tvfData *tvf.Data) {
	if c.opts.Trace == nil {
		return
	}
	c.opts.Trace.Trace(ctx, TraceEvent{
		Name:          name,
		Topic:         topic,
		ID:            id,
		CorrelationID: id,
		TVF:           tvfData,
		At:            c.opts.Now(),
	})
}
