// Package audit turns client lifecycle events into LifecycleEvent rows and
// hands them to every configured sink.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"moff.io/walletconnect-sign/internal/database"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/common"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/meta"
	"moff.io/walletconnect-sign/pkg/pubsub"
)

// Events is the part of the sign client the recorder listens to.
type Events interface {
	SessionSettled() *pubsub.Subscription[*store.Session]
	SessionUpdates() *pubsub.Subscription[sign.SessionUpdateEvent]
	SessionExtensions() *pubsub.Subscription[sign.SessionExtensionEvent]
	SessionDeletions() *pubsub.Subscription[sign.SessionDeletion]
	SessionRejections() *pubsub.Subscription[sign.SessionRejection]
	PairingExpirations() *pubsub.Subscription[sign.PairingExpiration]
}

type Sink interface {
	Save(ctx context.Context, e *database.LifecycleEvent) error
}

type Recorder struct {
	events Events
	sinks  []Sink
	now    func() time.Time

	wg      sync.WaitGroup
	cancels []func()
}

func NewRecorder(events Events, sinks ...Sink) *Recorder {
	return &Recorder{events: events, sinks: sinks, now: time.Now}
}

// the flattened rows below keep key material and signatures out of the
// audit trail

type settledRecord struct {
	Topic        string
	PairingTopic string
	Controller   string
	PeerName     string
	PeerURL      string
	Namespaces   []string
	Expiry       int64
}

type updateRecord struct {
	Topic      string
	Namespaces []string
}

type extensionRecord struct {
	Topic  string
	Expiry int64
}

type deletionRecord struct {
	Topic   string
	Code    int
	Message string
}

type rejectionRecord struct {
	ProposalID int64
	Code       int
	Message    string
}

type pairingRecord struct {
	Topic string
}

func namespaceKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Start subscribes to the client and records until ctx is done or Stop is
// called.
func (r *Recorder) Start(ctx context.Context) error {
	if len(r.sinks) == 0 {
		log.Warn("audit recorder has no sinks, lifecycle events are dropped")
	}
	watch(ctx, r, r.events.SessionSettled(), func(s *store.Session) *database.LifecycleEvent {
		return database.NewLifecycleEvent(s.Topic, database.LifecycleEventTypeSessionSettled, &settledRecord{
			Topic:        s.Topic,
			PairingTopic: s.PairingTopic,
			Controller:   s.Controller,
			PeerName:     s.Peer.Metadata.Name,
			PeerURL:      s.Peer.Metadata.URL,
			Namespaces:   namespaceKeys(s.Namespaces),
			Expiry:       s.Expiry,
		}, r.now())
	})
	watch(ctx, r, r.events.SessionUpdates(), func(e sign.SessionUpdateEvent) *database.LifecycleEvent {
		return database.NewLifecycleEvent(e.Topic, database.LifecycleEventTypeSessionUpdated,
			&updateRecord{Topic: e.Topic, Namespaces: namespaceKeys(e.Namespaces)}, r.now())
	})
	watch(ctx, r, r.events.SessionExtensions(), func(e sign.SessionExtensionEvent) *database.LifecycleEvent {
		return database.NewLifecycleEvent(e.Topic, database.LifecycleEventTypeSessionExtended,
			&extensionRecord{Topic: e.Topic, Expiry: common.UnixSeconds(e.Expiry)}, r.now())
	})
	watch(ctx, r, r.events.SessionDeletions(), func(e sign.SessionDeletion) *database.LifecycleEvent {
		return database.NewLifecycleEvent(e.Topic, database.LifecycleEventTypeSessionDeleted,
			&deletionRecord{Topic: e.Topic, Code: e.Reason.Code, Message: e.Reason.Message}, r.now())
	})
	watch(ctx, r, r.events.SessionRejections(), func(e sign.SessionRejection) *database.LifecycleEvent {
		// 提案没有会话topic，以提案id作为索引
		return database.NewLifecycleEvent(fmt.Sprintf("proposal:%d", e.ProposalID), database.LifecycleEventTypeSessionRejected,
			&rejectionRecord{ProposalID: e.ProposalID, Code: e.Reason.Code, Message: e.Reason.Message}, r.now())
	})
	watch(ctx, r, r.events.PairingExpirations(), func(e sign.PairingExpiration) *database.LifecycleEvent {
		return database.NewLifecycleEvent(e.Topic, database.LifecycleEventTypePairingExpired,
			&pairingRecord{Topic: e.Topic}, r.now())
	})
	log.Infof("Audit recorder started with %d sinks...", len(r.sinks))
	return nil
}

// Stop cancels the subscriptions and waits for in-flight saves.
func (r *Recorder) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.wg.Wait()
}

func watch[T any](ctx context.Context, r *Recorder, sub *pubsub.Subscription[T], convert func(T) *database.LifecycleEvent) {
	r.cancels = append(r.cancels, sub.Cancel)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				sub.Cancel()
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				r.record(ctx, convert(v))
			}
		}
	}()
}

func (r *Recorder) record(ctx context.Context, e *database.LifecycleEvent) {
	ctx = meta.Begin(ctx)
	for _, sink := range r.sinks {
		if err := sink.Save(ctx, e); err != nil {
			log.WithTopic(e.Topic).Errorf("record %s to %T:%v", e.EventType, sink, err)
		}
	}
}
