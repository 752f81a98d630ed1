package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/pkg/errors"
)

var ErrNotFound = errors.New("record not found")

// Records is a typed view of one key prefix.
type Records[T any] struct {
	kv     storage.KeyValueStore
	prefix string
}

func NewRecords[T any](kv storage.KeyValueStore, prefix string) *Records[T] {
	return &Records[T]{kv: kv, prefix: prefix}
}

func (r *Records[T]) key(id string) string {
	return r.prefix + id
}

// Get returns ErrNotFound for missing ids.
func (r *Records[T]) Get(ctx context.Context, id string) (*T, error) {
	data, ok, err := r.kv.Get(ctx, r.key(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s%s", r.prefix, id)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(err, "decode %s%s", r.prefix, id)
	}
	return &v, nil
}

func (r *Records[T]) Has(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, r.key(id))
	return ok, err
}

func (r *Records[T]) Set(ctx context.Context, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s%s", r.prefix, id)
	}
	return r.kv.Set(ctx, r.key(id), data)
}

func (r *Records[T]) Delete(ctx context.Context, id string) error {
	return r.kv.Delete(ctx, r.key(id))
}

// All returns every record, skipping ones that vanished or fail to decode.
func (r *Records[T]) All(ctx context.Context) ([]*T, error) {
	keys, err := r.kv.Keys(ctx, r.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		v, err := r.Get(ctx, strings.TrimPrefix(k, r.prefix))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

const (
	pairingPrefix  = "sign:pairing:"
	proposalPrefix = "sign:proposal:"
	sessionPrefix  = "sign:session:"
	historyPrefix  = "sign:history:"
	topicIdxPrefix = "sign:history-topic:"
	verifyPrefix   = "sign:verify:"
)

type PairingStore struct {
	*Records[Pairing]
}

func NewPairingStore(kv storage.KeyValueStore) *PairingStore {
	return &PairingStore{NewRecords[Pairing](kv, pairingPrefix)}
}

func (s *PairingStore) Save(ctx context.Context, p *Pairing) error {
	return s.Set(ctx, p.Topic, p)
}

type ProposalStore struct {
	records *Records[Proposal]
}

func NewProposalStore(kv storage.KeyValueStore) *ProposalStore {
	return &ProposalStore{records: NewRecords[Proposal](kv, proposalPrefix)}
}

func (s *ProposalStore) Get(ctx context.Context, id jsonrpc.RPCID) (*Proposal, error) {
	return s.records.Get(ctx, idString(id))
}

func (s *ProposalStore) Save(ctx context.Context, p *Proposal) error {
	return s.records.Set(ctx, idString(p.ID), p)
}

func (s *ProposalStore) Delete(ctx context.Context, id jsonrpc.RPCID) error {
	return s.records.Delete(ctx, idString(id))
}

func (s *ProposalStore) All(ctx context.Context) ([]*Proposal, error) {
	return s.records.All(ctx)
}

type SessionStore struct {
	*Records[Session]
}

func NewSessionStore(kv storage.KeyValueStore) *SessionStore {
	return &SessionStore{NewRecords[Session](kv, sessionPrefix)}
}

func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	return s.Set(ctx, sess.Topic, sess)
}

// HistoryStore keeps request records by id plus a per-topic index.
type HistoryStore struct {
	kv      storage.KeyValueStore
	records *Records[RequestRecord]
}

func NewHistoryStore(kv storage.KeyValueStore) *HistoryStore {
	return &HistoryStore{kv: kv, records: NewRecords[RequestRecord](kv, historyPrefix)}
}

func topicIndexKey(topic string, id jsonrpc.RPCID) string {
	return topicIdxPrefix + topic + ":" + idString(id)
}

func (s *HistoryStore) Get(ctx context.Context, id jsonrpc.RPCID) (*RequestRecord, error) {
	return s.records.Get(ctx, idString(id))
}

func (s *HistoryStore) Save(ctx context.Context, rec *RequestRecord) error {
	if err := s.records.Set(ctx, idString(rec.ID), rec); err != nil {
		return err
	}
	return s.kv.Set(ctx, topicIndexKey(rec.Topic, rec.ID), []byte{1})
}

func (s *HistoryStore) Delete(ctx context.Context, id jsonrpc.RPCID) error {
	rec, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, topicIndexKey(rec.Topic, id)); err != nil {
		return err
	}
	return s.records.Delete(ctx, idString(id))
}

// ByTopic returns the topic's records ordered by id.
func (s *HistoryStore) ByTopic(ctx context.Context, topic string) ([]*RequestRecord, error) {
	prefix := topicIdxPrefix + topic + ":"
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*RequestRecord, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, prefix), 10, 64)
		if err != nil {
			continue
		}
		rec, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Pending returns unanswered inbound requests on topic.
func (s *HistoryStore) Pending(ctx context.Context, topic string) ([]*RequestRecord, error) {
	all, err := s.ByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, rec := range all {
		if !rec.Outbound && rec.Response == nil {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (s *HistoryStore) DeleteTopic(ctx context.Context, topic string) error {
	all, err := s.ByTopic(ctx, topic)
	if err != nil {
		return err
	}
	for _, rec := range all {
		if err := s.Delete(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

type VerifyContextStore struct {
	records *Records[VerifyContext]
}

func NewVerifyContextStore(kv storage.KeyValueStore) *VerifyContextStore {
	return &VerifyContextStore{records: NewRecords[VerifyContext](kv, verifyPrefix)}
}

func (s *VerifyContextStore) Get(ctx context.Context, requestID jsonrpc.RPCID) (*VerifyContext, error) {
	return s.records.Get(ctx, idString(requestID))
}

func (s *VerifyContextStore) Set(ctx context.Context, requestID jsonrpc.RPCID, v *VerifyContext) error {
	return s.records.Set(ctx, idString(requestID), v)
}

func (s *VerifyContextStore) Delete(ctx context.Context, requestID jsonrpc.RPCID) error {
	return s.records.Delete(ctx, idString(requestID))
}

func idString(id jsonrpc.RPCID) string {
	return strconv.FormatInt(id, 10)
}
