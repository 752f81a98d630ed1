// Package kms manages the X25519 key pairs and topic keys of a client and
// encodes/decodes topic envelopes with them.
package kms

import (
	"context"
	"encoding/hex"

	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/wccrypto"
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrNoTopicKey       = errors.New("no symmetric key for topic")
	ErrUnknownPeerKey   = errors.New("type 1 envelope without local key pair")
	ErrMissingSenderKey = errors.New("type 1 envelope requires sender public key")
)

// AgreementKeys is the result of a key agreement; Topic is derived from
// SharedKey.
type AgreementKeys struct {
	SharedKey []byte
	Topic     string
}

// EncodeOptions selects the envelope type; type 1 carries SenderPublicKey
// and is encrypted with the key agreed with ReceiverPublicKey.
type EncodeOptions struct {
	Type              byte
	SenderPublicKey   string
	ReceiverPublicKey string
}

type KeyManagement interface {
	CreateKeyPair(ctx context.Context) (publicKey string, err error)
	CreateSymmetricKey(ctx context.Context, topic string) (topicOut string, key []byte, err error)
	SetSymmetricKey(ctx context.Context, key []byte, topic string) (string, error)
	GetSymmetricKey(ctx context.Context, topic string) ([]byte, error)
	HasSymmetricKey(ctx context.Context, topic string) bool
	PerformKeyAgreement(ctx context.Context, selfPublicKey, peerPublicKey string) (*AgreementKeys, error)
	DeleteKeyPair(ctx context.Context, publicKey string) error
	DeleteSymmetricKey(ctx context.Context, topic string) error
	Encode(ctx context.Context, topic string, payload []byte, opts *EncodeOptions) (string, error)
	Decode(ctx context.Context, topic, message string, receiverPublicKey string) ([]byte, *wccrypto.Envelope, error)
}

const (
	keyPairPrefix = "kms:keypair:"
	symKeyPrefix  = "kms:sym:"
)

type storeKMS struct {
	store storage.KeyValueStore
}

// New returns a KeyManagement persisting every key in store.
func New(store storage.KeyValueStore) KeyManagement {
	return &storeKMS{store: store}
}

func (k *storeKMS) CreateKeyPair(ctx context.Context) (string, error) {
	kp, err := wccrypto.GenerateX25519()
	if err != nil {
		return "", err
	}
	pub := kp.PublicKeyHex()
	if err := k.store.Set(ctx, keyPairPrefix+pub, []byte(kp.PrivateKeyHex())); err != nil {
		return "", err
	}
	return pub, nil
}

func (k *storeKMS) keyPair(ctx context.Context, publicKey string) (wccrypto.KeyPair, error) {
	priv, ok, err := k.store.Get(ctx, keyPairPrefix+publicKey)
	if err != nil {
		return wccrypto.KeyPair{}, err
	}
	if !ok {
		return wccrypto.KeyPair{}, errors.Wrapf(ErrKeyNotFound, "key pair %s", publicKey)
	}
	return wccrypto.KeyPairFromHex(string(priv))
}

// CreateSymmetricKey generates a random key; an empty topic is derived
// from the key.
func (k *storeKMS) CreateSymmetricKey(ctx context.Context, topic string) (string, []byte, error) {
	key, err := wccrypto.GenerateRandomBytes(wccrypto.KeyLength)
	if err != nil {
		return "", nil, err
	}
	topic, err = k.SetSymmetricKey(ctx, key, topic)
	if err != nil {
		return "", nil, err
	}
	return topic, key, nil
}

func (k *storeKMS) SetSymmetricKey(ctx context.Context, key []byte, topic string) (string, error) {
	if len(key) != wccrypto.KeyLength {
		return "", wccrypto.ErrInvalidKey
	}
	if topic == "" {
		topic = wccrypto.TopicFromKey(key)
	}
	if err := k.store.Set(ctx, symKeyPrefix+topic, []byte(hex.EncodeToString(key))); err != nil {
		return "", err
	}
	return topic, nil
}

func (k *storeKMS) GetSymmetricKey(ctx context.Context, topic string) ([]byte, error) {
	v, ok, err := k.store.Get(ctx, symKeyPrefix+topic)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNoTopicKey, "topic %s", topic)
	}
	return wccrypto.DecodeKey(string(v))
}

func (k *storeKMS) HasSymmetricKey(ctx context.Context, topic string) bool {
	_, ok, err := k.store.Get(ctx, symKeyPrefix+topic)
	return err == nil && ok
}

// PerformKeyAgreement derives and stores the shared key between the local
// key pair selfPublicKey and the peer key.
func (k *storeKMS) PerformKeyAgreement(ctx context.Context, selfPublicKey, peerPublicKey string) (*AgreementKeys, error) {
	kp, err := k.keyPair(ctx, selfPublicKey)
	if err != nil {
		return nil, err
	}
	peer, err := wccrypto.DecodeKey(peerPublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "peer public key")
	}
	shared, err := wccrypto.DeriveSymKey(kp.PrivateKey, peer)
	if err != nil {
		return nil, err
	}
	topic, err := k.SetSymmetricKey(ctx, shared, "")
	if err != nil {
		return nil, err
	}
	return &AgreementKeys{SharedKey: shared, Topic: topic}, nil
}

func (k *storeKMS) DeleteKeyPair(ctx context.Context, publicKey string) error {
	return k.store.Delete(ctx, keyPairPrefix+publicKey)
}

func (k *storeKMS) DeleteSymmetricKey(ctx context.Context, topic string) error {
	return k.store.Delete(ctx, symKeyPrefix+topic)
}

func (k *storeKMS) Encode(ctx context.Context, topic string, payload []byte, opts *EncodeOptions) (string, error) {
	if opts != nil && opts.Type == wccrypto.TypeAsymmetric {
		if opts.SenderPublicKey == "" || opts.ReceiverPublicKey == "" {
			return "", ErrMissingSenderKey
		}
		agreement, err := k.PerformKeyAgreement(ctx, opts.SenderPublicKey, opts.ReceiverPublicKey)
		if err != nil {
			return "", err
		}
		sender, err := wccrypto.DecodeKey(opts.SenderPublicKey)
		if err != nil {
			return "", err
		}
		return wccrypto.Seal(agreement.SharedKey, payload, wccrypto.TypeAsymmetric, sender)
	}
	key, err := k.GetSymmetricKey(ctx, topic)
	if err != nil {
		return "", err
	}
	return wccrypto.Seal(key, payload, wccrypto.TypeSymmetric, nil)
}

// Decode opens message received on topic. A type 1 envelope is opened with
// the key agreed between receiverPublicKey and the embedded sender key.
func (k *storeKMS) Decode(ctx context.Context, topic, message, receiverPublicKey string) ([]byte, *wccrypto.Envelope, error) {
	env, err := wccrypto.ParseEnvelope(message)
	if err != nil {
		return nil, nil, err
	}
	var key []byte
	if env.Type == wccrypto.TypeAsymmetric {
		if receiverPublicKey == "" {
			return nil, nil, ErrUnknownPeerKey
		}
		agreement, err := k.PerformKeyAgreement(ctx, receiverPublicKey, hex.EncodeToString(env.SenderPublicKey))
		if err != nil {
			return nil, nil, err
		}
		key = agreement.SharedKey
	} else {
		key, err = k.GetSymmetricKey(ctx, topic)
		if err != nil {
			return nil, nil, err
		}
	}
	plaintext, err := env.Open(key)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, env, nil
}
