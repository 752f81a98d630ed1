// Package wccrypto implements the key agreement and envelope encryption used
// on relay topics.
//
// A symmetric key encrypts every payload of one topic, and the topic itself
// is the hex SHA-256 of that key. Envelopes are ChaCha20-Poly1305 sealed and
// base64 encoded:
//
//	type 0: 0x00 | iv(12) | sealed
//	type 1: 0x01 | senderPublicKey(32) | iv(12) | sealed
//
// Type 1 lets a receiver that only knows its own key pair derive the key from
// the sender's public key, which is how a proposal response is bootstrapped.
package wccrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"moff.io/walletconnect-sign/pkg/errors"
)

const (
	KeyLength = 32
	IVLength  = chacha20poly1305.NonceSize

	TypeSymmetric  byte = 0
	TypeAsymmetric byte = 1
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrInvalidKey        = errors.New("invalid key length")
)

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "read random bytes")
	}
	return b, nil
}

// KeyPair is an X25519 key pair.
type KeyPair struct {
	PrivateKey [KeyLength]byte
	PublicKey  [KeyLength]byte
}

func (k KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey[:])
}

func (k KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(k.PrivateKey[:])
}

// GenerateX25519 returns a fresh key pair, clamped per RFC 7748.
func GenerateX25519() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.PrivateKey[:]); err != nil {
		return kp, errors.Wrap(err, "generate x25519 private key")
	}
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64
	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return kp, errors.Wrap(err, "derive x25519 public key")
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// KeyPairFromHex rebuilds a key pair from its hex private key.
func KeyPairFromHex(privateHex string) (KeyPair, error) {
	var kp KeyPair
	priv, err := hex.DecodeString(privateHex)
	if err != nil || len(priv) != KeyLength {
		return kp, ErrInvalidKey
	}
	copy(kp.PrivateKey[:], priv)
	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return kp, errors.Wrap(err, "derive x25519 public key")
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// DecodeKey decodes a hex encoded 32 byte key.
func DecodeKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeyLength {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// DeriveSymKey performs X25519 with the peer key and expands the secret with
// HKDF-SHA256 into a topic key.
func DeriveSymKey(privateKey [KeyLength]byte, peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != KeyLength {
		return nil, ErrInvalidKey
	}
	secret, err := curve25519.X25519(privateKey[:], peerPublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "x25519 key agreement")
	}
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, nil), key); err != nil {
		return nil, errors.Wrap(err, "hkdf expand")
	}
	return key, nil
}

// TopicFromKey returns hex(sha256(key)).
func TopicFromKey(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

type Envelope struct {
	Type            byte
	SenderPublicKey []byte
	IV              []byte
	Sealed          []byte
}

// Seal encrypts plaintext with key. senderPublicKey is required for type 1.
func Seal(key, plaintext []byte, envelopeType byte, senderPublicKey []byte) (string, error) {
	if len(key) != KeyLength {
		return "", ErrInvalidKey
	}
	if envelopeType == TypeAsymmetric && len(senderPublicKey) != KeyLength {
		return "", errors.Wrap(ErrInvalidKey, "type 1 envelope sender key")
	}
	if envelopeType != TypeSymmetric && envelopeType != TypeAsymmetric {
		return "", errors.Wrapf(ErrMalformedEnvelope, "unsupported envelope type %d", envelopeType)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", errors.Wrap(err, "create chacha20poly1305")
	}
	iv, err := GenerateRandomBytes(IVLength)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, 1+KeyLength+IVLength+len(plaintext)+aead.Overhead())
	out = append(out, envelopeType)
	if envelopeType == TypeAsymmetric {
		out = append(out, senderPublicKey...)
	}
	out = append(out, iv...)
	out = aead.Seal(out, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// ParseEnvelope splits a base64 message into its parts without decrypting.
func ParseEnvelope(message string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, "base64")
	}
	if len(raw) < 1 {
		return nil, ErrMalformedEnvelope
	}
	env := &Envelope{Type: raw[0]}
	rest := raw[1:]
	switch env.Type {
	case TypeSymmetric:
	case TypeAsymmetric:
		if len(rest) < KeyLength {
			return nil, ErrMalformedEnvelope
		}
		env.SenderPublicKey = rest[:KeyLength]
		rest = rest[KeyLength:]
	default:
		return nil, errors.Wrapf(ErrMalformedEnvelope, "unsupported envelope type %d", env.Type)
	}
	if len(rest) < IVLength+chacha20poly1305.Overhead {
		return nil, ErrMalformedEnvelope
	}
	env.IV = rest[:IVLength]
	env.Sealed = rest[IVLength:]
	return env, nil
}

// Open decrypts message with key.
func Open(key []byte, message string) ([]byte, *Envelope, error) {
	env, err := ParseEnvelope(message)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := env.Open(key)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, env, nil
}

func (e *Envelope) Open(key []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "create chacha20poly1305")
	}
	plaintext, err := aead.Open(nil, e.IV, e.Sealed, nil)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEnvelope, "decrypt")
	}
	return plaintext, nil
}
