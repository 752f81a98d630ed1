package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"moff.io/walletconnect-sign/internal/storage"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/wccrypto"
)

const (
	didKeyPrefix = "did:key:"
	// multibase base58btc prefix followed by the ed25519-pub multicodec
	multicodecEd25519Header = "\xed\x01"
	relayJWTTTL             = 24 * time.Hour
)

// EncodeDIDKey renders an ed25519 public key as did:key.
func EncodeDIDKey(pub ed25519.PublicKey) string {
	return didKeyPrefix + "z" + base58.Encode(append([]byte(multicodecEd25519Header), pub...))
}

// DecodeDIDKey is the inverse of EncodeDIDKey.
func DecodeDIDKey(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix+"z") {
		return nil, errors.Errorf("not a base58 did:key: %s", did)
	}
	raw, err := base58.Decode(strings.TrimPrefix(did, didKeyPrefix+"z"))
	if err != nil {
		return nil, errors.Wrap(err, "decode did:key")
	}
	if len(raw) != 2+ed25519.PublicKeySize || string(raw[:2]) != multicodecEd25519Header {
		return nil, errors.Errorf("did:key is not ed25519: %s", did)
	}
	return ed25519.PublicKey(raw[2:]), nil
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtClaims struct {
	Iss string `json:"iss"`
	Sub string `json:"sub"`
	Aud string `json:"aud"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// SignRelayJWT issues the client auth token the relay expects in the
// connection url, signed with the client ed25519 identity key.
func SignRelayJWT(key ed25519.PrivateKey, relayURL string, now time.Time) (string, error) {
	sub, err := wccrypto.GenerateRandomBytes(wccrypto.KeyLength)
	if err != nil {
		return "", err
	}
	header, _ := json.Marshal(jwtHeader{Alg: "EdDSA", Typ: "JWT"})
	claims, err := json.Marshal(jwtClaims{
		Iss: EncodeDIDKey(key.Public().(ed25519.PublicKey)),
		Sub: hex.EncodeToString(sub),
		Aud: relayURL,
		Iat: now.Unix(),
		Exp: now.Add(relayJWTTTL).Unix(),
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal jwt claims")
	}
	enc := base64.RawURLEncoding
	signing := enc.EncodeToString(header) + "." + enc.EncodeToString(claims)
	sig := ed25519.Sign(key, []byte(signing))
	return signing + "." + enc.EncodeToString(sig), nil
}

// VerifyRelayJWT checks the signature against the issuer did:key and returns
// the issuer.
func VerifyRelayJWT(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("malformed jwt")
	}
	enc := base64.RawURLEncoding
	rawClaims, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", errors.Wrap(err, "decode jwt claims")
	}
	var claims jwtClaims
	if err := json.Unmarshal(rawClaims, &claims); err != nil {
		return "", errors.Wrap(err, "unmarshal jwt claims")
	}
	pub, err := DecodeDIDKey(claims.Iss)
	if err != nil {
		return "", err
	}
	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", errors.Wrap(err, "decode jwt signature")
	}
	if !ed25519.Verify(pub, []byte(parts[0]+"."+parts[1]), sig) {
		return "", errors.New("invalid jwt signature")
	}
	return claims.Iss, nil
}

const identityKey = "wc@2:core:relay_identity"

// LoadOrCreateIdentity returns the ed25519 key the client signs relay auth
// tokens with, creating and storing it on first use.
func LoadOrCreateIdentity(ctx context.Context, kv storage.KeyValueStore) (ed25519.PrivateKey, error) {
	seed, found, err := kv.Get(ctx, identityKey)
	if err != nil {
		return nil, errors.Wrap(err, "load relay identity")
	}
	if found && len(seed) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(seed), nil
	}
	seed, err = wccrypto.GenerateRandomBytes(ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	if err := kv.Set(ctx, identityKey, seed); err != nil {
		return nil, errors.Wrap(err, "save relay identity")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
