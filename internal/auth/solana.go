package auth

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

// Ed25519Verifier checks Solana signatures: the address is the base58
// public key and the signature is base58 encoded.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(_ context.Context, account namespace.Account, message string, signature CacaoSignature) error {
	pub, err := base58.Decode(account.Address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Wrap(ErrMalformedResponseParams, "solana address is not an ed25519 key")
	}
	sig, err := base58.Decode(signature.S)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.Wrap(ErrSignatureVerificationFailed, "malformed ed25519 signature")
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return errors.Wrap(ErrSignatureVerificationFailed, "ed25519 signature mismatch")
	}
	return nil
}
