package auth

import (
	"context"
	"sync"

	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

// Verifier checks one signature scheme over a formatted message.
type Verifier interface {
	Verify(ctx context.Context, account namespace.Account, message string, signature CacaoSignature) error
}

type VerifierFunc func(ctx context.Context, account namespace.Account, message string, signature CacaoSignature) error

func (f VerifierFunc) Verify(ctx context.Context, account namespace.Account, message string, signature CacaoSignature) error {
	return f(ctx, account, message, signature)
}

// Engine verifies cacaos with the verifier registered for their signature
// type.
type Engine struct {
	mu        sync.RWMutex
	verifiers map[SignatureType]Verifier
}

type Option func(*Engine)

// WithVerifier registers v for signature type t, replacing any default.
func WithVerifier(t SignatureType, v Verifier) Option {
	return func(e *Engine) {
		e.verifiers[t] = v
	}
}

// WithContractCaller enables the smart account schemes, eip1271 and
// eip6492, through callers.
func WithContractCaller(callers CallerProvider) Option {
	return func(e *Engine) {
		e.verifiers[SignatureEIP1271] = &EIP1271Verifier{Callers: callers}
		e.verifiers[SignatureEIP6492] = &EIP6492Verifier{Callers: callers}
	}
}

// NewEngine registers eip191 and ed25519 by default; bip122 schemes and
// contract signatures need an option.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{verifiers: map[SignatureType]Verifier{
		SignatureEIP191:  EIP191Verifier{},
		SignatureEd25519: Ed25519Verifier{},
	}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecoverAndVerifySignature rebuilds the signed message from the cacao and
// verifies its signature for the issuer account.
func (e *Engine) RecoverAndVerifySignature(ctx context.Context, cacao Cacao) error {
	if cacao.H.T != PayloadType && cacao.H.T != "eip4361" {
		return errors.Wrapf(ErrMalformedResponseParams, "cacao type %q", cacao.H.T)
	}
	account, err := ParseDIDPKH(cacao.P.Iss)
	if err != nil {
		return err
	}
	if !IsSignatureTypeAllowed(account.Blockchain.Namespace, cacao.S.T) {
		return errors.Wrapf(ErrUnsupportedSignatureType, "%s for %s", cacao.S.T, account.Blockchain.Namespace)
	}
	if cacao.S.S == "" {
		return errors.Wrap(ErrMalformedResponseParams, "empty signature")
	}
	message, err := formatCacaoMessage(cacao.P)
	if err != nil {
		return err
	}
	e.mu.RLock()
	v, ok := e.verifiers[cacao.S.T]
	e.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnsupportedSignatureType, "no verifier for %s", cacao.S.T)
	}
	if err := v.Verify(ctx, account, message, cacao.S); err != nil {
		if errors.Is(err, ErrSignatureVerificationFailed) || errors.Is(err, ErrMalformedResponseParams) {
			return err
		}
		return errors.Wrap(ErrSignatureVerificationFailed, err.Error())
	}
	return nil
}
