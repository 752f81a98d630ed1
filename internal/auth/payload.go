// Package auth builds and verifies CAIP-122 (sign-in with X) payloads and
// the CACAO objects wallets answer them with.
package auth

import (
	"time"

	"moff.io/walletconnect-sign/internal/chains"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

const (
	PayloadType    = "caip122"
	DefaultVersion = "1"

	MinTTL     = 300 * time.Second
	MaxTTL     = 604800 * time.Second
	DefaultTTL = time.Hour
)

var (
	ErrInvalidTTL                  = errors.New("invalid auth request ttl")
	ErrInvalidParams               = errors.New("invalid auth request params")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrMalformedResponseParams     = errors.New("malformed auth response params")
	ErrUnsupportedSignatureType    = errors.New("unsupported signature type")
)

// RequestParams is what a dapp supplies to ask for a sign-in.
type RequestParams struct {
	Chains         []string
	Domain         string
	Nonce          string
	URI            string
	Nbf            string
	Exp            string
	Statement      string
	RequestID      string
	Resources      []string
	Methods        []string
	SignatureTypes map[string][]string
	TTL            time.Duration
}

// NewRequestParams validates p; a zero TTL means one hour.
func NewRequestParams(p RequestParams) (RequestParams, error) {
	if p.TTL == 0 {
		p.TTL = DefaultTTL
	}
	if p.TTL < MinTTL || p.TTL > MaxTTL {
		return p, errors.Wrapf(ErrInvalidTTL, "%s", p.TTL)
	}
	if len(p.Chains) == 0 {
		return p, errors.Wrap(ErrInvalidParams, "no chains")
	}
	for _, c := range p.Chains {
		if _, err := namespace.ParseBlockchain(c); err != nil {
			return p, errors.Wrap(ErrInvalidParams, err.Error())
		}
	}
	if p.Domain == "" || p.Nonce == "" || p.URI == "" {
		return p, errors.Wrap(ErrInvalidParams, "domain, nonce and uri are required")
	}
	return p, nil
}

// Payload is the CAIP-122 request embedded in a proposal.
type Payload struct {
	Type           string              `json:"type"`
	Chains         []string            `json:"chains"`
	Domain         string              `json:"domain"`
	Aud            string              `json:"aud"`
	Version        string              `json:"version"`
	Nonce          string              `json:"nonce"`
	Iat            string              `json:"iat"`
	Nbf            string              `json:"nbf,omitempty"`
	Exp            string              `json:"exp,omitempty"`
	Statement      string              `json:"statement,omitempty"`
	RequestID      string              `json:"requestId,omitempty"`
	Resources      []string            `json:"resources,omitempty"`
	SignatureTypes map[string][]string `json:"signatureTypes,omitempty"`
}

// BuildPayload turns validated params into a payload issued at now. Methods
// become a ReCap resource for the chains' namespace. Without an explicit
// Exp the payload expires TTL after now.
func BuildPayload(p RequestParams, now time.Time) (Payload, error) {
	exp := p.Exp
	if exp == "" && p.TTL > 0 {
		exp = now.Add(p.TTL).UTC().Format(time.RFC3339)
	}
	resources := append([]string(nil), p.Resources...)
	if len(p.Methods) > 0 {
		chain, err := namespace.ParseBlockchain(p.Chains[0])
		if err != nil {
			return Payload{}, errors.Wrap(ErrInvalidParams, err.Error())
		}
		recap, err := BuildRecap(chain.Namespace, p.Methods)
		if err != nil {
			return Payload{}, err
		}
		resources = append(resources, recap)
	}
	return Payload{
		Type:           PayloadType,
		Chains:         p.Chains,
		Domain:         p.Domain,
		Aud:            p.URI,
		Version:        DefaultVersion,
		Nonce:          p.Nonce,
		Iat:            now.UTC().Format(time.RFC3339),
		Nbf:            p.Nbf,
		Exp:            exp,
		Statement:      p.Statement,
		RequestID:      p.RequestID,
		Resources:      resources,
		SignatureTypes: p.SignatureTypes,
	}, nil
}

// CacaoPayload binds the payload to the signing account.
func (p Payload) CacaoPayload(issuer string) CacaoPayload {
	return CacaoPayload{
		Iss:       issuer,
		Domain:    p.Domain,
		Aud:       p.Aud,
		Version:   p.Version,
		Nonce:     p.Nonce,
		Iat:       p.Iat,
		Nbf:       p.Nbf,
		Exp:       p.Exp,
		Statement: p.Statement,
		RequestID: p.RequestID,
		Resources: p.Resources,
	}
}

// allowedSignatureTypes per chain namespace.
var allowedSignatureTypes = map[string][]SignatureType{
	chains.NamespaceEIP155: {SignatureEIP191, SignatureEIP1271, SignatureEIP6492},
	chains.NamespaceBIP122: {SignatureECDSA, SignatureBIP322Simple},
	chains.NamespaceSolana: {SignatureEd25519},
}

// IsSignatureTypeAllowed reports whether t may sign for namespace ns.
func IsSignatureTypeAllowed(ns string, t SignatureType) bool {
	for _, allowed := range allowedSignatureTypes[ns] {
		if allowed == t {
			return true
		}
	}
	return false
}
