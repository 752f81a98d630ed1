package auth

import (
	"strings"

	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

type SignatureType string

const (
	SignatureEIP191       SignatureType = "eip191"
	SignatureEIP1271      SignatureType = "eip1271"
	SignatureEIP6492      SignatureType = "eip6492"
	SignatureECDSA        SignatureType = "ecdsa"
	SignatureBIP322Simple SignatureType = "bip322-simple"
	SignatureEd25519      SignatureType = "ed25519"
)

type CacaoHeader struct {
	T string `json:"t"`
}

type CacaoPayload struct {
	Iss       string   `json:"iss"`
	Domain    string   `json:"domain"`
	Aud       string   `json:"aud"`
	Version   string   `json:"version"`
	Nonce     string   `json:"nonce"`
	Iat       string   `json:"iat"`
	Nbf       string   `json:"nbf,omitempty"`
	Exp       string   `json:"exp,omitempty"`
	Statement string   `json:"statement,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

type CacaoSignature struct {
	T SignatureType `json:"t"`
	S string        `json:"s"`
	M string        `json:"m,omitempty"`
}

// Cacao is a signed CAIP-122 payload, the auth object a wallet returns.
type Cacao struct {
	H CacaoHeader    `json:"h"`
	P CacaoPayload   `json:"p"`
	S CacaoSignature `json:"s"`
}

const didPKHPrefix = "did:pkh:"

// IssuerDID returns the did:pkh of an account.
func IssuerDID(account namespace.Account) string {
	return didPKHPrefix + account.String()
}

// ParseDIDPKH decodes "did:pkh:{namespace}:{reference}:{address}".
func ParseDIDPKH(did string) (namespace.Account, error) {
	if !strings.HasPrefix(did, didPKHPrefix) {
		return namespace.Account{}, errors.Wrapf(ErrMalformedResponseParams, "issuer %q is not did:pkh", did)
	}
	acc, err := namespace.ParseAccount(strings.TrimPrefix(did, didPKHPrefix))
	if err != nil {
		return namespace.Account{}, errors.Wrap(ErrMalformedResponseParams, err.Error())
	}
	return acc, nil
}

// BuildAuthObject binds a signature over payload by account.
func BuildAuthObject(payload Payload, account namespace.Account, signature CacaoSignature) Cacao {
	return Cacao{
		H: CacaoHeader{T: PayloadType},
		P: payload.CacaoPayload(IssuerDID(account)),
		S: signature,
	}
}
