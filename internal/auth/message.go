package auth

import (
	"strings"

	"moff.io/walletconnect-sign/internal/chains"
)

// FormatMessage renders the message an issuer signs for payload. Line order
// and optional lines are fixed; signatures only verify on the exact bytes.
func FormatMessage(payload Payload, issuer string) (string, error) {
	return formatCacaoMessage(payload.CacaoPayload(issuer))
}

func formatCacaoMessage(p CacaoPayload) (string, error) {
	account, err := ParseDIDPKH(p.Iss)
	if err != nil {
		return "", err
	}
	statement := p.Statement
	if recap := recapStatement(p.Resources); recap != "" {
		if statement == "" {
			statement = recap
		} else {
			statement += " " + recap
		}
	}

	var b strings.Builder
	b.WriteString(p.Domain)
	b.WriteString(" wants you to sign in with your ")
	b.WriteString(chains.AccountType(account.Blockchain.Namespace))
	b.WriteString(" account:\n")
	b.WriteString(account.Address)
	b.WriteString("\n")
	if statement != "" {
		b.WriteString("\n" + statement)
	}
	b.WriteString("\n\nURI: " + p.Aud)
	b.WriteString("\nVersion: " + p.Version)
	b.WriteString("\nChain ID: " + account.Blockchain.Reference)
	b.WriteString("\nNonce: " + p.Nonce)
	b.WriteString("\nIssued At: " + p.Iat)
	if p.Exp != "" {
		b.WriteString("\nExpiration Time: " + p.Exp)
	}
	if p.Nbf != "" {
		b.WriteString("\nNot Before: " + p.Nbf)
	}
	if p.RequestID != "" {
		b.WriteString("\nRequest ID: " + p.RequestID)
	}
	if len(p.Resources) > 0 {
		b.WriteString("\nResources:")
		for _, r := range p.Resources {
			b.WriteString("\n- " + r)
		}
	}
	return b.String(), nil
}
