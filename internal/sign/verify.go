package sign

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/internal/store"
)

const verifyServerURL = "https://verify.walletconnect.org"

// verifyContext derives the origin check of an inbound request from the
// relay attestation. The attestation is a JWT issued by the verify server;
// its claims carry the origin the request came from and a scam flag.
func verifyContext(msg relay.Message, peer store.AppMetadata) *store.VerifyContext {
	v := &store.VerifyContext{
		Origin:     peer.URL,
		Validation: store.ValidationUnknown,
		VerifyURL:  verifyServerURL,
	}
	claims, ok := attestationClaims(msg.Attestation)
	if !ok {
		return v
	}
	if claims.Get("isScam").Bool() {
		v.Validation = store.ValidationScam
		v.IsScam = true
		return v
	}
	origin := claims.Get("origin").String()
	if origin == "" {
		return v
	}
	if sameOrigin(origin, peer.URL) {
		v.Validation = store.ValidationValid
	} else {
		v.Validation = store.ValidationInvalid
	}
	v.Origin = origin
	return v
}

func attestationClaims(jwt string) (gjson.Result, bool) {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return gjson.Result{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(raw), true
}

func sameOrigin(a, b string) bool {
	return strings.TrimSuffix(strings.ToLower(a), "/") == strings.TrimSuffix(strings.ToLower(b), "/")
}
