// Package walletservice routes session requests to HTTP endpoints a wallet
// advertises in the session's scoped properties instead of the relay.
package walletservice

import (
	"encoding/json"
	"net/url"

	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

var ErrMalformedScopedProperty = errors.New("malformed scoped property")

// Service is one endpoint and the methods it serves.
type Service struct {
	URL     string   `json:"url"`
	Methods []string `json:"methods"`
}

// ScopedProperty is the value stored under a chain or namespace key of
// scopedProperties.
type ScopedProperty struct {
	WalletService []Service `json:"walletService"`
}

// ParseScopedProperty decodes raw and checks every service has an absolute
// http(s) url and at least one method.
func ParseScopedProperty(raw string) (*ScopedProperty, error) {
	var p ScopedProperty
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.Wrap(ErrMalformedScopedProperty, err.Error())
	}
	if p.WalletService == nil {
		return nil, errors.Wrap(ErrMalformedScopedProperty, "walletService missing")
	}
	for i, s := range p.WalletService {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, errors.Wrapf(ErrMalformedScopedProperty, "walletService[%d] url %q", i, s.URL)
		}
		if len(s.Methods) == 0 {
			return nil, errors.Wrapf(ErrMalformedScopedProperty, "walletService[%d] has no methods", i)
		}
	}
	return &p, nil
}

// Find returns the url of the first service supporting method on chainID.
// The exact chain entry wins over the namespace entry; entries that fail to
// parse are logged and skipped.
func Find(scoped map[string]string, method, chainID string) (string, bool) {
	if len(scoped) == 0 {
		return "", false
	}
	keys := []string{chainID}
	if chain, err := namespace.ParseBlockchain(chainID); err == nil {
		keys = append(keys, chain.Namespace)
	}
	for _, key := range keys {
		raw, ok := scoped[key]
		if !ok {
			continue
		}
		p, err := ParseScopedProperty(raw)
		if err != nil {
			log.Warnf("skip scoped property %s:%v", key, err)
			continue
		}
		for _, s := range p.WalletService {
			for _, m := range s.Methods {
				if m == method {
					return s.URL, true
				}
			}
		}
	}
	return "", false
}
