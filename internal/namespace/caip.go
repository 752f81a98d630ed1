package namespace

import (
	"encoding/json"
	"regexp"
	"strings"

	"moff.io/walletconnect-sign/pkg/errors"
)

var (
	namespaceRegexp = regexp.MustCompile(`^[-a-z0-9]{3,8}$`)
	referenceRegexp = regexp.MustCompile(`^[-_a-zA-Z0-9]{1,32}$`)
	addressRegexp   = regexp.MustCompile(`^[-.%a-zA-Z0-9]{1,128}$`)

	ErrInvalidChain   = errors.New("invalid CAIP-2 chain id")
	ErrInvalidAccount = errors.New("invalid CAIP-10 account")
)

// Blockchain is a CAIP-2 chain id, "{namespace}:{reference}".
type Blockchain struct {
	Namespace string
	Reference string
}

func ParseBlockchain(s string) (Blockchain, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !namespaceRegexp.MatchString(parts[0]) || !referenceRegexp.MatchString(parts[1]) {
		return Blockchain{}, errors.Wrapf(ErrInvalidChain, "%q", s)
	}
	return Blockchain{Namespace: parts[0], Reference: parts[1]}, nil
}

func MustParseBlockchain(s string) Blockchain {
	b, err := ParseBlockchain(s)
	if err != nil {
		panic(err)
	}
	return b
}

func IsValidNamespace(ns string) bool {
	return namespaceRegexp.MatchString(ns)
}

func (b Blockchain) String() string {
	return b.Namespace + ":" + b.Reference
}

func (b Blockchain) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Blockchain) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(ErrInvalidChain, err.Error())
	}
	parsed, err := ParseBlockchain(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Account is a CAIP-10 account, "{namespace}:{reference}:{address}".
type Account struct {
	Blockchain Blockchain
	Address    string
}

func ParseAccount(s string) (Account, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Account{}, errors.Wrapf(ErrInvalidAccount, "%q", s)
	}
	chain, err := ParseBlockchain(s[:idx])
	if err != nil {
		return Account{}, errors.Wrapf(ErrInvalidAccount, "%q", s)
	}
	address := s[idx+1:]
	if !addressRegexp.MatchString(address) {
		return Account{}, errors.Wrapf(ErrInvalidAccount, "%q", s)
	}
	return Account{Blockchain: chain, Address: address}, nil
}

func MustParseAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Account) String() string {
	return a.Blockchain.String() + ":" + a.Address
}

func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(ErrInvalidAccount, err.Error())
	}
	parsed, err := ParseAccount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
