// Package namespace validates, merges and checks the CAIP namespaces a dapp
// proposes and a wallet grants.
package namespace

import (
	"sort"
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"moff.io/walletconnect-sign/pkg/errors"
)

var (
	ErrInvalidNamespaces     = errors.New("invalid namespaces")
	ErrUnsupportedNamespaces = errors.New("unsupported namespaces")
)

// ProposalNamespace is what a dapp asks for under one namespace key. The
// key is either a namespace ("eip155") listing its chains, or a chain id
// ("eip155:1") without chains.
type ProposalNamespace struct {
	Chains  []Blockchain `json:"chains,omitempty"`
	Methods []string     `json:"methods"`
	Events  []string     `json:"events"`
}

// SessionNamespace is what a wallet granted, bound to accounts.
type SessionNamespace struct {
	Chains   []Blockchain `json:"chains,omitempty"`
	Accounts []Account    `json:"accounts"`
	Methods  []string     `json:"methods"`
	Events   []string     `json:"events"`
}

// key returns the namespace of a map key and, for chain keys, the chain.
func parseKey(key string) (string, *Blockchain, error) {
	if strings.Contains(key, ":") {
		chain, err := ParseBlockchain(key)
		if err != nil {
			return "", nil, errors.Wrapf(ErrInvalidNamespaces, "namespace key %q", key)
		}
		return chain.Namespace, &chain, nil
	}
	if !IsValidNamespace(key) {
		return "", nil, errors.Wrapf(ErrInvalidNamespaces, "namespace key %q", key)
	}
	return key, nil, nil
}

func validateChains(key, ns string, keyChain *Blockchain, chains []Blockchain) error {
	if keyChain != nil {
		for _, c := range chains {
			if c != *keyChain {
				return errors.Wrapf(ErrInvalidNamespaces, "chain %s under chain key %s", c, key)
			}
		}
		return nil
	}
	if len(chains) == 0 {
		return errors.Wrapf(ErrInvalidNamespaces, "namespace %s has no chains", key)
	}
	for _, c := range chains {
		if c.Namespace != ns {
			return errors.Wrapf(ErrInvalidNamespaces, "chain %s does not belong to %s", c, key)
		}
	}
	return nil
}

func validateNames(key, kind string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return errors.Wrapf(ErrInvalidNamespaces, "empty %s in %s", kind, key)
		}
		if seen[n] {
			return errors.Wrapf(ErrInvalidNamespaces, "duplicate %s %s in %s", kind, n, key)
		}
		seen[n] = true
	}
	return nil
}

// Validate checks proposal namespaces, reporting the first problem.
func Validate(namespaces map[string]ProposalNamespace) error {
	for _, key := range sortedKeys(namespaces) {
		ns := namespaces[key]
		family, keyChain, err := parseKey(key)
		if err != nil {
			return err
		}
		if err := validateChains(key, family, keyChain, ns.Chains); err != nil {
			return err
		}
		if err := validateNames(key, "method", ns.Methods); err != nil {
			return err
		}
		if err := validateNames(key, "event", ns.Events); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSessionNamespaces checks granted namespaces: every entry needs
// accounts, and each account must belong to its key and listed chains.
func ValidateSessionNamespaces(namespaces map[string]SessionNamespace) error {
	if len(namespaces) == 0 {
		return errors.Wrap(ErrInvalidNamespaces, "no namespaces granted")
	}
	for _, key := range sortedKeys(namespaces) {
		ns := namespaces[key]
		family, keyChain, err := parseKey(key)
		if err != nil {
			return err
		}
		if len(ns.Accounts) == 0 {
			return errors.Wrapf(ErrInvalidNamespaces, "namespace %s has no accounts", key)
		}
		if keyChain == nil && len(ns.Chains) > 0 {
			if err := validateChains(key, family, nil, ns.Chains); err != nil {
				return err
			}
		}
		for _, acc := range ns.Accounts {
			if acc.Blockchain.Namespace != family || (keyChain != nil && acc.Blockchain != *keyChain) {
				return errors.Wrapf(ErrInvalidNamespaces, "account %s does not belong to %s", acc, key)
			}
			if len(ns.Chains) > 0 && !containsChain(ns.Chains, acc.Blockchain) {
				return errors.Wrapf(ErrInvalidNamespaces, "account %s on a chain not listed in %s", acc, key)
			}
		}
		if err := validateNames(key, "method", ns.Methods); err != nil {
			return err
		}
		if err := validateNames(key, "event", ns.Events); err != nil {
			return err
		}
	}
	return nil
}

// MergeRequiredIntoOptional folds every required entry into the optional
// entry with the same key, required items first and without duplicates.
// Keys only in required are copied. Inputs are not modified.
func MergeRequiredIntoOptional(required, optional map[string]ProposalNamespace) map[string]ProposalNamespace {
	merged := make(map[string]ProposalNamespace, len(required)+len(optional))
	for key, ns := range optional {
		merged[key] = cloneProposal(ns)
	}
	for key, req := range required {
		opt, ok := merged[key]
		if !ok {
			merged[key] = cloneProposal(req)
			continue
		}
		merged[key] = ProposalNamespace{
			Chains:  unionChains(req.Chains, opt.Chains),
			Methods: unionStrings(req.Methods, opt.Methods),
			Events:  unionStrings(req.Events, opt.Events),
		}
	}
	return merged
}

func cloneProposal(ns ProposalNamespace) ProposalNamespace {
	return ProposalNamespace{
		Chains:  unionChains(ns.Chains, nil),
		Methods: unionStrings(ns.Methods, nil),
		Events:  unionStrings(ns.Events, nil),
	}
}

func unionStrings(first, second []string) []string {
	set := linkedhashset.New()
	for _, s := range first {
		set.Add(s)
	}
	for _, s := range second {
		set.Add(s)
	}
	out := make([]string, 0, set.Size())
	for _, v := range set.Values() {
		out = append(out, v.(string))
	}
	return out
}

func unionChains(first, second []Blockchain) []Blockchain {
	set := linkedhashset.New()
	for _, c := range first {
		set.Add(c)
	}
	for _, c := range second {
		set.Add(c)
	}
	if set.Empty() {
		return nil
	}
	out := make([]Blockchain, 0, set.Size())
	for _, v := range set.Values() {
		out = append(out, v.(Blockchain))
	}
	return out
}

// HasPermission reports whether some entry, keyed by the exact chain or by
// its namespace, covers chainID and lists method.
func HasPermission(namespaces map[string]SessionNamespace, method, chainID string) bool {
	chain, err := ParseBlockchain(chainID)
	if err != nil {
		return false
	}
	if ns, ok := namespaces[chainID]; ok && containsString(ns.Methods, method) {
		return true
	}
	ns, ok := namespaces[chain.Namespace]
	return ok && containsString(ns.Methods, method) && ns.covers(chain)
}

// HasEvent is HasPermission for events.
func HasEvent(namespaces map[string]SessionNamespace, event, chainID string) bool {
	chain, err := ParseBlockchain(chainID)
	if err != nil {
		return false
	}
	if ns, ok := namespaces[chainID]; ok && containsString(ns.Events, event) {
		return true
	}
	ns, ok := namespaces[chain.Namespace]
	return ok && containsString(ns.Events, event) && ns.covers(chain)
}

func (ns SessionNamespace) covers(chain Blockchain) bool {
	if containsChain(ns.Chains, chain) {
		return true
	}
	for _, acc := range ns.Accounts {
		if acc.Blockchain == chain {
			return true
		}
	}
	return false
}

// GrantedChains returns every chain of a granted entry: its listed chains,
// the chains of its accounts and the key itself if it is a chain.
func GrantedChains(key string, ns SessionNamespace) []Blockchain {
	var fromKey []Blockchain
	if _, keyChain, err := parseKey(key); err == nil && keyChain != nil {
		fromKey = []Blockchain{*keyChain}
	}
	accountChains := make([]Blockchain, 0, len(ns.Accounts))
	for _, acc := range ns.Accounts {
		accountChains = append(accountChains, acc.Blockchain)
	}
	return unionChains(unionChains(fromKey, ns.Chains), accountChains)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsChain(list []Blockchain, c Blockchain) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
