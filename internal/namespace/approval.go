package namespace

import (
	"fmt"
	"sort"

	"gopkg.in/fatih/set.v0"
	"moff.io/walletconnect-sign/pkg/errors"
)

// capabilities is everything a proposal offers for one namespace family.
type capabilities struct {
	chains  set.Interface
	methods set.Interface
	events  set.Interface
}

func newCapabilities() *capabilities {
	return &capabilities{
		chains:  set.New(set.NonThreadSafe),
		methods: set.New(set.NonThreadSafe),
		events:  set.New(set.NonThreadSafe),
	}
}

func proposalChains(key string, ns ProposalNamespace) []Blockchain {
	if _, keyChain, err := parseKey(key); err == nil && keyChain != nil {
		return unionChains([]Blockchain{*keyChain}, ns.Chains)
	}
	return ns.Chains
}

// offered groups the union of required and optional by namespace family.
func offered(required, optional map[string]ProposalNamespace) map[string]*capabilities {
	out := make(map[string]*capabilities)
	for key, ns := range MergeRequiredIntoOptional(required, optional) {
		family, _, err := parseKey(key)
		if err != nil {
			continue
		}
		c, ok := out[family]
		if !ok {
			c = newCapabilities()
			out[family] = c
		}
		for _, chain := range proposalChains(key, ns) {
			c.chains.Add(chain.String())
		}
		for _, m := range ns.Methods {
			c.methods.Add(m)
		}
		for _, e := range ns.Events {
			c.events.Add(e)
		}
	}
	return out
}

func toSet(items []string) set.Interface {
	s := set.New(set.NonThreadSafe)
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func chainStrings(chains []Blockchain) []string {
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.String())
	}
	return out
}

// missing lists the items of want absent from have, sorted.
func missing(want, have set.Interface) []string {
	diff := set.StringSlice(set.Difference(want, have))
	sort.Strings(diff)
	return diff
}

// ValidateApproval checks the namespaces a wallet grants against a proposal:
// every granted chain, method and event must have been proposed, and every
// required entry must be covered.
func ValidateApproval(required, optional map[string]ProposalNamespace, granted map[string]SessionNamespace) error {
	if err := ValidateSessionNamespaces(granted); err != nil {
		return err
	}
	offers := offered(required, optional)
	grants := make(map[string]*capabilities)
	for _, key := range sortedKeys(granted) {
		ns := granted[key]
		family, _, _ := parseKey(key)
		offer, ok := offers[family]
		if !ok {
			return errors.Wrapf(ErrUnsupportedNamespaces, "namespace %s was not proposed", key)
		}
		chains := toSet(chainStrings(GrantedChains(key, ns)))
		if extra := missing(chains, offer.chains); len(extra) > 0 {
			return errors.Wrapf(ErrUnsupportedNamespaces, "chains %v were not proposed", extra)
		}
		methods := toSet(ns.Methods)
		if extra := missing(methods, offer.methods); len(extra) > 0 {
			return errors.Wrapf(ErrUnsupportedNamespaces, "methods %v were not proposed", extra)
		}
		events := toSet(ns.Events)
		if extra := missing(events, offer.events); len(extra) > 0 {
			return errors.Wrapf(ErrUnsupportedNamespaces, "events %v were not proposed", extra)
		}
		g, ok := grants[family]
		if !ok {
			g = newCapabilities()
			grants[family] = g
		}
		g.chains.Merge(chains)
		g.methods.Merge(methods)
		g.events.Merge(events)
	}
	return checkRequiredCovered(required, grants)
}

func checkRequiredCovered(required map[string]ProposalNamespace, grants map[string]*capabilities) error {
	for _, key := range sortedKeys(required) {
		ns := required[key]
		family, _, err := parseKey(key)
		if err != nil {
			return err
		}
		g, ok := grants[family]
		if !ok {
			return errors.Wrapf(ErrUnsupportedNamespaces, "required namespace %s not granted", key)
		}
		for kind, pair := range map[string][2]set.Interface{
			"chains":  {toSet(chainStrings(proposalChains(key, ns))), g.chains},
			"methods": {toSet(ns.Methods), g.methods},
			"events":  {toSet(ns.Events), g.events},
		} {
			if lack := missing(pair[0], pair[1]); len(lack) > 0 {
				return errors.Wrapf(ErrUnsupportedNamespaces, "required %s %v of %s not granted", kind, lack, key)
			}
		}
	}
	return nil
}

// Supported describes what a wallet can serve.
type Supported struct {
	Chains   []Blockchain
	Methods  []string
	Events   []string
	Accounts []Account
}

// BuildApproved intersects a proposal with what the wallet supports and
// returns namespaces ready for approval, keyed by namespace family.
func BuildApproved(required, optional map[string]ProposalNamespace, supported Supported) (map[string]SessionNamespace, error) {
	supportedChains := toSet(chainStrings(supported.Chains))
	supportedMethods := toSet(supported.Methods)
	supportedEvents := toSet(supported.Events)

	approved := make(map[string]SessionNamespace)
	merged := MergeRequiredIntoOptional(required, optional)
	for _, key := range sortedKeys(merged) {
		ns := merged[key]
		family, _, err := parseKey(key)
		if err != nil {
			return nil, err
		}
		entry := approved[family]
		for _, chain := range proposalChains(key, ns) {
			if supportedChains.Has(chain.String()) {
				entry.Chains = unionChains(entry.Chains, []Blockchain{chain})
			}
		}
		entry.Methods = unionStrings(entry.Methods, intersect(ns.Methods, supportedMethods))
		entry.Events = unionStrings(entry.Events, intersect(ns.Events, supportedEvents))
		approved[family] = entry
	}
	for family, entry := range approved {
		for _, acc := range supported.Accounts {
			if containsChain(entry.Chains, acc.Blockchain) {
				entry.Accounts = append(entry.Accounts, acc)
			}
		}
		if len(entry.Accounts) == 0 {
			delete(approved, family)
			continue
		}
		approved[family] = entry
	}
	if len(approved) == 0 {
		return nil, errors.Wrap(ErrUnsupportedNamespaces, "no proposed chain is supported")
	}
	if err := ValidateApproval(required, optional, approved); err != nil {
		return nil, err
	}
	return approved, nil
}

func intersect(items []string, allowed set.Interface) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if allowed.Has(item) {
			out = append(out, item)
		}
	}
	return out
}

// Summary flattens granted namespaces into the approved chains, methods and
// events the relay records for a session.
func Summary(granted map[string]SessionNamespace) (chains, methods, events []string) {
	var allChains []Blockchain
	for _, key := range sortedKeys(granted) {
		ns := granted[key]
		allChains = unionChains(allChains, GrantedChains(key, ns))
		methods = unionStrings(methods, ns.Methods)
		events = unionStrings(events, ns.Events)
	}
	return chainStrings(allChains), methods, events
}

func (ns SessionNamespace) String() string {
	return fmt.Sprintf("chains=%v accounts=%d methods=%v events=%v", chainStrings(ns.Chains), len(ns.Accounts), ns.Methods, ns.Events)
}
