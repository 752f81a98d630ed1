// Package chains knows the chain namespaces and EVM networks the client
// deals with.
package chains

import (
	"net/url"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	NamespaceEIP155 = "eip155"
	NamespaceBIP122 = "bip122"
	NamespaceSolana = "solana"
)

// accountTypes are the names used in sign-in messages.
var accountTypes = map[string]string{
	NamespaceEIP155: "Ethereum",
	NamespaceBIP122: "Bitcoin",
	NamespaceSolana: "Solana",
}

// AccountType returns the account kind of a namespace, e.g. "Ethereum" for
// eip155; unknown namespaces are capitalized.
func AccountType(namespace string) string {
	if t, ok := accountTypes[namespace]; ok {
		return t
	}
	// Caser不是并发安全的，每次新建
	return cases.Title(language.Und).String(namespace)
}

type Blockchain struct {
	ID    int
	IDHex string
	Name  string
}

// CAIP2 returns the chain id, e.g. "eip155:137".
func (b *Blockchain) CAIP2() string {
	return NamespaceEIP155 + ":" + strconv.Itoa(b.ID)
}

var (
	Array = []*Blockchain{
		{ID: 1, IDHex: "0x1", Name: "eth"},
		{ID: 10, IDHex: "0xa", Name: "optimism"},
		{ID: 56, IDHex: "0x38", Name: "bsc"},
		{ID: 137, IDHex: "0x89", Name: "polygon"},
		{ID: 250, IDHex: "0xfa", Name: "fantom"},
		{ID: 25, IDHex: "0x19", Name: "cronos"},
		{ID: 8453, IDHex: "0x2105", Name: "base"},
		{ID: 42161, IDHex: "0xa4b1", Name: "arbitrum"},
		{ID: 43114, IDHex: "0xa86a", Name: "avalanche"},
		{ID: 11155111, IDHex: "0xaa36a7", Name: "sepolia"},
	}

	Mapping = func() map[int]*Blockchain {
		m := make(map[int]*Blockchain, len(Array))
		for _, b := range Array {
			m[b.ID] = b
		}
		return m
	}()
)

// EVMName returns the network name of an eip155 reference, or the
// reference itself when unknown.
func EVMName(reference string) string {
	id, err := strconv.Atoi(reference)
	if err != nil {
		return reference
	}
	if b, ok := Mapping[id]; ok {
		return b.Name
	}
	return reference
}

const defaultRPCBase = "https://rpc.walletconnect.org/v1/"

// RPCURL returns the blockchain api endpoint serving chainID for the
// project.
func RPCURL(chainID, projectID string) string {
	q := url.Values{}
	q.Set("chainId", chainID)
	q.Set("projectId", projectID)
	return defaultRPCBase + "?" + q.Encode()
}
