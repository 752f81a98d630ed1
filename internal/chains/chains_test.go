package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountType(t *testing.T) {
	assert.Equal(t, "Ethereum", AccountType("eip155"))
	assert.Equal(t, "Bitcoin", AccountType("bip122"))
	assert.Equal(t, "Solana", AccountType("solana"))
	assert.Equal(t, "Cosmos", AccountType("cosmos"))
	assert.Equal(t, "Polkadot", AccountType("polkadot"))
	assert.Equal(t, "Near", AccountType("near"))
	assert.Equal(t, "", AccountType(""))
}

func TestEVMName(t *testing.T) {
	assert.Equal(t, "polygon", EVMName("137"))
	assert.Equal(t, "999999", EVMName("999999"))
	assert.Equal(t, "eip155:8453", Mapping[8453].CAIP2())
}

func TestRPCURL(t *testing.T) {
	assert.Equal(t, "https://rpc.walletconnect.org/v1/?chainId=eip155%3A1&projectId=p1", RPCURL("eip155:1", "p1"))
}
