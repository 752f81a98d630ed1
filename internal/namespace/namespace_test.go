package namespace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/pkg/errors"
)

var (
	mainnet  = MustParseBlockchain("eip155:1")
	polygon  = MustParseBlockchain("eip155:137")
	optimism = MustParseBlockchain("eip155:10")
	solana   = MustParseBlockchain("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
)

func TestParseBlockchain(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"eip155:1", true},
		{"bip122:000000000019d6689c085ae165831e93", true},
		{"cosmos:cosmoshub-4", true},
		{"ei:1", false},
		{"EIP155:1", false},
		{"eip155:", false},
		{"eip155", false},
		{"eip155:1:2", false},
		{"eip155:" + string(make([]byte, 33)), false},
	}
	for _, tt := range tests {
		_, err := ParseBlockchain(tt.in)
		if tt.valid {
			assert.NoError(t, err, tt.in)
		} else {
			assert.True(t, errors.Is(err, ErrInvalidChain), tt.in)
		}
	}
}

func TestAccountJSON(t *testing.T) {
	acc := MustParseAccount("eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")
	assert.Equal(t, mainnet, acc.Blockchain)
	assert.Equal(t, "0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb", acc.Address)

	data, err := json.Marshal(SessionNamespace{Accounts: []Account{acc}, Methods: []string{}, Events: []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":["eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb"],"methods":[],"events":[]}`, string(data))

	var back SessionNamespace
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, acc, back.Accounts[0])

	_, err = ParseAccount("eip155:1:")
	assert.True(t, errors.Is(err, ErrInvalidAccount))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		ns    map[string]ProposalNamespace
		valid bool
	}{
		{"namespace key", map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{mainnet}, Methods: []string{"eth_sign"}}}, true},
		{"chain key", map[string]ProposalNamespace{"eip155:1": {Methods: []string{"eth_sign"}}}, true},
		{"empty methods", map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{mainnet}}}, true},
		{"bad key", map[string]ProposalNamespace{"EIP": {Chains: []Blockchain{mainnet}}}, false},
		{"chain of other namespace", map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{solana}}}, false},
		{"no chains", map[string]ProposalNamespace{"eip155": {Methods: []string{"eth_sign"}}}, false},
		{"chain key with other chain", map[string]ProposalNamespace{"eip155:1": {Chains: []Blockchain{polygon}}}, false},
		{"duplicate method", map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{mainnet}, Methods: []string{"a", "a"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ns)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidNamespaces), "%v", err)
			}
		})
	}
}

func TestMergeRequiredIntoOptional(t *testing.T) {
	required := map[string]ProposalNamespace{
		"eip155": {Chains: []Blockchain{mainnet, polygon}, Methods: []string{"eth_sendTransaction", "personal_sign"}, Events: []string{"chainChanged"}},
		"solana": {Chains: []Blockchain{solana}, Methods: []string{"solana_signMessage"}},
	}
	optional := map[string]ProposalNamespace{
		"eip155":   {Chains: []Blockchain{optimism, mainnet}, Methods: []string{"eth_signTypedData", "personal_sign"}, Events: []string{"accountsChanged"}},
		"eip155:5": {Methods: []string{"eth_sign"}},
	}
	merged := MergeRequiredIntoOptional(required, optional)

	assert.Equal(t, []Blockchain{mainnet, polygon, optimism}, merged["eip155"].Chains)
	assert.Equal(t, []string{"eth_sendTransaction", "personal_sign", "eth_signTypedData"}, merged["eip155"].Methods)
	assert.Equal(t, []string{"chainChanged", "accountsChanged"}, merged["eip155"].Events)
	assert.Equal(t, required["solana"].Chains, merged["solana"].Chains)
	assert.Contains(t, merged, "eip155:5")
	assert.Len(t, merged, 3)

	// every required method and event survives, no key is invented
	for key, req := range required {
		for _, m := range req.Methods {
			assert.Contains(t, merged[key].Methods, m)
		}
		for _, e := range req.Events {
			assert.Contains(t, merged[key].Events, e)
		}
	}
	for key := range merged {
		_, inRequired := required[key]
		_, inOptional := optional[key]
		assert.True(t, inRequired || inOptional, key)
	}
	assert.Equal(t, []Blockchain{optimism, mainnet}, optional["eip155"].Chains, "input modified")
}

func TestMergeWithNilOptional(t *testing.T) {
	required := map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{mainnet}, Methods: []string{"personal_sign"}}}
	merged := MergeRequiredIntoOptional(required, nil)
	assert.Equal(t, []string{"personal_sign"}, merged["eip155"].Methods)
	assert.Empty(t, MergeRequiredIntoOptional(nil, nil))
}

func TestHasPermission(t *testing.T) {
	namespaces := map[string]SessionNamespace{
		"eip155": {
			Accounts: []Account{MustParseAccount("eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")},
			Methods:  []string{"personal_sign"},
		},
		"eip155:137": {
			Accounts: []Account{MustParseAccount("eip155:137:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")},
			Methods:  []string{"eth_sendTransaction"},
		},
	}
	assert.True(t, HasPermission(namespaces, "eth_sendTransaction", "eip155:137"), "chain exact")
	assert.True(t, HasPermission(namespaces, "personal_sign", "eip155:1"), "namespace prefix")
	assert.False(t, HasPermission(namespaces, "personal_sign", "eip155:10"), "unrelated chain")
	assert.False(t, HasPermission(namespaces, "eth_sendTransaction", "eip155:1"), "method not granted")
	assert.False(t, HasPermission(namespaces, "personal_sign", "not-a-chain"))
}

func TestValidateApproval(t *testing.T) {
	optional := map[string]ProposalNamespace{
		"eip155": {Chains: []Blockchain{mainnet, polygon}, Methods: []string{"personal_sign", "eth_sendTransaction"}, Events: []string{"chainChanged"}},
	}
	account := MustParseAccount("eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")

	ok := map[string]SessionNamespace{"eip155": {Accounts: []Account{account}, Methods: []string{"personal_sign"}, Events: []string{}}}
	assert.NoError(t, ValidateApproval(nil, optional, ok))

	extraMethod := map[string]SessionNamespace{"eip155": {Accounts: []Account{account}, Methods: []string{"eth_sign"}}}
	assert.True(t, errors.Is(ValidateApproval(nil, optional, extraMethod), ErrUnsupportedNamespaces))

	extraChain := map[string]SessionNamespace{"eip155": {Accounts: []Account{MustParseAccount("eip155:10:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")}}}
	assert.True(t, errors.Is(ValidateApproval(nil, optional, extraChain), ErrUnsupportedNamespaces))

	noAccounts := map[string]SessionNamespace{"eip155": {Methods: []string{"personal_sign"}}}
	assert.True(t, errors.Is(ValidateApproval(nil, optional, noAccounts), ErrInvalidNamespaces))

	required := map[string]ProposalNamespace{"eip155": {Chains: []Blockchain{polygon}, Methods: []string{"personal_sign"}}}
	assert.True(t, errors.Is(ValidateApproval(required, optional, ok), ErrUnsupportedNamespaces), "required polygon not granted")
}

func TestBuildApproved(t *testing.T) {
	optional := map[string]ProposalNamespace{
		"eip155": {Chains: []Blockchain{mainnet, polygon}, Methods: []string{"personal_sign", "eth_sendTransaction"}, Events: []string{"chainChanged"}},
		"solana": {Chains: []Blockchain{solana}, Methods: []string{"solana_signMessage"}},
	}
	acc1 := MustParseAccount("eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")
	acc10 := MustParseAccount("eip155:10:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")
	approved, err := BuildApproved(nil, optional, Supported{
		Chains:   []Blockchain{mainnet, optimism},
		Methods:  []string{"personal_sign", "eth_signTypedData_v4"},
		Events:   []string{"chainChanged", "accountsChanged"},
		Accounts: []Account{acc1, acc10},
	})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	ns := approved["eip155"]
	assert.Equal(t, []Blockchain{mainnet}, ns.Chains)
	assert.Equal(t, []Account{acc1}, ns.Accounts)
	assert.Equal(t, []string{"personal_sign"}, ns.Methods)
	assert.Equal(t, []string{"chainChanged"}, ns.Events)

	_, err = BuildApproved(nil, optional, Supported{Chains: []Blockchain{optimism}, Accounts: []Account{acc10}})
	assert.True(t, errors.Is(err, ErrUnsupportedNamespaces))
}

func TestSummary(t *testing.T) {
	acc := MustParseAccount("eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb")
	chains, methods, events := Summary(map[string]SessionNamespace{
		"eip155": {Accounts: []Account{acc}, Methods: []string{"personal_sign"}, Events: []string{"chainChanged"}},
	})
	assert.Equal(t, []string{"eip155:1"}, chains)
	assert.Equal(t, []string{"personal_sign"}, methods)
	assert.Equal(t, []string{"chainChanged"}, events)
}
