package tvf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/jsonrpc"
)

const (
	token     = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	recipient = "000000000000000000000000742d35cc6634c0532925a3b844bc454e4438f44e"
)

func TestCollectUnknownMethod(t *testing.T) {
	assert.Nil(t, Collect("personal_sign", json.RawMessage(`[]`), "eip155:1", nil, TagSessionRequest))
}

func TestCollectEthSendTransactionRequest(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   []string
	}{
		{"empty data", `[{"from":"0x1","to":"` + token + `","data":""}]`, nil},
		{"short data", `[{"from":"0x1","to":"` + token + `","data":"0xa9059cbb"}]`, nil},
		{"not hex", `[{"from":"0x1","to":"` + token + `","data":"0xa9059cbb` + recipient + `zz"}]`, nil},
		{"transfer", `[{"from":"0x1","to":"` + token + `","data":"0xa9059cbb` + recipient + `1"}]`, []string{token}},
		{"bad to", `[{"from":"0x1","to":"0x12","data":"0xa9059cbb` + recipient + `1"}]`, nil},
		{"not an array", `{"to":"` + token + `"}`, nil},
		{"garbage", `[{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Collect(EthSendTransaction, json.RawMessage(tt.params), "eip155:1", nil, TagSessionRequest)
			require.NotNil(t, data)
			assert.Equal(t, []string{EthSendTransaction}, data.RPCMethods)
			assert.Equal(t, "eip155:1", data.ChainID)
			assert.Equal(t, tt.want, data.ContractAddresses)
			assert.Nil(t, data.TxHashes)
		})
	}
}

func TestCollectEthSendTransactionResponse(t *testing.T) {
	ok, err := jsonrpc.NewResult(1, "0x123abc")
	require.NoError(t, err)
	data := Collect(EthSendTransaction, nil, "eip155:1", ok, TagSessionResponse)
	require.NotNil(t, data)
	assert.Equal(t, []string{"0x123abc"}, data.TxHashes)

	data = Collect(EthSendTransaction, nil, "eip155:1", jsonrpc.NewError(1, 5000, "rejected"), TagSessionResponse)
	require.NotNil(t, data)
	assert.Nil(t, data.TxHashes)
}

func TestCollectSolana(t *testing.T) {
	resp, _ := jsonrpc.NewResult(1, map[string]string{"signature": "5VERv8"})
	data := Collect(SolanaSignTransaction, nil, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", resp, TagSessionResponse)
	assert.Equal(t, []string{"5VERv8"}, data.TxHashes)

	resp, _ = jsonrpc.NewResult(1, map[string]interface{}{"transactions": []string{"a", "b"}})
	data = Collect(SolanaSignAllTransactions, nil, "", resp, TagSessionResponse)
	assert.Equal(t, []string{"a", "b"}, data.TxHashes)

	resp, _ = jsonrpc.NewResult(1, "not-an-object")
	data = Collect(SolanaSignAllTransactions, nil, "", resp, TagSessionResponse)
	require.NotNil(t, data)
	assert.Nil(t, data.TxHashes)
}

func TestCollectWalletSendCalls(t *testing.T) {
	params := `[{"version":"1.0","calls":[{"to":"` + token + `","data":"0xa9059cbb` + recipient + `ff"},{"to":"` + token + `","data":"0x"}]}]`
	data := Collect(WalletSendCalls, json.RawMessage(params), "eip155:8453", nil, TagSessionRequest)
	assert.Equal(t, []string{token}, data.ContractAddresses)

	resp, _ := jsonrpc.NewResult(1, map[string]string{"id": "0xbundle"})
	data = Collect(WalletSendCalls, nil, "eip155:8453", resp, TagSessionResponse)
	assert.Equal(t, []string{"0xbundle"}, data.TxHashes)
}
