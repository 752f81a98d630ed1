// Package tvf extracts transaction value fingerprint data (tx hashes and
// contract addresses) from session request and response payloads. The data
// only annotates relay publishes; it is never part of protocol state.
package tvf

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
	"moff.io/walletconnect-sign/internal/jsonrpc"
)

const (
	TagSessionRequest  = 1108
	TagSessionResponse = 1109
)

const (
	EthSendTransaction           = "eth_sendTransaction"
	WalletSendCalls              = "wallet_sendCalls"
	SolanaSignTransaction        = "solana_signTransaction"
	SolanaSignAndSendTransaction = "solana_signAndSendTransaction"
	SolanaSignAllTransactions    = "solana_signAllTransactions"
)

var collectable = map[string]bool{
	EthSendTransaction:           true,
	WalletSendCalls:              true,
	SolanaSignTransaction:        true,
	SolanaSignAndSendTransaction: true,
	SolanaSignAllTransactions:    true,
}

type Data struct {
	RPCMethods        []string `json:"rpcMethods,omitempty"`
	ChainID           string   `json:"chainId,omitempty"`
	TxHashes          []string `json:"txHashes,omitempty"`
	ContractAddresses []string `json:"contractAddresses,omitempty"`
}

// Collect inspects one request (tag 1108) or response (tag 1109). It
// returns nil for methods it does not know and never fails: unparsable
// payloads leave the corresponding fields nil.
func Collect(method string, params json.RawMessage, chainID string, result *jsonrpc.Response, tag int) *Data {
	if !collectable[method] {
		return nil
	}
	data := &Data{RPCMethods: []string{method}, ChainID: chainID}
	switch tag {
	case TagSessionRequest:
		data.ContractAddresses = contractAddresses(method, params)
	case TagSessionResponse:
		if result != nil && !result.IsError() {
			data.TxHashes = txHashes(method, result.Result)
		}
	}
	return data
}

func contractAddresses(method string, params json.RawMessage) []string {
	if !gjson.ValidBytes(params) {
		return nil
	}
	var out []string
	switch method {
	case EthSendTransaction:
		tx := gjson.GetBytes(params, "0")
		if addr, ok := erc20Target(tx); ok {
			out = append(out, addr)
		}
	case WalletSendCalls:
		gjson.GetBytes(params, "0.calls").ForEach(func(_, call gjson.Result) bool {
			if addr, ok := erc20Target(call); ok {
				out = append(out, addr)
			}
			return true
		})
	}
	return out
}

// erc20Target returns the call target when data looks like a token call:
// a 4 byte selector, a 32 byte recipient word and at least one amount digit.
func erc20Target(call gjson.Result) (string, bool) {
	if !call.IsObject() {
		return "", false
	}
	to := call.Get("to").String()
	if !common.IsHexAddress(to) {
		return "", false
	}
	input := strings.TrimPrefix(call.Get("data").String(), "0x")
	if len(input) < 8+64+1 || !isHex(input) {
		return "", false
	}
	return to, true
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func txHashes(method string, result json.RawMessage) []string {
	if !gjson.ValidBytes(result) {
		return nil
	}
	r := gjson.ParseBytes(result)
	var hash string
	switch method {
	case EthSendTransaction:
		if r.Type == gjson.String {
			hash = r.String()
		}
	case WalletSendCalls:
		if r.Type == gjson.String {
			hash = r.String()
		} else {
			hash = r.Get("id").String()
		}
	case SolanaSignTransaction, SolanaSignAndSendTransaction:
		hash = r.Get("signature").String()
	case SolanaSignAllTransactions:
		var hashes []string
		r.Get("transactions").ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				hashes = append(hashes, v.String())
			}
			return true
		})
		return hashes
	}
	if hash == "" {
		return nil
	}
	return []string{hash}
}
