package walletservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/pkg/errors"
)

func TestFindPrefersExactChain(t *testing.T) {
	scoped := map[string]string{
		"eip155":   `{"walletService":[{"url":"https://ns.example.com","methods":["wallet_getAssets"]}]}`,
		"eip155:1": `{"walletService":[{"url":"https://chain.example.com","methods":["wallet_getAssets"]}]}`,
	}
	url, ok := Find(scoped, "wallet_getAssets", "eip155:1")
	require.True(t, ok)
	assert.Equal(t, "https://chain.example.com", url)

	url, ok = Find(scoped, "wallet_getAssets", "eip155:137")
	require.True(t, ok)
	assert.Equal(t, "https://ns.example.com", url)
}

func TestFindFallsBackPastMalformedAndUnsupported(t *testing.T) {
	tests := []struct {
		name   string
		scoped map[string]string
		url    string
		found  bool
	}{
		{"no properties", nil, "", false},
		{"malformed chain entry", map[string]string{
			"eip155:1": `{"walletService":"nope"}`,
			"eip155":   `{"walletService":[{"url":"https://ns.example.com","methods":["m"]}]}`,
		}, "https://ns.example.com", true},
		{"method only on namespace", map[string]string{
			"eip155:1": `{"walletService":[{"url":"https://chain.example.com","methods":["other"]}]}`,
			"eip155":   `{"walletService":[{"url":"https://ns.example.com","methods":["m"]}]}`,
		}, "https://ns.example.com", true},
		{"relative url rejected", map[string]string{
			"eip155": `{"walletService":[{"url":"/rpc","methods":["m"]}]}`,
		}, "", false},
		{"other namespace", map[string]string{
			"solana": `{"walletService":[{"url":"https://sol.example.com","methods":["m"]}]}`,
		}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, ok := Find(tt.scoped, "m", "eip155:1")
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.url, url)
		})
	}
}

func TestParseScopedProperty(t *testing.T) {
	_, err := ParseScopedProperty(`{}`)
	assert.True(t, errors.Is(err, ErrMalformedScopedProperty))
	_, err = ParseScopedProperty(`{"walletService":[{"url":"https://a","methods":[]}]}`)
	assert.True(t, errors.Is(err, ErrMalformedScopedProperty))
	p, err := ParseScopedProperty(`{"walletService":[{"url":"https://a","methods":["x"]}],"extra":1}`)
	require.NoError(t, err)
	assert.Equal(t, []Service{{URL: "https://a", Methods: []string{"x"}}}, p.WalletService)
}

func newRequest(t *testing.T) *jsonrpc.Request {
	req, err := jsonrpc.NewRequest("wallet_getAssets", []interface{}{map[string]string{"account": "0x1"}})
	require.NoError(t, err)
	return req
}

func TestRequestSuccess(t *testing.T) {
	req := newRequest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var got jsonrpc.Request
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, req.ID, got.ID)
		assert.Equal(t, "wallet_getAssets", got.Method)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"0x1":[]}}`, got.ID)
	}))
	defer srv.Close()

	resp, err := NewRequester(0).Request(context.Background(), req, srv.URL)
	require.NoError(t, err)
	assert.False(t, resp.IsError())
	assert.JSONEq(t, `{"0x1":[]}`, string(resp.Result))
}

func TestRequestErrorObjectIsAResponse(t *testing.T) {
	req := newRequest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"nope"}}`, req.ID)
	}))
	defer srv.Close()

	resp, err := NewRequester(0).Request(context.Background(), req, srv.URL)
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestRequestFailures(t *testing.T) {
	req := newRequest(t)
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"non 2xx", http.StatusBadGateway, "upstream down", func(t *testing.T, err error) {
			var failed *RequestFailedError
			require.True(t, errors.As(err, &failed))
			assert.Equal(t, http.StatusBadGateway, failed.StatusCode)
			assert.Equal(t, "upstream down", failed.Message)
		}},
		{"not json", http.StatusOK, "<html>", func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrResponseParsingFailed))
		}},
		{"wrong version", http.StatusOK, fmt.Sprintf(`{"jsonrpc":"1.0","id":%d,"result":1}`, req.ID), func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrInvalidResponseFormat))
		}},
		{"no result or error", http.StatusOK, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d}`, req.ID), func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrInvalidResponseFormat))
		}},
		{"id mismatch", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":1}`, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrInvalidResponseFormat))
		}},
		{"array", http.StatusOK, `[1]`, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrInvalidResponseFormat))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := NewRequester(0).Request(context.Background(), req, srv.URL)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRequestNetworkError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	_, err := NewRequester(50*time.Millisecond).Request(context.Background(), newRequest(t), srv.URL)
	assert.True(t, errors.Is(err, ErrNetwork))

	_, err = NewRequester(0).Request(context.Background(), newRequest(t), "http://127.0.0.1:1")
	assert.True(t, errors.Is(err, ErrNetwork))
}
