package walletservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/pkg/errors"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrNetwork               = errors.New("wallet service network error")
	ErrInvalidResponseFormat = errors.New("wallet service invalid response format")
	ErrResponseParsingFailed = errors.New("wallet service response parsing failed")
)

// RequestFailedError is a non-2xx answer.
type RequestFailedError struct {
	StatusCode int
	Message    string
}

func (e *RequestFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wallet service request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("wallet service request failed: status %d: %s", e.StatusCode, e.Message)
}

// Requester posts JSON-RPC calls to wallet services. Each instance owns its
// http client and timeout. No retries.
type Requester struct {
	httpClient *http.Client
}

func NewRequester(timeout time.Duration) *Requester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Requester{httpClient: &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}}
}

// Request posts req to url and returns the JSON-RPC response. A response
// carrying an error object is returned as is; callers forward it to the
// requester like a relay response.
func (r *Requester) Request(ctx context.Context, req *jsonrpc.Request, url string) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal wallet service request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(ErrNetwork, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(ErrNetwork, err.Error())
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.WithStack(&RequestFailedError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(b))})
	}
	if !gjson.ValidBytes(b) {
		return nil, errors.Wrap(ErrResponseParsingFailed, "body is not json")
	}
	parsed := gjson.ParseBytes(b)
	if !parsed.IsObject() || parsed.Get("jsonrpc").String() != jsonrpc.Version ||
		(!parsed.Get("result").Exists() && !parsed.Get("error").Exists()) {
		return nil, errors.Wrapf(ErrInvalidResponseFormat, "%s", b)
	}
	var out jsonrpc.Response
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(ErrResponseParsingFailed, err.Error())
	}
	if out.ID != req.ID {
		return nil, errors.Wrapf(ErrInvalidResponseFormat, "response id %d for request %d", out.ID, req.ID)
	}
	return &out, nil
}
