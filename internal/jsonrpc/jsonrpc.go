// Package jsonrpc holds the JSON-RPC 2.0 envelopes exchanged with the relay,
// with peers over encrypted topics and with wallet services.
package jsonrpc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"moff.io/walletconnect-sign/pkg/errors"
)

const Version = "2.0"

// RPCID is a 64-bit request id; one id correlates exactly one response.
type RPCID = int64

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewID returns a globally unique, monotonically increasing id.
func NewID() RPCID {
	nodeOnce.Do(func() {
		var err error
		// node number from the clock keeps two processes on the same host apart
		node, err = snowflake.NewNode(time.Now().UnixNano() % 1024)
		if err != nil {
			panic(err)
		}
	})
	return node.Generate().Int64()
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RPCID           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RPCID           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (r *Response) IsError() bool {
	return r.Error != nil
}

// NewRequest marshals params and stamps a fresh id.
func NewRequest(method string, params interface{}) (*Request, error) {
	return NewRequestWithID(NewID(), method, params)
}

func NewRequestWithID(id RPCID, method string, params interface{}) (*Request, error) {
	raw, err := marshalRaw(params)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s params", method)
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

func NewResult(id RPCID, result interface{}) (*Response, error) {
	raw, err := marshalRaw(result)
	if err != nil {
		return nil, errors.Wrap(err, "marshal result")
	}
	if raw == nil {
		raw = json.RawMessage("true")
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

func NewError(id RPCID, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Message is either a Request or a Response, told apart by the method field.
type Message struct {
	Request  *Request
	Response *Response
}

func (m *Message) IsRequest() bool {
	return m.Request != nil
}

func (m *Message) ID() RPCID {
	if m.Request != nil {
		return m.Request.ID
	}
	return m.Response.ID
}

var ErrInvalidMessage = errors.New("invalid json-rpc message")

type shape struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string           `json:"method"`
	Result  *json.RawMessage `json:"result"`
	Error   *json.RawMessage `json:"error"`
}

// Parse decodes data into a Request or a Response.
func Parse(data []byte) (*Message, error) {
	var p shape
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	if p.ID == nil {
		return nil, errors.Wrap(ErrInvalidMessage, "missing id")
	}
	if p.Method != "" {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.Wrap(ErrInvalidMessage, err.Error())
		}
		return &Message{Request: &req}, nil
	}
	if p.Result == nil && p.Error == nil {
		return nil, errors.Wrap(ErrInvalidMessage, "neither method nor result")
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	return &Message{Response: &resp}, nil
}
