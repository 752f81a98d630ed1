package relay

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

const (
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	frameQueueSize = 256
)

// WebSocketTransport is the relay socket.
type WebSocketTransport struct {
	relayURL  string
	projectID string
	identity  ed25519.PrivateKey
	origin    string
	dialer    *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	connected *atomic.Bool
	receive   chan []byte
	status    chan ConnectionStatus
}

// NewWebSocketTransport dials relayURL with the project id and an auth
// token signed by identity.
func NewWebSocketTransport(relayURL, projectID string, identity ed25519.PrivateKey, origin string) *WebSocketTransport {
	return &WebSocketTransport{
		relayURL:  relayURL,
		projectID: projectID,
		identity:  identity,
		origin:    origin,
		dialer:    &websocket.Dialer{HandshakeTimeout: writeTimeout, Proxy: http.ProxyFromEnvironment},
		connected: atomic.NewBool(false),
		receive:   make(chan []byte, frameQueueSize),
		status:    make(chan ConnectionStatus, 16),
	}
}

func (t *WebSocketTransport) dialURL() (string, error) {
	u, err := url.Parse(t.relayURL)
	if err != nil {
		return "", errors.Wrap(err, "parse relay url")
	}
	q := u.Query()
	q.Set("projectId", t.projectID)
	if t.identity != nil {
		token, err := SignRelayJWT(t.identity, t.relayURL, time.Now())
		if err != nil {
			return "", err
		}
		q.Set("auth", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	wsURL, err := t.dialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if t.origin != "" {
		header.Set("Origin", t.origin)
	}
	conn, resp, err := t.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "dial relay, status %d", resp.StatusCode)
		}
		return errors.Wrap(err, "dial relay")
	}
	t.conn = conn
	t.connected.Store(true)
	t.emit(Connected)
	done := make(chan struct{})
	go t.readPump(conn, done)
	go t.pingPump(conn, done)
	return nil
}

func (t *WebSocketTransport) emit(s ConnectionStatus) {
	select {
	case t.status <- s:
	default:
		log.Warnf("relay status queue full, dropped %s", s)
	}
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warnf("read relay socket:%v", err)
			}
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
				t.connected.Store(false)
			}
			t.mu.Unlock()
			_ = conn.Close()
			t.emit(Disconnected)
			return
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			t.receive <- data
		}
	}
}

func (t *WebSocketTransport) pingPump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				log.Warnf("ping relay:%v", err)
			}
		}
	}
}

func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.connected.Store(false)
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return errors.Wrap(conn.WriteMessage(websocket.TextMessage, data), "write relay socket")
}

func (t *WebSocketTransport) Receive() <-chan []byte {
	return t.receive
}

func (t *WebSocketTransport) Status() <-chan ConnectionStatus {
	return t.status
}

func (t *WebSocketTransport) IsConnected() bool {
	return t.connected.Load()
}
