package relay

import "context"

type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connected
)

func (s ConnectionStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Transport is a bidirectional frame pipe to the relay. Receive and Status
// must stay open across reconnects; Status reports every transition.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, data []byte) error
	Receive() <-chan []byte
	Status() <-chan ConnectionStatus
	IsConnected() bool
}
