package relay

import "time"

// PublishConfig is the relay envelope a message of one direction is
// published with.
type PublishConfig struct {
	TTL    time.Duration
	Tag    int
	Prompt bool
}

// ProtocolMethod describes one peer-to-peer RPC method and the publish
// settings of its request, response and, where defined, rejection.
type ProtocolMethod struct {
	Method   string
	Request  PublishConfig
	Response PublishConfig
	Reject   *PublishConfig
}

func (m ProtocolMethod) errorConfig() PublishConfig {
	if m.Reject != nil {
		return *m.Reject
	}
	return m.Response
}

const (
	fiveMinutes = 300 * time.Second
	oneDay      = 86400 * time.Second
	oneHour     = 3600 * time.Second
	thirtySecs  = 30 * time.Second
)

var (
	SessionPropose = ProtocolMethod{
		Method:   "wc_sessionPropose",
		Request:  PublishConfig{TTL: fiveMinutes, Tag: 1100, Prompt: true},
		Response: PublishConfig{TTL: fiveMinutes, Tag: 1101},
		Reject:   &PublishConfig{TTL: fiveMinutes, Tag: 1120},
	}
	SessionSettle = ProtocolMethod{
		Method:   "wc_sessionSettle",
		Request:  PublishConfig{TTL: fiveMinutes, Tag: 1102},
		Response: PublishConfig{TTL: fiveMinutes, Tag: 1103},
	}
	SessionUpdate = ProtocolMethod{
		Method:   "wc_sessionUpdate",
		Request:  PublishConfig{TTL: oneDay, Tag: 1104},
		Response: PublishConfig{TTL: oneDay, Tag: 1105},
	}
	SessionExtend = ProtocolMethod{
		Method:   "wc_sessionExtend",
		Request:  PublishConfig{TTL: oneDay, Tag: 1106},
		Response: PublishConfig{TTL: oneDay, Tag: 1107},
	}
	SessionRequest = ProtocolMethod{
		Method:   "wc_sessionRequest",
		Request:  PublishConfig{TTL: fiveMinutes, Tag: 1108, Prompt: true},
		Response: PublishConfig{TTL: fiveMinutes, Tag: 1109},
	}
	SessionEvent = ProtocolMethod{
		Method:   "wc_sessionEvent",
		Request:  PublishConfig{TTL: fiveMinutes, Tag: 1110},
		Response: PublishConfig{TTL: fiveMinutes, Tag: 1111},
	}
	SessionDelete = ProtocolMethod{
		Method:   "wc_sessionDelete",
		Request:  PublishConfig{TTL: oneDay, Tag: 1112},
		Response: PublishConfig{TTL: oneDay, Tag: 1113},
	}
	SessionPing = ProtocolMethod{
		Method:   "wc_sessionPing",
		Request:  PublishConfig{TTL: thirtySecs, Tag: 1114},
		Response: PublishConfig{TTL: thirtySecs, Tag: 1115},
	}
	SessionAuthenticate = ProtocolMethod{
		Method:   "wc_sessionAuthenticate",
		Request:  PublishConfig{TTL: oneHour, Tag: 1116, Prompt: true},
		Response: PublishConfig{TTL: oneHour, Tag: 1117},
		Reject:   &PublishConfig{TTL: oneHour, Tag: 1118},
	}
	PairingDelete = ProtocolMethod{
		Method:   "wc_pairingDelete",
		Request:  PublishConfig{TTL: oneDay, Tag: 1000},
		Response: PublishConfig{TTL: oneDay, Tag: 1001},
	}
	PairingPing = ProtocolMethod{
		Method:   "wc_pairingPing",
		Request:  PublishConfig{TTL: thirtySecs, Tag: 1002},
		Response: PublishConfig{TTL: thirtySecs, Tag: 1003},
	}
)

var methodsByName = map[string]ProtocolMethod{}

func init() {
	for _, m := range []ProtocolMethod{
		SessionPropose, SessionSettle, SessionUpdate, SessionExtend, SessionRequest, SessionEvent,
		SessionDelete, SessionPing, SessionAuthenticate, PairingDelete, PairingPing,
	} {
		methodsByName[m.Method] = m
	}
}

// LookupMethod returns the descriptor of a peer method name.
func LookupMethod(name string) (ProtocolMethod, bool) {
	m, ok := methodsByName[name]
	return m, ok
}
