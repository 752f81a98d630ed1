package sign

import (
	"moff.io/walletconnect-sign/internal/relay"
	"moff.io/walletconnect-sign/pkg/errors"
)

// ErrProtocol classifies validation and permission failures: retrying the
// same call will not help, re-proposing or fixing the input might.
var ErrProtocol = errors.New("sign protocol error")

type protocolError struct {
	msg string
}

func (e *protocolError) Error() string {
	return e.msg
}

func (e *protocolError) Is(target error) bool {
	return target == ErrProtocol
}

func newProtocolError(msg string) error {
	return &protocolError{msg: msg}
}

var (
	ErrInvalidNamespaces      = newProtocolError("invalid namespaces")
	ErrInvalidPermissions     = newProtocolError("invalid permissions")
	ErrInvalidTTL             = newProtocolError("invalid ttl")
	ErrProposalExpired        = newProtocolError("proposal expired")
	ErrNoSessionMatchingTopic = newProtocolError("no session matching topic")
	ErrNoPairingMatchingTopic = newProtocolError("no pairing matching topic")
	ErrNoProposal             = newProtocolError("no proposal with id")
	ErrSessionRequestExpired  = newProtocolError("session request expired")
	ErrRequestNotFound        = newProtocolError("no pending request with id")
	ErrRequestAlreadyAnswered = newProtocolError("request already answered")
	ErrUnauthorized           = newProtocolError("unauthorized, not the session controller")
	ErrInvalidURI             = newProtocolError("invalid pairing uri")
	ErrInvalidMetadata        = newProtocolError("invalid app metadata")
)

func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsTransportError reports relay failures worth retrying.
func IsTransportError(err error) bool {
	return relay.IsTransportError(err)
}
