package device

import "errors"

// Error taxonomy. All are sentinel values comparable with errors.Is; call
// sites wrap them with fmt.Errorf("...: %w", ...) to attach sequence/address
// context without breaking comparison.
var (
	// ErrInvalidEndpoint is returned by Start when the bind and remote
	// addresses belong to different address families.
	ErrInvalidEndpoint = errors.New("device: bind and remote address families do not match")

	// ErrConnectionFail is returned by Start in active mode when the
	// connect handshake exhausts its attempts without a reply.
	ErrConnectionFail = errors.New("device: connection handshake failed")

	// ErrNotConnected is returned by a send attempted before a remote
	// peer is bound.
	ErrNotConnected = errors.New("device: not connected to a remote peer")

	// ErrMessageTooLarge is returned when a payload exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("device: message payload exceeds maximum size")

	// ErrAlreadyRegistered is returned by RegisterParser on a duplicate
	// registration for the same MessageTypeID.
	ErrAlreadyRegistered = errors.New("device: handler already registered for message type")

	// ErrNoHandler is logged (not returned to a caller) when the receive
	// loop dispatches a message whose type has no registered handler.
	ErrNoHandler = errors.New("device: no handler registered for message type")

	// ErrTimeout is returned by SendReliable when its retry budget is
	// exhausted without observing an ack.
	ErrTimeout = errors.New("device: reliable send timed out")

	// ErrClosed names the closed-device condition. No operation in this
	// package returns it: a send on a closed device reports ErrNotConnected,
	// and a reliable send interrupted by Close reports ErrTimeout.
	ErrClosed = errors.New("device: closed")
)
