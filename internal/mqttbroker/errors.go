package mqttbroker

import "errors"

// Errors surfaced internally for logging and test assertions. None of these
// ever reach a remote peer; the only observable effect of any protocol or
// transport error is the transport being closed (see error handling policy).
var (
	// ErrMalformedRemainingLength is returned by the packet reader when the
	// variable-length Remaining Length field exceeds four bytes.
	ErrMalformedRemainingLength = errors.New("mqtt: malformed remaining length")

	// ErrMalformedConnect is returned when the first packet from a Pending
	// session is not a well-formed CONNECT.
	ErrMalformedConnect = errors.New("mqtt: malformed or missing CONNECT")

	// ErrUnknownPacketType is returned when a Connected session receives a
	// packet type outside the handled set.
	ErrUnknownPacketType = errors.New("mqtt: unsupported packet type")

	// ErrBrokerFull is returned by AcceptClient when max_clients is reached.
	ErrBrokerFull = errors.New("mqtt: broker at max client capacity")

	// ErrShortBuffer is returned by the decode helpers when a field would
	// read past the end of the available bytes.
	ErrShortBuffer = errors.New("mqtt: buffer too short for field")
)
