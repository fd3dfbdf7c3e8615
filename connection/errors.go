package connection

import "errors"

var (
	ErrNotConnected          = errors.New("connection: not connected")
	ErrAlreadyConnected      = errors.New("connection: already connected")
	ErrClosed                = errors.New("connection: closed")
	ErrUnexpectedAck         = errors.New("connection: acknowledgement for unknown packet id")
	ErrTopicAliasInvalid     = errors.New("connection: topic alias out of range or unresolved")
	ErrPacketTooLarge        = errors.New("connection: packet exceeds peer maximum packet size")
	ErrReceiveMaximumBlocked = errors.New("connection: send-side receive-maximum window exhausted")
	ErrUnsupportedPacket     = errors.New("connection: packet type not valid for current state")
)
