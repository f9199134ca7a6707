package reliability

import "errors"

var (
	// ErrPacketTooLarge is returned by Send when payload exceeds
	// Config.MaxPacketSize.
	ErrPacketTooLarge = errors.New("reliability: packet exceeds max packet size")
	// ErrTooManyFragments is returned when a logical packet would need
	// more fragments than Config.MaxFragments (send side) or a received
	// fragment header claims more than that (receive side).
	ErrTooManyFragments = errors.New("reliability: fragment count exceeds limit")
	// ErrStalePacket is returned when a received sequence number falls
	// outside the receive window.
	ErrStalePacket = errors.New("reliability: packet is stale")
	// ErrInvalidPacket is returned for malformed headers or fragments.
	ErrInvalidPacket = errors.New("reliability: malformed packet")
)
