package icmpengine

import "errors"

// Parse-error kinds. Every one of these is a silent-drop condition: raw
// sockets legitimately see foreign ICMP traffic and a single malformed or
// unrelated datagram must never stall a reader loop.
var (
	// ErrIPHeader is returned when the leading IP version nibble is neither 4 nor 6.
	ErrIPHeader = errors.New("icmpengine: unrecognized IP version")
	// ErrType is returned when the ICMP type isn't the expected Echo Reply (0 or 129).
	ErrType = errors.New("icmpengine: not an echo reply")
	// ErrID is returned when the payload's embedded pid doesn't match this engine's.
	ErrID = errors.New("icmpengine: pid mismatch")
)
