package icmpengine

import "net"

// ProxyInfo is the correlation context recovered from a single Echo Reply:
// everything the dispatcher needs to route the reply back to the client
// that originated it, reconstructed entirely from the embedded payload.
// Lifetime is one reply cycle; nothing here is persisted by the engine.
type ProxyInfo struct {
	Target *net.UDPAddr // client's original UDP address
	Seq    uint32       // client's sequence number
	Elapse uint32       // microseconds since tx_time (wraparound not expected at probe timescales)
	TTL    uint8        // lifted from the IP/IPv6 header of the reply
}
