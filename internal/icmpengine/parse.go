//go:build linux

package icmpengine

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/guojing7/icmpproxy/internal/payload"
)

const (
	ipv4TTLOff  = 8
	ipv6HLOff   = 7
	ipv6ICMPOff = 40
)

// parse inspects the leading IP header to find the ICMP offset and ttl,
// requires an Echo Reply of the matching family, decodes and authenticates
// the private payload, and returns the correlation context recovered from
// it. now is the caller's elapsed-microseconds snapshot taken immediately
// on receipt, so RTT excludes parse cost.
func (e *Engine) parse(buf []byte, now uint64) (*ProxyInfo, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("icmpengine: parse: %w", ErrIPHeader)
	}
	version := buf[0] >> 4

	var icmpOff int
	var ttl uint8
	switch version {
	case 4:
		if len(buf) < 20 {
			return nil, fmt.Errorf("icmpengine: parse: %w", ErrIPHeader)
		}
		ihl := int(buf[0]&0x0f) * 4
		if ihl < 20 || len(buf) < ihl+icmpHeaderLen {
			return nil, fmt.Errorf("icmpengine: parse: %w", ErrIPHeader)
		}
		icmpOff = ihl
		ttl = buf[ipv4TTLOff]
		if buf[icmpOff] != byte(ipv4.ICMPTypeEchoReply) {
			return nil, fmt.Errorf("icmpengine: parse: %w", ErrType)
		}
	case 6:
		if len(buf) < ipv6ICMPOff+icmpHeaderLen {
			return nil, fmt.Errorf("icmpengine: parse: %w", ErrIPHeader)
		}
		icmpOff = ipv6ICMPOff
		ttl = buf[ipv6HLOff]
		if buf[icmpOff] != byte(ipv6.ICMPTypeEchoReply) {
			return nil, fmt.Errorf("icmpengine: parse: %w", ErrType)
		}
	default:
		return nil, fmt.Errorf("icmpengine: parse: %w", ErrIPHeader)
	}

	p, err := payload.Decode(buf[icmpOff+icmpHeaderLen:])
	if err != nil {
		return nil, fmt.Errorf("icmpengine: parse: %w", err)
	}
	if p.PID != e.pid {
		return nil, fmt.Errorf("icmpengine: parse: %w", ErrID)
	}

	return &ProxyInfo{
		Target: &net.UDPAddr{IP: p.Host, Port: int(p.Port)},
		Seq:    p.ClientSeq,
		Elapse: uint32(now - p.TxTime),
		TTL:    ttl,
	}, nil
}
