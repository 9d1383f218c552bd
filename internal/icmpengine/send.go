//go:build linux

package icmpengine

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/guojing7/icmpproxy/internal/checksum"
	"github.com/guojing7/icmpproxy/internal/payload"
)

const (
	icmpHeaderLen = 8
	maxDatagram   = 1 << 16 // 64 KiB scratch buffer ceiling
)

// buildEcho assembles an ICMP Echo Request datagram: header, embedded
// private payload, and i&0xFF filler padding out to length. It is split
// out from SendTo so the framing itself can be unit-tested without a raw
// socket.
func (e *Engine) buildEcho(clientAddr *net.UDPAddr, isV4 bool, clientSeq uint32, length int) ([]byte, error) {
	p := &payload.Payload{
		PID:       e.pid,
		ClientSeq: clientSeq,
		TxTime:    e.elapsedMicro(),
		Port:      uint16(clientAddr.Port),
		Host:      clientAddr.IP,
	}
	payloadLen, err := p.EncodedLen()
	if err != nil {
		return nil, fmt.Errorf("icmpengine: send: %w", err)
	}
	minLen := icmpHeaderLen + payloadLen
	if length < minLen {
		length = minLen
	}
	if length > maxDatagram {
		return nil, fmt.Errorf("icmpengine: send: requested length %d exceeds %d byte ceiling", length, maxDatagram)
	}

	buf := make([]byte, length)
	seq := e.nextSeq()

	icmpType := byte(ipv4.ICMPTypeEcho)
	if !isV4 {
		icmpType = byte(ipv6.ICMPTypeEchoRequest)
	}
	buf[0] = icmpType
	buf[1] = 0 // code
	binary.BigEndian.PutUint16(buf[2:4], 0)
	binary.BigEndian.PutUint16(buf[4:6], e.id)
	binary.BigEndian.PutUint16(buf[6:8], seq)

	if _, err := p.Encode(buf[icmpHeaderLen : icmpHeaderLen+payloadLen]); err != nil {
		return nil, fmt.Errorf("icmpengine: send: encode payload: %w", err)
	}

	fillFiller(buf[icmpHeaderLen+payloadLen:])

	sum := checksum.Internet(buf)
	binary.BigEndian.PutUint16(buf[2:4], sum)
	return buf, nil
}

// SendTo builds and transmits a single ICMP Echo Request toward target,
// embedding clientAddr/clientSeq/the current tx_time in the private payload
// so the proxy needs no per-request table to correlate the eventual reply.
// length is the caller's requested total ICMP datagram size; SendTo echoes
// it back on success. The family (v4 vs v6) is chosen from target's
// address form.
func (e *Engine) SendTo(clientAddr *net.UDPAddr, target net.IP, clientSeq uint32, length int) (int, error) {
	isV4 := target.To4() != nil
	buf, err := e.buildEcho(clientAddr, isV4, clientSeq, length)
	if err != nil {
		return 0, err
	}

	if isV4 {
		dst := unix.SockaddrInet4{}
		v4 := target.To4()
		copy(dst.Addr[:], v4)
		if err := unix.Sendto(e.fd4, buf, 0, &dst); err != nil {
			return 0, fmt.Errorf("icmpengine: sendto v4: %w", err)
		}
	} else {
		dst := unix.SockaddrInet6{}
		copy(dst.Addr[:], target.To16())
		if err := unix.Sendto(e.fd6, buf, 0, &dst); err != nil {
			return 0, fmt.Errorf("icmpengine: sendto v6: %w", err)
		}
	}
	return length, nil
}

// fillFiller pads dst with the spec's i&0xFF pattern, i being the offset
// within the filler region itself.
func fillFiller(dst []byte) {
	for i := range dst {
		dst[i] = byte(i & 0xff)
	}
}
