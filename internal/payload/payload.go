// Package payload implements the proxy-authored private payload that rides
// inside every ICMP Echo Request/Reply this system sends, carrying the full
// client/proxy correlation context so the proxy itself stores no per-request
// state.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/guojing7/icmpproxy/internal/checksum"
)

// Magic discriminates this system's traffic from arbitrary foreign ICMP.
const Magic uint32 = 0x19170923

// fixedSize is every field except the variable-length host: magic(4) +
// checksum(2) + pid(4) + client_seq(4) + tx_time(8) + port(2) + host_len(1).
const fixedSize = 4 + 2 + 4 + 4 + 8 + 2 + 1

const (
	checksumOff = 4
	pidOff      = 6
	seqOff      = 10
	txTimeOff   = 14
	portOff     = 22
	hostLenOff  = 24
	hostOff     = 25
)

var (
	// ErrMagic is returned by Decode when the leading magic field doesn't match.
	ErrMagic = errors.New("payload: bad magic")
	// ErrChecksum is returned by Decode when the private-payload checksum mismatches.
	ErrChecksum = errors.New("payload: checksum mismatch")
	// ErrHostLen is returned when host_len is neither 4 nor 16.
	ErrHostLen = errors.New("payload: host length must be 4 or 16")
	// ErrShort is returned when the buffer is too small to hold a payload.
	ErrShort = errors.New("payload: buffer too short")
)

// Payload is the decoded form of the embedded correlation record.
type Payload struct {
	PID       uint32
	ClientSeq uint32
	TxTime    uint64 // proxy monotonic microseconds at send
	Port      uint16
	Host      net.IP // 4 or 16 bytes, always normalized
}

// EncodedLen returns the wire size of p's payload given its Host field, or an
// error if Host is neither a 4- nor 16-byte address.
func (p *Payload) EncodedLen() (int, error) {
	hl, err := hostLen(p.Host)
	if err != nil {
		return 0, err
	}
	return fixedSize + hl, nil
}

func hostLen(ip net.IP) (int, error) {
	if v4 := ip.To4(); v4 != nil {
		return 4, nil
	}
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil {
		return 16, nil
	}
	return 0, ErrHostLen
}

// Encode writes p into dst (which must be at least EncodedLen() bytes) and
// returns the encoded slice. The checksum field is computed last, over the
// whole payload with the checksum field held at zero.
func (p *Payload) Encode(dst []byte) ([]byte, error) {
	n, err := p.EncodedLen()
	if err != nil {
		return nil, err
	}
	if len(dst) < n {
		return nil, ErrShort
	}
	buf := dst[:n]

	hostBytes := normalizeHost(p.Host, n-fixedSize)

	binary.BigEndian.PutUint32(buf[0:], Magic)
	binary.BigEndian.PutUint16(buf[checksumOff:], 0)
	binary.BigEndian.PutUint32(buf[pidOff:], p.PID)
	binary.BigEndian.PutUint32(buf[seqOff:], p.ClientSeq)
	binary.BigEndian.PutUint64(buf[txTimeOff:], p.TxTime)
	binary.BigEndian.PutUint16(buf[portOff:], p.Port)
	buf[hostLenOff] = byte(len(hostBytes))
	copy(buf[hostOff:], hostBytes)

	sum := checksum.Internet(buf)
	binary.BigEndian.PutUint16(buf[checksumOff:], sum)
	return buf, nil
}

func normalizeHost(ip net.IP, want int) []byte {
	if want == 4 {
		return ip.To4()
	}
	return ip.To16()
}

// Decode parses a private payload from the front of buf, verifying magic and
// checksum. It mutates buf's checksum field transiently (zeroing it to
// recompute the checksum) and restores it before returning, so callers may
// safely reuse buf afterward. The pid field is returned, not validated: the
// proxy's identity filter (ErrID in icmpengine) is the caller's responsibility.
func Decode(buf []byte) (*Payload, error) {
	if len(buf) < fixedSize {
		return nil, ErrShort
	}
	if binary.BigEndian.Uint32(buf[0:]) != Magic {
		return nil, ErrMagic
	}
	hl := int(buf[hostLenOff])
	if hl != 4 && hl != 16 {
		return nil, ErrHostLen
	}
	total := fixedSize + hl
	if len(buf) < total {
		return nil, ErrShort
	}
	region := buf[:total]

	wantSum := binary.BigEndian.Uint16(region[checksumOff:])
	binary.BigEndian.PutUint16(region[checksumOff:], 0)
	gotSum := checksum.Internet(region)
	binary.BigEndian.PutUint16(region[checksumOff:], wantSum)
	if gotSum != wantSum {
		return nil, fmt.Errorf("%w: want %#04x got %#04x", ErrChecksum, wantSum, gotSum)
	}

	p := &Payload{
		PID:       binary.BigEndian.Uint32(region[pidOff:]),
		ClientSeq: binary.BigEndian.Uint32(region[seqOff:]),
		TxTime:    binary.BigEndian.Uint64(region[txTimeOff:]),
		Port:      binary.BigEndian.Uint16(region[portOff:]),
		Host:      net.IP(append([]byte(nil), region[hostOff:total]...)),
	}
	return p, nil
}
