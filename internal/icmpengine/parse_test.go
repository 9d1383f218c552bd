//go:build linux

package icmpengine

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guojing7/icmpproxy/internal/checksum"
	"github.com/guojing7/icmpproxy/internal/payload"
)

func testEngine(pid uint32) *Engine {
	return &Engine{pid: pid}
}

// buildReplyV4 constructs an IPv4 header + ICMP Echo Reply + embedded
// payload, exactly as a target would echo one of our requests back.
func buildReplyV4(t *testing.T, pid, clientSeq uint32, txTime uint64, port uint16, host net.IP, ttl uint8) []byte {
	t.Helper()
	p := &payload.Payload{PID: pid, ClientSeq: clientSeq, TxTime: txTime, Port: port, Host: host}
	n, err := p.EncodedLen()
	require.NoError(t, err)

	icmp := make([]byte, icmpHeaderLen+n)
	icmp[0] = 0 // Echo Reply
	icmp[1] = 0
	binary.BigEndian.PutUint16(icmp[4:], 0x1917)
	binary.BigEndian.PutUint16(icmp[6:], 1)
	_, err = p.Encode(icmp[icmpHeaderLen:])
	require.NoError(t, err)
	binary.BigEndian.PutUint16(icmp[2:4], checksum.Internet(icmp))

	ip := make([]byte, 20+len(icmp))
	ip[0] = 0x45
	ip[8] = ttl
	ip[9] = 1
	copy(ip[20:], icmp)
	return ip
}

// Build the Echo Reply a target would send back within an IPv4 header and
// confirm parse recovers seq/target/ttl/elapse.
func TestEngine_Parse_V4_RoundTrip(t *testing.T) {
	t.Parallel()
	e := testEngine(4242)
	host := net.IPv4(10, 0, 0, 5)
	buf := buildReplyV4(t, 4242, 7, 1000, 33000, host, 55)

	info, err := e.parse(buf, 1000+12345)
	require.NoError(t, err)
	require.Equal(t, uint32(7), info.Seq)
	require.True(t, info.Target.IP.Equal(host))
	require.Equal(t, 33000, info.Target.Port)
	require.Equal(t, uint8(55), info.TTL)
	require.Equal(t, uint32(12345), info.Elapse)
}

func TestEngine_Parse_V6_Offsets(t *testing.T) {
	t.Parallel()
	e := testEngine(99)
	host := net.ParseIP("2001:db8::1")
	p := &payload.Payload{PID: 99, ClientSeq: 3, TxTime: 500, Port: 9999, Host: host}
	n, err := p.EncodedLen()
	require.NoError(t, err)

	icmp := make([]byte, icmpHeaderLen+n)
	icmp[0] = byte(129) // Echo Reply
	binary.BigEndian.PutUint16(icmp[4:], 0x1917)
	binary.BigEndian.PutUint16(icmp[6:], 1)
	_, err = p.Encode(icmp[icmpHeaderLen:])
	require.NoError(t, err)
	binary.BigEndian.PutUint16(icmp[2:4], checksum.Internet(icmp))

	buf := make([]byte, ipv6ICMPOff+len(icmp))
	buf[0] = 0x60
	buf[ipv6HLOff] = 64
	copy(buf[ipv6ICMPOff:], icmp)

	info, err := e.parse(buf, 600)
	require.NoError(t, err)
	require.Equal(t, uint32(3), info.Seq)
	require.Equal(t, uint8(64), info.TTL)
	require.True(t, info.Target.IP.Equal(host))
}

func TestEngine_Parse_RejectsUnknownIPVersion(t *testing.T) {
	t.Parallel()
	e := testEngine(1)
	buf := make([]byte, 20)
	buf[0] = 0x50 // version 5
	_, err := e.parse(buf, 0)
	require.ErrorIs(t, err, ErrIPHeader)
}

func TestEngine_Parse_RejectsWrongPID(t *testing.T) {
	t.Parallel()
	e := testEngine(1)
	buf := buildReplyV4(t, 2, 1, 0, 1, net.IPv4(1, 2, 3, 4), 1)
	_, err := e.parse(buf, 0)
	require.ErrorIs(t, err, ErrID)
}

func TestEngine_Parse_RejectsNonEchoReplyType(t *testing.T) {
	t.Parallel()
	e := testEngine(1)
	buf := buildReplyV4(t, 1, 1, 0, 1, net.IPv4(1, 2, 3, 4), 1)
	buf[20] = 8 // Echo Request, not Reply
	_, err := e.parse(buf, 0)
	require.ErrorIs(t, err, ErrType)
}

func TestEngine_Parse_DropsBadMagic(t *testing.T) {
	t.Parallel()
	e := testEngine(1)
	buf := buildReplyV4(t, 1, 1, 0, 1, net.IPv4(1, 2, 3, 4), 1)
	buf[28] ^= 0xff // corrupt magic, which starts right after the 8-byte ICMP header at offset 20
	_, err := e.parse(buf, 0)
	require.ErrorIs(t, err, payload.ErrMagic)
}
