//go:build linux

package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guojing7/icmpproxy/internal/wire"
)

// requireRawSockets skips when this process can't open a raw ICMP socket,
// mirroring the icmpengine package's own test gating.
func requireRawSockets(t *testing.T) {
	t.Helper()
	c, err := net.ListenIP("ip4:icmp", &net.IPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err == nil {
		_ = c.Close()
		return
	}
	t.Skipf("raw sockets unavailable: %v", err)
}

// A malformed client frame (a 5-byte frame that can't possibly be a valid
// request) must be dropped without disturbing the loop, and without ever
// reaching the ICMP engine.
func TestDispatcher_RecvClientLoop_DropsMalformedFrame(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	d := &Dispatcher{conn: conn}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sender, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	err = d.recvClientLoop(ctx)
	require.NoError(t, err)
}

// Full dispatcher round trip against loopback: a client frame targeting
// 127.0.0.1 should come back out the UDP socket as a Reply with a matching
// ClientSeq, exercising the proxy's two-sided concurrency without any
// per-request table.
func TestDispatcher_Run_LoopbackRoundTrip(t *testing.T) {
	t.Parallel()
	requireRawSockets(t)

	d, err := New(Config{Port: 0})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	client, err := net.DialUDP("udp", nil, d.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	req := &wire.Request{ClientSeq: 42, PacketLength: 64, Host: net.IPv4(127, 0, 0, 1)}
	frame, err := req.Encode()
	require.NoError(t, err)
	_, err = client.Write(frame)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 32)
	n, err := client.Read(buf)
	require.NoError(t, err)

	reply, err := wire.DecodeReply(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint32(42), reply.ClientSeq)

	cancel()
	<-runErr
}
