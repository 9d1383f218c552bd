//go:build linux

package icmpengine

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by RecvFromV4/RecvFromV6 when no datagram arrived
// within the per-call poll slice; it is not a parse error and callers should
// simply re-enter the read loop.
var ErrTimeout = errors.New("icmpengine: recv timeout")

// maxICMPRead is the scratch buffer size for inbound ICMP datagrams.
const maxICMPRead = 1 << 16

// RecvFromV4 waits up to one poll slice for an IPv4 datagram on the raw
// ICMPv4 socket and, if one arrives, parses it. The kernel includes the
// IPv4 header on every read from this socket family, so the raw buffer is
// handed to parse unmodified. Parse failures and foreign ICMP traffic are
// reported as ordinary errors for the caller to silently drop and continue;
// only ErrTimeout should cause the caller to check for shutdown and loop
// again without logging.
func (e *Engine) RecvFromV4() (*ProxyInfo, error) {
	ready, err := pollReadable(e.fd4, recvSlice)
	if err != nil {
		return nil, fmt.Errorf("icmpengine: poll v4: %w", err)
	}
	if !ready {
		return nil, ErrTimeout
	}

	buf := make([]byte, maxICMPRead)
	n, _, err := unix.Recvfrom(e.fd4, buf, 0)
	if err != nil {
		if isWouldBlock(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("icmpengine: recvfrom v4: %w", err)
	}
	now := e.elapsedMicro()
	return e.parse(buf[:n], now)
}

// RecvFromV6 waits up to one poll slice for an IPv6 datagram on the raw
// ICMPv6 socket. Unlike IPv4, Linux strips the IPv6 header from raw ICMPv6
// reads; the hop limit is recovered instead from IPV6_RECVHOPLIMIT
// ancillary data and used to synthesize the minimal header stand-in parse
// expects.
func (e *Engine) RecvFromV6() (*ProxyInfo, error) {
	ready, err := pollReadable(e.fd6, recvSlice)
	if err != nil {
		return nil, fmt.Errorf("icmpengine: poll v6: %w", err)
	}
	if !ready {
		return nil, ErrTimeout
	}

	buf := make([]byte, maxICMPRead)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(e.fd6, buf, oob, 0)
	if err != nil {
		if isWouldBlock(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("icmpengine: recvmsg v6: %w", err)
	}
	now := e.elapsedMicro()

	hopLimit := extractHopLimit(oob[:oobn])

	full := make([]byte, ipv6ICMPOff+n)
	full[0] = 0x60 // version nibble = 6; rest of the synthetic header is unused by parse
	full[ipv6HLOff] = hopLimit
	copy(full[ipv6ICMPOff:], buf[:n])

	return e.parse(full, now)
}

func extractHopLimit(oob []byte) uint8 {
	cms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, cm := range cms {
		if cm.Header.Level == unix.SOL_IPV6 && cm.Header.Type == unix.IPV6_HOPLIMIT && len(cm.Data) >= 1 {
			return cm.Data[0]
		}
	}
	return 0
}

// pollReadable blocks up to timeout waiting for fd to become readable.
func pollReadable(fd int, timeout time.Duration) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	for {
		n, err := unix.Poll(pfd, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		return pfd[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0, nil
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
