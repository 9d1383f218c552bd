//go:build linux

// Package icmpengine is the proxy's ICMP engine: raw ICMPv4/ICMPv6 socket
// handling, Echo Request construction with an embedded self-identifying
// payload, Echo Reply parsing, and Internet checksum computation. It is a
// stateless core — the only mutable state it owns is the 16-bit ICMP
// sequence counter and the pair of raw sockets.
package icmpengine

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	minRecvBuf = 1 << 20 // 1 MiB floor for the raw sockets' receive buffers
	recvSlice  = 500 * time.Millisecond
)

// Config configures a new Engine.
type Config struct {
	Logger *slog.Logger // optional
}

// Engine owns one raw ICMPv4 and one raw ICMPv6 socket and the identity used
// to author and authenticate this proxy's Echo Requests/Replies.
type Engine struct {
	log   *slog.Logger
	fd4   int
	fd6   int
	pid   uint32 // embedded in every payload; also seeds the fixed ICMP identifier
	id    uint16 // fixed ICMP identifier for this engine instance
	start time.Time

	mu  sync.Mutex
	seq uint16 // internal ICMP sequence counter, wraps mod 2^16
}

// New opens one raw socket per IP family, applies non-blocking mode and a
// >=1MiB receive buffer to each, and records a monotonic start instant that
// all tx_time/elapse fields are measured against.
func New(cfg Config) (*Engine, error) {
	fd4, err := openRawSocket(unix.AF_INET, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("icmpengine: open ipv4 raw socket: %w", err)
	}
	fd6, err := openRawSocket(unix.AF_INET6, unix.IPPROTO_ICMPV6)
	if err != nil {
		unix.Close(fd4)
		return nil, fmt.Errorf("icmpengine: open ipv6 raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd6, unix.SOL_IPV6, unix.IPV6_RECVHOPLIMIT, 1); err != nil {
		unix.Close(fd4)
		unix.Close(fd6)
		return nil, fmt.Errorf("icmpengine: enable IPV6_RECVHOPLIMIT: %w", err)
	}

	pid := uint32(os.Getpid())
	e := &Engine{
		log:   cfg.Logger,
		fd4:   fd4,
		fd6:   fd6,
		pid:   pid,
		id:    uint16(pid & 0xffff),
		start: time.Now(),
	}
	if e.log != nil {
		e.log.Info("icmpengine: started", "pid", pid, "id", e.id)
	}
	return e, nil
}

func openRawSocket(family, proto int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_RAW, proto)
	if err != nil {
		return -1, err
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	if err := ensureRecvBuf(fd); err != nil {
		return -1, err
	}
	ok = true
	return fd, nil
}

// ensureRecvBuf raises SO_RCVBUF toward minRecvBuf; the kernel doubles and
// may cap the requested value, so this is best-effort, matching the spec's
// "increases the receive buffer to >= 1 MiB" rather than asserting equality.
func ensureRecvBuf(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, minRecvBuf)
}

// Close closes both raw sockets. Loss of a raw socket is fatal to the proxy;
// Close is for orderly shutdown only.
func (e *Engine) Close() error {
	err4 := unix.Close(e.fd4)
	err6 := unix.Close(e.fd6)
	if err4 != nil {
		return err4
	}
	return err6
}

// PID returns the proxy's process identifier, the weak identity filter
// embedded in every payload this engine authors.
func (e *Engine) PID() uint32 { return e.pid }

// nextSeq increments the internal ICMP sequence counter under a short
// critical section and returns the new value, wrapping mod 2^16.
func (e *Engine) nextSeq() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// elapsedMicro snapshots the engine's monotonic uptime in microseconds.
func (e *Engine) elapsedMicro() uint64 {
	return uint64(time.Since(e.start) / time.Microsecond)
}
