//go:build linux

// Package proxy implements the proxy dispatcher: one UDP listener and two
// raw-ICMP reply readers, sharing the ICMP engine without any per-request
// bookkeeping of their own.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/guojing7/icmpproxy/internal/icmpengine"
	"github.com/guojing7/icmpproxy/internal/wire"
)

// recvPoll bounds how long recvClientLoop blocks in ReadFromUDP between
// ctx.Done() checks, so cancellation is noticed even with no client traffic.
const recvPoll = 500 * time.Millisecond

// Dispatcher binds a UDP listener and multiplexes it against an ICMP
// engine's two raw sockets. It stores no per-request state: each Echo
// Reply carries its own routing context.
type Dispatcher struct {
	log    *slog.Logger
	engine *icmpengine.Engine
	conn   *net.UDPConn
}

// New constructs the ICMP engine, binds UDP on 0.0.0.0:cfg.Port, and returns
// a Dispatcher ready for Run. Raw-socket construction failure here is fatal.
func New(cfg Config) (*Dispatcher, error) {
	engine, err := icmpengine.New(icmpengine.Config{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("proxy: listen udp :%d: %w", cfg.Port, err)
	}
	return &Dispatcher{log: cfg.Logger, engine: engine, conn: conn}, nil
}

// Close releases the UDP socket and the ICMP engine's raw sockets.
func (d *Dispatcher) Close() error {
	err1 := d.conn.Close()
	err2 := d.engine.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Run starts the two raw-socket reply readers and then loops on UDP
// receive until ctx is done. It returns nil on clean cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() { defer close(done); d.readReplies(ctx, d.engine.RecvFromV4, "v4") }()
	go func() { d.readReplies(ctx, d.engine.RecvFromV6, "v6") }()

	err := d.recvClientLoop(ctx)
	<-done
	return err
}

// recvClientLoop implements the client->ICMP path: decode, validate, and
// forward each inbound client frame as an Echo Request. Malformed frames
// are logged at debug level, per-datagram read and send errors at error
// level, and all of them are skipped; the loop itself never stops on their
// account.
func (d *Dispatcher) recvClientLoop(ctx context.Context) error {
	buf := make([]byte, clientFrameMax)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.conn.SetReadDeadline(time.Now().Add(recvPoll)); err != nil {
			return fmt.Errorf("proxy: set read deadline: %w", err)
		}
		n, clientAddr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if d.log != nil {
				d.log.Error("proxy: udp read", "err", err)
			}
			continue
		}

		req, err := wire.DecodeRequest(buf[:n])
		if err != nil {
			if d.log != nil {
				d.log.Debug("proxy: dropped malformed client frame", "from", clientAddr, "len", n, "err", err)
			}
			continue
		}

		target := net.IP(req.Host)
		if _, err := d.engine.SendTo(clientAddr, target, req.ClientSeq, int(req.PacketLength)); err != nil {
			if d.log != nil {
				d.log.Error("proxy: icmp send", "target", target, "seq", req.ClientSeq, "err", err)
			}
			continue
		}
	}
}

// readReplies is the per-family ICMP->client path: wait for a ProxyInfo from
// the engine, build the reply frame, and send it back to the originating
// client. Parse errors and timeouts are silently absorbed so one foreign or
// malformed datagram never stalls the reader.
func (d *Dispatcher) readReplies(ctx context.Context, recv func() (*icmpengine.ProxyInfo, error), family string) {
	for {
		if ctx.Err() != nil {
			return
		}
		info, err := recv()
		if err != nil {
			if errors.Is(err, icmpengine.ErrTimeout) {
				continue
			}
			if d.log != nil {
				d.log.Debug("proxy: dropped icmp reply", "family", family, "err", err)
			}
			continue
		}

		reply := &wire.Reply{ClientSeq: info.Seq, Elapse: info.Elapse, TTL: info.TTL}
		if _, err := d.conn.WriteToUDP(reply.Encode(), info.Target); err != nil {
			if d.log != nil {
				d.log.Error("proxy: udp reply write", "family", family, "to", info.Target, "err", err)
			}
		}
	}
}
