package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fatih/color"

	"github.com/guojing7/icmpproxy/internal/wire"
)

// probeBufSize bounds the client-facing send/recv buffer.
const probeBufSize = 64

// Prober paces ICMP-over-proxy probes and aggregates their results. At
// most one probe is ever in flight, so request/reply correlation is
// positional: the next inbound datagram on the connected UDP socket is
// always the reply to the most recent send.
type Prober struct {
	cfg   Config
	stats Stats
	out   io.Writer
	conn  *net.UDPConn
	seq   uint32
}

// New validates cfg, connects an ephemeral UDP endpoint to the proxy, and
// returns a ready-to-run Prober. out receives the per-probe progress lines;
// pass os.Stdout in cmd/icmpproxy-client.
func New(cfg Config, out io.Writer) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, cfg.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial proxy %s: %w", cfg.ProxyAddr, err)
	}
	return &Prober{cfg: cfg, out: out, conn: conn}, nil
}

// Close releases the UDP socket.
func (p *Prober) Close() error { return p.conn.Close() }

// Stats returns the live stats block (safe to read concurrently, e.g. from
// a signal handler printing an early summary).
func (p *Prober) Stats() *Stats { return &p.stats }

// Run executes the probe loop until Config.Count is exhausted or ctx is
// done. A probe already in flight when ctx is cancelled is abandoned; Run
// returns nil in that case so the caller can print a summary
// unconditionally.
func (p *Prober) Run(ctx context.Context) error {
	var lastSend time.Time
	first := true

	for {
		if p.cfg.Count != nil && uint32(p.seq) >= *p.cfg.Count {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if !first {
			if remain := p.cfg.Interval - time.Since(lastSend); remain > 0 {
				select {
				case <-time.After(remain):
				case <-ctx.Done():
					return nil
				}
			}
		}
		first = false

		p.seq++
		p.stats.RecordTx(p.seq)

		req := &wire.Request{ClientSeq: p.seq, PacketLength: p.cfg.Length, Host: p.cfg.Target}
		buf, err := req.Encode()
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}

		lastSend = time.Now()
		if _, err := p.conn.Write(buf); err != nil {
			p.stats.RecordLoss()
			p.printLoss(err)
			continue
		}

		if err := p.conn.SetReadDeadline(lastSend.Add(p.cfg.Timeout)); err != nil {
			p.stats.RecordLoss()
			p.printLoss(err)
			continue
		}
		rbuf := make([]byte, probeBufSize)
		n, err := p.conn.Read(rbuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.stats.RecordTimeout()
				p.printTimeout()
				continue
			}
			p.stats.RecordLoss()
			p.printLoss(err)
			continue
		}

		reply, err := wire.DecodeReply(rbuf[:n])
		if err != nil {
			p.stats.RecordLoss()
			p.printLoss(err)
			continue
		}

		isSentinel := reply.Elapse == wire.TimeoutSentinel
		elapse := time.Duration(reply.Elapse) * time.Microsecond
		p.stats.RecordReply(elapse, isSentinel)
		p.printReply(reply, elapse, isSentinel)
	}
}

func (p *Prober) printReply(reply *wire.Reply, elapse time.Duration, isSentinel bool) {
	if isSentinel {
		p.printTimeout()
		return
	}
	ms := elapse / time.Millisecond
	us := (elapse % time.Millisecond) / time.Microsecond
	line := fmt.Sprintf("%d bytes from %s: seq %d ttl %d time %d.%03d ms",
		p.cfg.Length, p.cfg.Target, reply.ClientSeq, reply.TTL, ms, us)
	p.println(line, color.FgGreen)
}

func (p *Prober) printTimeout() {
	p.println(fmt.Sprintf("seq %d timeout", p.seq), color.FgYellow)
}

func (p *Prober) printLoss(err error) {
	p.println(fmt.Sprintf("seq %d error: %v", p.seq, err), color.FgRed)
}

func (p *Prober) println(line string, c color.Attribute) {
	if p.cfg.Color {
		line = color.New(c).Sprint(line)
	}
	fmt.Fprintln(p.out, line)
}
