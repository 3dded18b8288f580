package swarmnet

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/relaycast/relaycast/protocol"
)

// readBufferSize comfortably covers any single UDP datagram this module ever
// sends; actual payloads stay well under the spec's suggested 1400B MTU.
const readBufferSize = 65535

// Inbound is one received, already-decoded datagram plus its source address.
type Inbound struct {
	Packet protocol.Packet
	From   netip.AddrPort
}

// Transport owns the node's one UDP socket. Sends are synchronous
// best-effort (spec §4.2: "no retransmission, no delivery confirmation");
// receives are delivered over a channel so the single event-loop goroutine
// can multiplex them against its periodic timers without its own lock.
type Transport struct {
	conn    *net.UDPConn
	logger  log.Logger
	stats   *Stats
	limiter *rate.Limiter
}

// NewTransport binds a UDP socket on all interfaces at port (0 picks an
// ephemeral port, useful in tests).
func NewTransport(port int, logger log.Logger, stats *Stats) (*Transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, errors.Wrap(err, "bind udp socket")
	}
	return &Transport{conn: conn, logger: logger, stats: stats}, nil
}

// LocalPort reports the bound port, resolved if 0 was requested.
func (t *Transport) LocalPort() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetRateLimit enables optional per-peer-independent upload shaping (spec §2
// overview: "trading bandwidth for latency"); unset, sends are unshaped.
func (t *Transport) SetRateLimit(bytesPerSecond float64, burst int) {
	t.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Send encodes and fires pkt at to. A shaping drop is silent and a
// kernel-level send error is logged; neither is returned: per spec §4.2 sends
// never block on and never report delivery.
func (t *Transport) Send(pkt protocol.Packet, to netip.AddrPort) {
	data := pkt.Encode()
	if t.limiter != nil && !t.limiter.AllowN(time.Now(), len(data)) {
		return
	}
	if _, err := t.conn.WriteToUDPAddrPort(data, to); err != nil {
		t.logger.Levelf(log.Warning, "send %v to %v failed: %v", pkt.Type, to, err)
		return
	}
	if t.stats != nil {
		t.stats.AddUpload(len(data))
	}
}

// Start launches the read goroutine and returns the channel it delivers
// decoded packets on. The channel is closed when ctx is done or the socket
// is closed. Malformed datagrams are logged and dropped, never surfaced.
func (t *Transport) Start(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound, 256)
	go func() {
		defer close(out)
		buf := make([]byte, readBufferSize)
		for {
			if err := t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				return
			}
			n, from, err := t.conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				t.logger.Levelf(log.Warning, "udp read error: %v", err)
				continue
			}
			if t.stats != nil {
				t.stats.AddDownload(n, from)
			}
			pkt, err := protocol.Decode(buf[:n])
			if err != nil {
				t.logger.Levelf(log.Debug, "dropping malformed packet from %v: %v", from, err)
				continue
			}
			select {
			case out <- Inbound{Packet: pkt, From: from}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close shuts down the socket, unblocking Start's read goroutine.
func (t *Transport) Close() error { return t.conn.Close() }
