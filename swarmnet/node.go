package swarmnet

import (
	"context"
	"encoding/json"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"

	"github.com/relaycast/relaycast/protocol"
	"github.com/relaycast/relaycast/scheduler"
)

// Periodic loop intervals (spec §5).
const (
	heartbeatInterval = 2 * time.Second
	bitmapInterval    = 200 * time.Millisecond
	schedulerInterval = 100 * time.Millisecond
	pruneInterval     = 5 * time.Second
	pexInterval       = 5 * time.Second
	statsInterval     = 3 * time.Second
)

// Node is the swarm state machine (spec §4.3/§4.4): it owns the ChunkStore,
// PeerTable and Transport, dispatches every received message type, drives the
// six periodic loops, and is the sole client of a scheduler.Algorithm. All of
// a Node's own state is mutated from exactly one goroutine, Run's select
// loop, matching spec §5's cooperative single-threaded model without needing
// the teacher's lockWithDeferreds machinery.
type Node struct {
	Role Role

	port      int
	store     *ChunkStore
	peers     *PeerTable
	transport *Transport
	algo      scheduler.Algorithm
	logger    log.Logger
	stats     *Stats

	running     chansync.SetOnce
	chunkEvents chan ChunkEvent
}

// ChunkEvent is emitted on Chunks() every time a new (non-duplicate) chunk
// lands in the store, whether received over the wire or injected locally —
// the hook cmd/relaycast's viewer role loop uses to feed its reassembler.
type ChunkEvent struct {
	ChunkID uint32
	Payload []byte
}

// chunkEventBacklog is generous enough that a viewer loop polling every few
// tens of milliseconds never forces the event loop to block on a slow
// consumer; a full channel just drops the event; the bitmap/retransmission
// machinery, not this channel, is the source of truth for what's been seen.
const chunkEventBacklog = 4096

// NewNode binds a UDP socket on port (0 for an ephemeral port in tests) and
// constructs a Node ready to Run. algo is selected once, at construction time
// — Splitter/DefaultPush/RarestFirst/EDF and LegacyPull are never combined on
// the same Node (spec §9 Open Question a).
func NewNode(port int, role Role, algo scheduler.Algorithm, logger log.Logger, stats *Stats) (*Node, error) {
	transport, err := NewTransport(port, logger, stats)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Role:        role,
		port:        transport.LocalPort(),
		store:       NewChunkStore(),
		peers:       NewPeerTable(),
		transport:   transport,
		algo:        algo,
		logger:      logger,
		stats:       stats,
		chunkEvents: make(chan ChunkEvent, chunkEventBacklog),
	}
	algo.OnStart(n)
	return n, nil
}

// Port is the node's bound local UDP port.
func (n *Node) Port() int { return n.port }

// Chunks streams every new chunk the node stores, from the wire or injected
// locally, for an external consumer (e.g. cmd/relaycast's viewer loop) to
// feed into its own reassembler.
func (n *Node) Chunks() <-chan ChunkEvent { return n.chunkEvents }

func (n *Node) emitChunkEvent(chunkID uint32, payload []byte) {
	select {
	case n.chunkEvents <- ChunkEvent{ChunkID: chunkID, Payload: payload}:
	default:
	}
}

// ---- scheduler.Host ----

func (n *Node) Now() time.Time               { return time.Now() }
func (n *Node) LocalBitmap() *roaring.Bitmap { return n.store.Bitmap() }

func (n *Node) ActivePeers() map[netip.AddrPort]scheduler.PeerView {
	peers := n.peers.Active()
	out := make(map[netip.AddrPort]scheduler.PeerView, len(peers))
	for addr, p := range peers {
		out[addr] = scheduler.PeerView{Addr: addr, Role: p.Role.toScheduler(), RemoteBitmap: p.RemoteBitmap}
	}
	return out
}

func (n *Node) ChunkPayload(chunkID uint32) ([]byte, bool) { return n.store.Get(chunkID) }

func (n *Node) SendData(to netip.AddrPort, chunkID uint32, payload []byte) {
	n.sendData(to, chunkID, payload)
}

func (n *Node) SendRequest(to netip.AddrPort, chunkID uint32) {
	pkt := protocol.Packet{
		Version:   protocol.CurrentVersion,
		Type:      protocol.Request,
		Timestamp: nowSeconds(),
		Payload:   []byte(strconv.FormatUint(uint64(chunkID), 10)),
	}
	n.transport.Send(pkt, to)
}

// ---- locally generated chunks (broadcaster side) ----

// InjectChunk stores a locally produced chunk (from the capture/fragmenter
// pipeline, see cmd/relaycast) and, if the selected algorithm is
// broadcaster-capable, hands it off for scheduling.
func (n *Node) InjectChunk(chunkID uint32, payload []byte) {
	n.store.Put(chunkID, payload)
	n.emitChunkEvent(chunkID, payload)
	if ba, ok := n.algo.(scheduler.BroadcasterAlgorithm); ok {
		ba.OnChunkGenerated(n, chunkID, payload)
	}
}

// ConnectTo sends an initial HANDSHAKE to a newly known address, the
// entrypoint for both the --connect flag and a PEX-discovered peer.
func (n *Node) ConnectTo(addr netip.AddrPort) {
	body, err := json.Marshal(struct {
		Role string `json:"role"`
	}{Role: n.Role.String()})
	if err != nil {
		return
	}
	pkt := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.Handshake, Timestamp: nowSeconds(), Payload: body}
	n.transport.Send(pkt, addr)
}

// ---- inbound packet dispatch (spec §4.4) ----

func (n *Node) handlePacket(pkt protocol.Packet, from netip.AddrPort) {
	n.peers.Touch(from, noRole(), time.Now())

	if n.algo.HandlePacket(n, pkt.Type, pkt.Payload, from) {
		return
	}

	switch pkt.Type {
	case protocol.Handshake:
		n.handleHandshake(pkt, from)
	case protocol.PeerList:
		n.handlePeerList(pkt, from)
	case protocol.Ping:
		n.handlePing(pkt, from)
	case protocol.Pong:
		n.handlePong(pkt, from)
	case protocol.Heartbeat:
		// liveness already recorded by the Touch above.
	case protocol.Bitmap:
		n.handleBitmap(pkt, from)
	case protocol.Request:
		n.handleRequest(pkt, from)
	case protocol.Data:
		n.handleData(pkt, from)
	case protocol.StatsReport:
		n.stats.RecordPeerReport(from, pkt.Payload)
	default:
		n.logger.Levelf(log.Debug, "unrecognized message type %v from %v", pkt.Type, from)
	}
}

func (n *Node) handleHandshake(pkt protocol.Packet, from netip.AddrPort) {
	role := RoleViewer
	if len(pkt.Payload) > 0 {
		var body struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(pkt.Payload, &body); err != nil {
			n.logger.Levelf(log.Debug, "handshake payload from %v: %v", from, err)
		} else if body.Role != "" {
			role = ParseRole(body.Role)
		}
	}
	n.peers.Touch(from, someRole(role), time.Now())
	n.sendBitmap(from)
	if n.Role == RoleBroadcaster {
		n.sendPeerList(from)
	}
	n.algo.OnPeerDiscovered(n, from)
}

func (n *Node) handlePeerList(pkt protocol.Packet, from netip.AddrPort) {
	var entries [][3]interface{}
	if err := json.Unmarshal(pkt.Payload, &entries); err != nil {
		n.logger.Levelf(log.Debug, "peer list from %v: %v", from, err)
		return
	}
	for _, e := range entries {
		host, _ := e[0].(string)
		portF, _ := e[1].(float64)
		port := int(portF)
		if port == n.port {
			continue
		}
		addr, err := parseHostPort(host, port)
		if err != nil {
			continue
		}
		if addr == from {
			// The sender's own entry carries its role.
			role, _ := e[2].(string)
			n.peers.Touch(from, someRole(ParseRole(role)), time.Now())
			continue
		}
		if _, known := n.peers.Get(addr); known {
			continue
		}
		n.ConnectTo(addr)
	}
}

func (n *Node) handlePing(pkt protocol.Packet, from netip.AddrPort) {
	reply := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.Pong, Timestamp: nowSeconds(), Payload: pkt.Payload}
	n.transport.Send(reply, from)
}

func (n *Node) handlePong(pkt protocol.Packet, from netip.AddrPort) {
	sentAt, err := strconv.ParseFloat(strings.TrimSpace(string(pkt.Payload)), 64)
	if err != nil {
		return
	}
	n.peers.UpdateRTT(from, time.Since(timeFromSeconds(sentAt)))
}

func (n *Node) handleBitmap(pkt protocol.Packet, from netip.AddrPort) {
	bm, err := DecodeBitmap(pkt.Payload)
	if err != nil {
		n.logger.Levelf(log.Debug, "bitmap from %v: %v", from, err)
		return
	}
	n.peers.UpdateBitmap(from, bm)
}

func (n *Node) handleRequest(pkt protocol.Packet, from netip.AddrPort) {
	chunkID, err := strconv.ParseUint(strings.TrimSpace(string(pkt.Payload)), 10, 32)
	if err != nil {
		n.logger.Levelf(log.Debug, "request from %v: %v", from, err)
		return
	}
	payload, ok := n.store.Get(uint32(chunkID))
	if !ok {
		n.logger.Levelf(log.Warning, "peer %v requested unknown chunk %d", from, chunkID)
		return
	}
	n.sendData(from, uint32(chunkID), payload)
}

func (n *Node) handleData(pkt protocol.Packet, from netip.AddrPort) {
	if n.store.Has(pkt.Seq) {
		return
	}
	n.store.Put(pkt.Seq, pkt.Payload)
	n.emitChunkEvent(pkt.Seq, pkt.Payload)
	n.algo.OnChunkReceived(n, pkt.Seq, pkt.Payload, from)
}

func (n *Node) sendData(to netip.AddrPort, chunkID uint32, payload []byte) {
	pkt := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.Data, Seq: chunkID, Timestamp: nowSeconds(), Payload: payload}
	n.transport.Send(pkt, to)
}

func (n *Node) sendBitmap(to netip.AddrPort) {
	data, err := EncodeBitmap(n.store.Bitmap())
	if err != nil {
		n.logger.Levelf(log.Warning, "encode bitmap: %v", err)
		return
	}
	pkt := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.Bitmap, Timestamp: nowSeconds(), Payload: data}
	n.transport.Send(pkt, to)
}

func (n *Node) sendPeerList(to netip.AddrPort) {
	type entry [3]interface{}
	var entries []entry
	for addr, p := range n.peers.Active() {
		entries = append(entries, entry{addr.Addr().String(), int(addr.Port()), p.Role.String()})
	}
	self := bestLocalIPFor(to.Addr())
	entries = append(entries, entry{self.String(), n.port, n.Role.String()})
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	pkt := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.PeerList, Timestamp: nowSeconds(), Payload: data}
	n.transport.Send(pkt, to)
}

// ---- periodic loops ----

func (n *Node) broadcastHeartbeatAndPing() {
	peers := n.peers.Active()
	if n.stats != nil {
		n.stats.UpdatePeerCount(len(peers))
		n.stats.UpdateAvgRTT(averageRTT(peers))
	}
	if len(peers) == 0 {
		return
	}
	hb := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.Heartbeat, Timestamp: nowSeconds()}
	ping := protocol.Packet{
		Version:   protocol.CurrentVersion,
		Type:      protocol.Ping,
		Timestamp: nowSeconds(),
		Payload:   []byte(strconv.FormatFloat(nowSeconds(), 'f', 6, 64)),
	}
	for addr := range peers {
		n.transport.Send(hb, addr)
		n.transport.Send(ping, addr)
	}
}

func (n *Node) broadcastBitmap() {
	bm := n.store.Bitmap()
	if n.stats != nil {
		n.stats.UpdateBitmapSummary(summarizeBitmap(bm))
	}
	for addr := range n.peers.Active() {
		n.sendBitmap(addr)
	}
}

func (n *Node) tickScheduler() {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Levelf(log.Error, "scheduler tick panic recovered: %v", r)
		}
	}()
	n.algo.OnTick(n)
}

func (n *Node) prunePeers() {
	for _, addr := range n.peers.Prune(time.Now(), LivenessTimeout) {
		n.logger.Levelf(log.Info, "pruned unresponsive peer %v", addr)
	}
}

func (n *Node) broadcastPeerList() {
	for addr := range n.peers.Active() {
		n.sendPeerList(addr)
	}
}

func (n *Node) sendStatsReport() {
	if n.Role != RoleViewer {
		return
	}
	target, ok := n.peers.FirstBroadcaster()
	if !ok {
		return
	}
	data, err := json.Marshal(n.stats.Snapshot())
	if err != nil {
		return
	}
	pkt := protocol.Packet{Version: protocol.CurrentVersion, Type: protocol.StatsReport, Timestamp: nowSeconds(), Payload: data}
	n.transport.Send(pkt, target)
}

// Run is the node's single event loop: it multiplexes inbound packets against
// the six periodic timers until ctx is canceled, then closes the transport.
func (n *Node) Run(ctx context.Context) error {
	inbound := n.transport.Start(ctx)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	bitmapTick := time.NewTicker(bitmapInterval)
	defer bitmapTick.Stop()
	schedulerTick := time.NewTicker(schedulerInterval)
	defer schedulerTick.Stop()
	pruneTick := time.NewTicker(pruneInterval)
	defer pruneTick.Stop()
	pexTick := time.NewTicker(pexInterval)
	defer pexTick.Stop()
	statsTick := time.NewTicker(statsInterval)
	defer statsTick.Stop()

	n.running.Set()
	for {
		select {
		case <-ctx.Done():
			return n.transport.Close()
		case in, ok := <-inbound:
			if !ok {
				return nil
			}
			n.handlePacket(in.Packet, in.From)
		case <-heartbeat.C:
			n.broadcastHeartbeatAndPing()
		case <-bitmapTick.C:
			n.broadcastBitmap()
		case <-schedulerTick.C:
			n.tickScheduler()
		case <-pruneTick.C:
			n.prunePeers()
		case <-pexTick.C:
			n.broadcastPeerList()
		case <-statsTick.C:
			n.sendStatsReport()
		}
	}
}

// Running reports whether Run has been started. The flag is set once and is
// not cleared when Run returns.
func (n *Node) Running() bool { return n.running.IsSet() }

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

func timeFromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
