package swarmnet

import (
	"encoding/json"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"github.com/anacrolix/sync"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

// sourceWindow is the width of the trailing distribution SPEC_FULL.md §5
// promises alongside each source's lifetime total.
const sourceWindow = 10 * time.Second

// sourceStat is one peer address's download tally: a lifetime total plus a
// sliding window that resets whenever it goes stale, rather than a proper
// bucketed histogram — cheap, and the only thing a dashboard-less stats
// report needs.
type sourceStat struct {
	total       int64
	windowStart time.Time
	windowBytes int64
}

// Count is an atomically-updated running total, ported from the teacher's
// atomic-count.go: a thin Int64 wrapper with a humanized String().
type Count struct {
	n atomic.Int64
}

func (c *Count) Add(delta int64) int64 { return c.n.Add(delta) }
func (c *Count) Int64() int64          { return c.n.Load() }
func (c *Count) String() string        { return humanize.Comma(c.n.Load()) }

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.n.Load())
}

// Stats is the process-wide observability sink (spec §2 overview: "Counters
// surfaced to dashboard", 10% share — the dashboard itself is out of scope,
// only the counters are). One Stats is shared between a Node's Transport
// (byte counters) and its periodic loops (peer count, RTT, bitmap summary),
// and is safe for concurrent use since the read/receive goroutine and the
// event loop both touch it: the scalar counters are atomics, and
// downloadBySource — the one map in this struct — is guarded by mu because
// both Transport.Start's read goroutine and Node.Run's event loop call
// AddDownload concurrently.
type Stats struct {
	uploadBytes   Count
	downloadBytes Count

	mu               sync.Mutex
	downloadBySource map[string]*sourceStat

	peerCount     atomic.Int64
	avgRTTMicros  atomic.Int64
	bitmapSummary atomic.Value // string

	registry  *prometheus.Registry
	gUpload   prometheus.Gauge
	gDownload prometheus.Gauge
	gPeers    prometheus.Gauge
	gRTT      prometheus.Gauge
}

func NewStats() *Stats {
	s := &Stats{
		downloadBySource: make(map[string]*sourceStat),
		registry:         prometheus.NewRegistry(),
	}
	s.bitmapSummary.Store("0 chunks")
	s.gUpload = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaycast_upload_bytes_total", Help: "Cumulative bytes sent."})
	s.gDownload = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaycast_download_bytes_total", Help: "Cumulative bytes received."})
	s.gPeers = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaycast_peer_count", Help: "Currently known live peers."})
	s.gRTT = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaycast_avg_rtt_micros", Help: "Mean smoothed RTT across peers, in microseconds."})
	s.registry.MustRegister(s.gUpload, s.gDownload, s.gPeers, s.gRTT)
	return s
}

// Registry exposes the Prometheus registry for a caller that wants to serve
// /metrics; relaycast itself never starts that HTTP server (out of scope).
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

func (s *Stats) AddUpload(n int) {
	s.uploadBytes.Add(int64(n))
	s.gUpload.Set(float64(s.uploadBytes.Int64()))
}

func (s *Stats) AddDownload(n int, from netip.AddrPort) {
	s.downloadBytes.Add(int64(n))
	s.gDownload.Set(float64(s.downloadBytes.Int64()))

	key := from.Addr().String()
	now := time.Now()
	s.mu.Lock()
	st, ok := s.downloadBySource[key]
	if !ok {
		st = &sourceStat{windowStart: now}
		s.downloadBySource[key] = st
	}
	st.total += int64(n)
	if now.Sub(st.windowStart) > sourceWindow {
		st.windowStart = now
		st.windowBytes = int64(n)
	} else {
		st.windowBytes += int64(n)
	}
	s.mu.Unlock()
}

func (s *Stats) UpdatePeerCount(n int) {
	s.peerCount.Store(int64(n))
	s.gPeers.Set(float64(n))
}

func (s *Stats) UpdateAvgRTT(d time.Duration) {
	s.avgRTTMicros.Store(d.Microseconds())
	s.gRTT.Set(float64(d.Microseconds()))
}

func (s *Stats) UpdateBitmapSummary(summary string) {
	s.bitmapSummary.Store(summary)
}

// RecordPeerReport accepts a received STATS_REPORT payload from a viewer.
// relaycast does not aggregate cross-peer reports into a dashboard (out of
// scope); it only makes sure the sender has an entry in the per-source
// download distribution, adding no bytes to it.
func (s *Stats) RecordPeerReport(from netip.AddrPort, payload []byte) {
	s.AddDownload(0, from) // payload bytes already counted by the transport read path
}

// SourceDownload is one peer address's contribution to download traffic: a
// lifetime total plus its share of the last sourceWindow.
type SourceDownload struct {
	Source        string `json:"source"`
	TotalBytes    int64  `json:"total_bytes"`
	TrailingBytes int64  `json:"trailing_10s_bytes"`
}

// Snapshot is the JSON body a viewer sends as a STATS_REPORT (spec §4.4),
// supplemented with the per-source lifetime/trailing-10s distribution
// carried over from the original source's stats_manager.py (SPEC_FULL.md
// §5).
type Snapshot struct {
	UploadBytes      int64            `json:"upload_bytes"`
	DownloadBytes    int64            `json:"download_bytes"`
	PeerCount        int64            `json:"peer_count"`
	AvgRTTMicros     int64            `json:"avg_rtt_micros"`
	BitmapSummary    string           `json:"bitmap_summary"`
	DownloadBySource []SourceDownload `json:"download_by_source"`
}

func (s *Stats) Snapshot() Snapshot {
	now := time.Now()
	s.mu.Lock()
	bySource := make([]SourceDownload, 0, len(s.downloadBySource))
	for addr, st := range s.downloadBySource {
		trailing := st.windowBytes
		if now.Sub(st.windowStart) > sourceWindow {
			trailing = 0
		}
		bySource = append(bySource, SourceDownload{
			Source:        addr,
			TotalBytes:    st.total,
			TrailingBytes: trailing,
		})
	}
	s.mu.Unlock()
	sort.Slice(bySource, func(i, j int) bool { return bySource[i].Source < bySource[j].Source })

	return Snapshot{
		UploadBytes:      s.uploadBytes.Int64(),
		DownloadBytes:    s.downloadBytes.Int64(),
		PeerCount:        s.peerCount.Load(),
		AvgRTTMicros:     s.avgRTTMicros.Load(),
		BitmapSummary:    s.bitmapSummary.Load().(string),
		DownloadBySource: bySource,
	}
}

func averageRTT(peers map[netip.AddrPort]*Peer) time.Duration {
	var total time.Duration
	var n int
	for _, p := range peers {
		if p.RTT > 0 {
			total += p.RTT
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
