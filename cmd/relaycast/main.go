// Command relaycast runs one swarm node: either a broadcaster (captures
// frames and pushes chunks into the swarm) or a viewer (pulls/receives chunks
// and renders frames). Capture and rendering are out of scope (spec §1); this
// binary wires fake FrameSource/FrameSink implementations so the role loops
// are exercised end-to-end.
package main

import (
	"context"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"golang.org/x/sync/errgroup"

	"github.com/relaycast/relaycast/protocol"
	"github.com/relaycast/relaycast/scheduler"
	"github.com/relaycast/relaycast/swarmnet"
	"github.com/relaycast/relaycast/version"
)

type args struct {
	Role      string `arg:"required" help:"broadcaster or viewer"`
	Port      int    `arg:"required" help:"UDP port to bind"`
	Connect   string `help:"host:port of an existing swarm member to join through"`
	Algorithm string `default:"rarestfirst" help:"viewer scheduler: pushflood, rarestfirst, edf, or legacypull (broadcaster always uses splitter)"`
}

func main() {
	var a args
	arg.MustParse(&a)
	defer envpprof.Stop()

	role := swarmnet.ParseRole(a.Role)
	algo, err := selectAlgorithm(role, a.Algorithm)
	if err != nil {
		log.Default.Levelf(log.Error, "%v", err)
		os.Exit(1)
	}

	stats := swarmnet.NewStats()
	node, err := swarmnet.NewNode(a.Port, role, algo, log.Default, stats)
	if err != nil {
		log.Default.Levelf(log.Error, "start node: %v", err)
		os.Exit(1)
	}
	log.Default.Levelf(log.Info, "%s listening on udp/%d as %v using %v", version.ClientVersion, node.Port(), role, a.Algorithm)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(gctx) })

	if a.Connect != "" {
		addr, err := parseConnectFlag(a.Connect)
		if err != nil {
			log.Default.Levelf(log.Error, "--connect %q: %v", a.Connect, err)
			os.Exit(1)
		}
		node.ConnectTo(addr)
	}

	switch role {
	case swarmnet.RoleBroadcaster:
		g.Go(func() error { return runBroadcaster(gctx, node, fakeFrameSource{}) })
	case swarmnet.RoleViewer:
		g.Go(func() error { return runViewer(gctx, node, fakeFrameSink{}) })
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Default.Levelf(log.Error, "%v", err)
		os.Exit(1)
	}
}

func selectAlgorithm(role swarmnet.Role, name string) (scheduler.Algorithm, error) {
	if role == swarmnet.RoleBroadcaster {
		return scheduler.NewSplitter(), nil
	}
	switch name {
	case "pushflood":
		return scheduler.NewDefaultPush(), nil
	case "rarestfirst":
		return scheduler.NewRarestFirst(), nil
	case "edf":
		return scheduler.NewEDF(), nil
	case "legacypull":
		return scheduler.NewLegacyPull(0.3), nil
	default:
		return nil, errUnknownAlgorithm(name)
	}
}

type errUnknownAlgorithm string

func (e errUnknownAlgorithm) Error() string { return "unknown --algorithm: " + string(e) }

// FrameSource is the broadcaster-side capture boundary (spec §1:
// "capture_frame() -> bytes"). Real screen capture is out of scope; a
// production binary would implement this against an OS capture API.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// FrameSink is the viewer-side render boundary. Real decode/display is out of
// scope; a production binary would implement this against a video pipeline.
type FrameSink interface {
	RenderFrame(frameID uint32, data []byte) error
}

// runBroadcaster captures frames at a fixed rate, fragments each one (spec
// §4.6), and injects every resulting chunk into the swarm.
func runBroadcaster(ctx context.Context, node *swarmnet.Node, src FrameSource) error {
	var frameID uint32
	ticker := time.NewTicker(100 * time.Millisecond) // ~10fps capture cadence
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := src.CaptureFrame(ctx)
			if err != nil {
				log.Default.Levelf(log.Warning, "capture frame: %v", err)
				continue
			}
			fragments, err := protocol.FragmentFrame(frameID, data)
			if err != nil {
				log.Default.Levelf(log.Warning, "frame %d: %v", frameID, err)
				frameID++
				continue
			}
			for _, f := range fragments {
				node.InjectChunk(f.ChunkID, f.Payload)
			}
			frameID++
		}
	}
}

// runViewer feeds every chunk the node receives through a reassembler and on
// to the render sink, in strictly increasing frame order.
func runViewer(ctx context.Context, node *swarmnet.Node, sink FrameSink) error {
	reassembler := swarmnet.NewFrameReassembler()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-node.Chunks():
			if !ok {
				return nil
			}
			frag, err := protocol.DecodeChunkPayload(ev.Payload)
			if err != nil {
				log.Default.Levelf(log.Debug, "chunk %d: %v", ev.ChunkID, err)
				continue
			}
			if out, complete := reassembler.Add(frag); complete {
				if err := sink.RenderFrame(frag.FrameID, out); err != nil {
					log.Default.Levelf(log.Warning, "render frame %d: %v", frag.FrameID, err)
				}
			}
		}
	}
}

func parseConnectFlag(hostport string) (netip.AddrPort, error) {
	return netip.ParseAddrPort(hostport)
}

type fakeFrameSource struct{}

func (fakeFrameSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	return make([]byte, 1024), nil
}

type fakeFrameSink struct{}

func (fakeFrameSink) RenderFrame(frameID uint32, data []byte) error { return nil }
