package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/velodyne.hdl/internal/config"
	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/l2frames"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/network"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/pipeline"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
	"github.com/banshee-data/velodyne.hdl/internal/version"
)

var (
	configPath    = flag.String("config", "", "Decoder configuration file (JSON); defaults to "+config.DefaultConfigPath)
	udpListen     = flag.String("udp-listen", fmt.Sprintf(":%d", network.DefaultDataPort), "UDP address to receive data packets on")
	pcapFile      = flag.String("pcap", "", "Replay a capture file instead of listening (requires -tags=pcap)")
	pcapPort      = flag.Int("pcap-port", network.DefaultDataPort, "Destination port of data packets in the capture (0 for any)")
	forwardAddr   = flag.String("forward", "", "Relay accepted data packets to host:port")
	metricsListen = flag.String("metrics-listen", ":9108", "HTTP address for /metrics; empty disables")
	rcvBuf        = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	logInterval   = flag.Duration("log-interval", time.Minute, "Interval between packet statistics log lines")
	diagLog       = flag.Bool("diag", false, "Enable the diagnostic log stream")
	traceLog      = flag.Bool("trace", false, "Enable the per-packet trace log stream")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	lidar.SetLogWriters(logWriters(*diagLog, *traceLog))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	collector, err := monitoring.NewDecoderCollector(nil)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	opts.Metrics = collector
	opts.OnFrame = logFrame
	opts.Trig = trig.New()

	it, err := pipeline.New(opts)
	if err != nil {
		log.Fatalf("failed to create interpreter: %v", err)
	}
	defer it.Close()

	log.Printf("hdl-decode %s: sensor %s, session %s", version.String(), opts.SensorID, it.SessionID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if *metricsListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMetrics(ctx, *metricsListen, collector.Handler())
		}()
	}

	if *pcapFile != "" {
		err = replay(ctx, *pcapFile, uint16(*pcapPort), it)
		stop()
	} else {
		err = listen(ctx, it)
	}
	it.SplitFrame(true)

	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("decoder stopped: %v", err)
	}
	log.Printf("Graceful shutdown complete (%d frames)", it.FramesSealed())
}

func logWriters(diag, trace bool) lidar.LogWriters {
	w := lidar.LogWriters{Ops: os.Stderr}
	if diag {
		w.Diag = os.Stderr
	}
	if trace {
		w.Trace = os.Stderr
	}
	return w
}

// loadConfig reads path, or the defaults file when path is empty. A
// missing defaults file yields the built-in defaults.
func loadConfig(path string) (*config.DecoderConfig, error) {
	if path != "" {
		return config.LoadDecoderConfig(path)
	}
	cfg, err := config.LoadDecoderConfig(config.DefaultConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultDecoderConfig(), nil
	}
	return cfg, err
}

func logFrame(f *l2frames.Frame) {
	lidar.Diagf("%s", f)
}

func listen(ctx context.Context, it *pipeline.Interpreter) error {
	stats := network.NewPacketStats()

	var fwd *network.PacketForwarder
	if *forwardAddr != "" {
		var err error
		fwd, err = network.NewPacketForwarder(*forwardAddr, stats, *logInterval)
		if err != nil {
			return err
		}
		defer fwd.Close()
	}

	l := network.NewUDPListener(network.UDPListenerConfig{
		Address:     *udpListen,
		RcvBuf:      *rcvBuf,
		LogInterval: *logInterval,
		Sink:        it,
		Stats:       stats,
		Forwarder:   fwd,
	})
	return l.Start(ctx)
}

func replay(ctx context.Context, path string, port uint16, it *pipeline.Interpreter) error {
	r, err := network.OpenPCAP(path, port)
	if err != nil {
		return err
	}
	defer r.Close()

	stats := network.NewPacketStats()
	sum, err := network.ReplayCapture(ctx, r, nil, port, it, stats)
	if err != nil {
		return err
	}
	stats.LogStats()
	log.Printf("replayed %s: %d frames read, %d data packets, %d rejected, %d points, capture span %v",
		path, sum.Frames, sum.Packets, sum.Rejected, sum.Points, sum.Last.Sub(sum.First))
	return nil
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
