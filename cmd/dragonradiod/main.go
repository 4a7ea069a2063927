// Command dragonradiod runs one mesh node: it loads its configuration
// and schedule, assembles the radio/PHY/synthesizer/demodulator/MAC
// pipeline, bridges it to a tun/tap network interface, and serves
// Prometheus metrics until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dragonradio/band"
	"dragonradio/channelizer"
	"dragonradio/config"
	"dragonradio/demod"
	"dragonradio/dlog"
	"dragonradio/mac"
	"dragonradio/mandate"
	"dragonradio/netio"
	"dragonradio/phy"
	"dragonradio/pkt"
	"dragonradio/radio"
	"dragonradio/schedule"
	"dragonradio/synth"
)

// DebugMode mirrors the teacher's global debug flag, consulted by
// verbose logging call sites.
var DebugMode bool

// StartTime is the process's start time, for uptime reporting.
var StartTime time.Time

func main() {
	StartTime = time.Now()

	configFile := flag.String("config", "node.yaml", "Path to node configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("dragonradiod (dev build)")
		return
	}

	DebugMode = *debug
	if v := os.Getenv("DEBUG"); v != "" {
		DebugMode = v == "true" || v == "1" || v == "yes"
	}
	if DebugMode {
		log.Println("debug mode enabled")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	node, err := newNode(cfg)
	if err != nil {
		log.Fatalf("failed to assemble node: %v", err)
	}
	defer node.close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("shutting down...")
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	node.mac.Start(ctx)
	go node.tx.Run(ctx)

	<-ctx.Done()
	metricsServer.Close()
	if err := node.mac.Stop(); err != nil {
		log.Printf("mac stop: %v", err)
	}
}

// node holds every long-lived component assembled for a run, so main
// can start/stop/close them as a unit.
type node struct {
	cfg    *config.Config
	mac    *mac.Mac
	queue  *mandate.Queue
	tap    *netio.TunTap
	filter *netio.NetFilter
	comp   *netio.PacketCompressor
	logger *dlog.Logger
	notify *dlog.TXNotifier
	tx     *netio.TXPipeline
	rx     *netio.RXPipeline
}

func newNode(cfg *config.Config) (*node, error) {
	sched, err := schedule.Load(cfg.Schedule.File)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	r, err := buildRadio(cfg.Radio)
	if err != nil {
		return nil, fmt.Errorf("build radio: %w", err)
	}

	p := phy.ReferencePHY{}
	channels := []band.Channel{{FC: 0, BW: float64(cfg.Radio.SampleRate)}}

	synthesizer := synth.New(p, synth.DefaultParams(), float64(cfg.Radio.SampleRate), channels, 1, sched)
	demodPool := demod.New(p, channelizer.DefaultParams(), float64(cfg.Radio.SampleRate), channels, 1)

	queue := mandate.New(time.Now, func(p *pkt.NetPacket, reason string) {
		log.Printf("dropped packet to node %d: %s", p.Header.Nexthop, reason)
	})
	for _, m := range cfg.Mandates {
		queue.SetMandate(flowUIDForName(m.Name), mandate.Mandate{
			MinThroughputBps: m.MinThroughputBps,
			MaxLatencyS:      m.MaxLatencyS,
			PointValue:       m.PointValue,
			Kind:             mandateKind(m.Kind),
		})
	}
	source := mac.NewQueueSource(queue)

	logger, err := dlog.Open(cfg.Radio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	notifier := dlog.NewTXNotifier(logger, 64)

	m := mac.New(mac.Config{
		Radio:       r,
		Synthesizer: synthesizer,
		DemodPool:   demodPool,
		Source:      source,
		Schedule:    sched,
		LeadTime:    config.LeadTime,
		Lookahead:   2,
		Controller:  notifier,
	})

	tap, err := netio.Open(cfg.TunTap.Device, cfg.Node.ID, cfg.TunTap.MTU, cfg.TunTap.Persistent)
	if err != nil {
		return nil, fmt.Errorf("open tun/tap: %w", err)
	}

	peers := make(map[uint8]struct{}, len(cfg.Node.Peers))
	for _, id := range cfg.Node.Peers {
		peers[id] = struct{}{}
		if err := tap.AddARPEntry(id); err != nil {
			log.Printf("add ARP entry for node %d: %v", id, err)
		}
	}

	filter := netio.NewNetFilter(netio.StaticNeighborhood{This: cfg.Node.ID, Peers: peers})
	comp := netio.NewPacketCompressor(true)

	n := &node{
		cfg:    cfg,
		mac:    m,
		queue:  queue,
		tap:    tap,
		filter: filter,
		comp:   comp,
		logger: logger,
		notify: notifier,
		tx:     netio.NewTXPipeline(tap, filter, comp, queue),
		rx:     netio.NewRXPipeline(tap, comp),
	}

	m.SetRecvCallback(func(channel int, payload []byte) {
		n.rx.Deliver(payload)
	})

	return n, nil
}

func buildRadio(rc config.RadioConfig) (radio.Radio, error) {
	switch rc.Driver {
	case "loopback":
		a, _ := radio.NewLoopbackPair()
		return a, nil
	case "udp":
		rxAddr, err := net.ResolveUDPAddr("udp4", rc.RxAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve rx_addr: %w", err)
		}
		txAddr, err := net.ResolveUDPAddr("udp4", rc.TxAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve tx_addr: %w", err)
		}
		var iface *net.Interface
		if rc.Interface != "" {
			iface, err = net.InterfaceByName(rc.Interface)
			if err != nil {
				return nil, fmt.Errorf("lookup interface %s: %w", rc.Interface, err)
			}
		}
		return radio.NewUDPRadio(rxAddr, txAddr, iface)
	default:
		return nil, fmt.Errorf("unknown radio driver %q", rc.Driver)
	}
}

func (n *node) close() {
	n.rx.Close()
	n.notify.Close()
	n.tap.Close()
	if n.cfg.Logging.Enabled {
		path := filepath.Join(n.cfg.Logging.Dir, fmt.Sprintf("node%d.h5", n.cfg.Node.ID))
		if err := n.logger.Flush(path); err != nil {
			log.Printf("flush log: %v", err)
		}
	}
	n.logger.Close()
}

func flowUIDForName(name string) [16]byte {
	return [16]byte(uuid.NewSHA1(uuid.Nil, []byte(name)))
}

func mandateKind(kind string) mandate.MandateKind {
	if kind == "file_transfer" {
		return mandate.KindFileTransfer
	}
	return mandate.KindThroughput
}
