// Command rudp-server is a sample server binary: it echoes every
// application message it receives back to the sending peer and
// logs connects/disconnects. Mechanical per spec.md §1, kept around
// because the teacher repo ships an equivalent single entrypoint
// (core/main.go).
package main

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/metrics"
	"github.com/duskline/rudp/internal/peer"
	"github.com/duskline/rudp/internal/rlog"
	"github.com/duskline/rudp/internal/server"
)

const version = "1.0.0"

func main() {
	var (
		bindAddr   string
		configPath string
		metricsAddr string
	)

	root := &cobra.Command{
		Use:   "rudp-server",
		Short: "Run a reliable-UDP server endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.Default()
			rlog.Banner("rudp-server", version)

			cfg, err := config.Load(configPath, bindAddr)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg, "rudp_server")
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, reg)
			}

			h := &echoHandler{log: log}
			srv, err := server.Listen(cfg.BindAddr, cfg.Timeouts, h, m, log)
			if err != nil {
				return err
			}
			defer srv.Close()
			log.Infow("server listening", "addr", cfg.BindAddr)

			select {}
		},
	}
	root.Flags().StringVar(&bindAddr, "bind", "0.0.0.0:7777", "address to bind the UDP socket to")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file (see internal/config)")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	if err := root.Execute(); err != nil {
		rlog.Default().Errorw("exiting", "err", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}

// echoHandler implements server.Handler by echoing every application
// payload, whether it arrived reliably or not, back to its sender,
// reliably, on the same command.
type echoHandler struct {
	log *rlog.Logger
}

func (h *echoHandler) HandlePacket(s *server.Server, p *peer.Peer, appCommand uint8, payload []byte) {
	h.log.Debugw("received", "peer", p.ID, "command", appCommand, "bytes", len(payload))
	// HandlePacket runs on the server's own event loop, so the echo goes
	// straight through the peer rather than through s.SendTo: that method
	// is for callers outside the loop and would deadlock called from here.
	if err := p.Send(true, appCommand, payload); err != nil {
		h.log.Warnw("echo send failed", "peer", p.ID, "err", err)
	}
}

func (h *echoHandler) PeerNew(s *server.Server, p *peer.Peer) {
	h.log.Infow("peer connected", "peer", p.ID, "addr", p.Addr)
}

func (h *echoHandler) PeerDropped(s *server.Server, p *peer.Peer) {
	h.log.Infow("peer dropped", "peer", p.ID, "addr", p.Addr)
}
