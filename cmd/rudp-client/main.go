// Command rudp-client is a sample client binary: it connects to a server,
// sends each line of stdin as a reliable application command 0 message,
// and logs whatever comes back.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/duskline/rudp/internal/client"
	"github.com/duskline/rudp/internal/config"
	"github.com/duskline/rudp/internal/rlog"
)

const version = "1.0.0"

func main() {
	var (
		localAddr  string
		serverAddr string
		configPath string
	)

	root := &cobra.Command{
		Use:   "rudp-client",
		Short: "Connect to a reliable-UDP server and exchange messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.Default()
			rlog.Banner("rudp-client", version)

			cfg, err := config.Load(configPath, localAddr)
			if err != nil {
				return err
			}

			h := &stdoutHandler{log: log, ready: make(chan struct{})}
			c, err := client.Dial(cfg.BindAddr, serverAddr, cfg.Timeouts, h, nil, log)
			if err != nil {
				return err
			}
			defer c.Close()

			<-h.ready
			log.Infow("connected", "server", c.RemoteAddr())

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if err := c.Send(true, 0, []byte(line)); err != nil {
					log.Warnw("send failed", "err", err)
				}
			}
			return nil
		},
	}
	root.Flags().StringVar(&localAddr, "local", "0.0.0.0:0", "local address to bind")
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:7777", "server address to connect to")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file (see internal/config)")

	if err := root.Execute(); err != nil {
		rlog.Default().Errorw("exiting", "err", err)
		os.Exit(1)
	}
}

type stdoutHandler struct {
	log   *rlog.Logger
	ready chan struct{}
	fired bool
}

func (h *stdoutHandler) HandlePacket(c *client.Client, appCommand uint8, payload []byte) {
	fmt.Printf("[%d] %s\n", appCommand, string(payload))
}

func (h *stdoutHandler) Connected(c *client.Client) {
	if !h.fired {
		h.fired = true
		close(h.ready)
	}
}

func (h *stdoutHandler) ServerLost(c *client.Client) {
	h.log.Warnw("server connection lost")
	os.Exit(1)
}
