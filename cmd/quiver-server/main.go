package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"net/http"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quiverio/quiver/handshake"
	"github.com/quiverio/quiver/metrics"
	"github.com/quiverio/quiver/persist"
	"github.com/quiverio/quiver/quiverconfig"
	"github.com/quiverio/quiver/quivernet"
	"github.com/quiverio/quiver/transport"
)

func main() {
	var configPath string
	var initPath string
	var verbose bool
	flag.StringVar(&configPath, "config", "quiver-server.toml", "server configuration file")
	flag.StringVar(&initPath, "init", "", "write an example configuration to this path and exit")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	if initPath != "" {
		if err := quiverconfig.WriteExampleServer(initPath); err != nil {
			fmt.Fprintf(os.Stderr, "write example config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := log.New(os.Stderr)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Infof("quiver-server %s", versioninfo.Short())

	cfg, err := quiverconfig.LoadServer(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	privateKey, err := decodeKey(cfg.PrivateKeyHex)
	if err != nil {
		logger.Fatalf("private_key_hex: %v", err)
	}
	challengeKey, err := decodeKey(cfg.ChallengeKeyHex)
	if err != nil {
		logger.Fatalf("challenge_key_hex: %v", err)
	}

	udp, err := transport.Listen(cfg.ListenAddress, logger)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	defer udp.Close()

	server := quivernet.NewServer(quivernet.ServerConfig{
		Handshake: handshake.ServerConfig{
			ProtocolID:          cfg.ProtocolID,
			ListenAddress:       cfg.ListenAddress,
			PrivateKey:          privateKey,
			ChallengeKey:        challengeKey,
			MappingCapacity:     cfg.MappingCapacity,
			MappingTimeoutSecs:  cfg.MappingTimeoutSecs,
			ReplayTableCapacity: cfg.ReplayTableCapacity,
			MaxClients:          cfg.MaxClients,
		},
		Reliability: cfg.Reliability.ToReliability(),
	}, logger,
		func(address string, datagram []byte) {
			if err := udp.Send(address, datagram); err != nil {
				logger.Debugf("send to %s failed: %v", address, err)
			}
		},
		func(address string, payload []byte) {
			logger.Debugf("received %d bytes from %s", len(payload), address)
		},
	)

	var store *persist.Store
	if cfg.StatePath != "" {
		store, err = persist.Open(cfg.StatePath, logger)
		if err != nil {
			logger.Fatalf("open statefile: %v", err)
		}
		defer store.Close()
		if err := store.LoadMapping(server.MappingForPersist()); err != nil {
			logger.Warnf("restore statefile: %v", err)
		}
	}

	var metricsReg *prometheus.Registry
	collectors := make(map[string]*metrics.Collector)
	if cfg.MetricsAddress != "" {
		metricsReg = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()

	logger.Infof("listening on %s", udp.LocalAddr())

loop:
	for {
		select {
		case <-sig:
			break loop
		case v := <-udp.Inbound():
			pkt := v.(transport.Packet)
			now := time.Since(start).Seconds()
			if err := server.HandlePacket(pkt.Address, pkt.Data, now); err != nil {
				logger.Debugf("handle packet from %s: %v", pkt.Address, err)
			}
		case t := <-ticker.C:
			now := t.Sub(start).Seconds()
			server.Tick(now)
			if store != nil {
				_ = store.SaveMapping(server.MappingForPersist())
			}
			if metricsReg != nil {
				for _, addr := range server.Connections() {
					c, ok := collectors[addr]
					if !ok {
						c = metrics.NewCollector(addr)
						if err := metricsReg.Register(c); err != nil {
							logger.Debugf("register metrics for %s: %v", addr, err)
							continue
						}
						collectors[addr] = c
					}
					if conn, ok := server.Connection(addr); ok {
						c.Sample(conn.Endpoint())
					}
				}
			}
		}
	}

	logger.Infof("shutting down")
}

func decodeKey(s string) ([32]byte, error) {
	var key [32]byte
	if s == "" {
		return key, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(b) != 32 {
		return key, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}
