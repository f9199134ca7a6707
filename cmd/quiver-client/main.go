package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"

	"github.com/quiverio/quiver/quiverconfig"
	"github.com/quiverio/quiver/quivernet"
	"github.com/quiverio/quiver/token"
	"github.com/quiverio/quiver/transport"
)

func main() {
	var configPath string
	var verbose bool
	flag.StringVar(&configPath, "config", "quiver-client.toml", "client configuration file")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	logger := log.New(os.Stderr)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Infof("quiver-client %s", versioninfo.Short())

	cfg, err := quiverconfig.LoadClient(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ct, err := loadConnectToken(cfg.TokenPath)
	if err != nil {
		logger.Fatalf("load connect token: %v", err)
	}

	udp, err := transport.Listen("0.0.0.0:0", logger)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	defer udp.Close()

	client, err := quivernet.NewClient(cfg.ProtocolID, ct, cfg.Reliability.ToReliability(), logger,
		func(address string, datagram []byte) {
			if err := udp.Send(address, datagram); err != nil {
				logger.Debugf("send to %s failed: %v", address, err)
			}
		},
		func(address string, payload []byte) {
			fmt.Printf("%s\n", payload)
		},
	)
	if err != nil {
		logger.Fatalf("build client: %v", err)
	}

	start := time.Now()
	if err := client.Start(0); err != nil {
		logger.Fatalf("start handshake: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	stdin := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			stdin <- scanner.Text()
		}
		close(stdin)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sig:
			break loop
		case line, ok := <-stdin:
			if !ok {
				break loop
			}
			if !client.Established() {
				logger.Warnf("not yet connected, dropping input")
				continue
			}
			if err := client.Send([]byte(line)); err != nil {
				logger.Errorf("send: %v", err)
			}
		case v := <-udp.Inbound():
			pkt := v.(transport.Packet)
			now := time.Since(start).Seconds()
			if err := client.HandlePacket(pkt.Address, pkt.Data, now); err != nil {
				logger.Debugf("handle packet: %v", err)
			}
		case t := <-ticker.C:
			client.Tick(t.Sub(start).Seconds())
		}
	}

	logger.Infof("shutting down")
}

func loadConnectToken(path string) (*token.ConnectToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ct, _, err := token.DecodeMatchmakerResponse(data)
	return ct, err
}
