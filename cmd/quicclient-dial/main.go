package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	logrus "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/quicclient/quicclient"
	"github.com/quicclient/quicclient/internal/qtransport"
	"github.com/quicclient/quicclient/internal/utils"
	"github.com/quicclient/quicclient/pskcache"
)

const (
	configFlag        = "config"
	addrFlag          = "addr"
	hostnameFlag      = "hostname"
	happyEyeballsFlag = "happy-eyeballs"
	verboseFlag       = "verbose"
)

func main() {
	app := &cli.Command{
		Name:  "quicclient-dial",
		Usage: "race a QUIC handshake against one or more peer addresses and report how it went",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: configFlag, Aliases: []string{"c"}, Usage: "TOML config file listing peer addresses"},
			&cli.StringSliceFlag{Name: addrFlag, Aliases: []string{"a"}, Usage: "peer address (host:port), repeatable"},
			&cli.StringFlag{Name: hostnameFlag, Usage: "TLS server name / SNI"},
			&cli.BoolFlag{Name: happyEyeballsFlag, Value: true, Usage: "race multiple peer addresses"},
			&cli.BoolFlag{Name: verboseFlag, Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "quicclient-dial: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cCtx *cli.Command) error {
	fileCfg, err := loadFileConfig(cCtx.String(configFlag))
	if err != nil {
		return err
	}

	logger := logrus.New()
	if cCtx.Bool(verboseFlag) {
		logger.SetLevel(logrus.DebugLevel)
	}
	coreLogger := newLogrusLogger(logger)
	if cCtx.Bool(verboseFlag) {
		coreLogger.SetLogLevel(utils.LogLevelDebug)
	} else {
		coreLogger.SetLogLevel(utils.LogLevelInfo)
	}

	cache, err := pskcache.New(fileCfg.PSKCacheCapacity)
	if err != nil {
		return fmt.Errorf("building PSK cache: %w", err)
	}

	config := quicclient.NewClientConfig()
	config.SetPSKCache(cache)
	config.SetHappyEyeballsEnabled(cCtx.Bool(happyEyeballsFlag) && fileCfg.HappyEyeballs)

	hostname := cCtx.String(hostnameFlag)
	if hostname == "" {
		hostname = fileCfg.Hostname
	}
	config.SetHostname(hostname)

	addrs := cCtx.StringSlice(addrFlag)
	for _, p := range fileCfg.Peer {
		addrs = append(addrs, p.Address)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no peer addresses given; pass --addr or list [[peer]] entries in --config")
	}
	for _, a := range addrs {
		udpAddr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", a, err)
		}
		config.AddPeerAddress(udpAddr)
	}

	transport := quicclient.NewClientTransport(config, nil, coreLogger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cb := &reportingCallback{logger: logger, done: make(chan error, 1)}
	if err := transport.Start(ctx, cb); err != nil {
		return fmt.Errorf("starting: %w", err)
	}

	select {
	case err := <-cb.done:
		return err
	case <-ctx.Done():
		transport.Close()
		return fmt.Errorf("timed out waiting for the handshake to complete")
	}
}

// reportingCallback logs every connection lifecycle event and resolves
// done once the outcome of the dial attempt itself is known.
type reportingCallback struct {
	logger *logrus.Logger
	done   chan error
}

func (c *reportingCallback) OnConnectionSetUp() {
	c.logger.Info("handshake established")
	c.done <- nil
}

func (c *reportingCallback) OnConnectionSetupError(err error) {
	c.logger.WithError(err).Error("failed to set up connection")
	c.done <- err
}

func (c *reportingCallback) OnReplaySafe() {
	c.logger.Debug("1-RTT keys installed, replay-safe")
}

func (c *reportingCallback) OnStreamOpened(id qtransport.StreamID) {
	c.logger.WithField("stream", id).Debug("stream opened")
}

func (c *reportingCallback) OnStreamClosed(id qtransport.StreamID) {
	c.logger.WithField("stream", id).Debug("stream closed")
}

func (c *reportingCallback) OnConnectionEnd() {
	c.logger.Info("connection ended")
}

func (c *reportingCallback) OnConnectionError(err error) {
	c.logger.WithError(err).Error("connection ended with an error")
}
