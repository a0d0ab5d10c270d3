// Command hydralink runs a standalone UDP echo endpoint over the socket
// layer in internal/core - useful for exercising the send/receive pipeline,
// roaming endpoint tracking, and routing-generation invalidation without a
// full tunnel stack on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jroosing/hydralink/internal/config"
	"github.com/jroosing/hydralink/internal/core"
	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/logging"
	"github.com/jroosing/hydralink/internal/recvdispatch"
	"github.com/jroosing/hydralink/internal/routing"
	"github.com/jroosing/hydralink/internal/sendpipe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	port       int
	debug      bool
	jsonLogs   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.IntVar(&f.port, "port", 0, "Override listen port (0 lets the OS choose)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.port != 0 {
		cfg.Device.ListenPort = f.port
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev := core.NewDevice(0, routing.NewNetlinkTable())
	echo := &echoReceiver{dev: dev, logger: logger}

	workers := sendWorkerCount(cfg)
	logger.Info("hydralink starting",
		"listen_port", cfg.Device.ListenPort,
		"send_workers", workers,
		"force_polyfill", cfg.Send.ForcePolyfill,
	)

	if err := dev.Init(uint16(cfg.Device.ListenPort), echo, workers, cfg.Send.ForcePolyfill); err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	defer func() {
		if err := dev.Unload(); err != nil {
			logger.Error("unload device", "err", err)
		}
	}()

	logger.Info("listening", "port", dev.IncomingPort())

	go receiveLoop(ctx, dev, endpoint.FamilyV4, echo, cfg.Recv.BatchCeiling, logger)
	go receiveLoop(ctx, dev, endpoint.FamilyV6, echo, cfg.Recv.BatchCeiling, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func sendWorkerCount(cfg *config.Config) int {
	if cfg.Send.Workers.Mode == config.WorkersFixed && cfg.Send.Workers.Value > 0 {
		return cfg.Send.Workers.Value
	}
	return runtime.NumCPU()
}

func receiveLoop(ctx context.Context, dev *core.Device, family endpoint.Family, upper recvdispatch.PacketReceive, batchSize int, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, err := dev.Receive(family, upper, batchSize)
		if err != nil {
			logger.Error("receive", "family", family, "err", err)
			return
		}
		if status == recvdispatch.StatusDiscarded {
			return
		}
	}
}

// echoReceiver implements both recvdispatch.PacketReceive and
// sendpipe.BufferFreer: every datagram it receives is bounced back to its
// sender via the reply path, and any buffer that fails to submit is simply
// dropped (there is no owner above this layer to return it to).
type echoReceiver struct {
	dev    *core.Device
	logger *slog.Logger
}

func (e *echoReceiver) HandleDatagram(remote netip.AddrPort, cm endpoint.ControlMessage, data []byte) {
	family := endpoint.FamilyV4
	var replySrc endpoint.SourceBinding
	switch {
	case cm.V4 != nil:
		if src, ok := netip.AddrFromSlice(cm.V4.Dst); ok {
			replySrc = endpoint.SourceBinding{Addr: src.Unmap(), IfIndex: uint32(cm.V4.IfIndex)}
		}
	case cm.V6 != nil:
		family = endpoint.FamilyV6
		if src, ok := netip.AddrFromSlice(cm.V6.Dst); ok {
			replySrc = endpoint.SourceBinding{Addr: src, IfIndex: uint32(cm.V6.IfIndex)}
		}
	}

	payload := append([]byte(nil), data...)
	if err := e.dev.Send.SendBufferAsReplyToDatagram(family, remote, replySrc, payload); err != nil {
		e.logger.Warn("echo reply failed", "remote", remote, "err", err)
	}
}

func (e *echoReceiver) FreeSendBuffers(_ []sendpipe.GatherBuffer) {}
