// Package run boots one simulated node and runs its loop until interrupted.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"basenode/internal/board"
	"basenode/internal/console"
	"basenode/internal/eeprom"
	"basenode/internal/flash"
	"basenode/internal/node"
	"basenode/internal/ota"
	"basenode/internal/radio"
	"basenode/internal/reboot"
	"basenode/internal/rpc"
	"basenode/internal/telemetry"
	"basenode/pkg/config"
	"basenode/pkg/logger"
)

// Options are the command line settings of run.
type Options struct {
	// Script replaces the interactive console with a fixed byte sequence.
	Script  string
	Version string
}

// Run boots a node from the profile at configPath.
func Run(configPath string, opts Options) error {
	p, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The console comes first: in raw mode the log needs CRLF line endings.
	var (
		serial console.Serial
		logOut io.Writer = os.Stderr
	)
	if opts.Script != "" {
		serial = console.NewScriptSerial([]byte(opts.Script), os.Stdout)
	} else {
		t, err := console.OpenTerminal(os.Stdin, os.Stdout, stop, zerolog.Nop())
		if err != nil {
			return fmt.Errorf("opening console: %w", err)
		}
		defer t.Close()
		if t.Raw() {
			logOut = console.NewCRLFWriter(os.Stderr)
		}
		serial = t
	}

	bootID := uuid.NewString()
	log := logger.WithBoot(logger.New(logOut, p.Host.LogLevel), bootID, p.Node.NodeID)

	for _, path := range []string{p.Host.EEPROMPath, p.Host.FlashPath, p.Host.RPCSocket} {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	store, err := eeprom.Open(p.Host.EEPROMPath, p.Host.MaxEEPROMWrites, log)
	if err != nil {
		return fmt.Errorf("opening eeprom: %w", err)
	}
	defer store.Close()

	chip, err := flash.OpenFile(p.Host.FlashPath, flash.Geometry{Size: p.Flash.SizeBytes, JEDECID: p.Flash.ID}, p.Flash.ID, log)
	if err != nil {
		return fmt.Errorf("opening flash: %w", err)
	}
	defer chip.Close()

	link, err := radio.NewHostLink(p.Host, log)
	if err != nil {
		return err
	}
	defer link.Close()

	watchdog := reboot.NewWatchdog(log)
	watchdog.OnReboot(func() {
		link.Close()
		chip.Close()
		store.Close()
		if c, ok := serial.(io.Closer); ok {
			c.Close()
		}
	})

	metrics := telemetry.New()
	metrics.SetBuildInfo(opts.Version, p.Node.NodeID)
	if oc, ok := link.(radio.OverrunCounter); ok {
		metrics.WatchOverruns(oc.Overruns)
	}
	if p.Host.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, p.Host.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	loop, err := node.New(node.Deps{
		Serial:    serial,
		Console:   console.NewDebugger(serial, chip, link, watchdog, log),
		Radio:     link,
		Flash:     chip,
		EEPROM:    store,
		OTA:       ota.NewMonitor(link, chip, watchdog, metrics, log),
		Clock:     node.NewUptime(),
		Indicator: node.NewLED(log),
		Metrics:   metrics,
	}, *p, log)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	info, err := board.Collect(p.Host.Interface)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to collect board info")
	} else {
		log.Info().
			Str("host", info.Hostname).
			Str("os", info.OSName).
			Str("arch", info.Arch).
			Str("iface", info.Interface).
			Str("ip", info.IPAddress).
			Msg("Board")
	}

	svc := rpc.NewService(store, chip, rpc.StatusReply{
		BootID:   bootID,
		NodeID:   p.Node.NodeID,
		Version:  opts.Version,
		BootedAt: time.Now(),
		Board:    info,
	}, log)
	if srv, err := rpc.StartServer(p.Host.RPCSocket, svc, log); err != nil {
		log.Warn().Err(err).Msg("Inspection RPC unavailable")
	} else {
		defer srv.Close()
	}

	log.Info().
		Str("medium", p.Host.Medium).
		Str("eeprom", p.Host.EEPROMPath).
		Str("flash", p.Host.FlashPath).
		Msg("Booting node")

	return loop.Run(ctx)
}
