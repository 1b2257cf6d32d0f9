// Package otasend streams a firmware image to a node from the gateway side.
package otasend

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"basenode/internal/configstore"
	"basenode/internal/ota"
	"basenode/internal/radio"
	"basenode/pkg/config"
	"basenode/pkg/logger"
)

// Options are the command line settings of ota-send.
type Options struct {
	Image string
	// Target defaults to the node id of the profile.
	Target uint8
}

// Run joins the profile's network as its first gateway and sends the image.
func Run(configPath string, opts Options) error {
	p, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(p.Host.LogLevel)

	image, err := os.ReadFile(opts.Image)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, err := configstore.FromProfile(*p)
	if err != nil {
		return fmt.Errorf("building radio settings: %w", err)
	}

	target := opts.Target
	if target == 0 {
		target = cfg.NodeID
	}

	link, err := radio.NewHostLink(p.Host, log)
	if err != nil {
		return err
	}
	defer link.Close()

	if !link.Initialize(cfg.Band, cfg.Gateway1, cfg.NetworkID) {
		return fmt.Errorf("initializing gateway radio on %s", p.Host.Medium)
	}
	if cfg.EncryptionEnabled() {
		link.Encrypt(cfg.Key())
	}
	link.SetFrequency(cfg.Carrier())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Sending %s (%d bytes) to node %d on network %d\n", opts.Image, len(image), target, cfg.NetworkID)

	sender := &ota.Sender{
		Link:   link,
		Target: target,
		Log:    log,
		Progress: func(sent, total int) {
			fmt.Printf("\r  %6d / %d bytes (%3d%%)", sent, total, sent*100/total)
		},
	}
	if err := sender.Send(ctx, image); err != nil {
		fmt.Println()
		return err
	}

	fmt.Printf("\n✓ Image staged, node %d is rebooting\n", target)
	return nil
}
