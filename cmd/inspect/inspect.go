// Package inspect prints the persisted config and flash state of a node.
package inspect

import (
	"fmt"
	"strings"

	"basenode/internal/configstore"
	"basenode/internal/eeprom"
	"basenode/internal/flash"
	"basenode/internal/ota"
	"basenode/internal/rpc"
	"basenode/pkg/config"
	"basenode/pkg/logger"
)

// Options select what inspect prints besides the config record.
type Options struct {
	// FlashAddr and FlashLen select a flash window to hex dump; FlashLen 0 skips it.
	FlashAddr uint32
	FlashLen  int
}

// Run asks the running node over RPC. When no node is running it opens the
// EEPROM and flash images directly.
func Run(configPath string, opts Options) error {
	p, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(p.Host.LogLevel)

	client, err := rpc.NewClient(p.Host.RPCSocket)
	if err != nil {
		log.Debug().Err(err).Msg("Node not reachable, reading images offline")
		return runOffline(p, opts)
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	cfg, err := client.ReadConfig()
	if err != nil {
		return fmt.Errorf("fetching config: %w", err)
	}

	fmt.Printf("\n  Node %d (boot %s, version %s)\n", st.NodeID, st.BootID, st.Version)
	fmt.Printf("  Booted at %s\n", st.BootedAt.Format("2006-01-02 15:04:05"))
	if st.Board != nil {
		fmt.Printf("  Host %s, %s %s, %s/%s\n", st.Board.Hostname, st.Board.OSName, st.Board.Arch, st.Board.Interface, st.Board.IPAddress)
	}
	fmt.Println()
	displayConfigTable(cfg.Config)
	fmt.Printf("\n  Raw record: % X\n", cfg.Raw)
	displayStaged(st.StagedImage)

	if opts.FlashLen > 0 {
		data, err := client.ReadFlash(opts.FlashAddr, opts.FlashLen)
		if err != nil {
			return fmt.Errorf("reading flash: %w", err)
		}
		displayHex(opts.FlashAddr, data)
	}
	return nil
}

func runOffline(p *config.Profile, opts Options) error {
	log := logger.Init(p.Host.LogLevel)

	store, err := eeprom.Open(p.Host.EEPROMPath, 0, log)
	if err != nil {
		return fmt.Errorf("opening eeprom: %w\nIs 'basenode run' holding it?", err)
	}
	defer store.Close()

	cfg, err := configstore.Load(store)
	if err != nil {
		return fmt.Errorf("reading config record: %w", err)
	}
	writes, err := store.LifetimeWrites()
	if err != nil {
		return err
	}

	fmt.Printf("\n  Offline image %s (%d lifetime writes)\n\n", p.Host.EEPROMPath, writes)
	displayConfigTable(cfg)

	chip, err := flash.OpenFile(p.Host.FlashPath, flash.Geometry{Size: p.Flash.SizeBytes, JEDECID: p.Flash.ID}, p.Flash.ID, log)
	if err != nil {
		return fmt.Errorf("opening flash: %w", err)
	}
	defer chip.Close()

	staged := -1
	if img, ok := ota.StagedImage(chip); ok {
		staged = len(img)
	}
	displayStaged(staged)

	if opts.FlashLen > 0 {
		n := opts.FlashLen
		if n > rpc.MaxFlashRead {
			n = rpc.MaxFlashRead
		}
		data := make([]byte, n)
		chip.ReadBytes(opts.FlashAddr, data)
		displayHex(opts.FlashAddr, data)
	}
	return nil
}

func displayConfigTable(c configstore.NodeConfig) {
	key := "disabled"
	if c.EncryptionEnabled() {
		key = "set"
	}
	rows := [][2]string{
		{"Version", fmt.Sprint(c.Version)},
		{"Node ID", fmt.Sprint(c.NodeID)},
		{"Network ID", fmt.Sprint(c.NetworkID)},
		{"Gateways", fmt.Sprintf("%d, %d", c.Gateway1, c.Gateway2)},
		{"Band", c.Band.String()},
		{"Carrier", fmt.Sprintf("%d Hz", c.Carrier())},
		{"High power", fmt.Sprint(c.HighPower)},
		{"Encryption", key},
		{"State", fmt.Sprint(c.State)},
	}

	fmt.Printf("  %-12s %s\n", "Field", "Value")
	fmt.Printf("  %s %s\n", strings.Repeat("─", 12), strings.Repeat("─", 20))
	for _, r := range rows {
		fmt.Printf("  %-12s %s\n", r[0], r[1])
	}
}

func displayStaged(n int) {
	if n < 0 {
		fmt.Println("  Staged image: none")
		return
	}
	fmt.Printf("  Staged image: %d bytes\n", n)
}

func displayHex(addr uint32, data []byte) {
	fmt.Println()
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("  %08X  % X\n", addr+uint32(off), data[off:end])
	}
}
