// Package config holds the build profile of a basenode: the parameters that
// are fixed when the firmware is built (node identity, radio settings, flash
// id, blink period) plus the host settings of the simulator that runs it.
//
// Default returns the compiled-in values. A profile file (TOML or YAML) may
// overlay them once at startup; nothing changes them afterwards.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Profile is the top-level build profile.
type Profile struct {
	Node  NodeParams  `toml:"node" yaml:"node"`
	Radio RadioParams `toml:"radio" yaml:"radio"`
	Flash FlashParams `toml:"flash" yaml:"flash"`
	Host  HostParams  `toml:"host" yaml:"host"`
}

// NodeParams identify the node on its network.
type NodeParams struct {
	CodeVersion   uint8 `toml:"code_version" yaml:"code_version"`
	NodeID        uint8 `toml:"node_id" yaml:"node_id" validate:"required"`
	NetworkID     uint8 `toml:"network_id" yaml:"network_id" validate:"required"`
	Gateway1      uint8 `toml:"gateway1" yaml:"gateway1"`
	Gateway2      uint8 `toml:"gateway2" yaml:"gateway2"`
	State         int16 `toml:"state" yaml:"state"`
	SerialBaud    int   `toml:"serial_baud" yaml:"serial_baud" validate:"gt=0"`
	BlinkPeriodMS int   `toml:"blink_period_ms" yaml:"blink_period_ms" validate:"gt=0"`
}

// RadioParams select the transceiver configuration applied during Init.
type RadioParams struct {
	BandMHz        int    `toml:"band_mhz" yaml:"band_mhz" validate:"oneof=315 433 868 915"`
	FrequencyExact int32  `toml:"frequency_exact" yaml:"frequency_exact" validate:"gte=0"`
	HighPower      bool   `toml:"high_power" yaml:"high_power"`
	EncryptKey     string `toml:"encrypt_key" yaml:"encrypt_key" validate:"omitempty,len=16"`
	AutoPower      bool   `toml:"auto_power" yaml:"auto_power"`
	AutoPowerRSSI  int16  `toml:"auto_power_rssi" yaml:"auto_power_rssi" validate:"gte=-127,lte=0"`
	BR300Kbps      bool   `toml:"br_300kbps" yaml:"br_300kbps"`
}

// FlashParams describe the external SPI flash chip.
type FlashParams struct {
	ID        uint16 `toml:"id" yaml:"id" validate:"required"`
	SizeBytes uint32 `toml:"size_bytes" yaml:"size_bytes" validate:"gte=98304"`
}

// HostParams configure the simulator surroundings of the node.
type HostParams struct {
	EEPROMPath      string `toml:"eeprom_path" yaml:"eeprom_path"`
	FlashPath       string `toml:"flash_path" yaml:"flash_path"`
	RPCSocket       string `toml:"rpc_socket" yaml:"rpc_socket"`
	MetricsAddr     string `toml:"metrics_addr" yaml:"metrics_addr"`
	Medium          string `toml:"medium" yaml:"medium" validate:"oneof=udp nats"`
	MulticastGroup  string `toml:"multicast_group" yaml:"multicast_group" validate:"ip4_addr"`
	Port            int    `toml:"port" yaml:"port" validate:"gt=0,lt=65536"`
	Interface       string `toml:"interface" yaml:"interface"`
	NATSURL         string `toml:"nats_url" yaml:"nats_url"`
	LogLevel        string `toml:"log_level" yaml:"log_level"`
	IdleSleep       string `toml:"idle_sleep" yaml:"idle_sleep"`
	MaxEEPROMWrites int    `toml:"max_eeprom_writes" yaml:"max_eeprom_writes" validate:"gte=0"`
}

// Default returns the compiled-in profile.
func Default() Profile {
	return Profile{
		Node: NodeParams{
			CodeVersion:   1,
			NodeID:        203,
			NetworkID:     150,
			Gateway1:      1,
			Gateway2:      2,
			SerialBaud:    115200,
			BlinkPeriodMS: 250,
		},
		Radio: RadioParams{
			BandMHz:        915,
			FrequencyExact: 905500000,
			HighPower:      true,
			EncryptKey:     "rcmhprodrcmhprod",
			AutoPower:      true,
			AutoPowerRSSI:  -80,
		},
		Flash: FlashParams{
			ID:        0xEF30,
			SizeBytes: 512 * 1024,
		},
		Host: HostParams{
			EEPROMPath:      "/var/lib/basenode/eeprom.db",
			FlashPath:       "/var/lib/basenode/flash.bin",
			RPCSocket:       "/run/basenode/node.sock",
			Medium:          "udp",
			MulticastGroup:  "239.255.69.1",
			Port:            6969,
			NATSURL:         "nats://127.0.0.1:4222",
			LogLevel:        "info",
			IdleSleep:       "1ms",
			MaxEEPROMWrites: 10000,
		},
	}
}

// KeyBytes returns the 16-byte network key, or nil when encryption is disabled.
func (r *RadioParams) KeyBytes() []byte {
	if r.EncryptKey == "" {
		return nil
	}
	return []byte(r.EncryptKey)
}

// BlinkPeriod returns the indicator period.
func (n *NodeParams) BlinkPeriod() time.Duration {
	return time.Duration(n.BlinkPeriodMS) * time.Millisecond
}

// ParseIdleSleep parses the host idle sleep; empty means 1ms, "0" means spin.
func (h *HostParams) ParseIdleSleep() (time.Duration, error) {
	if h.IdleSleep == "" {
		return time.Millisecond, nil
	}
	if h.IdleSleep == "0" {
		return 0, nil
	}
	return time.ParseDuration(h.IdleSleep)
}

// Load reads a profile file and overlays it on the compiled defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	p := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", path, err)
		}
	}

	applyDefaults(&p)
	p.expandPaths()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile %s: %w", path, err)
	}
	return &p, nil
}

// LoadOrDefault loads path when it exists and returns the compiled defaults otherwise.
func LoadOrDefault(path string) (*Profile, error) {
	if path == "" {
		p := Default()
		return &p, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		p := Default()
		return &p, nil
	}
	return Load(path)
}

// Marshal renders the profile as TOML.
func (p *Profile) Marshal() ([]byte, error) {
	return toml.Marshal(p)
}

// Validate checks field constraints and cross-field consistency.
func (p *Profile) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return err
	}
	// validator counts runes; the radio needs exactly 16 bytes
	if n := len(p.Radio.EncryptKey); n != 0 && n != 16 {
		return fmt.Errorf("encrypt_key is %d bytes, want 16", n)
	}
	if p.Radio.FrequencyExact != 0 {
		lo, hi := bandRange(p.Radio.BandMHz)
		f := int64(p.Radio.FrequencyExact)
		if f < lo || f > hi {
			return fmt.Errorf("frequency_exact %d outside the %d MHz band (%d-%d)", f, p.Radio.BandMHz, lo, hi)
		}
	}
	if _, err := p.Host.ParseIdleSleep(); err != nil {
		return fmt.Errorf("idle_sleep: %w", err)
	}
	return nil
}

func bandRange(mhz int) (int64, int64) {
	switch mhz {
	case 315:
		return 290_000_000, 340_000_000
	case 433:
		return 424_000_000, 510_000_000
	case 868:
		return 862_000_000, 890_000_000
	default:
		return 890_000_000, 1_020_000_000
	}
}

func (p *Profile) expandPaths() {
	p.Host.EEPROMPath = ExpandPath(p.Host.EEPROMPath)
	p.Host.FlashPath = ExpandPath(p.Host.FlashPath)
	p.Host.RPCSocket = ExpandPath(p.Host.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

// applyDefaults restores host settings a profile blanked out.
func applyDefaults(p *Profile) {
	def := Default()

	if p.Node.SerialBaud == 0 {
		p.Node.SerialBaud = def.Node.SerialBaud
	}
	if p.Node.BlinkPeriodMS == 0 {
		p.Node.BlinkPeriodMS = def.Node.BlinkPeriodMS
	}
	if p.Flash.SizeBytes == 0 {
		p.Flash.SizeBytes = def.Flash.SizeBytes
	}

	if p.Host.EEPROMPath == "" {
		p.Host.EEPROMPath = def.Host.EEPROMPath
	}
	if p.Host.FlashPath == "" {
		p.Host.FlashPath = def.Host.FlashPath
	}
	if p.Host.RPCSocket == "" {
		p.Host.RPCSocket = def.Host.RPCSocket
	}
	if p.Host.Medium == "" {
		p.Host.Medium = def.Host.Medium
	}
	if p.Host.MulticastGroup == "" {
		p.Host.MulticastGroup = def.Host.MulticastGroup
	}
	if p.Host.Port == 0 {
		p.Host.Port = def.Host.Port
	}
	if p.Host.NATSURL == "" {
		p.Host.NATSURL = def.Host.NATSURL
	}
	if p.Host.LogLevel == "" {
		p.Host.LogLevel = def.Host.LogLevel
	}
}
