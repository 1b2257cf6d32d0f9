// Package configstore defines the node's persisted identity record and the
// boot-time write that puts it into EEPROM.
//
// The record is rebuilt from the compiled defaults at every boot and written
// over whatever the EEPROM held before. There is no existence check and no
// merge: a freshly flashed base image always resets the configuration.
package configstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"basenode/internal/radio"
	"basenode/pkg/config"
)

const (
	// RecordOffset is where the record lives in EEPROM.
	RecordOffset = 0
	// RecordSize is the packed size of the record.
	RecordSize = 29
	// KeySize is the length of the encryption key field.
	KeySize = 16
)

var (
	ErrRecordSize       = errors.New("config record has wrong size")
	ErrInvalidNodeID    = errors.New("node id must be nonzero")
	ErrInvalidNetworkID = errors.New("network id must be nonzero")
	ErrInvalidBand      = errors.New("unknown frequency band")
	ErrBandMismatch     = errors.New("exact frequency outside band")
	ErrKeySize          = errors.New("encryption key must be 16 bytes")
)

// NodeConfig is the persisted identity and radio record.
type NodeConfig struct {
	Version        uint8
	Band           radio.Band
	FrequencyExact int32
	HighPower      bool
	NodeID         uint8
	NetworkID      uint8
	Gateway1       uint8
	Gateway2       uint8
	EncryptionKey  [KeySize]byte
	State          int16
}

// FromProfile builds the record from the compiled-in parameters.
func FromProfile(p config.Profile) (NodeConfig, error) {
	band, err := radio.BandFromMHz(p.Radio.BandMHz)
	if err != nil {
		return NodeConfig{}, err
	}

	c := NodeConfig{
		Version:        p.Node.CodeVersion,
		Band:           band,
		FrequencyExact: p.Radio.FrequencyExact,
		HighPower:      p.Radio.HighPower,
		NodeID:         p.Node.NodeID,
		NetworkID:      p.Node.NetworkID,
		Gateway1:       p.Node.Gateway1,
		Gateway2:       p.Node.Gateway2,
		State:          p.Node.State,
	}
	if key := p.Radio.KeyBytes(); key != nil {
		if len(key) != KeySize {
			return NodeConfig{}, fmt.Errorf("%w: %d bytes", ErrKeySize, len(key))
		}
		copy(c.EncryptionKey[:], key)
	}
	return c, nil
}

// EncryptionEnabled reports whether the key is not all zero.
func (c NodeConfig) EncryptionEnabled() bool {
	return c.EncryptionKey != [KeySize]byte{}
}

// Key returns the encryption key, or nil when encryption is disabled.
func (c NodeConfig) Key() []byte {
	if !c.EncryptionEnabled() {
		return nil
	}
	k := c.EncryptionKey
	return k[:]
}

// Validate checks the record invariants.
func (c NodeConfig) Validate() error {
	if c.NodeID == 0 {
		return ErrInvalidNodeID
	}
	if c.NetworkID == 0 {
		return ErrInvalidNetworkID
	}
	if !c.Band.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBand, uint8(c.Band))
	}
	if c.FrequencyExact < 0 || (c.FrequencyExact != 0 && !c.Band.Contains(uint32(c.FrequencyExact))) {
		return fmt.Errorf("%w: %d Hz in %s", ErrBandMismatch, c.FrequencyExact, c.Band)
	}
	return nil
}

// Carrier returns the frequency the radio should tune to.
func (c NodeConfig) Carrier() uint32 {
	if c.FrequencyExact > 0 {
		return uint32(c.FrequencyExact)
	}
	return c.Band.DefaultHz()
}

// record is the packed on-EEPROM layout, little-endian, no padding.
type record struct {
	Version        uint8
	Band           uint8
	FrequencyExact int32
	HighPower      uint8
	NodeID         uint8
	NetworkID      uint8
	Gateway1       uint8
	Gateway2       uint8
	EncryptionKey  [KeySize]byte
	State          int16
}

// Encode packs the record.
func (c NodeConfig) Encode() []byte {
	r := record{
		Version:        c.Version,
		Band:           uint8(c.Band),
		FrequencyExact: c.FrequencyExact,
		NodeID:         c.NodeID,
		NetworkID:      c.NetworkID,
		Gateway1:       c.Gateway1,
		Gateway2:       c.Gateway2,
		EncryptionKey:  c.EncryptionKey,
		State:          c.State,
	}
	if c.HighPower {
		r.HighPower = 1
	}

	var buf bytes.Buffer
	buf.Grow(RecordSize)
	// writes into a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, &r)
	return buf.Bytes()
}

// Decode unpacks a record.
func Decode(b []byte) (NodeConfig, error) {
	if len(b) != RecordSize {
		return NodeConfig{}, fmt.Errorf("%w: got %d, want %d", ErrRecordSize, len(b), RecordSize)
	}

	var r record
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &r); err != nil {
		return NodeConfig{}, fmt.Errorf("decoding config record: %w", err)
	}

	return NodeConfig{
		Version:        r.Version,
		Band:           radio.Band(r.Band),
		FrequencyExact: r.FrequencyExact,
		HighPower:      r.HighPower != 0,
		NodeID:         r.NodeID,
		NetworkID:      r.NetworkID,
		Gateway1:       r.Gateway1,
		Gateway2:       r.Gateway2,
		EncryptionKey:  r.EncryptionKey,
		State:          r.State,
	}, nil
}
