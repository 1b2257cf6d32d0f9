package configstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"basenode/internal/eeprom"
	"basenode/internal/radio"
	"basenode/pkg/config"
)

func defaults(t *testing.T) NodeConfig {
	t.Helper()
	c, err := FromProfile(config.Default())
	if err != nil {
		t.Fatalf("FromProfile: %v", err)
	}
	return c
}

func TestEncode_Layout(t *testing.T) {
	c := defaults(t)
	c.State = -2
	b := c.Encode()

	if len(b) != RecordSize {
		t.Fatalf("record size: got %d, want %d", len(b), RecordSize)
	}
	if b[0] != 1 {
		t.Errorf("version: got %d, want 1", b[0])
	}
	if b[1] != uint8(radio.Band915) {
		t.Errorf("band: got %d, want %d", b[1], radio.Band915)
	}
	if got := int32(binary.LittleEndian.Uint32(b[2:6])); got != 905500000 {
		t.Errorf("frequency: got %d, want 905500000", got)
	}
	if b[6] != 1 {
		t.Errorf("high power: got %d, want 1", b[6])
	}
	if b[7] != 203 || b[8] != 150 || b[9] != 1 || b[10] != 2 {
		t.Errorf("addresses: got %v", b[7:11])
	}
	if string(b[11:27]) != "rcmhprodrcmhprod" {
		t.Errorf("key: got %q", b[11:27])
	}
	if got := int16(binary.LittleEndian.Uint16(b[27:29])); got != -2 {
		t.Errorf("state: got %d, want -2", got)
	}
}

func TestDecode_WrongSize(t *testing.T) {
	if _, err := Decode(make([]byte, RecordSize-1)); !errors.Is(err, ErrRecordSize) {
		t.Errorf("expected ErrRecordSize, got %v", err)
	}
}

func TestInitializeAndPersist_ScenarioReadBack(t *testing.T) {
	store := eeprom.NewMemory(0)
	want := defaults(t)

	if err := InitializeAndPersist(store, want); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, err := Load(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.NodeID != 203 {
		t.Errorf("NodeID: got %d, want 203", got.NodeID)
	}
	if got.NetworkID != 150 {
		t.Errorf("NetworkID: got %d, want 150", got.NetworkID)
	}
	if got.Band != radio.Band915 {
		t.Errorf("Band: got %v, want 915MHz", got.Band)
	}
	if got.FrequencyExact != 905500000 {
		t.Errorf("FrequencyExact: got %d, want 905500000", got.FrequencyExact)
	}
	if string(got.Key()) != "rcmhprodrcmhprod" {
		t.Errorf("Key: got %q", got.Key())
	}
	if !bytes.Equal(got.Encode(), want.Encode()) {
		t.Errorf("record differs bit-for-bit:\n got %x\nwant %x", got.Encode(), want.Encode())
	}
}

func TestInitializeAndPersist_OverwritesArbitraryPriorState(t *testing.T) {
	priors := map[string][]byte{
		"erased":  bytes.Repeat([]byte{0xFF}, RecordSize),
		"zeroed":  make([]byte, RecordSize),
		"garbage": []byte("this is not a config record!!"),
	}

	for name, prior := range priors {
		t.Run(name, func(t *testing.T) {
			store := eeprom.NewMemory(0)
			if err := store.WriteBlock(RecordOffset, prior); err != nil {
				t.Fatalf("seed: %v", err)
			}

			want := defaults(t)
			if err := InitializeAndPersist(store, want); err != nil {
				t.Fatalf("persist: %v", err)
			}

			got, err := Load(store)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestInitializeAndPersist_RuntimeChangesDoNotSurviveBoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.db")
	want := defaults(t)

	store, err := eeprom.Open(path, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := InitializeAndPersist(store, want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	mutated := want
	mutated.State = 42
	mutated.Gateway1 = 9
	if err := store.WriteBlock(RecordOffset, mutated.Encode()); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	store.Close()

	// next boot
	store, err = eeprom.Open(path, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if err := InitializeAndPersist(store, want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	got, err := Load(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want defaults %+v", got, want)
	}
}

func TestInitializeAndPersist_SingleWrite(t *testing.T) {
	store := eeprom.NewMemory(0)
	if err := InitializeAndPersist(store, defaults(t)); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if store.Writes() != 1 {
		t.Errorf("Writes: got %d, want 1", store.Writes())
	}
}

func TestInitializeAndPersist_StorageFailure(t *testing.T) {
	store := eeprom.NewMemory(1)
	store.WriteBlock(100, []byte{0})

	err := InitializeAndPersist(store, defaults(t))
	if !errors.Is(err, eeprom.ErrWriteLimit) {
		t.Fatalf("expected ErrWriteLimit, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := defaults(t)

	tests := []struct {
		name   string
		mutate func(*NodeConfig)
		want   error
	}{
		{"defaults", func(*NodeConfig) {}, nil},
		{"zero node", func(c *NodeConfig) { c.NodeID = 0 }, ErrInvalidNodeID},
		{"zero network", func(c *NodeConfig) { c.NetworkID = 0 }, ErrInvalidNetworkID},
		{"bad band", func(c *NodeConfig) { c.Band = 7 }, ErrInvalidBand},
		{"frequency outside band", func(c *NodeConfig) { c.Band = radio.Band433 }, ErrBandMismatch},
		{"band default", func(c *NodeConfig) { c.Band = radio.Band433; c.FrequencyExact = 0 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKey_DisabledWhenZero(t *testing.T) {
	c := defaults(t)
	c.EncryptionKey = [KeySize]byte{}
	if c.EncryptionEnabled() || c.Key() != nil {
		t.Error("all-zero key should disable encryption")
	}
	if c.Carrier() != 905500000 {
		t.Errorf("Carrier: got %d", c.Carrier())
	}
	c.FrequencyExact = 0
	if c.Carrier() != radio.Band915.DefaultHz() {
		t.Errorf("Carrier default: got %d", c.Carrier())
	}
}

func TestFromProfile_KeyMustBeSixteenBytes(t *testing.T) {
	p := config.Default()
	// 16 runes, 32 bytes
	p.Radio.EncryptKey = "éééééééééééééééé"

	if _, err := FromProfile(p); !errors.Is(err, ErrKeySize) {
		t.Fatalf("FromProfile: got %v, want ErrKeySize", err)
	}

	p.Radio.EncryptKey = ""
	c, err := FromProfile(p)
	if err != nil {
		t.Fatalf("FromProfile without key: %v", err)
	}
	if c.EncryptionEnabled() {
		t.Error("empty key should disable encryption")
	}
}
