package configstore

import (
	"fmt"

	"basenode/internal/eeprom"
)

// InitializeAndPersist writes defaults over the whole record at
// RecordOffset. It never reads first and never merges. Callers log a
// returned error and keep booting; the write is trusted otherwise.
func InitializeAndPersist(store eeprom.Store, defaults NodeConfig) error {
	if err := store.WriteBlock(RecordOffset, defaults.Encode()); err != nil {
		return fmt.Errorf("writing config record: %w", err)
	}
	return nil
}

// Load reads the record back.
func Load(store eeprom.Store) (NodeConfig, error) {
	buf := make([]byte, RecordSize)
	if err := store.ReadBlock(RecordOffset, buf); err != nil {
		return NodeConfig{}, fmt.Errorf("reading config record: %w", err)
	}
	return Decode(buf)
}
