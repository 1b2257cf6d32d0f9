package eeprom

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	eepromBucket = []byte("eeprom")
	imageKey     = []byte("image")
	wearKey      = []byte("lifetime_writes")
)

// BoltStore keeps the EEPROM image in a bbolt file so it survives restarts
// of the host process. It also keeps a lifetime write counter.
type BoltStore struct {
	db    *bolt.DB
	mu    sync.Mutex
	guard writeGuard
	log   zerolog.Logger
}

// Open opens or creates the EEPROM image at path.
func Open(path string, maxWrites int, log zerolog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening eeprom image %s: %w", path, err)
	}

	// Ensure the bucket exists
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eepromBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating eeprom bucket: %w", err)
	}

	return &BoltStore{db: db, guard: writeGuard{maxWrites: maxWrites}, log: log}, nil
}

// Close closes the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func erasedImage() []byte {
	img := make([]byte, Size)
	for i := range img {
		img[i] = 0xFF
	}
	return img
}

// WriteBlock copies data into the image at offset in one transaction.
func (s *BoltStore) WriteBlock(offset int, data []byte) error {
	if err := checkRange(offset, len(data)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.allow(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eepromBucket)

		img := erasedImage()
		if existing := b.Get(imageKey); len(existing) == Size {
			copy(img, existing)
		} else if existing != nil {
			s.log.Warn().Int("len", len(existing)).Msg("EEPROM image has wrong size, starting from erased image")
		}
		copy(img[offset:], data)

		if err := b.Put(imageKey, img); err != nil {
			return fmt.Errorf("writing eeprom image: %w", err)
		}

		var wear uint64
		if v := b.Get(wearKey); len(v) == 8 {
			wear = binary.BigEndian.Uint64(v)
		}
		wear++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], wear)

		s.log.Debug().
			Int("offset", offset).
			Int("len", len(data)).
			Uint64("lifetime_writes", wear).
			Msg("EEPROM block written")

		return b.Put(wearKey, buf[:])
	})
}

// ReadBlock fills buf from the image at offset. Never-written cells read 0xFF.
func (s *BoltStore) ReadBlock(offset int, buf []byte) error {
	if err := checkRange(offset, len(buf)); err != nil {
		return err
	}

	return s.db.View(func(tx *bolt.Tx) error {
		img := tx.Bucket(eepromBucket).Get(imageKey)
		if len(img) != Size {
			img = erasedImage()
		}
		copy(buf, img[offset:])
		return nil
	})
}

// LifetimeWrites returns how many block writes the image has seen across all boots.
func (s *BoltStore) LifetimeWrites() (uint64, error) {
	var wear uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(eepromBucket).Get(wearKey); len(v) == 8 {
			wear = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return wear, err
}
