// Package flash models the external SPI NOR flash chip the node uses for
// debug inspection and as the staging area for OTA images.
package flash

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// Erased is the value every cell reads after an erase.
	Erased = 0xFF

	Block4K  = 4 * 1024
	Block32K = 32 * 1024

	// DefaultBusyPolls is how many Busy calls report true after an erase.
	DefaultBusyPolls = 3
)

var ErrSize = errors.New("flash size must be a multiple of 32K")

// Device is the flash chip as the node runtime sees it. Operations never
// return errors: like the hardware they either happen or they don't.
type Device interface {
	Initialize() bool
	ReadByteAt(addr uint32) byte
	ReadBytes(addr uint32, buf []byte)
	WriteBytes(addr uint32, data []byte)
	BlockErase4K(addr uint32)
	BlockErase32K(addr uint32)
	ChipErase()
	Busy() bool
	ReadDeviceID() uint16
	Size() uint32
}

// Geometry describes a chip.
type Geometry struct {
	Size    uint32
	JEDECID uint16
}

type backing interface {
	io.ReaderAt
	io.WriterAt
}

// Chip implements Device over a byte image. Programming only clears bits,
// so writing over non-erased cells ANDs the old and new values.
type Chip struct {
	mu        sync.Mutex
	img       backing
	closer    io.Closer
	geo       Geometry
	expectID  uint16
	busyPolls int
	pending   int
	log       zerolog.Logger
}

// memImage is a fixed-size in-memory image.
type memImage []byte

func (m memImage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	return copy(p, m[off:]), nil
}

func (m memImage) WriteAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	return copy(m[off:], p), nil
}

// NewMemory returns an erased in-memory chip. expectID is the id Initialize
// checks the chip against.
func NewMemory(geo Geometry, expectID uint16, log zerolog.Logger) (*Chip, error) {
	if geo.Size == 0 || geo.Size%Block32K != 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, geo.Size)
	}
	img := make(memImage, geo.Size)
	for i := range img {
		img[i] = Erased
	}
	return &Chip{
		img:       img,
		geo:       geo,
		expectID:  expectID,
		busyPolls: DefaultBusyPolls,
		log:       log,
	}, nil
}

// SetBusyPolls changes how long erases keep the chip busy.
func (c *Chip) SetBusyPolls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyPolls = n
}

// Size returns the chip capacity in bytes.
func (c *Chip) Size() uint32 {
	return c.geo.Size
}

// Initialize reads the JEDEC id and reports whether it matches.
func (c *Chip) Initialize() bool {
	id := c.ReadDeviceID()
	if id != c.expectID {
		c.log.Warn().
			Str("got", fmt.Sprintf("0x%04X", id)).
			Str("want", fmt.Sprintf("0x%04X", c.expectID)).
			Msg("Flash JEDEC id mismatch")
		return false
	}
	c.log.Debug().Uint32("size", c.geo.Size).Msg("Flash initialized")
	return true
}

// ReadDeviceID returns the JEDEC id.
func (c *Chip) ReadDeviceID() uint16 {
	return c.geo.JEDECID
}

// ReadByteAt reads one byte. Addresses past the end read as erased.
func (c *Chip) ReadByteAt(addr uint32) byte {
	var b [1]byte
	c.ReadBytes(addr, b[:])
	return b[0]
}

// ReadBytes fills buf starting at addr.
func (c *Chip) ReadBytes(addr uint32, buf []byte) {
	for i := range buf {
		buf[i] = Erased
	}
	n := c.clip(addr, len(buf))
	if n == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.img.ReadAt(buf[:n], int64(addr)); err != nil && !errors.Is(err, io.EOF) {
		c.log.Error().Err(err).Uint32("addr", addr).Msg("Flash read failed")
	}
}

// WriteBytes programs data at addr.
func (c *Chip) WriteBytes(addr uint32, data []byte) {
	n := c.clip(addr, len(data))
	if n < len(data) {
		c.log.Warn().Uint32("addr", addr).Int("len", len(data)).Msg("Flash write past end of chip truncated")
	}
	if n == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := make([]byte, n)
	if _, err := c.img.ReadAt(cur, int64(addr)); err != nil && !errors.Is(err, io.EOF) {
		c.log.Error().Err(err).Uint32("addr", addr).Msg("Flash read before program failed")
		return
	}
	for i := range cur {
		cur[i] &= data[i]
	}
	if _, err := c.img.WriteAt(cur, int64(addr)); err != nil {
		c.log.Error().Err(err).Uint32("addr", addr).Msg("Flash program failed")
	}
}

// BlockErase4K erases the 4K block containing addr.
func (c *Chip) BlockErase4K(addr uint32) {
	c.erase(addr-addr%Block4K, Block4K)
}

// BlockErase32K erases the 32K block containing addr.
func (c *Chip) BlockErase32K(addr uint32) {
	c.erase(addr-addr%Block32K, Block32K)
}

// ChipErase erases the whole chip.
func (c *Chip) ChipErase() {
	c.erase(0, c.geo.Size)
}

// Busy reports whether the last erase is still running. Each call advances
// the simulated erase by one step.
func (c *Chip) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == 0 {
		return false
	}
	c.pending--
	return true
}

func (c *Chip) erase(start, n uint32) {
	if start >= c.geo.Size {
		return
	}
	if start+n > c.geo.Size {
		n = c.geo.Size - start
	}

	blank := make([]byte, Block4K)
	for i := range blank {
		blank[i] = Erased
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for off := start; off < start+n; off += Block4K {
		chunk := blank
		if rem := start + n - off; rem < Block4K {
			chunk = blank[:rem]
		}
		if _, err := c.img.WriteAt(chunk, int64(off)); err != nil {
			c.log.Error().Err(err).Uint32("addr", off).Msg("Flash erase failed")
			return
		}
	}
	c.pending = c.busyPolls
	c.log.Debug().Uint32("addr", start).Uint32("len", n).Msg("Flash erased")
}

func (c *Chip) clip(addr uint32, n int) int {
	if addr >= c.geo.Size {
		return 0
	}
	if rem := int(c.geo.Size - addr); n > rem {
		return rem
	}
	return n
}

// Close releases the backing file, if any.
func (c *Chip) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
