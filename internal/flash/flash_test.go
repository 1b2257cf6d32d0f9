package flash

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

var testGeo = Geometry{Size: 64 * 1024, JEDECID: 0xEF30}

func testChip(t *testing.T) *Chip {
	t.Helper()
	c, err := NewMemory(testGeo, 0xEF30, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return c
}

func TestChip_Initialize(t *testing.T) {
	c := testChip(t)
	if !c.Initialize() {
		t.Error("Initialize should succeed when ids match")
	}

	bad, _ := NewMemory(testGeo, 0x1F44, zerolog.Nop())
	if bad.Initialize() {
		t.Error("Initialize should fail on id mismatch")
	}
	if bad.ReadDeviceID() != 0xEF30 {
		t.Errorf("ReadDeviceID: got %#x", bad.ReadDeviceID())
	}
}

func TestChip_FreshReadsErased(t *testing.T) {
	c := testChip(t)
	for _, addr := range []uint32{0, 256, 4095, testGeo.Size - 1, testGeo.Size + 10} {
		if got := c.ReadByteAt(addr); got != Erased {
			t.Errorf("addr %d: got %#x, want 0xFF", addr, got)
		}
	}
}

func TestChip_WriteANDsBits(t *testing.T) {
	c := testChip(t)
	c.WriteBytes(10, []byte{0xF0, 0x0F})
	c.WriteBytes(10, []byte{0x3C, 0xFF})

	buf := make([]byte, 2)
	c.ReadBytes(10, buf)
	if want := []byte{0x30, 0x0F}; !bytes.Equal(buf, want) {
		t.Errorf("got %x, want %x", buf, want)
	}
}

func TestChip_WriteTruncatedAtEnd(t *testing.T) {
	c := testChip(t)
	c.WriteBytes(testGeo.Size-1, []byte{0x01, 0x02})
	if got := c.ReadByteAt(testGeo.Size - 1); got != 0x01 {
		t.Errorf("last byte: got %#x", got)
	}
}

func TestChip_BlockErase(t *testing.T) {
	c := testChip(t)
	c.WriteBytes(0, bytes.Repeat([]byte{0}, Block32K+10))

	c.BlockErase4K(100)
	if c.ReadByteAt(0) != Erased || c.ReadByteAt(Block4K-1) != Erased {
		t.Error("4K block not erased")
	}
	if c.ReadByteAt(Block4K) != 0 {
		t.Error("4K erase reached the next block")
	}

	c.BlockErase32K(Block32K + 5)
	if c.ReadByteAt(Block32K) != Erased {
		t.Error("second 32K block not erased")
	}
	if c.ReadByteAt(Block32K-1) != 0 {
		t.Error("32K erase reached the previous block")
	}
}

func TestChip_ChipEraseBusy(t *testing.T) {
	c := testChip(t)
	c.SetBusyPolls(5)
	c.WriteBytes(4090, []byte{1, 2, 3})

	if c.Busy() {
		t.Fatal("chip busy before any erase")
	}

	c.ChipErase()
	polls := 0
	for c.Busy() {
		polls++
	}
	if polls != 5 {
		t.Errorf("busy polls: got %d, want 5", polls)
	}
	if c.ReadByteAt(4090) != Erased {
		t.Error("chip erase left data behind")
	}
}

func TestNewMemory_BadSize(t *testing.T) {
	if _, err := NewMemory(Geometry{Size: 1000}, 0, zerolog.Nop()); !errors.Is(err, ErrSize) {
		t.Errorf("expected ErrSize, got %v", err)
	}
}

func TestOpenFile_PersistsAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	c, err := OpenFile(path, testGeo, 0xEF30, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() != int64(testGeo.Size) {
		t.Errorf("image size: got %d, want %d", fi.Size(), testGeo.Size)
	}
	if c.ReadByteAt(100) != Erased {
		t.Error("new image not erased")
	}

	c.WriteBytes(0, []byte("FLXIMG:"))
	c.Close()

	reopened, err := OpenFile(path, testGeo, 0xEF30, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	buf := make([]byte, 7)
	reopened.ReadBytes(0, buf)
	if string(buf) != "FLXIMG:" {
		t.Errorf("got %q, want FLXIMG:", buf)
	}

	reopened.ChipErase()
	reopened.ReadBytes(0, buf)
	if !bytes.Equal(buf, bytes.Repeat([]byte{Erased}, 7)) {
		t.Errorf("after erase: got %x", buf)
	}
}
