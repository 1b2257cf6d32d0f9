package console

import (
	"bytes"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func awaitByte(t *testing.T, s Serial) byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Available() {
			return s.Next()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no console input arrived")
	return 0
}

func TestTerminalSerial_Pipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()
	defer r.Close()

	var out bytes.Buffer
	ts, err := OpenTerminal(r, &out, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenTerminal: %v", err)
	}
	defer ts.Close()

	if ts.Raw() {
		t.Fatal("a pipe is not a terminal")
	}
	if ts.Available() || ts.Next() != 0 {
		t.Error("input reported before anything was written")
	}

	if _, err := w.Write([]byte("iR")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b := awaitByte(t, ts); b != 'i' {
		t.Errorf("first byte: got %q, want 'i'", b)
	}
	if b := awaitByte(t, ts); b != 'R' {
		t.Errorf("second byte: got %q, want 'R'", b)
	}

	ts.Write([]byte("DONE\n"))
	if out.String() != "DONE\n" {
		t.Errorf("stream mode output: got %q", out.String())
	}
}

func TestTerminalSerial_RawModeInterrupt(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()
	defer r.Close()

	var interrupts atomic.Int32
	var out bytes.Buffer
	ts := &TerminalSerial{
		in:     r,
		out:    &out,
		raw:    true,
		ch:     make(chan byte, 256),
		onIntr: func() { interrupts.Add(1) },
		log:    zerolog.Nop(),
	}
	go ts.read()

	w.Write([]byte{'d', interruptByte, 'e'})
	if b := awaitByte(t, ts); b != 'd' {
		t.Errorf("first byte: got %q, want 'd'", b)
	}
	if b := awaitByte(t, ts); b != 'e' {
		t.Errorf("second byte: got %q, want 'e'", b)
	}
	if interrupts.Load() != 1 {
		t.Errorf("interrupts: got %d, want 1", interrupts.Load())
	}

	ts.Write([]byte("Rebooting\n"))
	if out.String() != "Rebooting\r\n" {
		t.Errorf("raw mode output: got %q", out.String())
	}
}
