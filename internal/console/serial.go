package console

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Serial is the debug UART: a non-blocking byte source plus the text
// output channel.
type Serial interface {
	io.Writer
	Available() bool
	Next() byte
}

// ScriptSerial replays a fixed byte sequence and collects output.
type ScriptSerial struct {
	mu     sync.Mutex
	script []byte
	out    io.Writer
}

// NewScriptSerial returns a Serial that yields script one byte per poll.
func NewScriptSerial(script []byte, out io.Writer) *ScriptSerial {
	return &ScriptSerial{script: append([]byte(nil), script...), out: out}
}

// Feed appends more input.
func (s *ScriptSerial) Feed(b ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, b...)
}

func (s *ScriptSerial) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.script) > 0
}

// Next returns the next byte, or 0 when nothing is pending.
func (s *ScriptSerial) Next() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return 0
	}
	b := s.script[0]
	s.script = s.script[1:]
	return b
}

func (s *ScriptSerial) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

// interruptByte is Ctrl-C, which raw mode delivers as data.
const interruptByte = 0x03

// TerminalSerial reads single keystrokes from a terminal in raw mode. A
// background reader feeds a buffered channel so Available never blocks.
type TerminalSerial struct {
	in       *os.File
	out      io.Writer
	raw      bool
	oldState *term.State
	ch       chan byte
	pending  []byte
	mu       sync.Mutex
	onIntr   func()
	log      zerolog.Logger
}

// OpenTerminal puts in into raw mode when it is a terminal and starts
// reading. onInterrupt runs when the operator presses Ctrl-C.
func OpenTerminal(in *os.File, out io.Writer, onInterrupt func(), log zerolog.Logger) (*TerminalSerial, error) {
	t := &TerminalSerial{
		in:     in,
		out:    out,
		ch:     make(chan byte, 256),
		onIntr: onInterrupt,
		log:    log,
	}

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("setting terminal raw mode: %w", err)
		}
		t.raw = true
		t.oldState = state
	} else {
		log.Debug().Msg("Console input is not a terminal, reading as a stream")
	}

	go t.read()
	return t, nil
}

func (t *TerminalSerial) read() {
	buf := make([]byte, 64)
	for {
		n, err := t.in.Read(buf)
		for _, b := range buf[:n] {
			if t.raw && b == interruptByte {
				if t.onIntr != nil {
					t.onIntr()
				}
				continue
			}
			select {
			case t.ch <- b:
			default:
				t.log.Debug().Msg("Console input overflow, byte dropped")
			}
		}
		if err != nil {
			if err != io.EOF {
				t.log.Debug().Err(err).Msg("Console reader stopped")
			}
			return
		}
	}
}

func (t *TerminalSerial) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) > 0 {
		return true
	}
	select {
	case b := <-t.ch:
		t.pending = append(t.pending, b)
		return true
	default:
		return false
	}
}

// Next returns the next byte, or 0 when nothing is pending.
func (t *TerminalSerial) Next() byte {
	if !t.Available() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.pending[0]
	t.pending = t.pending[1:]
	return b
}

// Write sends text to the terminal. In raw mode bare newlines become CRLF.
func (t *TerminalSerial) Write(p []byte) (int, error) {
	if !t.raw {
		return t.out.Write(p)
	}
	return crlfWriter{w: t.out}.Write(p)
}

// Raw reports whether the terminal is in raw mode.
func (t *TerminalSerial) Raw() bool {
	return t.raw
}

// Close restores the terminal.
func (t *TerminalSerial) Close() error {
	if t.oldState == nil {
		return nil
	}
	return term.Restore(int(t.in.Fd()), t.oldState)
}

type crlfWriter struct{ w io.Writer }

// NewCRLFWriter returns a writer that turns bare newlines into CRLF, for
// text written next to a raw-mode console.
func NewCRLFWriter(w io.Writer) io.Writer {
	return crlfWriter{w: w}
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(toCRLF(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func toCRLF(p []byte) []byte {
	if !bytes.Contains(p, []byte{'\n'}) {
		return p
	}
	out := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	return out
}
