// Package console implements the single-character serial debug console.
package console

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"basenode/internal/flash"
	"basenode/internal/radio"
	"basenode/internal/reboot"
)

// Dump windows, inclusive.
const (
	LowDumpStart  = 0
	LowDumpEnd    = 256
	HighDumpStart = 4090
	HighDumpEnd   = 4200
)

// RegisterReader exposes the transceiver registers.
type RegisterReader interface {
	ReadAllRegs() []radio.Register
}

// Command is one console entry.
type Command struct {
	Key  byte
	Name string
	run  func(d *Debugger)
}

// Debugger maps command bytes to actions on the flash chip, the radio and
// the reboot mechanism. It never touches the persisted configuration.
type Debugger struct {
	out      *bufio.Writer
	flash    flash.Device
	radio    RegisterReader
	rebooter reboot.Rebooter
	log      zerolog.Logger
	table    map[byte]Command
}

// NewDebugger builds the command table. Output goes to out, the serial
// debug channel.
func NewDebugger(out io.Writer, dev flash.Device, regs RegisterReader, r reboot.Rebooter, log zerolog.Logger) *Debugger {
	d := &Debugger{
		out:      bufio.NewWriter(out),
		flash:    dev,
		radio:    regs,
		rebooter: r,
		log:      log,
	}

	d.table = map[byte]Command{}
	for _, c := range []Command{
		{Key: 'd', Name: "dump-low", run: func(d *Debugger) { d.dump(LowDumpStart, LowDumpEnd) }},
		{Key: 'D', Name: "dump-high", run: func(d *Debugger) { d.dump(HighDumpStart, HighDumpEnd) }},
		{Key: 'e', Name: "erase", run: (*Debugger).erase},
		{Key: 'i', Name: "identify", run: (*Debugger).identify},
		{Key: 'r', Name: "reboot", run: (*Debugger).reboot},
		{Key: 'R', Name: "dump-registers", run: (*Debugger).registers},
	} {
		d.table[c.Key] = c
	}
	return d
}

// Commands lists the table sorted by key.
func (d *Debugger) Commands() []Command {
	out := make([]Command, 0, len(d.table))
	for _, c := range d.table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dispatch runs the command for b and reports whether there was one.
// Unknown bytes do nothing.
func (d *Debugger) Dispatch(b byte) bool {
	c, ok := d.table[b]
	if !ok {
		return false
	}
	d.log.Debug().Str("command", c.Name).Msg("Console command")
	c.run(d)
	if err := d.out.Flush(); err != nil {
		d.log.Warn().Err(err).Msg("Console write failed")
	}
	return true
}

func (d *Debugger) dump(from, to uint32) {
	fmt.Fprintln(d.out, "Flash content:")
	for addr := from; addr <= to; addr++ {
		fmt.Fprintf(d.out, "%02X.", d.flash.ReadByteAt(addr))
	}
	fmt.Fprintln(d.out)
}

func (d *Debugger) erase() {
	fmt.Fprint(d.out, "Erasing Flash chip ... ")
	d.out.Flush()
	d.flash.ChipErase()
	for d.flash.Busy() {
	}
	fmt.Fprintln(d.out, "DONE")
}

func (d *Debugger) identify() {
	fmt.Fprintf(d.out, "DeviceID: %X\n", d.flash.ReadDeviceID())
}

func (d *Debugger) reboot() {
	fmt.Fprintln(d.out, "Rebooting")
	d.out.Flush()
	d.rebooter.Reboot()
}

func (d *Debugger) registers() {
	fmt.Fprintln(d.out, "RFM69 registers:")
	for _, r := range d.radio.ReadAllRegs() {
		fmt.Fprintf(d.out, "%02X - %02X - %08b\n", r.Addr, r.Value, r.Value)
	}
}
