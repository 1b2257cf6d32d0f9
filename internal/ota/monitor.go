// Package ota implements the wireless programming stream: the node-side
// Monitor that stages an incoming image in flash, and the gateway-side
// Sender that streams one.
//
// Stream, one radio packet per step, each acknowledged by the node:
//
//	FLX?               start; the node erases staging and answers FLX?OK
//	FLX:<seq>:<data>   chunk <seq> (decimal from 0); answer FLX:<seq>:OK
//	FLX?EOF            done; the node writes the header, answers FLX?OK and reboots
//
// The staged image starts with the header "FLXIMG:" + 2-byte big-endian
// length + ":" followed by the image bytes, which is what the bootloader
// looks for at flash offset 0.
package ota

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"basenode/internal/flash"
	"basenode/internal/radio"
	"basenode/internal/reboot"
)

const (
	// HeaderSize is the staged image header length.
	HeaderSize = 10
	// MaxImageSize is the largest image the 2-byte header can describe.
	MaxImageSize = 0xFFFF
	// SessionTimeout drops a stream that went quiet.
	SessionTimeout = 3 * time.Second
)

var (
	cmdStart  = []byte("FLX?")
	cmdEOF    = []byte("FLX?EOF")
	ackStart  = []byte("FLX?OK")
	chunkHead = []byte("FLX:")
	ackSuffix = []byte(":OK")
	imageTag  = []byte("FLXIMG:")
)

// Acker sends an ACK frame back to the sender of a packet.
type Acker interface {
	SendACK(to uint8, payload []byte) error
}

// Observer is told about stream progress. All methods are optional through
// NopObserver.
type Observer interface {
	SessionStarted(sender uint8)
	ChunkWritten(n int)
	ImageStaged(size int)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SessionStarted(uint8) {}
func (NopObserver) ChunkWritten(int) {}
func (NopObserver) ImageStaged(int) {}

type session struct {
	sender   uint8
	next     int
	written  uint32
	erasedTo uint32
	lastSeen time.Time
}

// Monitor inspects inbound packets for an OTA stream.
type Monitor struct {
	link     Acker
	flash    flash.Device
	rebooter reboot.Rebooter
	obs      Observer
	log      zerolog.Logger
	now      func() time.Time

	sess *session
}

// NewMonitor returns a Monitor writing into dev and rebooting through r.
func NewMonitor(link Acker, dev flash.Device, r reboot.Rebooter, obs Observer, log zerolog.Logger) *Monitor {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Monitor{
		link:     link,
		flash:    dev,
		rebooter: r,
		obs:      obs,
		log:      log,
		now:      time.Now,
	}
}

// Active reports whether a stream is in progress.
func (m *Monitor) Active() bool {
	m.expire()
	return m.sess != nil
}

// Check evaluates one inbound packet. Anything that is not part of the
// current stream is ignored.
func (m *Monitor) Check(pkt radio.InboundPacket) {
	if pkt.ACK {
		return
	}
	m.expire()

	p := pkt.Payload
	switch {
	case bytes.Equal(p, cmdStart):
		m.start(pkt.Sender)
	case bytes.Equal(p, cmdEOF):
		m.finish(pkt.Sender)
	case bytes.HasPrefix(p, chunkHead):
		m.chunk(pkt.Sender, p[len(chunkHead):])
	default:
		m.log.Debug().Uint8("sender", pkt.Sender).Int("len", len(p)).Msg("Not an OTA packet")
	}
}

func (m *Monitor) expire() {
	if m.sess != nil && m.now().Sub(m.sess.lastSeen) > SessionTimeout {
		m.log.Warn().
			Uint8("sender", m.sess.sender).
			Uint32("written", m.sess.written).
			Msg("OTA stream timed out")
		m.sess = nil
	}
}

func (m *Monitor) start(sender uint8) {
	if m.sess != nil {
		m.log.Warn().Uint8("previous", m.sess.sender).Uint8("sender", sender).Msg("OTA stream restarted")
	}
	m.flash.BlockErase32K(0)
	for m.flash.Busy() {
	}
	m.sess = &session{sender: sender, erasedTo: flash.Block32K, lastSeen: m.now()}

	m.ack(sender, ackStart)
	m.obs.SessionStarted(sender)
	m.log.Info().Uint8("sender", sender).Msg("OTA stream started")
}

func (m *Monitor) chunk(sender uint8, rest []byte) {
	s := m.sess
	if s == nil || s.sender != sender {
		return
	}

	sep := bytes.IndexByte(rest, ':')
	if sep <= 0 || sep > 5 {
		return
	}
	seq, err := strconv.Atoi(string(rest[:sep]))
	if err != nil || seq < 0 {
		return
	}
	data := rest[sep+1:]

	switch seq {
	case s.next:
	case s.next - 1:
		// our ACK got lost, the sender is retrying
		s.lastSeen = m.now()
		m.ack(sender, chunkAck(seq))
		return
	default:
		m.log.Debug().Int("seq", seq).Int("want", s.next).Msg("Out of order OTA chunk ignored")
		return
	}

	if len(data) == 0 {
		return
	}
	if int(s.written)+len(data) > MaxImageSize {
		m.log.Error().Uint32("written", s.written).Int("len", len(data)).Msg("OTA image too large, stream dropped")
		m.sess = nil
		return
	}

	addr := HeaderSize + s.written
	end := addr + uint32(len(data))
	if end > m.flash.Size() {
		m.log.Error().Uint32("end", end).Uint32("chip", m.flash.Size()).Msg("OTA image does not fit in flash, stream dropped")
		m.sess = nil
		return
	}
	for s.erasedTo < end {
		m.flash.BlockErase32K(s.erasedTo)
		for m.flash.Busy() {
		}
		s.erasedTo += flash.Block32K
	}
	m.flash.WriteBytes(addr, data)

	s.written += uint32(len(data))
	s.next++
	s.lastSeen = m.now()
	m.ack(sender, chunkAck(seq))
	m.obs.ChunkWritten(len(data))
}

func (m *Monitor) finish(sender uint8) {
	s := m.sess
	if s == nil || s.sender != sender {
		return
	}
	if s.written == 0 {
		m.log.Warn().Uint8("sender", sender).Msg("OTA stream ended without data, ignored")
		m.sess = nil
		return
	}

	var hdr [HeaderSize]byte
	copy(hdr[:], imageTag)
	binary.BigEndian.PutUint16(hdr[len(imageTag):], uint16(s.written))
	hdr[HeaderSize-1] = ':'
	m.flash.WriteBytes(0, hdr[:])

	m.ack(sender, ackStart)
	m.obs.ImageStaged(int(s.written))
	m.log.Info().Uint8("sender", sender).Uint32("size", s.written).Msg("OTA image staged, rebooting")

	m.sess = nil
	m.rebooter.Reboot()
}

func (m *Monitor) ack(to uint8, payload []byte) {
	if err := m.link.SendACK(to, payload); err != nil {
		m.log.Warn().Err(err).Uint8("to", to).Msg("OTA ACK failed")
	}
}

func chunkAck(seq int) []byte {
	b := append([]byte(nil), chunkHead...)
	b = strconv.AppendInt(b, int64(seq), 10)
	return append(b, ackSuffix...)
}

// StagedImage reads a staged image back from dev. ok is false when no valid
// header is present.
func StagedImage(dev flash.Device) (image []byte, ok bool) {
	var hdr [HeaderSize]byte
	dev.ReadBytes(0, hdr[:])
	if !bytes.Equal(hdr[:len(imageTag)], imageTag) || hdr[HeaderSize-1] != ':' {
		return nil, false
	}
	n := binary.BigEndian.Uint16(hdr[len(imageTag):])
	image = make([]byte, n)
	dev.ReadBytes(HeaderSize, image)
	return image, true
}
