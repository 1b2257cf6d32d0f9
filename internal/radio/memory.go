package radio

import (
	"sync"

	"github.com/rs/zerolog"
)

// Medium is an in-process air: every frame sent by one attached link is
// heard by all the others.
type Medium struct {
	mu    sync.Mutex
	links []*MemoryLink
}

// NewMedium returns an empty in-process medium.
func NewMedium() *Medium { return &Medium{} }

func (m *Medium) broadcast(from *MemoryLink, wire []byte) {
	m.mu.Lock()
	peers := make([]*MemoryLink, 0, len(m.links))
	for _, l := range m.links {
		if l != from {
			peers = append(peers, l)
		}
	}
	m.mu.Unlock()

	for _, l := range peers {
		frame := make([]byte, len(wire))
		copy(frame, wire)
		l.deliver(frame)
	}
}

// MemoryLink is a Link on an in-process Medium. It also records what it
// transmitted and lets tests place packets straight into the receive slot.
type MemoryLink struct {
	*engine

	medium   *Medium
	failInit bool

	txMu  sync.Mutex
	txLog []InboundPacket
}

// NewMemoryLink attaches a new link to m. A nil medium gives a link that
// only records its transmissions.
func NewMemoryLink(m *Medium, log zerolog.Logger) *MemoryLink {
	l := &MemoryLink{engine: newEngine(log), medium: m}
	l.engine.transmit = l.transmit
	if m != nil {
		m.mu.Lock()
		m.links = append(m.links, l)
		m.mu.Unlock()
	}
	return l
}

// FailInitialize makes the next Initialize report failure.
func (l *MemoryLink) FailInitialize() { l.failInit = true }

// Initialize brings the link up on a network.
func (l *MemoryLink) Initialize(band Band, nodeID, networkID uint8) bool {
	if l.failInit {
		return false
	}
	if err := l.engine.initialize(band, nodeID, networkID); err != nil {
		l.log.Error().Err(err).Msg("Radio initialization failed")
		return false
	}
	return true
}

func (l *MemoryLink) transmit(wire []byte) error {
	l.txMu.Lock()
	l.txLog = append(l.txLog, l.decodeOwn(wire))
	l.txMu.Unlock()

	if l.medium != nil {
		l.medium.broadcast(l, wire)
	}
	return nil
}

func (l *MemoryLink) decodeOwn(wire []byte) InboundPacket {
	l.mu.Lock()
	keys := l.keys
	l.mu.Unlock()

	f, err := keys.open(wire)
	if err != nil {
		return InboundPacket{}
	}
	return InboundPacket{
		Sender:       f.Sender,
		Target:       f.Target,
		Payload:      f.Payload,
		AckRequested: f.AckRequested,
		ACK:          f.ACK,
	}
}

// Inject places pkt in the receive slot as if it had just arrived.
func (l *MemoryLink) Inject(pkt InboundPacket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slot != nil {
		l.overruns++
	}
	p := pkt
	p.Payload = append([]byte(nil), pkt.Payload...)
	l.slot = &p
}

// Sent returns a copy of everything this link transmitted.
func (l *MemoryLink) Sent() []InboundPacket {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	out := make([]InboundPacket, len(l.txLog))
	copy(out, l.txLog)
	return out
}

// Close detaches the link from its medium.
func (l *MemoryLink) Close() error {
	if l.medium == nil {
		return nil
	}
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	for i, peer := range l.medium.links {
		if peer == l {
			l.medium.links = append(l.medium.links[:i], l.medium.links[i+1:]...)
			break
		}
	}
	return nil
}
