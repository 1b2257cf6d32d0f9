package radio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// pathLoss is the fixed attenuation applied by the simulated medium.
const pathLoss = 70

// engine is the part of a link shared by every medium: addressing,
// keys, registers, ATC and the single receive slot. Concrete links
// supply transmit and feed received wire bytes to deliver.
type engine struct {
	mu sync.Mutex

	log      zerolog.Logger
	transmit func(wire []byte) error

	ready     bool
	band      Band
	nodeID    uint8
	networkID uint8
	key       []byte
	keys      *keyring
	regs      registerFile
	highPower bool

	autoPower  bool
	targetRSSI int16

	// slot holds the one completed receive; a newer packet replaces it.
	slot     *InboundPacket
	lastRSSI int16
	overruns uint64
}

func newEngine(log zerolog.Logger) *engine {
	return &engine{
		log:  log,
		regs: newRegisterFile(),
	}
}

func (e *engine) initialize(band Band, nodeID, networkID uint8) error {
	if !band.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownBand, uint8(band))
	}

	kr, err := newKeyring(nil, networkID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.band = band
	e.nodeID = nodeID
	e.networkID = networkID
	e.key = nil
	e.keys = kr
	e.regs.setFrequency(band.DefaultHz())
	e.regs[RegSyncValue2] = networkID
	e.regs[RegNodeAdrs] = nodeID
	e.regs.setAES(false)
	e.ready = true

	e.log.Debug().
		Str("band", band.String()).
		Uint8("node", nodeID).
		Uint8("network", networkID).
		Msg("Radio initialized")
	return nil
}

// Encrypt sets the 16-byte AES key; nil or empty disables encryption.
func (e *engine) Encrypt(key []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(key) != 0 && len(key) != 16 {
		e.log.Warn().Int("len", len(key)).Msg("Ignoring encryption key with invalid length")
		return
	}
	kr, err := newKeyring(key, e.networkID)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to derive link keys")
		return
	}
	e.key = append([]byte(nil), key...)
	e.keys = kr
	for i := 0; i < 16; i++ {
		var b uint8
		if i < len(key) {
			b = key[i]
		}
		e.regs[RegAesKey1+i] = b
	}
	e.regs.setAES(len(key) != 0)
}

// SetFrequency tunes the carrier to hz.
func (e *engine) SetFrequency(hz uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.regs.setFrequency(hz)
}

// Frequency returns the tuned carrier, as read back from the registers.
func (e *engine) Frequency() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.regs.frequency()
}

// SetHighPower selects the high-power amplifier path.
func (e *engine) SetHighPower(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.highPower = on
	e.regs.setPowerLevel(e.regs.powerLevel(), on)
}

// EnableAutoPower turns on automatic transmission control aiming at targetRSSI.
func (e *engine) EnableAutoPower(targetRSSI int16) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.autoPower = true
	e.targetRSSI = targetRSSI
}

// WriteReg writes one register.
func (e *engine) WriteReg(addr, value uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(addr) < len(e.regs) {
		e.regs[addr] = value
	}
}

// ReadAllRegs returns registers 0x01..0x4F.
func (e *engine) ReadAllRegs() []Register {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.regs.dump()
}

// ReceiveDone takes the completed receive, if any. It never blocks.
func (e *engine) ReceiveDone() (InboundPacket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.slot == nil {
		return InboundPacket{}, false
	}
	pkt := *e.slot
	e.slot = nil
	return pkt, true
}

// Overruns counts packets replaced before they were taken.
func (e *engine) Overruns() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.overruns
}

// Send transmits payload to a node (or BroadcastAddr).
func (e *engine) Send(to uint8, payload []byte, requestAck bool) error {
	return e.send(&airFrame{Target: to, AckRequested: requestAck, Payload: payload})
}

// SendACK answers the last received packet from to.
func (e *engine) SendACK(to uint8, payload []byte) error {
	e.mu.Lock()
	rssi := e.lastRSSI
	e.mu.Unlock()

	return e.send(&airFrame{Target: to, ACK: true, AckRSSI: rssi, Payload: payload})
}

func (e *engine) send(f *airFrame) error {
	if len(f.Payload) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	f.Network = e.networkID
	f.Sender = e.nodeID
	f.TxPower = txPowerDBm(e.regs.powerLevel(), e.highPower)
	f.Payload = append([]byte(nil), f.Payload...)
	wire, err := e.keys.seal(f)
	transmit := e.transmit
	e.mu.Unlock()

	if err != nil {
		return err
	}
	return transmit(wire)
}

// deliver runs for every frame heard on the medium.
func (e *engine) deliver(wire []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return
	}

	f, err := e.keys.open(wire)
	if err != nil {
		e.log.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}
	if f.Network != e.networkID || f.Sender == e.nodeID {
		return
	}
	if f.Target != e.nodeID && f.Target != BroadcastAddr {
		return
	}

	rssi := f.TxPower - pathLoss
	if f.ACK && e.autoPower && f.AckRSSI != 0 {
		e.adjustPower(f.AckRSSI)
	}

	if e.slot != nil {
		e.overruns++
		e.log.Debug().Uint8("sender", e.slot.Sender).Msg("Unread packet overwritten")
	}
	e.lastRSSI = rssi
	e.slot = &InboundPacket{
		Sender:       f.Sender,
		Target:       f.Target,
		Payload:      f.Payload,
		RSSI:         rssi,
		AckRequested: f.AckRequested,
		ACK:          f.ACK,
	}
}

// adjustPower steps the PA level one notch toward the target RSSI reported by the peer.
func (e *engine) adjustPower(peerRSSI int16) {
	level := e.regs.powerLevel()
	switch {
	case peerRSSI < e.targetRSSI && level < paLevelMask:
		level++
	case peerRSSI > e.targetRSSI && level > 0:
		level--
	default:
		return
	}
	e.regs.setPowerLevel(level, e.highPower)
}
