// Package radio provides the packet radio link a node talks through.
//
// Link mirrors the surface of an RFM69 driver: initialize on a network,
// optional AES key, exact frequency, high-power and automatic transmission
// control, register access, a non-blocking receive check and send/ACK.
// The host implementations carry frames over a simulated air medium
// (in-process, UDP multicast or NATS).
package radio

import (
	"errors"
	"fmt"
)

// Band is the RFM69 frequency band selector.
type Band uint8

const (
	Band315 Band = 31
	Band433 Band = 43
	Band868 Band = 86
	Band915 Band = 91
)

const (
	// MaxDataLen is the largest payload one packet can carry.
	MaxDataLen = 61
	// BroadcastAddr addresses every node on the network.
	BroadcastAddr = 0xFF
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum packet size")
	ErrNotInitialized  = errors.New("radio not initialized")
	ErrUnknownBand     = errors.New("unknown frequency band")
)

// BandFromMHz maps a nominal band frequency to its selector.
func BandFromMHz(mhz int) (Band, error) {
	switch mhz {
	case 315:
		return Band315, nil
	case 433:
		return Band433, nil
	case 868:
		return Band868, nil
	case 915:
		return Band915, nil
	}
	return 0, fmt.Errorf("%w: %d MHz", ErrUnknownBand, mhz)
}

// DefaultHz is the carrier used when no exact frequency is configured.
func (b Band) DefaultHz() uint32 {
	switch b {
	case Band315:
		return 315_000_000
	case Band433:
		return 433_000_000
	case Band868:
		return 868_000_000
	default:
		return 915_000_000
	}
}

// Contains reports whether hz is a legal carrier for the band.
func (b Band) Contains(hz uint32) bool {
	switch b {
	case Band315:
		return hz >= 290_000_000 && hz <= 340_000_000
	case Band433:
		return hz >= 424_000_000 && hz <= 510_000_000
	case Band868:
		return hz >= 862_000_000 && hz <= 890_000_000
	case Band915:
		return hz >= 890_000_000 && hz <= 1_020_000_000
	}
	return false
}

// Valid reports whether b is a known selector.
func (b Band) Valid() bool {
	switch b {
	case Band315, Band433, Band868, Band915:
		return true
	}
	return false
}

func (b Band) String() string {
	switch b {
	case Band315:
		return "315MHz"
	case Band433:
		return "433MHz"
	case Band868:
		return "868MHz"
	case Band915:
		return "915MHz"
	}
	return fmt.Sprintf("band(%d)", uint8(b))
}

// InboundPacket is one completed receive. It is only valid for the loop
// iteration that took it.
type InboundPacket struct {
	Sender       uint8
	Target       uint8
	Payload      []byte
	RSSI         int16
	AckRequested bool
	ACK          bool
}

// Len is the payload length.
func (p InboundPacket) Len() int { return len(p.Payload) }

// Register is one transceiver register value.
type Register struct {
	Addr  uint8
	Value uint8
}

// Link is the radio the node core consumes.
type Link interface {
	Initialize(band Band, nodeID, networkID uint8) bool
	Encrypt(key []byte)
	SetFrequency(hz uint32)
	SetHighPower(on bool)
	EnableAutoPower(targetRSSI int16)
	WriteReg(addr, value uint8)
	ReadAllRegs() []Register
	ReceiveDone() (InboundPacket, bool)
	Send(to uint8, payload []byte, requestAck bool) error
	SendACK(to uint8, payload []byte) error
	Close() error
}

var (
	_ Link = (*MemoryLink)(nil)
	_ Link = (*UDPLink)(nil)
	_ Link = (*NATSLink)(nil)
)
