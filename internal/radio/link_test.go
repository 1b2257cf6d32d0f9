package radio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func pair(t *testing.T, keyA, keyB []byte) (*MemoryLink, *MemoryLink) {
	t.Helper()
	m := NewMedium()
	a := NewMemoryLink(m, zerolog.Nop())
	b := NewMemoryLink(m, zerolog.Nop())
	if !a.Initialize(Band915, 1, 150) {
		t.Fatal("initialize a failed")
	}
	if !b.Initialize(Band915, 203, 150) {
		t.Fatal("initialize b failed")
	}
	a.Encrypt(keyA)
	b.Encrypt(keyB)
	return a, b
}

func TestMemoryLink_Delivery(t *testing.T) {
	a, b := pair(t, testKey, testKey)

	if err := a.Send(203, []byte{1, 2, 3}, true); err != nil {
		t.Fatalf("send: %v", err)
	}

	pkt, ok := b.ReceiveDone()
	if !ok {
		t.Fatal("expected a packet")
	}
	if pkt.Sender != 1 || pkt.Len() != 3 || !pkt.AckRequested {
		t.Errorf("packet: got %+v", pkt)
	}
	if !bytes.Equal(pkt.Payload, []byte{1, 2, 3}) {
		t.Errorf("Payload: got %v", pkt.Payload)
	}

	if _, ok := b.ReceiveDone(); ok {
		t.Error("slot should be empty after take")
	}
	if _, ok := a.ReceiveDone(); ok {
		t.Error("sender must not hear itself")
	}
}

func TestMemoryLink_Filtering(t *testing.T) {
	m := NewMedium()
	gw := NewMemoryLink(m, zerolog.Nop())
	node := NewMemoryLink(m, zerolog.Nop())
	other := NewMemoryLink(m, zerolog.Nop())
	gw.Initialize(Band915, 1, 150)
	node.Initialize(Band915, 203, 150)
	other.Initialize(Band915, 203, 151)

	gw.Send(99, []byte("not for you"), false)
	if _, ok := node.ReceiveDone(); ok {
		t.Error("packet for another node delivered")
	}

	gw.Send(BroadcastAddr, []byte("all"), false)
	if _, ok := node.ReceiveDone(); !ok {
		t.Error("broadcast not delivered")
	}
	if _, ok := other.ReceiveDone(); ok {
		t.Error("packet crossed networks")
	}
}

func TestMemoryLink_KeyMismatchDropped(t *testing.T) {
	a, b := pair(t, testKey, nil)

	a.Send(203, []byte("secret"), false)
	if _, ok := b.ReceiveDone(); ok {
		t.Error("frame under a different key delivered")
	}
}

func TestMemoryLink_SingleSlotOverwrite(t *testing.T) {
	a, b := pair(t, nil, nil)

	a.Send(203, []byte("first"), false)
	a.Send(203, []byte("second"), false)

	pkt, ok := b.ReceiveDone()
	if !ok {
		t.Fatal("expected a packet")
	}
	if string(pkt.Payload) != "second" {
		t.Errorf("Payload: got %q, want second", pkt.Payload)
	}
	if b.Overruns() != 1 {
		t.Errorf("Overruns: got %d, want 1", b.Overruns())
	}
	if _, ok := b.ReceiveDone(); ok {
		t.Error("first packet should be lost")
	}
}

func TestMemoryLink_SendLimits(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	if err := l.Send(1, []byte("x"), false); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}

	l.Initialize(Band915, 203, 150)
	if err := l.Send(1, make([]byte, MaxDataLen+1), false); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := l.Send(1, make([]byte, MaxDataLen), false); err != nil {
		t.Errorf("max payload rejected: %v", err)
	}
	if len(l.Sent()) != 1 {
		t.Errorf("Sent: got %d, want 1", len(l.Sent()))
	}
}

func TestMemoryLink_FailInitialize(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	l.FailInitialize()
	if l.Initialize(Band915, 203, 150) {
		t.Error("expected initialize to fail")
	}
}

func TestEngine_InvalidBand(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	if l.Initialize(Band(7), 203, 150) {
		t.Error("expected unknown band to fail initialization")
	}
}

func TestEngine_FrequencyRegisters(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	l.Initialize(Band915, 203, 150)

	l.SetFrequency(905500000)
	got := l.Frequency()
	if diff := int64(got) - 905500000; float64(diff) < -FStep || float64(diff) > FStep {
		t.Errorf("Frequency: got %d, want ~905500000", got)
	}

	regs := l.ReadAllRegs()
	if len(regs) != lastDumpedReg {
		t.Fatalf("register count: got %d, want %d", len(regs), lastDumpedReg)
	}
	if regs[0].Addr != 0x01 || regs[len(regs)-1].Addr != 0x4F {
		t.Errorf("register range: %#x..%#x", regs[0].Addr, regs[len(regs)-1].Addr)
	}
	if regs[RegSyncValue2-1].Value != 150 {
		t.Errorf("sync value 2: got %d, want 150", regs[RegSyncValue2-1].Value)
	}
	if regs[RegNodeAdrs-1].Value != 203 {
		t.Errorf("node address: got %d, want 203", regs[RegNodeAdrs-1].Value)
	}
}

func TestEngine_KeyRegistersHidden(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	l.Initialize(Band915, 203, 150)
	l.Encrypt(testKey)

	for _, r := range l.ReadAllRegs() {
		if r.Addr >= RegAesKey1 && r.Addr <= RegAesKey16 && r.Value != 0 {
			t.Fatalf("key register %#x exposed", r.Addr)
		}
		if r.Addr == RegPacketConfig2 && r.Value&aesOn == 0 {
			t.Error("AES bit not set")
		}
	}
}

func TestEngine_HighPowerAndPreset(t *testing.T) {
	l := NewMemoryLink(nil, zerolog.Nop())
	l.Initialize(Band915, 203, 150)
	l.SetHighPower(true)
	for _, r := range BR300KbpsPreset {
		l.WriteReg(r.Addr, r.Value)
	}

	regs := l.ReadAllRegs()
	if v := regs[RegPaLevel-1].Value; v&(pa1On|pa2On) != pa1On|pa2On {
		t.Errorf("PA level: got %#x, want PA1+PA2", v)
	}
	if v := regs[RegOcp-1].Value; v != ocpOff {
		t.Errorf("OCP: got %#x, want %#x", v, ocpOff)
	}
	if v := regs[RegBitrateLsb-1].Value; v != 0x6B {
		t.Errorf("bitrate lsb: got %#x, want 0x6B", v)
	}
}

func TestEngine_AutoPowerStepsDown(t *testing.T) {
	a, b := pair(t, nil, nil)
	a.EnableAutoPower(-80)
	before := a.regs.powerLevel()

	a.Send(203, []byte("ping"), true)
	if _, ok := b.ReceiveDone(); !ok {
		t.Fatal("expected packet at b")
	}
	// b hears a loud signal and reports it in the ACK
	b.SendACK(1, nil)
	if _, ok := a.ReceiveDone(); !ok {
		t.Fatal("expected ACK at a")
	}

	if after := a.regs.powerLevel(); after != before-1 {
		t.Errorf("power level: got %d, want %d", after, before-1)
	}
}

func TestBandFromMHz(t *testing.T) {
	tests := []struct {
		mhz  int
		want Band
	}{
		{315, Band315},
		{433, Band433},
		{868, Band868},
		{915, Band915},
	}
	for _, tt := range tests {
		got, err := BandFromMHz(tt.mhz)
		if err != nil || got != tt.want {
			t.Errorf("BandFromMHz(%d): got %v/%v, want %v", tt.mhz, got, err, tt.want)
		}
	}
	if _, err := BandFromMHz(900); !errors.Is(err, ErrUnknownBand) {
		t.Errorf("expected ErrUnknownBand, got %v", err)
	}
	if !Band915.Contains(905500000) || Band868.Contains(905500000) {
		t.Error("Contains mismatch")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(150); got != "basenode.air.150" {
		t.Errorf("Subject: got %s", got)
	}
}
