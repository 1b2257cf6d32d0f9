package radio

// RFM69 register addresses touched by the link.
const (
	RegOpMode        = 0x01
	RegDataModul     = 0x02
	RegBitrateMsb    = 0x03
	RegBitrateLsb    = 0x04
	RegFdevMsb       = 0x05
	RegFdevLsb       = 0x06
	RegFrfMsb        = 0x07
	RegFrfMid        = 0x08
	RegFrfLsb        = 0x09
	RegVersion       = 0x10
	RegPaLevel       = 0x11
	RegOcp           = 0x13
	RegRxBw          = 0x19
	RegAfcBw         = 0x1A
	RegDioMapping1   = 0x25
	RegDioMapping2   = 0x26
	RegIrqFlags2     = 0x28
	RegRssiThresh    = 0x29
	RegSyncConfig    = 0x2E
	RegSyncValue1    = 0x2F
	RegSyncValue2    = 0x30
	RegPacketConfig1 = 0x37
	RegPayloadLength = 0x38
	RegNodeAdrs      = 0x39
	RegBroadcastAdrs = 0x3A
	RegFifoThresh    = 0x3C
	RegPacketConfig2 = 0x3D
	RegAesKey1       = 0x3E
	RegAesKey16      = 0x4D
	RegTemp2         = 0x4F

	lastDumpedReg = RegTemp2
)

// FStep is the synthesizer resolution: 32 MHz oscillator over 2^19.
const FStep = 32000000.0 / 524288.0

const (
	paLevelMask = 0x1F
	pa0On       = 0x80
	pa1On       = 0x40
	pa2On       = 0x20
	ocpOn       = 0x1A
	ocpOff      = 0x0F
	aesOn       = 0x01
)

// registerFile is the simulated transceiver register map.
type registerFile [lastDumpedReg + 1]uint8

func newRegisterFile() registerFile {
	var r registerFile
	r[RegOpMode] = 0x04
	r[RegBitrateMsb] = 0x02
	r[RegBitrateLsb] = 0x40
	r[RegFdevMsb] = 0x03
	r[RegFdevLsb] = 0x33
	r[RegVersion] = 0x24
	r[RegPaLevel] = pa0On | paLevelMask
	r[RegOcp] = ocpOn
	r[RegRxBw] = 0x42
	r[RegAfcBw] = 0x8A
	r[RegDioMapping1] = 0x40
	r[RegDioMapping2] = 0x07
	r[RegIrqFlags2] = 0x10
	r[RegRssiThresh] = 220
	r[RegSyncConfig] = 0x88
	r[RegSyncValue1] = 0x2D
	r[RegPacketConfig1] = 0x90
	r[RegPayloadLength] = 66
	r[RegBroadcastAdrs] = BroadcastAddr
	r[RegFifoThresh] = 0x8F
	r[RegPacketConfig2] = 0x12
	return r
}

func (r *registerFile) setFrequency(hz uint32) {
	frf := uint32(float64(hz) / FStep)
	r[RegFrfMsb] = uint8(frf >> 16)
	r[RegFrfMid] = uint8(frf >> 8)
	r[RegFrfLsb] = uint8(frf)
}

func (r *registerFile) frequency() uint32 {
	frf := uint32(r[RegFrfMsb])<<16 | uint32(r[RegFrfMid])<<8 | uint32(r[RegFrfLsb])
	return uint32(float64(frf) * FStep)
}

func (r *registerFile) setPowerLevel(level uint8, highPower bool) {
	if level > paLevelMask {
		level = paLevelMask
	}
	if highPower {
		r[RegPaLevel] = pa1On | pa2On | level
		r[RegOcp] = ocpOff
		return
	}
	r[RegPaLevel] = pa0On | level
	r[RegOcp] = ocpOn
}

func (r *registerFile) powerLevel() uint8 {
	return r[RegPaLevel] & paLevelMask
}

func (r *registerFile) setAES(on bool) {
	if on {
		r[RegPacketConfig2] |= aesOn
	} else {
		r[RegPacketConfig2] &^= aesOn
	}
}

// dump lists registers 0x01..0x4F. Key registers are not exposed.
func (r *registerFile) dump() []Register {
	out := make([]Register, 0, lastDumpedReg)
	for addr := 1; addr <= lastDumpedReg; addr++ {
		v := r[addr]
		if addr >= RegAesKey1 && addr <= RegAesKey16 {
			v = 0
		}
		out = append(out, Register{Addr: uint8(addr), Value: v})
	}
	return out
}

// BR300KbpsPreset is the register set for the 300 kbps air rate.
var BR300KbpsPreset = []Register{
	{RegBitrateMsb, 0x00},
	{RegBitrateLsb, 0x6B},
	{RegRxBw, 0x40},
	{RegAfcBw, 0x80},
	{RegFdevMsb, 0x13},
	{RegFdevLsb, 0x33},
	{RegRssiThresh, 240},
}

// txPowerDBm converts a PA level to output power.
func txPowerDBm(level uint8, highPower bool) int16 {
	if highPower {
		return -2 + int16(level)*22/31
	}
	return -18 + int16(level)
}
