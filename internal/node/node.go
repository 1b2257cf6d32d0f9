// Package node is the node runtime: a one-time boot sequence followed by a
// single-threaded cooperative loop over the serial console, the radio and
// the blink timer.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"basenode/internal/configstore"
	"basenode/internal/console"
	"basenode/internal/eeprom"
	"basenode/internal/flash"
	"basenode/internal/radio"
	"basenode/internal/telemetry"
	"basenode/pkg/config"
)

// Dispatcher runs console commands.
type Dispatcher interface {
	Dispatch(b byte) bool
}

// PacketChecker evaluates inbound packets for an OTA stream.
type PacketChecker interface {
	Check(pkt radio.InboundPacket)
}

// Deps are the collaborators the loop drives. Metrics may be nil.
type Deps struct {
	Serial    console.Serial
	Console   Dispatcher
	Radio     radio.Link
	Flash     flash.Device
	EEPROM    eeprom.Store
	OTA       PacketChecker
	Clock     Clock
	Indicator Indicator
	Metrics   *telemetry.Metrics
}

func (d Deps) validate() error {
	var missing []string
	for _, dep := range []struct {
		name string
		ok   bool
	}{
		{"serial", d.Serial != nil},
		{"console", d.Console != nil},
		{"radio", d.Radio != nil},
		{"flash", d.Flash != nil},
		{"eeprom", d.EEPROM != nil},
		{"ota", d.OTA != nil},
		{"clock", d.Clock != nil},
		{"indicator", d.Indicator != nil},
	} {
		if !dep.ok {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing node dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// State is everything the loop mutates. It is owned by one Loop and only
// touched from the goroutine running it.
type State struct {
	Config      configstore.NodeConfig
	LastPeriod  int64
	LEDOn       bool
	LastCommand byte
	Booted      bool
}

// Loop is one node instance.
type Loop struct {
	deps    Deps
	profile config.Profile
	period  uint64
	idle    time.Duration
	state   State
	log     zerolog.Logger
}

// New prepares a node from its build profile. Nothing touches hardware
// until Init.
func New(deps Deps, p config.Profile, log zerolog.Logger) (*Loop, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	cfg, err := configstore.FromProfile(p)
	if err != nil {
		return nil, fmt.Errorf("building config record: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config record: %w", err)
	}
	if p.Node.BlinkPeriodMS <= 0 {
		return nil, errors.New("blink period must be positive")
	}
	idle, err := p.Host.ParseIdleSleep()
	if err != nil {
		return nil, fmt.Errorf("parsing idle sleep: %w", err)
	}

	return &Loop{
		deps:    deps,
		profile: p,
		period:  uint64(p.Node.BlinkPeriodMS),
		idle:    idle,
		state:   State{Config: cfg, LastPeriod: -1},
		log:     log,
	}, nil
}

// State returns a copy of the loop state.
func (l *Loop) State() State {
	return l.state
}

func (l *Loop) printf(format string, args ...any) {
	fmt.Fprintf(l.deps.Serial, format, args...)
}

// Init runs the boot sequence once. Peripheral failures are reported on
// the debug channel and logged; boot always continues.
func (l *Loop) Init() {
	cfg := l.state.Config
	rp := l.profile.Radio

	if l.deps.Radio.Initialize(cfg.Band, cfg.NodeID, cfg.NetworkID) {
		l.deps.Radio.Encrypt(cfg.Key())
		if cfg.FrequencyExact > 0 {
			l.deps.Radio.SetFrequency(uint32(cfg.FrequencyExact))
		}
		if rp.AutoPower {
			l.deps.Radio.EnableAutoPower(rp.AutoPowerRSSI)
		}
		if cfg.HighPower {
			l.deps.Radio.SetHighPower(true)
		}
	} else {
		l.printf("Radio Init FAIL!\n")
		l.log.Warn().Str("band", cfg.Band.String()).Msg("Radio failed to initialize, continuing without it")
		l.initFailed("radio")
	}

	l.printf("Start node...\n")
	l.printf("Node ID = %d\n", cfg.NodeID)

	if l.deps.Flash.Initialize() {
		l.printf("SPI Flash Init OK!\n")
	} else {
		l.printf("SPI Flash Init FAIL!\n")
		l.log.Warn().Msg("Flash failed to initialize, continuing without it")
		l.initFailed("flash")
	}

	if rp.BR300Kbps {
		for _, r := range radio.BR300KbpsPreset {
			l.deps.Radio.WriteReg(r.Addr, r.Value)
		}
	}

	if err := configstore.InitializeAndPersist(l.deps.EEPROM, cfg); err != nil {
		l.printf("CONFIG save to EEPROM FAILED\n")
		l.log.Warn().Err(err).Msg("Config record not persisted")
		l.count(func(m *telemetry.Metrics) { m.ConfigWrites.WithLabelValues("error").Inc() })
	} else {
		l.printf("CONFIG saved to EEPROM\n")
		l.count(func(m *telemetry.Metrics) { m.ConfigWrites.WithLabelValues("ok").Inc() })
	}

	l.state.Booted = true
	l.log.Info().
		Uint8("network_id", cfg.NetworkID).
		Uint32("carrier_hz", cfg.Carrier()).
		Bool("encrypted", cfg.EncryptionEnabled()).
		Msg("Node ready")
}

func (l *Loop) initFailed(peripheral string) {
	l.count(func(m *telemetry.Metrics) { m.InitFailures.WithLabelValues(peripheral).Inc() })
}

func (l *Loop) count(fn func(m *telemetry.Metrics)) {
	if l.deps.Metrics != nil {
		fn(l.deps.Metrics)
	}
}

// Poll runs exactly one iteration: console, then radio, then tick. It
// reports whether any step had something to do.
func (l *Loop) Poll() bool {
	c := l.consoleStep()
	r := l.radioStep()
	t := l.tickStep()
	return c || r || t
}

func (l *Loop) consoleStep() bool {
	if !l.deps.Serial.Available() {
		return false
	}
	b := l.deps.Serial.Next()
	label := "unknown"
	if l.deps.Console.Dispatch(b) {
		l.state.LastCommand = b
		label = string(rune(b))
	} else {
		l.log.Debug().Uint8("byte", b).Msg("Ignoring console input")
	}
	l.count(func(m *telemetry.Metrics) { m.ConsoleCommands.WithLabelValues(label).Inc() })
	return true
}

func (l *Loop) radioStep() bool {
	pkt, ok := l.deps.Radio.ReceiveDone()
	if !ok {
		return false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Got [%d:%d] > ", pkt.Sender, pkt.Len())
	for _, b := range pkt.Payload {
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte('\n')
	l.printf("%s", sb.String())

	l.count(func(m *telemetry.Metrics) {
		m.PacketsReceived.Inc()
		m.PacketBytes.Observe(float64(pkt.Len()))
	})

	l.deps.OTA.Check(pkt)
	l.printf("\n")
	return true
}

func (l *Loop) tickStep() bool {
	if int64(l.deps.Clock.Millis()/l.period) <= l.state.LastPeriod {
		return false
	}
	// one step per iteration even after a stall
	l.state.LastPeriod++
	on := l.state.LastPeriod%2 == 1
	l.deps.Indicator.Set(on)
	l.state.LEDOn = on
	l.printf("BLINKPERIOD %d\n", l.period)
	l.count(func(m *telemetry.Metrics) { m.Ticks.Inc() })
	return true
}

// Run boots the node and polls until ctx is done. When an iteration had
// nothing to do it sleeps for the profile's idle time.
func (l *Loop) Run(ctx context.Context) error {
	l.Init()

	var timer *time.Timer
	if l.idle > 0 {
		timer = time.NewTimer(l.idle)
		defer timer.Stop()
	}

	for {
		if ctx.Err() != nil {
			l.log.Info().Int64("periods", l.state.LastPeriod+1).Msg("Node loop stopped")
			return nil
		}
		if l.Poll() || timer == nil {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.idle)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}
