package radio

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const maxWireSize = 512

// UDPLink carries frames over an IPv4 multicast group. Every node process
// on the host (or LAN segment) joined to the same group shares one air.
type UDPLink struct {
	*engine

	group string
	port  int
	iface string

	rx    *net.UDPConn
	tx    *net.UDPConn
	dest  *net.UDPAddr
	close chan struct{}
}

// NewUDPLink prepares a link on group:port. Nothing is opened until Initialize.
func NewUDPLink(group string, port int, iface string, log zerolog.Logger) *UDPLink {
	l := &UDPLink{
		engine: newEngine(log),
		group:  group,
		port:   port,
		iface:  iface,
	}
	l.engine.transmit = l.transmit
	return l
}

// Initialize joins the multicast group and starts the receiver.
func (l *UDPLink) Initialize(band Band, nodeID, networkID uint8) bool {
	if err := l.open(); err != nil {
		l.log.Error().Err(err).Str("group", l.group).Int("port", l.port).Msg("Radio initialization failed")
		return false
	}
	if err := l.engine.initialize(band, nodeID, networkID); err != nil {
		l.log.Error().Err(err).Msg("Radio initialization failed")
		return false
	}
	return true
}

func (l *UDPLink) open() error {
	if l.rx != nil {
		return nil
	}

	var iface *net.Interface
	if l.iface != "" {
		var err error
		iface, err = net.InterfaceByName(l.iface)
		if err != nil {
			return fmt.Errorf("finding interface %s: %w", l.iface, err)
		}
	}

	group := net.ParseIP(l.group)
	if group == nil {
		return fmt.Errorf("invalid multicast group: %s", l.group)
	}
	l.dest = &net.UDPAddr{IP: group, Port: l.port}

	rx, err := net.ListenMulticastUDP("udp4", iface, l.dest)
	if err != nil {
		return fmt.Errorf("joining multicast group: %w", err)
	}
	if err := rx.SetReadBuffer(maxWireSize * 16); err != nil {
		l.log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	tx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		rx.Close()
		return fmt.Errorf("listening for UDP: %w", err)
	}

	pc := ipv4.NewPacketConn(tx)
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			l.log.Warn().Err(err).Msg("Failed to set multicast interface")
		}
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		l.log.Warn().Err(err).Msg("Failed to set multicast TTL")
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		l.log.Warn().Err(err).Msg("Failed to enable multicast loopback")
	}

	l.rx = rx
	l.tx = tx
	l.close = make(chan struct{})
	go l.listen(rx, l.close)

	l.log.Info().
		Str("multicast_group", l.group).
		Int("port", l.port).
		Msg("UDP air medium joined")
	return nil
}

func (l *UDPLink) listen(rx *net.UDPConn, done <-chan struct{}) {
	buf := make([]byte, maxWireSize)
	for {
		n, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		l.deliver(frame)
	}
}

func (l *UDPLink) transmit(wire []byte) error {
	if l.tx == nil {
		return ErrNotInitialized
	}
	if _, err := l.tx.WriteToUDP(wire, l.dest); err != nil {
		return fmt.Errorf("writing frame to %s: %w", l.dest, err)
	}
	return nil
}

// Close leaves the group. Closing twice is a no-op.
func (l *UDPLink) Close() error {
	if l.rx == nil {
		return nil
	}
	close(l.close)
	l.tx.Close()
	err := l.rx.Close()
	l.rx, l.tx = nil, nil
	return err
}
