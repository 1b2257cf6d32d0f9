package radio

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectPrefix prefixes the per-network air subjects.
const SubjectPrefix = "basenode.air."

// Subject returns the NATS subject carrying the air of one network.
func Subject(networkID uint8) string {
	return fmt.Sprintf("%s%d", SubjectPrefix, networkID)
}

// NATSLink carries frames over a NATS subject per network, so nodes on
// different hosts can share one simulated air.
type NATSLink struct {
	*engine

	url     string
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewNATSLink prepares a link against the server at url.
func NewNATSLink(url string, log zerolog.Logger) *NATSLink {
	l := &NATSLink{engine: newEngine(log), url: url}
	l.engine.transmit = l.transmit
	return l
}

// Initialize connects, subscribes to the network subject and brings the link up.
func (l *NATSLink) Initialize(band Band, nodeID, networkID uint8) bool {
	if err := l.engine.initialize(band, nodeID, networkID); err != nil {
		l.log.Error().Err(err).Msg("Radio initialization failed")
		return false
	}
	if err := l.connect(networkID); err != nil {
		l.log.Error().Err(err).Str("url", l.url).Msg("Radio initialization failed")
		return false
	}
	return true
}

func (l *NATSLink) connect(networkID uint8) error {
	if l.nc != nil {
		return nil
	}

	nc, err := nats.Connect(l.url,
		nats.Name("basenode"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", l.url, err)
	}

	l.subject = Subject(networkID)
	sub, err := nc.Subscribe(l.subject, func(msg *nats.Msg) {
		l.deliver(msg.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}

	l.nc = nc
	l.sub = sub

	l.log.Info().
		Str("url", l.url).
		Str("subject", l.subject).
		Msg("NATS air medium joined")
	return nil
}

func (l *NATSLink) transmit(wire []byte) error {
	if l.nc == nil {
		return ErrNotInitialized
	}
	if err := l.nc.Publish(l.subject, wire); err != nil {
		return fmt.Errorf("publishing frame: %w", err)
	}
	return nil
}

// Close unsubscribes and drains the connection.
func (l *NATSLink) Close() error {
	if l.nc == nil {
		return nil
	}
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
	nc := l.nc
	l.nc, l.sub = nil, nil
	return nc.Drain()
}
