package radio

import (
	"fmt"

	"github.com/rs/zerolog"

	"basenode/pkg/config"
)

// NewHostLink returns the link for the air medium selected in the host
// settings. The link is not initialized.
func NewHostLink(h config.HostParams, log zerolog.Logger) (Link, error) {
	switch h.Medium {
	case "", "udp":
		return NewUDPLink(h.MulticastGroup, h.Port, h.Interface, log), nil
	case "nats":
		return NewNATSLink(h.NATSURL, log), nil
	}
	return nil, fmt.Errorf("unknown air medium %q", h.Medium)
}

// OverrunCounter is implemented by every link in this package.
type OverrunCounter interface {
	Overruns() uint64
}
