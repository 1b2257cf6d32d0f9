package ota

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"basenode/internal/radio"
)

const (
	// DefaultChunkSize keeps "FLX:<seq>:" plus data inside one packet.
	DefaultChunkSize = 48
	DefaultRetries   = 5
	DefaultACKWait   = 300 * time.Millisecond
	pollInterval     = time.Millisecond
)

var (
	ErrNoACK         = errors.New("target did not acknowledge")
	ErrImageTooLarge = errors.New("image too large for the staging header")
	ErrEmptyImage    = errors.New("image is empty")
)

// Transceiver is the part of a radio link the sender needs.
type Transceiver interface {
	Send(to uint8, payload []byte, requestAck bool) error
	ReceiveDone() (radio.InboundPacket, bool)
}

// Progress is called after every acknowledged chunk.
type Progress func(sent, total int)

// Sender streams an image to one node.
type Sender struct {
	Link      Transceiver
	Target    uint8
	ChunkSize int
	Retries   int
	ACKWait   time.Duration
	Progress  Progress
	Log       zerolog.Logger
}

// Send performs the whole handshake. It returns once the node acknowledged
// the end of the stream; the node reboots right after that.
func (s *Sender) Send(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	if len(image) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(image))
	}

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	if err := s.exchange(ctx, cmdStart, ackStart); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	s.Log.Info().Uint8("target", s.Target).Int("size", len(image)).Msg("OTA stream accepted")

	for seq, off := 0, 0; off < len(image); seq++ {
		end := off + chunk
		if end > len(image) {
			end = len(image)
		}

		msg := append([]byte(nil), chunkHead...)
		msg = strconv.AppendInt(msg, int64(seq), 10)
		msg = append(msg, ':')
		msg = append(msg, image[off:end]...)

		if err := s.exchange(ctx, msg, chunkAck(seq)); err != nil {
			return fmt.Errorf("sending chunk %d: %w", seq, err)
		}
		off = end
		if s.Progress != nil {
			s.Progress(off, len(image))
		}
	}

	if err := s.exchange(ctx, cmdEOF, ackStart); err != nil {
		return fmt.Errorf("ending stream: %w", err)
	}
	s.Log.Info().Uint8("target", s.Target).Msg("OTA stream complete")
	return nil
}

// exchange sends msg until want comes back from the target.
func (s *Sender) exchange(ctx context.Context, msg, want []byte) error {
	retries := s.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	wait := s.ACKWait
	if wait <= 0 {
		wait = DefaultACKWait
	}

	for attempt := 0; attempt < retries; attempt++ {
		if err := s.Link.Send(s.Target, msg, true); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
		ok, err := s.awaitACK(ctx, want, wait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		s.Log.Debug().Int("attempt", attempt+1).Str("want", string(want)).Msg("No ACK, retrying")
	}
	return fmt.Errorf("%w after %d attempts", ErrNoACK, retries)
}

func (s *Sender) awaitACK(ctx context.Context, want []byte, wait time.Duration) (bool, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		if pkt, ok := s.Link.ReceiveDone(); ok {
			if pkt.ACK && pkt.Sender == s.Target && bytes.Equal(pkt.Payload, want) {
				return true, nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-tick.C:
		}
	}
}
