package flash

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// OpenFile opens or creates a flash image file at path. A new or short file
// is extended with erased cells up to the chip size.
func OpenFile(path string, geo Geometry, expectID uint16, log zerolog.Logger) (*Chip, error) {
	if geo.Size == 0 || geo.Size%Block32K != 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, geo.Size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening flash image %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat flash image %s: %w", path, err)
	}

	if have := fi.Size(); have < int64(geo.Size) {
		blank := make([]byte, int64(geo.Size)-have)
		for i := range blank {
			blank[i] = Erased
		}
		if _, err := f.WriteAt(blank, have); err != nil {
			f.Close()
			return nil, fmt.Errorf("extending flash image %s: %w", path, err)
		}
		log.Info().Str("path", path).Int64("from", have).Uint32("to", geo.Size).Msg("Flash image extended")
	} else if have > int64(geo.Size) {
		log.Warn().Str("path", path).Int64("size", have).Uint32("chip", geo.Size).Msg("Flash image larger than chip, tail ignored")
	}

	return &Chip{
		img:       f,
		closer:    f,
		geo:       geo,
		expectID:  expectID,
		busyPolls: DefaultBusyPolls,
		log:       log,
	}, nil
}
