package radio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/hkdf"
)

// SigSize is the length of the HMAC-SHA256 frame signature in bytes.
const SigSize = 32

var (
	ErrShortFrame   = errors.New("frame too short")
	ErrBadSignature = errors.New("frame signature mismatch")
)

// airFrame is what travels over the simulated medium.
// Wire format: signature(32) | msgpack(airFrame).
type airFrame struct {
	Network      uint8  `msgpack:"net"`
	Sender       uint8  `msgpack:"src"`
	Target       uint8  `msgpack:"dst"`
	AckRequested bool   `msgpack:"ack_req,omitempty"`
	ACK          bool   `msgpack:"ack,omitempty"`
	AckRSSI      int16  `msgpack:"ack_rssi,omitempty"`
	TxPower      int16  `msgpack:"txp"`
	IV           []byte `msgpack:"iv,omitempty"`
	Payload      []byte `msgpack:"data"`
}

// keyring holds the keys derived from the 16-byte network key. A disabled
// key still yields a signing key so frames from other networks are rejected.
type keyring struct {
	enc cipher.Block
	mac []byte
}

func newKeyring(key []byte, network uint8) (*keyring, error) {
	salt := []byte{'b', 'n', network}

	macKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte("basenode air mac")), macKey); err != nil {
		return nil, fmt.Errorf("deriving mac key: %w", err)
	}
	kr := &keyring{mac: macKey}

	if len(key) == 0 {
		return kr, nil
	}

	encKey := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte("basenode air enc")), encKey); err != nil {
		return nil, fmt.Errorf("deriving cipher key: %w", err)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	kr.enc = block
	return kr, nil
}

// computeSig returns the HMAC-SHA256 of data under the frame signing key.
func (k *keyring) computeSig(data []byte) []byte {
	mac := hmac.New(sha256.New, k.mac)
	mac.Write(data)
	return mac.Sum(nil)
}

// verifySig performs a constant-time comparison of the expected signature against sig.
func (k *keyring) verifySig(sig, data []byte) bool {
	return hmac.Equal(sig, k.computeSig(data))
}

func (k *keyring) seal(f *airFrame) ([]byte, error) {
	if k.enc != nil && len(f.Payload) > 0 {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("generating iv: %w", err)
		}
		ct := make([]byte, len(f.Payload))
		cipher.NewCTR(k.enc, iv).XORKeyStream(ct, f.Payload)
		f.IV = iv
		f.Payload = ct
	}

	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling frame: %w", err)
	}
	return append(k.computeSig(data), data...), nil
}

func (k *keyring) open(wire []byte) (*airFrame, error) {
	if len(wire) <= SigSize {
		return nil, ErrShortFrame
	}
	sig := wire[:SigSize]
	data := wire[SigSize:]
	if !k.verifySig(sig, data) {
		return nil, ErrBadSignature
	}

	var f airFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshaling frame: %w", err)
	}

	if len(f.IV) > 0 {
		if k.enc == nil || len(f.IV) != aes.BlockSize {
			return nil, ErrBadSignature
		}
		pt := make([]byte, len(f.Payload))
		cipher.NewCTR(k.enc, f.IV).XORKeyStream(pt, f.Payload)
		f.Payload = pt
		f.IV = nil
	}
	return &f, nil
}
