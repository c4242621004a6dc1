package config

import (
	"fmt"
	"os"
	"time"

	"github.com/PacketPlayground/dsvpn/internal/crypto"
	"github.com/PacketPlayground/dsvpn/internal/ioutil"
)

// keyReadTimeout bounds the read of the key file.
const keyReadTimeout = 5 * time.Second

// deadlineFile adapts *os.File to the deadline-based SafeRead helper: a local file
// read never actually blocks, so the deadline is accepted but has no effect.
type deadlineFile struct{ *os.File }

func (deadlineFile) SetReadDeadline(time.Time) error  { return nil }
func (deadlineFile) SetWriteDeadline(time.Time) error { return nil }

// LoadKey reads exactly 32 raw bytes from path and seeds a handshake state from
// them. The key buffer is zeroed on every exit path, success or failure.
func LoadKey(path string) (*crypto.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening key file: %v", ErrConfig, err)
	}
	defer f.Close()

	key := make([]byte, crypto.KeySize)
	defer crypto.Zero(key)

	if err := ioutil.SafeRead(deadlineFile{f}, key, keyReadTimeout); err != nil {
		return nil, fmt.Errorf("%w: reading key file: %v", ErrConfig, err)
	}

	return crypto.NewHandshakeState(key), nil
}
