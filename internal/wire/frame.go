// Package wire implements the on-the-wire frame codec: a length-prefixed,
// tag-bearing envelope carrying one IP packet per frame.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// MaxPacketLen bounds the plaintext length field; it exceeds the tunnel MTU
	// to leave room for encapsulation headroom.
	MaxPacketLen = 4096
	// TagLen is the build-time truncated authentication tag length, 6-16 bytes
	// inclusive. Both peers must be built with the same value.
	TagLen = 6
	// lenFieldSize is the size of the big-endian length prefix.
	lenFieldSize = 2
	// HeaderSize is the number of non-ciphertext bytes prefixing every frame.
	HeaderSize = lenFieldSize + TagLen
)

// ErrFrameTooLarge is returned when a frame's length field violates
// 0 < len ≤ MaxPacketLen.
var ErrFrameTooLarge = errors.New("wire: frame length out of range")

// Marshal assembles one complete frame from ciphertext and its full tag,
// truncating the tag to TagLen.
func Marshal(ciphertext, tag []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext) > MaxPacketLen {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, HeaderSize+len(ciphertext))
	binary.BigEndian.PutUint16(buf[:lenFieldSize], uint16(len(ciphertext)))
	copy(buf[lenFieldSize:HeaderSize], tag[:TagLen])
	copy(buf[HeaderSize:], ciphertext)
	return buf, nil
}

// Encode writes one frame for ciphertext (already encrypted in place by the
// caller) and its full tag, truncated to TagLen, to w.
func Encode(w io.Writer, ciphertext, tag []byte) error {
	buf, err := Marshal(ciphertext, tag)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame from r: 2 bytes of length, then TagLen+len bytes of
// tag||ciphertext. It does not decrypt — the caller owns the cipher state and
// must call Decrypt on the returned ciphertext before trusting it.
func ReadFrame(r io.Reader) (ciphertext, tag []byte, err error) {
	var lenBuf [lenFieldSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 || int(n) > MaxPacketLen {
		return nil, nil, ErrFrameTooLarge
	}
	body := make([]byte, int(TagLen)+int(n))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return body[TagLen:], body[:TagLen], nil
}
