// Package session holds the single live peer connection and its derived cipher
// states.
package session

import (
	"net"

	"github.com/PacketPlayground/dsvpn/internal/crypto"
)

// Session is the live peer socket plus the two per-direction cipher states
// derived by the handshake, and the one-bit congestion flag the event loop's
// backpressure handling uses. There is no send queue, just the bit.
//
// A Session is owned exclusively by the event loop; it is replaced, never
// mutated concurrently, on reconnect or peer replacement.
type Session struct {
	Conn      net.Conn
	Keys      *crypto.SessionKeys
	Congested bool
}

// New wraps an authenticated connection and its derived keys into a fresh Session
// with congestion cleared.
func New(conn net.Conn, keys *crypto.SessionKeys) *Session {
	return &Session{Conn: conn, Keys: keys}
}

// Close tears the session down: closes the peer socket and zeroes both cipher
// states. Keys are live iff the peer socket is.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.Keys.Zero()
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}
