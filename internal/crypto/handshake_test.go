package crypto

import (
	"bytes"
	"io"
	"testing"
	"time"
)

// pipeConn adapts an io.Pipe half into the deadlineConn surface the handshake needs.
// Deadlines are accepted but not enforced: in-memory pipes never block indefinitely
// in these tests.
type pipeConn struct {
	r io.Reader
	w io.Writer
}

func (c *pipeConn) Read(p []byte) (int, error)    { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error)   { return c.w.Write(p) }
func (c *pipeConn) SetDeadline(t time.Time) error { return nil }

func newPipePair() (client, server *pipeConn) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	return &pipeConn{r: cr, w: cw}, &pipeConn{r: sr, w: sw}
}

func TestHandshakeRoundTrip(t *testing.T) {
	psk := bytes.Repeat([]byte{0x01}, KeySize)
	clientConn, serverConn := newPipePair()

	type result struct {
		keys *SessionKeys
		err  error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		hs := NewHandshakeState(psk)
		keys, err := ClientHandshake(clientConn, hs)
		clientCh <- result{keys, err}
	}()
	go func() {
		hs := NewHandshakeState(psk)
		keys, err := ServerHandshake(serverConn, hs)
		serverCh <- result{keys, err}
	}()

	var clientRes, serverRes result
	for i := 0; i < 2; i++ {
		select {
		case clientRes = <-clientCh:
		case serverRes = <-serverCh:
		case <-time.After(5 * time.Second):
			t.Fatal("handshake timed out")
		}
	}
	// drain whichever channel didn't get consumed above if both fire near-simultaneously
	select {
	case clientRes = <-clientCh:
	default:
	}
	select {
	case serverRes = <-serverCh:
	default:
	}

	if clientRes.err != nil {
		t.Fatalf("client handshake failed: %v", clientRes.err)
	}
	if serverRes.err != nil {
		t.Fatalf("server handshake failed: %v", serverRes.err)
	}

	plaintext := []byte("ip packet payload")
	buf := append([]byte(nil), plaintext...)
	tag := make([]byte, TagSize)
	clientRes.keys.Send.Encrypt(buf, tag)

	if err := serverRes.keys.Recv.Decrypt(buf, tag, TagSize); err != nil {
		t.Fatalf("server failed to decrypt client frame: %v", err)
	}
	if !bytes.Equal(buf, plaintext) {
		t.Errorf("roundtrip mismatch: got %q want %q", buf, plaintext)
	}
}

func TestHandshakeRejectsTamperedMAC(t *testing.T) {
	psk := bytes.Repeat([]byte{0x02}, KeySize)
	clientConn, serverConn := newPipePair()

	errCh := make(chan error, 1)
	go func() {
		hs := NewHandshakeState(psk)
		_, err := ServerHandshake(serverConn, hs)
		errCh <- err
	}()

	msg := make([]byte, ClientMsgSize)
	RandomBytes(msg[:NonceSize])
	msg[len(msg)-1] ^= 0xFF // corrupt the MAC
	if _, err := clientConn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrHandshakeFailed {
			t.Errorf("got %v, want ErrHandshakeFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not return")
	}
}

func TestHandshakeRejectsTimestampSkew(t *testing.T) {
	psk := bytes.Repeat([]byte{0x03}, KeySize)
	clientConn, serverConn := newPipePair()

	errCh := make(chan error, 1)
	go func() {
		hs := NewHandshakeState(psk)
		_, err := ServerHandshake(serverConn, hs)
		errCh <- err
	}()

	hs := NewHandshakeState(psk)
	st := hs.Clone()
	cNonce := make([]byte, NonceSize)
	RandomBytes(cNonce)

	staleTS := time.Now().Add(-(TSTolerance + time.Hour))
	ts := make([]byte, 8)
	for i := 0; i < 8; i++ {
		ts[7-i] = byte(staleTS.Unix() >> (8 * i))
	}

	msg := make([]byte, ClientMsgSize)
	copy(msg[:NonceSize], cNonce)
	copy(msg[NonceSize:NonceSize+8], ts)
	mac := make([]byte, macSize)
	st.Hash(mac, msg[:NonceSize+8])
	copy(msg[NonceSize+8:], mac)

	if _, err := clientConn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrHandshakeFailed {
			t.Errorf("got %v, want ErrHandshakeFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not return")
	}
}
