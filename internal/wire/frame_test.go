package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeReadFrameRoundTrip(t *testing.T) {
	ciphertext := []byte("hello tunnel packet")
	tag := bytes.Repeat([]byte{0xAB}, 16)

	var buf bytes.Buffer
	if err := Encode(&buf, ciphertext, tag); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	gotCT, gotTag, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(gotCT, ciphertext) {
		t.Errorf("ciphertext mismatch: got %x want %x", gotCT, ciphertext)
	}
	if !bytes.Equal(gotTag, tag[:TagLen]) {
		t.Errorf("tag mismatch: got %x want %x", gotTag, tag[:TagLen])
	}
}

func TestEncodeRejectsEmptyOrOversized(t *testing.T) {
	var buf bytes.Buffer
	tag := make([]byte, 16)

	if err := Encode(&buf, nil, tag); err != ErrFrameTooLarge {
		t.Errorf("empty ciphertext: got %v, want ErrFrameTooLarge", err)
	}

	big := make([]byte, MaxPacketLen+1)
	if err := Encode(&buf, big, tag); err != ErrFrameTooLarge {
		t.Errorf("oversized ciphertext: got %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	if _, _, err := ReadFrame(buf); err != ErrFrameTooLarge {
		t.Errorf("zero length: got %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF})
	if _, _, err := ReadFrame(buf); err != ErrFrameTooLarge {
		t.Errorf("oversized length field: got %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameShortBodyIsEOF(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x10}) // claims 16 bytes of payload
	buf.Write([]byte{0x01, 0x02}) // only 2 bytes follow

	if _, _, err := ReadFrame(&buf); err != io.ErrUnexpectedEOF {
		t.Errorf("short body: got %v, want io.ErrUnexpectedEOF", err)
	}
}
