package wire

import (
	"bytes"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	cases := []struct {
		seq     uint32
		payload []byte
	}{
		{0, nil},
		{1, []byte{}},
		{12345, []byte("hello")},
		{4294967295, bytes.Repeat([]byte{0xAB}, 1020)},
	}
	for _, c := range cases {
		packet := Marshal(c.seq, c.payload)
		seq, payload, ok := Parse(packet)
		if !ok {
			t.Fatalf("Parse failed for seq=%d", c.seq)
		}
		if seq != c.seq {
			t.Errorf("seq: got %d, want %d", seq, c.seq)
		}
		if !bytes.Equal(payload, c.payload) {
			t.Errorf("payload: got %v, want %v", payload, c.payload)
		}
	}
}

func TestParseMalformedTooShort(t *testing.T) {
	for i := 0; i < HeaderSize; i++ {
		data := make([]byte, i)
		if _, _, ok := Parse(data); ok {
			t.Errorf("Parse accepted %d-byte datagram, want malformed", i)
		}
	}
}

func TestSequenceNumberEndianness(t *testing.T) {
	// A datagram whose first four bytes are 39 30 00 00 must deserialize to
	// sequence number 12345 regardless of host byte order.
	data := []byte{0x39, 0x30, 0x00, 0x00, 0xFF}
	seq, payload, ok := Parse(data)
	if !ok {
		t.Fatal("Parse rejected valid datagram")
	}
	if seq != 12345 {
		t.Errorf("seq: got %d, want 12345", seq)
	}
	if !bytes.Equal(payload, []byte{0xFF}) {
		t.Errorf("payload: got %v, want [0xFF]", payload)
	}
}

func TestMarshalMaxPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, MaxPayloadSize)
	packet := Marshal(1, payload)
	if len(packet) != MaxDatagramSize {
		t.Errorf("packet size: got %d, want %d", len(packet), MaxDatagramSize)
	}
}
