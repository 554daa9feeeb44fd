// Package wire implements the on-wire serialization of voice datagrams:
// a 4-byte little-endian sequence number followed by the encoded audio
// payload. There is no length prefix, no magic number, and no version byte —
// the UDP datagram boundary carries the payload length.
package wire

import "encoding/binary"

// HeaderSize is the number of bytes the sequence number occupies.
const HeaderSize = 4

// MaxDatagramSize is the largest wire packet this system will send.
// Larger encoded payloads must never be handed to Marshal.
const MaxDatagramSize = 1024

// MaxPayloadSize is the largest payload that fits MaxDatagramSize after the
// fixed header. Marshal does not check it; transport.SendFrame rejects
// larger payloads.
const MaxPayloadSize = MaxDatagramSize - HeaderSize

// Marshal builds a wire packet from a sequence number and an encoded
// payload. The returned slice aliases neither argument.
func Marshal(seq uint32, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[:HeaderSize], seq)
	copy(out[HeaderSize:], payload)
	return out
}

// Parse splits a received datagram into its sequence number and payload.
// The returned payload slice aliases data; copy it before retaining it past
// the lifetime of the receive buffer. ok is false when data is too short to
// contain a header, in which case the datagram is malformed and must be
// discarded uncounted as data (but counted as malformed by the caller).
func Parse(data []byte) (seq uint32, payload []byte, ok bool) {
	if len(data) < HeaderSize {
		return 0, nil, false
	}
	seq = binary.LittleEndian.Uint32(data[:HeaderSize])
	payload = data[HeaderSize:]
	return seq, payload, true
}
