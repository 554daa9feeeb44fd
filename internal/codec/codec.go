// Package codec implements the frame-synchronous speech Codec
// capability: 20 ms work units, runtime bitrate changes, and two
// interchangeable variants — a real Opus-backed encoder/decoder and a
// pass-through that carries raw PCM bytes unchanged. Both share the Codec
// interface so the Preprocessor only ever holds the abstract handle.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// FrameDurationMs is the codec's fixed work unit.
const FrameDurationMs = 20

// MinBitrate and MaxBitrate bound every codec instance's bitrate.
const (
	MinBitrate = 3200
	MaxBitrate = 9200
)

// Channels is the only channel count the Codec supports.
const Channels = 1

// ErrUnsupportedSampleRate is returned by New for any rate other than
// 16000, 32000, or 48000.
var ErrUnsupportedSampleRate = errors.New("codec: unsupported sample rate")

// ErrInvalidBitrate is returned by New and SetBitrate for bitrates outside
// [MinBitrate, MaxBitrate].
var ErrInvalidBitrate = errors.New("codec: bitrate out of range")

// ErrWrongFrameLength is returned by Encode/Decode when the input does not
// contain exactly FrameSize() samples; nothing is partially consumed.
var ErrWrongFrameLength = errors.New("codec: wrong frame length")

func supportedRate(rate int) bool {
	switch rate {
	case 16000, 32000, 48000:
		return true
	default:
		return false
	}
}

// EncodedPacket is the opaque compressed payload produced by Encode, plus
// the bitrate used and the time it was produced. Seq is not set by the
// Codec itself — the caller (internal/preprocessor) attaches the sequence
// number its own caller passes in.
type EncodedPacket struct {
	Seq     uint32
	Payload []byte
	Bitrate int
	SentAt  time.Time
}

// Counters are the codec's encoded/decoded/error counts.
type Counters struct {
	Encoded      uint64
	Decoded      uint64
	EncodeErrors uint64
	DecodeErrors uint64
}

// Codec is the speech codec capability: frame-synchronous encode/decode
// with a runtime-adjustable bitrate. Implementations must not partially
// consume malformed input.
type Codec interface {
	// Encode compresses exactly FrameSize() samples. Returns an error
	// (never a partial packet) on wrong length or an underlying failure.
	Encode(samples []int16) (*EncodedPacket, error)
	// Decode returns exactly FrameSize() samples of PCM at SampleRate().
	Decode(pkt *EncodedPacket) ([]int16, error)
	// SetBitrate changes the target bitrate, effective on the next Encode
	// call. Returns ErrInvalidBitrate outside range.
	SetBitrate(bps int) error
	Bitrate() int
	FrameSize() int
	SampleRate() int
	Counters() Counters
	Close() error
}

// Option configures New.
type Option func(*options)

type options struct {
	passthrough bool
}

// WithPassthrough selects the pass-through variant explicitly instead of
// the real Opus-backed codec. Pass-through is an explicitly requested
// operating mode, never a silent fallback.
func WithPassthrough() Option {
	return func(o *options) { o.passthrough = true }
}

// New validates sampleRate/channels/bitrate and returns the
// Opus-backed Codec, or the pass-through variant if WithPassthrough was
// given.
func New(sampleRate, channels, bitrate int, opts ...Option) (Codec, error) {
	if !supportedRate(sampleRate) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, sampleRate)
	}
	if channels != Channels {
		return nil, fmt.Errorf("codec: unsupported channel count %d", channels)
	}
	if bitrate < MinBitrate || bitrate > MaxBitrate {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBitrate, bitrate)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	frameSize := sampleRate * FrameDurationMs / 1000
	if o.passthrough {
		return newPassthroughCodec(sampleRate, frameSize, bitrate), nil
	}
	return newOpusCodec(sampleRate, channels, frameSize, bitrate)
}

// passthroughCodec is the fallback "codec" that emits raw sample bytes
// unchanged. It preserves the
// Codec interface and bitrate bookkeeping but performs no compression.
type passthroughCodec struct {
	sampleRate int
	frameSize  int
	bitrate    atomic.Int64

	encoded      atomic.Uint64
	decoded      atomic.Uint64
	encodeErrors atomic.Uint64
	decodeErrors atomic.Uint64
}

func newPassthroughCodec(sampleRate, frameSize, bitrate int) *passthroughCodec {
	c := &passthroughCodec{sampleRate: sampleRate, frameSize: frameSize}
	c.bitrate.Store(int64(bitrate))
	return c
}

func (c *passthroughCodec) Encode(samples []int16) (*EncodedPacket, error) {
	if len(samples) != c.frameSize {
		c.encodeErrors.Add(1)
		return nil, fmt.Errorf("%w: got %d want %d", ErrWrongFrameLength, len(samples), c.frameSize)
	}
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	c.encoded.Add(1)
	return &EncodedPacket{
		Payload: payload,
		Bitrate: int(c.bitrate.Load()),
		SentAt:  time.Now(),
	}, nil
}

func (c *passthroughCodec) Decode(pkt *EncodedPacket) ([]int16, error) {
	if pkt == nil || len(pkt.Payload) != c.frameSize*2 {
		c.decodeErrors.Add(1)
		return nil, fmt.Errorf("%w: bad payload length", ErrWrongFrameLength)
	}
	samples := make([]int16, c.frameSize)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pkt.Payload[i*2:]))
	}
	c.decoded.Add(1)
	return samples, nil
}

func (c *passthroughCodec) SetBitrate(bps int) error {
	if bps < MinBitrate || bps > MaxBitrate {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, bps)
	}
	c.bitrate.Store(int64(bps))
	return nil
}

func (c *passthroughCodec) Bitrate() int    { return int(c.bitrate.Load()) }
func (c *passthroughCodec) FrameSize() int  { return c.frameSize }
func (c *passthroughCodec) SampleRate() int { return c.sampleRate }

func (c *passthroughCodec) Counters() Counters {
	return Counters{
		Encoded:      c.encoded.Load(),
		Decoded:      c.decoded.Load(),
		EncodeErrors: c.encodeErrors.Load(),
		DecodeErrors: c.decodeErrors.Load(),
	}
}

func (c *passthroughCodec) Close() error { return nil }
