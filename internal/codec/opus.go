package codec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// maxEncodedBytes bounds the scratch buffer Encode writes into; Opus voice
// frames at MaxBitrate never approach this, and transport.SendFrame rejects
// any payload over wire.MaxPayloadSize regardless.
const maxEncodedBytes = 1275

// opusCodec is the real codec variant: a cgo binding to libopus with
// AppVoIP, DTX and in-band FEC enabled for voice traffic.
type opusCodec struct {
	mu         sync.Mutex
	enc        *opus.Encoder
	dec        *opus.Decoder
	sampleRate int
	frameSize  int
	bitrate    atomic.Int64

	encoded      atomic.Uint64
	decoded      atomic.Uint64
	encodeErrors atomic.Uint64
	decodeErrors atomic.Uint64
}

func newOpusCodec(sampleRate, channels, frameSize, bitrate int) (*opusCodec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("codec: set initial bitrate: %w", err)
	}
	enc.SetDTX(true)
	enc.SetInBandFEC(true)

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus decoder: %w", err)
	}

	c := &opusCodec{enc: enc, dec: dec, sampleRate: sampleRate, frameSize: frameSize}
	c.bitrate.Store(int64(bitrate))
	return c, nil
}

func (c *opusCodec) Encode(samples []int16) (*EncodedPacket, error) {
	if len(samples) != c.frameSize {
		c.encodeErrors.Add(1)
		return nil, fmt.Errorf("%w: got %d want %d", ErrWrongFrameLength, len(samples), c.frameSize)
	}

	buf := make([]byte, maxEncodedBytes)
	c.mu.Lock()
	n, err := c.enc.Encode(samples, buf)
	c.mu.Unlock()
	if err != nil {
		c.encodeErrors.Add(1)
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])
	c.encoded.Add(1)
	return &EncodedPacket{
		Payload: payload,
		Bitrate: int(c.bitrate.Load()),
		SentAt:  time.Now(),
	}, nil
}

func (c *opusCodec) Decode(pkt *EncodedPacket) ([]int16, error) {
	if pkt == nil {
		c.decodeErrors.Add(1)
		return nil, fmt.Errorf("codec: nil packet")
	}

	pcm := make([]int16, c.frameSize)
	c.mu.Lock()
	n, err := c.dec.Decode(pkt.Payload, pcm)
	c.mu.Unlock()
	if err != nil {
		c.decodeErrors.Add(1)
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	if n != c.frameSize {
		c.decodeErrors.Add(1)
		return nil, fmt.Errorf("%w: decoded %d want %d", ErrWrongFrameLength, n, c.frameSize)
	}

	c.decoded.Add(1)
	return pcm, nil
}

func (c *opusCodec) SetBitrate(bps int) error {
	if bps < MinBitrate || bps > MaxBitrate {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, bps)
	}
	c.mu.Lock()
	err := c.enc.SetBitrate(bps)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("codec: set bitrate: %w", err)
	}
	c.bitrate.Store(int64(bps))
	return nil
}

func (c *opusCodec) Bitrate() int    { return int(c.bitrate.Load()) }
func (c *opusCodec) FrameSize() int  { return c.frameSize }
func (c *opusCodec) SampleRate() int { return c.sampleRate }

func (c *opusCodec) Counters() Counters {
	return Counters{
		Encoded:      c.encoded.Load(),
		Decoded:      c.decoded.Load(),
		EncodeErrors: c.encodeErrors.Load(),
		DecodeErrors: c.decodeErrors.Load(),
	}
}

func (c *opusCodec) Close() error { return nil }
