// Package preprocessor implements the Preprocessor: the
// orchestrator that chains AGC, NoiseSuppressor, VAD-gated attenuation,
// rate conversion, and the Codec on the capture→network path, the mirror
// image on the network→playback path, and owns the BitrateController that
// both paths report signals into.
package preprocessor

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/agc"
	"github.com/resulsrky/nova-voice-engine-v2/internal/bitrate"
	"github.com/resulsrky/nova-voice-engine-v2/internal/codec"
	"github.com/resulsrky/nova-voice-engine-v2/internal/config"
	"github.com/resulsrky/nova-voice-engine-v2/internal/noise"
)

// LowLatency, HighQuality, and PowerSave re-export the canned config
// profiles at the Preprocessor's own call site; the CLI's --profile flag
// resolves its names through them.
func LowLatency() config.Config  { return config.LowLatency() }
func HighQuality() config.Config { return config.HighQuality() }
func PowerSave() config.Config   { return config.PowerSave() }

// Option configures New.
type Option func(*options)

type options struct {
	codecOpts []codec.Option
}

// WithPassthroughCodec selects the Codec's pass-through variant instead of
// the real Opus-backed one, without disabling the codec stage entirely
// (contrast with config.Config.EnableCodec=false, which bypasses the Codec
// altogether and sends raw PCM).
func WithPassthroughCodec() Option {
	return func(o *options) { o.codecOpts = append(o.codecOpts, codec.WithPassthrough()) }
}

// Preprocessor is the signal-processing orchestrator for one direction pair
// (encode + decode) of a voice session. The zero value is not usable; use
// New.
type Preprocessor struct {
	log *zap.Logger
	cfg config.Config

	mu     sync.Mutex
	agcIn  *agc.AGC
	agcOut *agc.AGC

	suppressor noise.Suppressor
	codec      codec.Codec

	bitrateCtl *bitrate.Controller

	netMu sync.Mutex
	net   bitrate.NetworkMetrics

	speechMu        sync.Mutex
	speechDetected  bool
	onSpeechChange  func(bool)
	onBitrateChange func(int)
}

// New builds the component chain described by cfg. The codec always runs
// at 16 kHz internally; the Preprocessor resamples between the device rate
// and the codec rate at the edges.
func New(cfg config.Config, log *zap.Logger, opts ...Option) (*Preprocessor, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Preprocessor{log: log, cfg: cfg}

	if cfg.EnableAGC {
		p.agcIn = agc.New()
		p.agcIn.SetTarget(cfg.AGCTargetLevel)
		p.agcOut = agc.New()
		p.agcOut.SetTarget(cfg.AGCTargetLevel)
	}

	if cfg.EnableNoiseSuppression {
		s, err := noise.New(noise.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("preprocessor: noise suppressor: %w", err)
		}
		s.SetSuppressionLevel(cfg.NoiseSuppressionLevel)
		s.SetThreshold(cfg.VADThreshold)
		s.EnableVAD(cfg.EnableVAD)
		s.EnableAdaptive(true)
		p.suppressor = s
	}

	if cfg.EnableCodec {
		c, err := codec.New(16000, codec.Channels, cfg.TargetBitrate, o.codecOpts...)
		if err != nil {
			return nil, fmt.Errorf("preprocessor: codec: %w", err)
		}
		p.codec = c
	}

	p.bitrateCtl = bitrate.New(cfg.TargetBitrate)
	return p, nil
}

// SetOnSpeechChange installs the callback invoked when the speech-detected
// boolean flips.
func (p *Preprocessor) SetOnSpeechChange(fn func(bool)) {
	p.speechMu.Lock()
	p.onSpeechChange = fn
	p.speechMu.Unlock()
}

// SetOnBitrateChange installs the callback invoked whenever the
// BitrateController commits a new bitrate.
func (p *Preprocessor) SetOnBitrateChange(fn func(int)) {
	p.mu.Lock()
	p.onBitrateChange = fn
	p.mu.Unlock()
}

// ProcessInput applies AGC, NoiseSuppressor.Process (over noise.FrameSize
// sub-chunks), and the suppressor's own VAD-gated attenuation, in place, to
// a device-rate frame.
func (p *Preprocessor) ProcessInput(samples []int16) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.EnableAGC && p.agcIn != nil {
		applyAGC(p.agcIn, samples)
	}

	if p.cfg.EnableNoiseSuppression && p.suppressor != nil {
		for i := 0; i+noise.FrameSize <= len(samples); i += noise.FrameSize {
			p.suppressor.Process(samples[i : i+noise.FrameSize])
		}
		p.reportSpeechLocked(p.suppressor.IsSpeech())
		p.updateAudioMetricsLocked(samples)
	}

	return samples
}

// ProcessOutput applies volume/AGC only to a decoded, device-rate frame.
func (p *Preprocessor) ProcessOutput(samples []int16) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.EnableAGC && p.agcOut != nil {
		applyAGC(p.agcOut, samples)
	}
	return samples
}

// Encode runs ProcessInput, resamples deviceRate→16 kHz, and compresses the
// result. seq is attached to the returned
// packet. If EnableCodec is false, the processed PCM is sent raw.
func (p *Preprocessor) Encode(seq uint32, samples []int16, deviceRate int) (*codec.EncodedPacket, error) {
	processed := p.ProcessInput(samples)

	pcm16k := processed
	if deviceRate != 16000 {
		pcm16k = codec.ResampleTo16k(processed, deviceRate)
	}

	p.mu.Lock()
	useCodec := p.cfg.EnableCodec && p.codec != nil
	c := p.codec
	p.mu.Unlock()

	if !useCodec {
		return &codec.EncodedPacket{
			Seq:     seq,
			Payload: pcmToBytes(pcm16k),
			Bitrate: 0,
			SentAt:  time.Now(),
		}, nil
	}

	pkt, err := c.Encode(pcm16k)
	if err != nil {
		return nil, err
	}
	pkt.Seq = seq
	return pkt, nil
}

// Decode reverses Encode: codec.decode, resamples 16 kHz→deviceRate, then
// ProcessOutput.
func (p *Preprocessor) Decode(pkt *codec.EncodedPacket, deviceRate int) ([]int16, error) {
	p.mu.Lock()
	useCodec := p.cfg.EnableCodec && p.codec != nil
	c := p.codec
	p.mu.Unlock()

	var pcm16k []int16
	if useCodec {
		decoded, err := c.Decode(pkt)
		if err != nil {
			return nil, err
		}
		pcm16k = decoded
	} else {
		pcm, err := bytesToPCM(pkt.Payload)
		if err != nil {
			return nil, fmt.Errorf("preprocessor: decode raw pcm: %w", err)
		}
		pcm16k = pcm
	}

	out := pcm16k
	if deviceRate != 16000 {
		out = codec.ResampleFrom16k(pcm16k, deviceRate)
	}
	return p.ProcessOutput(out), nil
}

// UpdateNetworkMetrics records the full NetworkMetrics snapshot and
// triggers a bitrate recomputation, which may emit the bitrate-changed
// callback.
func (p *Preprocessor) UpdateNetworkMetrics(m bitrate.NetworkMetrics) {
	p.netMu.Lock()
	p.net = m
	p.netMu.Unlock()
	p.bitrateCtl.UpdateNetworkMetrics(m)
	p.maybeRecompute()
}

// ReportPacketLoss updates only the loss-ratio component of the network
// view.
func (p *Preprocessor) ReportPacketLoss(ratio float64) {
	p.netMu.Lock()
	p.net.LossRatio = ratio
	nm := p.net
	p.netMu.Unlock()
	p.bitrateCtl.UpdateNetworkMetrics(nm)
	p.maybeRecompute()
}

// ReportLatency updates only the latency component.
func (p *Preprocessor) ReportLatency(ms float64) {
	p.netMu.Lock()
	p.net.LatencyMs = ms
	nm := p.net
	p.netMu.Unlock()
	p.bitrateCtl.UpdateNetworkMetrics(nm)
	p.maybeRecompute()
}

// ReportBandwidth updates the bandwidth component, marking it known.
func (p *Preprocessor) ReportBandwidth(kbps float64) {
	p.netMu.Lock()
	p.net.BandwidthKbps = kbps
	p.net.BandwidthKnown = true
	nm := p.net
	p.netMu.Unlock()
	p.bitrateCtl.UpdateNetworkMetrics(nm)
	p.maybeRecompute()
}

// BitrateController exposes the owned controller for session-level
// introspection (stats logging, tests).
func (p *Preprocessor) BitrateController() *bitrate.Controller { return p.bitrateCtl }

// IsSpeech reports the most recently observed speech-detected state.
func (p *Preprocessor) IsSpeech() bool {
	p.speechMu.Lock()
	defer p.speechMu.Unlock()
	return p.speechDetected
}

// Close releases the owned Codec and NoiseSuppressor (RNNoise state,
// native encoder/decoder handles).
func (p *Preprocessor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.codec != nil {
		err = p.codec.Close()
	}
	if p.suppressor != nil {
		if serr := p.suppressor.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func (p *Preprocessor) maybeRecompute() {
	if !p.cfg.EnableBitrateAdaptation {
		return
	}
	before := p.bitrateCtl.Current()
	newBR := p.bitrateCtl.Recompute()

	p.mu.Lock()
	c := p.codec
	onChange := p.onBitrateChange
	p.mu.Unlock()

	if c != nil {
		if err := c.SetBitrate(newBR); err != nil {
			p.log.Debug("preprocessor: set bitrate rejected", zap.Int("bitrate", newBR), zap.Error(err))
		}
	}
	if onChange != nil && newBR != before {
		onChange(newBR)
	}
}

// reportSpeechLocked updates the tracked speech state and fires the
// flip-callback; caller holds p.mu.
func (p *Preprocessor) reportSpeechLocked(speech bool) {
	p.speechMu.Lock()
	flipped := speech != p.speechDetected
	p.speechDetected = speech
	cb := p.onSpeechChange
	p.speechMu.Unlock()
	if flipped && cb != nil {
		cb(speech)
	}
}

// updateAudioMetricsLocked derives AudioMetrics from the suppressor's
// running state and the just-processed frame, then feeds the
// BitrateController; caller holds p.mu. SNR is estimated from the
// suppressor's noise-level estimate (a standard RMS-ratio approximation;
// the underlying denoiser/fallback do not expose a true SNR meter).
func (p *Preprocessor) updateAudioMetricsLocked(samples []int16) {
	m := p.suppressor.Metrics()
	rms := rmsOf(samples)

	snr := 40.0
	if m.NoiseLevel > 1e-9 && rms > 0 {
		snr = 10 * math.Log10((rms*rms)/m.NoiseLevel)
	}

	p.bitrateCtl.UpdateAudioMetrics(bitrate.AudioMetrics{
		SNRdB:             snr,
		RMS:               rms,
		SpeechDetected:    m.SpeechProbability > p.cfg.VADThreshold,
		SpeechProbability: m.SpeechProbability,
	})
	p.maybeRecomputeLocked()
}

// maybeRecomputeLocked is maybeRecompute's body for callers that already
// hold p.mu (updateAudioMetricsLocked, invoked from ProcessInput).
func (p *Preprocessor) maybeRecomputeLocked() {
	if !p.cfg.EnableBitrateAdaptation {
		return
	}
	before := p.bitrateCtl.Current()
	newBR := p.bitrateCtl.Recompute()
	if p.codec != nil {
		if err := p.codec.SetBitrate(newBR); err != nil {
			p.log.Debug("preprocessor: set bitrate rejected", zap.Int("bitrate", newBR), zap.Error(err))
		}
	}
	if p.onBitrateChange != nil && newBR != before {
		p.onBitrateChange(newBR)
	}
}

func applyAGC(a *agc.AGC, samples []int16) {
	f := make([]float32, len(samples))
	for i, s := range samples {
		f[i] = float32(s) / 32768.0
	}
	a.Process(f)
	for i, v := range f {
		samples[i] = clampSample16(float64(v) * 32768.0)
	}
}

func rmsOf(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd byte length %d", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

func clampSample16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
