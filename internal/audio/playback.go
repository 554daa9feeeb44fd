package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/framebuf"
)

// PopTimeout is how long the playback worker waits for a frame before
// falling back to silence.
const PopTimeout = 10 * time.Millisecond

// Playback pops one frame per period from a source FrameBuffer and writes
// it to an output device; on timeout it emits a zero-filled period instead
// of pausing.
type Playback struct {
	log *zap.Logger

	mu         sync.Mutex
	stream     paStream
	source     *framebuf.Buffer
	deviceName string

	volume   atomic.Uint64 // float64 bits
	deafened atomic.Bool
	running  atomic.Bool

	underruns atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPlayback returns an unstarted Playback at unity volume.
func NewPlayback(log *zap.Logger) *Playback {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Playback{log: log}
	p.volume.Store(math.Float64bits(1.0))
	return p
}

// SetSource sets the FrameBuffer frames are popped from.
func (p *Playback) SetSource(b *framebuf.Buffer) {
	p.mu.Lock()
	p.source = b
	p.mu.Unlock()
}

// SetVolume sets the linear playback volume, clamped to [0, 2].
func (p *Playback) SetVolume(v float64) {
	p.volume.Store(math.Float64bits(clampGain(v)))
}

// SetMuted silences playback output while still draining the source buffer,
// matching Capture's naming.
func (p *Playback) SetMuted(muted bool) {
	p.deafened.Store(muted)
}

// Underruns returns the number of playback underruns recovered by
// re-preparing the device.
func (p *Playback) Underruns() uint64 {
	return p.underruns.Load()
}

// Initialize resolves the named output device (or the system default); the
// stream itself is opened by Start.
func (p *Playback) Initialize(deviceName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceName, portaudio.DefaultOutputDevice,
		func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
	if err != nil {
		return err
	}
	p.deviceName = dev.Name
	return nil
}

// Start opens the PortAudio stream and spawns the playback worker.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, p.deviceName, portaudio.DefaultOutputDevice,
		func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
	if err != nil {
		return err
	}

	buf := make([]int16, PeriodFrames)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: PeriodFrames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("audio: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audio: start playback stream: %w", err)
	}

	p.stream = stream
	p.stopCh = make(chan struct{})
	p.running.Store(true)

	p.wg.Add(1)
	go p.playbackLoop(stream, buf)

	p.log.Info("playback started", zap.String("device", dev.Name))
	return nil
}

func (p *Playback) playbackLoop(stream paStream, buf []int16) {
	defer p.wg.Done()

	for p.running.Load() {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		source := p.source
		p.mu.Unlock()

		filled := false
		if source != nil {
			// Muted playback still pops, so the source keeps draining.
			if f, ok := source.PopWait(PopTimeout); ok && !p.deafened.Load() {
				vol := math.Float64frombits(p.volume.Load())
				n := len(f.Samples)
				if n > len(buf) {
					n = len(buf)
				}
				for i := 0; i < n; i++ {
					buf[i] = clampSample(float64(f.Samples[i]) * vol)
				}
				for i := n; i < len(buf); i++ {
					buf[i] = 0
				}
				filled = true
			}
		}
		if !filled {
			// Timeout, muted, or no source: emit a zeroed period (silence).
			for i := range buf {
				buf[i] = 0
			}
		}

		if err := stream.Write(); err != nil {
			if !p.running.Load() {
				return
			}
			p.underruns.Add(1)
			p.log.Debug("playback underrun, re-preparing", zap.Error(err))
			if rerr := p.reprepare(stream); rerr != nil {
				p.log.Warn("playback device failed, ending worker", zap.Error(rerr))
				return
			}
		}
	}
}

func (p *Playback) reprepare(stream paStream) error {
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Start()
}

// Stop halts the playback worker and closes the device.
func (p *Playback) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stopCh)

	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		err := p.stream.Close()
		p.stream = nil
		return err
	}
	return nil
}
