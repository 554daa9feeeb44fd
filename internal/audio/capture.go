// Package audio wraps PortAudio-backed capture and playback devices at the
// canonical voice format (48 kHz, mono, S16LE, period ≈ 1024 frames). It
// runs capture and playback as separate workers driven by FrameBuffers,
// joining each worker before its native stream is released.
package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/framebuf"
)

// SampleRate is the canonical device rate the rest of the pipeline
// assumes. The Preprocessor resamples to/from the codec's 16 kHz.
const SampleRate = 48000

// Channels is fixed at mono throughout the system.
const Channels = 1

// PeriodFrames is the nominal capture/playback period.
const PeriodFrames = 1024

// Device describes one enumerated PortAudio device.
type Device struct {
	Index int
	Name  string
}

// ErrDeviceNotFound is returned when a requested device name matches
// nothing PortAudio enumerates.
var ErrDeviceNotFound = errors.New("audio: device not found")

func clampGain(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 2 {
		return 2
	}
	return g
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ListInputDevices enumerates devices with at least one input channel.
func ListInputDevices() ([]Device, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices enumerates devices with at least one output channel.
func ListOutputDevices() ([]Device, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: list devices: %w", err)
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{Index: i, Name: d.Name})
		}
	}
	return out, nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, name string, fallback func() (*portaudio.DeviceInfo, error), match func(*portaudio.DeviceInfo) bool) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		return fallback()
	}
	for _, d := range devices {
		if d.Name == name && match(d) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// Capture reads one period per iteration from an input device, applies the
// current gain, and pushes the resulting frame into its sink FrameBuffer.
type Capture struct {
	log *zap.Logger

	mu           sync.Mutex
	stream       paStream
	sink         *framebuf.Buffer
	deviceName   string
	achievedRate float64

	gain    atomic.Uint64 // float64 bits
	muted   atomic.Bool
	running atomic.Bool

	overruns atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCapture returns an unstarted Capture with unity gain.
func NewCapture(log *zap.Logger) *Capture {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Capture{log: log}
	c.gain.Store(math.Float64bits(1.0))
	return c
}

// SetSink sets the FrameBuffer captured frames are pushed into.
func (c *Capture) SetSink(b *framebuf.Buffer) {
	c.mu.Lock()
	c.sink = b
	c.mu.Unlock()
}

// SetGain sets the linear capture gain, clamped to [0, 2].
func (c *Capture) SetGain(g float64) {
	c.gain.Store(math.Float64bits(clampGain(g)))
}

// SetMuted mutes or unmutes capture; muted frames are still read from the
// device (to keep the stream primed) but are not pushed to the sink.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// AchievedRate returns the default sample rate PortAudio reports for the
// device chosen by Initialize, which may differ from SampleRate. It is not
// read back from the opened stream.
func (c *Capture) AchievedRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.achievedRate
}

// Overruns returns the number of capture overruns recovered by re-preparing
// the device.
func (c *Capture) Overruns() uint64 {
	return c.overruns.Load()
}

// Initialize resolves the named input device (or the system default if name
// is "" or "default") and records its default sample rate. The stream itself
// is opened at the canonical parameters by Start.
func (c *Capture) Initialize(deviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, deviceName, portaudio.DefaultInputDevice,
		func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
	if err != nil {
		return err
	}

	c.deviceName = dev.Name
	c.achievedRate = dev.DefaultSampleRate
	return nil
}

// Start opens the PortAudio stream and spawns the capture worker.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audio: list devices: %w", err)
	}
	dev, err := resolveDevice(devices, c.deviceName, portaudio.DefaultInputDevice,
		func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
	if err != nil {
		return err
	}

	buf := make([]int16, PeriodFrames)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: PeriodFrames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audio: start capture stream: %w", err)
	}

	c.stream = stream
	c.stopCh = make(chan struct{})
	c.running.Store(true)

	c.wg.Add(1)
	go c.captureLoop(stream, buf)

	c.log.Info("capture started", zap.String("device", dev.Name))
	return nil
}

func (c *Capture) captureLoop(stream paStream, buf []int16) {
	defer c.wg.Done()

	for c.running.Load() {
		if err := stream.Read(); err != nil {
			if !c.running.Load() {
				return
			}
			// Re-prepare on overrun: stop, restart, keep the worker alive.
			c.overruns.Add(1)
			c.log.Debug("capture overrun, re-preparing", zap.Error(err))
			if rerr := c.reprepare(stream); rerr != nil {
				c.log.Warn("capture device failed, ending worker", zap.Error(rerr))
				return
			}
			continue
		}

		gain := math.Float64frombits(c.gain.Load())
		frame := make([]int16, len(buf))
		for i, s := range buf {
			frame[i] = clampSample(float64(s) * gain)
		}

		if c.muted.Load() {
			continue
		}

		c.mu.Lock()
		sink := c.sink
		c.mu.Unlock()
		if sink != nil {
			sink.PushNext(frame, time.Now())
		}
	}
}

func (c *Capture) reprepare(stream paStream) error {
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Start()
}

// Stop halts the capture worker and closes the device. The stream is
// stopped before the join and closed only after it, so a still-running
// goroutine never touches a freed native stream.
func (c *Capture) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	close(c.stopCh)

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		err := c.stream.Close()
		c.stream = nil
		return err
	}
	return nil
}
