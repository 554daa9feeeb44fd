// Package session wires one voice-call endpoint together. The Session owns
// the FrameBuffers, Transport, Capture, Playback, and Preprocessor, starts
// the long-lived loops, and tears everything down in reverse of creation
// order on Stop.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/audio"
	"github.com/resulsrky/nova-voice-engine-v2/internal/codec"
	"github.com/resulsrky/nova-voice-engine-v2/internal/config"
	"github.com/resulsrky/nova-voice-engine-v2/internal/framebuf"
	"github.com/resulsrky/nova-voice-engine-v2/internal/preprocessor"
	"github.com/resulsrky/nova-voice-engine-v2/internal/transport"
)

// TransportRole selects which of Transport's three start mechanics Session
// uses.
type TransportRole int

const (
	RoleListener TransportRole = iota
	RoleInitiator
	RolePeer
)

// Config assembles a Session from the CLI's two invocation styles.
type Config struct {
	Role       TransportRole
	LocalPort  int
	RemoteIP   string
	RemotePort int

	DeviceName string

	Preprocessor   config.Config
	BufferCapacity int // frames per FrameBuffer; <=0 uses framebuf.DefaultCapacity

	// StatsInterval governs the stats/tick loop's logging cadence; <=0 uses
	// DefaultStatsInterval.
	StatsInterval time.Duration

	PreprocessorOpts []preprocessor.Option
}

// DefaultStatsInterval is how often the stats/tick loop logs a snapshot and
// recomputes the receive-side loss estimate.
const DefaultStatsInterval = 2 * time.Second

// tickResolution bounds how long the stats loop sleeps between checks of
// the running flag, keeping shutdown responsive.
const tickResolution = 50 * time.Millisecond

// Session owns one voice-call endpoint end to end: capture → preprocess →
// encode → transport on the send side, and transport → decode →
// preprocess → playback on the receive side, plus the stats/tick loop.
type Session struct {
	log *zap.Logger
	cfg Config

	capture   *audio.Capture
	playback  *audio.Playback
	transport *transport.Transport
	pre       *preprocessor.Preprocessor

	txBuf *framebuf.Buffer // capture -> sender
	rxBuf *framebuf.Buffer // receive -> playback

	running atomic.Bool
	wg      sync.WaitGroup

	encodeSeq atomic.Uint32

	rxReceived  atomic.Uint64
	rxHighest   atomic.Int64 // -1 means "none seen yet"
	sendAccum   []int16      // owned solely by the sender loop
}

// New constructs every component according to cfg but starts nothing. log
// may be nil (a no-op logger is used).
func New(cfg Config, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}

	pre, err := preprocessor.New(cfg.Preprocessor, log, cfg.PreprocessorOpts...)
	if err != nil {
		return nil, fmt.Errorf("session: preprocessor: %w", err)
	}

	s := &Session{
		log:      log,
		cfg:      cfg,
		capture:  audio.NewCapture(log),
		playback: audio.NewPlayback(log),
		pre:      pre,
		txBuf:    framebuf.New(cfg.BufferCapacity),
		rxBuf:    framebuf.New(cfg.BufferCapacity),
	}
	s.rxHighest.Store(-1)
	s.transport = transport.New(log, s.onDatagram)

	s.capture.SetSink(s.txBuf)
	s.playback.SetSource(s.rxBuf)

	return s, nil
}

// Start initializes the audio devices, starts the transport in the
// configured role, and spawns the sender and stats/tick loops (capture and
// playback each spawn their own worker internally; the transport spawns its
// own receive loop). The sender loop exists because Capture's worker only
// produces raw PCM periods; encoding happens there, immediately before the
// send.
func (s *Session) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.capture.Initialize(s.cfg.DeviceName); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: capture init: %w", err)
	}
	if err := s.playback.Initialize(s.cfg.DeviceName); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: playback init: %w", err)
	}

	if err := s.startTransport(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: transport start: %w", err)
	}

	if err := s.capture.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: capture start: %w", err)
	}
	if err := s.playback.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("session: playback start: %w", err)
	}

	s.wg.Add(2)
	go s.senderLoop()
	go s.statsLoop()

	s.log.Info("session started",
		zap.String("role", s.roleString()),
		zap.String("device", s.cfg.DeviceName))
	return nil
}

func (s *Session) startTransport() error {
	switch s.cfg.Role {
	case RoleListener:
		return s.transport.StartListener(s.cfg.LocalPort)
	case RoleInitiator:
		return s.transport.StartInitiator(s.cfg.RemoteIP, s.cfg.RemotePort)
	case RolePeer:
		return s.transport.StartPeer(s.cfg.RemoteIP, s.cfg.LocalPort, s.cfg.RemotePort)
	default:
		return fmt.Errorf("session: unknown transport role %d", s.cfg.Role)
	}
}

func (s *Session) roleString() string {
	switch s.cfg.Role {
	case RoleListener:
		return "listener"
	case RoleInitiator:
		return "initiator"
	case RolePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// codecFrameSamples is the device-rate (48 kHz) sample count corresponding
// to the codec's 20 ms/16 kHz work unit: 48000 * 0.02 = 960,
// exactly 3x the codec's own 320-sample frame so ResampleTo16k/From16k's
// 3:1 ratio divides evenly.
const codecFrameSamples = audio.SampleRate * codec.FrameDurationMs / 1000

// senderLoop pops raw capture frames (one PortAudio period, not aligned to
// the codec's 20 ms unit) off txBuf, accumulates
// them into exactly-sized 20 ms chunks, encodes each with the Preprocessor,
// and sends it. This reconciliation is the sender loop's whole reason to
// exist: Capture's own worker (unmodified) only knows about device periods,
// never about codec frame boundaries.
func (s *Session) senderLoop() {
	defer s.wg.Done()
	for s.running.Load() {
		f, ok := s.txBuf.PopWait(framebuf.DefaultPopTimeout)
		if !ok {
			continue
		}
		s.sendAccum = append(s.sendAccum, f.Samples...)

		for len(s.sendAccum) >= codecFrameSamples {
			chunk := s.sendAccum[:codecFrameSamples]
			s.sendAccum = append([]int16(nil), s.sendAccum[codecFrameSamples:]...)

			seq := s.encodeSeq.Add(1) - 1
			pkt, err := s.pre.Encode(seq, chunk, audio.SampleRate)
			if err != nil {
				s.log.Debug("encode failed, dropping chunk", zap.Error(err))
				continue
			}
			if err := s.transport.SendFrame(pkt.Seq, pkt.Payload); err != nil {
				s.log.Debug("send failed", zap.Error(err))
			}
		}
	}
}

// onDatagram is Transport's inbound callback: it runs on the transport's
// own receive-loop goroutine, decodes immediately, and pushes the decoded
// frame to rxBuf. Must not block. payload aliases Transport's scratch
// buffer and is not retained past this call, so no copy is needed.
func (s *Session) onDatagram(seq uint32, payload []byte, _ *net.UDPAddr) {
	s.trackSeq(seq)

	pkt := &codec.EncodedPacket{Seq: seq, Payload: payload}
	samples, err := s.pre.Decode(pkt, audio.SampleRate)
	if err != nil {
		s.log.Debug("decode failed, dropping packet", zap.Uint32("seq", seq), zap.Error(err))
		return
	}

	s.rxBuf.Push(framebuf.Frame{Seq: seq, Samples: samples, Acquired: time.Now()})
}

// trackSeq updates the running highest-sequence-seen/received-count pair
// reportLossEstimate derives a loss ratio from.
func (s *Session) trackSeq(seq uint32) {
	s.rxReceived.Add(1)
	for {
		cur := s.rxHighest.Load()
		if int64(seq) <= cur {
			return
		}
		if s.rxHighest.CompareAndSwap(cur, int64(seq)) {
			return
		}
	}
}

// Counters returns a point-in-time snapshot useful for CLI/stats reporting:
// transport sent/received/failed/malformed, FrameBuffer drop counts, and
// the current codec bitrate.
type Counters struct {
	Sent, Received, Failed, Malformed uint64
	TxDropped, RxDropped              uint64
	Bitrate                           int
}

// Stats returns the current Counters snapshot.
func (s *Session) Stats() Counters {
	sent, received, failed, malformed := s.transport.Counters()
	return Counters{
		Sent:      sent,
		Received:  received,
		Failed:    failed,
		Malformed: malformed,
		TxDropped: s.txBuf.DroppedCount(),
		RxDropped: s.rxBuf.DroppedCount(),
		Bitrate:   s.pre.BitrateController().Current(),
	}
}

// statsLoop logs a periodic snapshot and feeds a receive-side loss estimate
// (derived from the highest sequence number seen vs. the count actually
// received) into the Preprocessor/BitrateController, sleeping in short
// increments so shutdown stays responsive.
func (s *Session) statsLoop() {
	defer s.wg.Done()

	interval := s.cfg.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	var elapsed time.Duration
	for s.running.Load() {
		time.Sleep(tickResolution)
		elapsed += tickResolution
		if elapsed < interval {
			continue
		}
		elapsed = 0

		s.reportLossEstimate()

		stats := s.Stats()
		s.log.Info("session stats",
			zap.Uint64("sent", stats.Sent),
			zap.Uint64("received", stats.Received),
			zap.Uint64("failed", stats.Failed),
			zap.Uint64("malformed", stats.Malformed),
			zap.Uint64("txDropped", stats.TxDropped),
			zap.Uint64("rxDropped", stats.RxDropped),
			zap.Int("bitrate", stats.Bitrate))
	}
}

func (s *Session) reportLossEstimate() {
	highest := s.rxHighest.Load()
	if highest < 0 {
		return
	}
	expected := uint64(highest) + 1
	received := s.rxReceived.Load()
	if expected == 0 {
		return
	}
	ratio := 0.0
	if expected > received {
		ratio = float64(expected-received) / float64(expected)
	}
	s.pre.ReportPacketLoss(ratio)
}

// Stop signals every loop to exit, unblocks each blocking I/O call, waits
// for all workers to join, and releases resources in reverse of creation
// order: transport socket close, then playback device, then
// capture device, then the preprocessor's native handles.
func (s *Session) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.wg.Wait() // sender + stats loops observe running==false and return

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.transport.Stop())
	record(s.playback.Stop())
	record(s.capture.Stop())
	record(s.pre.Close())

	s.txBuf.Clear()
	s.rxBuf.Clear()

	s.log.Info("session stopped")
	return firstErr
}
