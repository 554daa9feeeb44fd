package audio

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/framebuf"
)

func startPlaybackWithMock(p *Playback, stream *mockStream) {
	p.mu.Lock()
	p.stream = stream
	p.stopCh = make(chan struct{})
	p.running.Store(true)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.playbackLoop(stream, stream.buf)
}

func TestPlaybackEmitsSilenceOnEmptySource(t *testing.T) {
	p := NewPlayback(zap.NewNop())
	p.SetSource(framebuf.New(4))

	stream := &mockStream{buf: make([]int16, 4)}
	for i := range stream.buf {
		stream.buf[i] = 999
	}
	startPlaybackWithMock(p, stream)
	defer p.Stop()

	// PopWait's 10ms timeout means at least one full cycle elapses with the
	// source empty; the write buffer must be zeroed rather than stale.
	time.Sleep(30 * time.Millisecond)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	for i, s := range stream.buf {
		if s != 0 {
			t.Fatalf("buf[%d]: got %d, want 0 (silence on starvation)", i, s)
		}
	}
}

func TestPlaybackAppliesVolume(t *testing.T) {
	p := NewPlayback(zap.NewNop())
	source := framebuf.New(4)
	p.SetSource(source)
	p.SetVolume(0.5)

	stream := &mockStream{buf: make([]int16, 2)}
	startPlaybackWithMock(p, stream)
	defer p.Stop()

	source.Push(framebuf.Frame{Samples: []int16{1000, 1000}})

	deadline := time.Now().Add(time.Second)
	for {
		stream.mu.Lock()
		v := stream.buf[0]
		stream.mu.Unlock()
		if v == 500 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("volume never applied, last buf[0]=%d", v)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlaybackMutedStillDrainsSource(t *testing.T) {
	p := NewPlayback(zap.NewNop())
	source := framebuf.New(4)
	p.SetSource(source)
	p.SetMuted(true)

	stream := &mockStream{buf: make([]int16, 2)}
	startPlaybackWithMock(p, stream)
	defer p.Stop()

	source.Push(framebuf.Frame{Samples: []int16{1000, 1000}})
	time.Sleep(30 * time.Millisecond)

	stream.mu.Lock()
	for i, s := range stream.buf {
		if s != 0 {
			t.Errorf("buf[%d] while muted: got %d, want 0", i, s)
		}
	}
	stream.mu.Unlock()

	if size := source.Size(); size != 0 {
		t.Errorf("source size while muted: got %d, want 0 (muted playback still drains)", size)
	}
}

func TestPlaybackRecoversFromUnderrun(t *testing.T) {
	p := NewPlayback(zap.NewNop())
	p.SetSource(framebuf.New(4))

	stream := &mockStream{buf: make([]int16, 2)}
	stream.mu.Lock()
	stream.failNext = true
	stream.mu.Unlock()

	startPlaybackWithMock(p, stream)
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for p.Underruns() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("playback never recorded an underrun")
		}
		time.Sleep(time.Millisecond)
	}
}
