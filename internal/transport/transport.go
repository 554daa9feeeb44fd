// Package transport implements the connectionless datagram endpoint used to
// move WirePackets between the two ends of a voice session. There is no
// handshake and no retry: every send is one UDP datagram, and every failed
// send on a started, addressed socket is counted rather than recovered.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/resulsrky/nova-voice-engine-v2/internal/wire"
)

// scratchSize is the size of the fixed receive buffer the loop reads
// datagrams into.
const scratchSize = 2048

// ErrNotStarted is returned by operations that require an active socket.
var ErrNotStarted = errors.New("transport: not started")

// ErrRemoteNotSet is returned by sendFrame when no remote address is known
// yet (a Listener before its first learned datagram, with no explicit
// setRemote call).
var ErrRemoteNotSet = errors.New("transport: remote address not set")

// OnDatagram is invoked once per successfully parsed inbound datagram, from
// the receive loop's own goroutine. Implementations must not block.
type OnDatagram func(seq uint32, payload []byte, from *net.UDPAddr)

// Mode identifies which of the three role mechanics Start configures.
type Mode int

const (
	// Listener binds a local port and learns the remote address from
	// received datagrams, each one updating it (or from an explicit
	// SetRemote call).
	Listener Mode = iota
	// Initiator fixes the remote address up front and binds an ephemeral
	// local port.
	Initiator
	// Peer binds a known local port and a known remote address up front;
	// no address learning occurs.
	Peer
)

// Transport is a single UDP socket plus framing, remote-address learning,
// and send/receive counters. The zero value is not usable; use
// New.
type Transport struct {
	log *zap.Logger

	mu       sync.RWMutex
	conn     *net.UDPConn
	remote   *net.UDPAddr
	mode     Mode
	learning bool
	handler  OnDatagram

	sent      atomic.Uint64
	received  atomic.Uint64
	failed    atomic.Uint64
	malformed atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an unstarted Transport. handler is invoked for every valid
// inbound datagram once the receive loop is running; it may be nil if the
// caller wires OnDatagram via SetHandler before Start instead.
func New(log *zap.Logger, handler OnDatagram) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{log: log, handler: handler}
}

// SetHandler installs or replaces the inbound datagram callback. Safe to
// call before or after Start.
func (t *Transport) SetHandler(h OnDatagram) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// StartListener binds localPort and learns the remote address from received
// datagrams; each datagram's source replaces the previous one. Idempotent: calling Start again after a
// successful start returns nil without reopening the socket.
func (t *Transport) StartListener(localPort int) error {
	return t.start(Listener, &net.UDPAddr{Port: localPort}, nil, true)
}

// StartInitiator binds an ephemeral local port and fixes the remote address
// up front.
func (t *Transport) StartInitiator(remoteIP string, remotePort int) error {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteIP, remotePort))
	if err != nil {
		return fmt.Errorf("transport: resolve remote: %w", err)
	}
	return t.start(Initiator, &net.UDPAddr{Port: 0}, remote, false)
}

// StartPeer binds localPort and sets a known remote address up front; no
// address learning occurs even though the struct has the same shape as
// Listener.
func (t *Transport) StartPeer(remoteIP string, localPort, remotePort int) error {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteIP, remotePort))
	if err != nil {
		return fmt.Errorf("transport: resolve remote: %w", err)
	}
	return t.start(Peer, &net.UDPAddr{Port: localPort}, remote, false)
}

func (t *Transport) start(mode Mode, local, remote *net.UDPAddr, learning bool) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil // idempotent: already started
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: listen: %w", err)
	}

	t.conn = conn
	t.remote = remote
	t.mode = mode
	t.learning = learning
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.log.Info("transport started",
		zap.String("mode", mode.String()),
		zap.String("local", conn.LocalAddr().String()))

	t.wg.Add(1)
	go t.receiveLoop()
	return nil
}

// SetRemote updates the send target. Allowed after start.
func (t *Transport) SetRemote(ip string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return fmt.Errorf("transport: resolve remote: %w", err)
	}
	t.mu.Lock()
	t.remote = addr
	t.mu.Unlock()
	return nil
}

// SendFrame serializes seq and payload into a WirePacket and sends one
// datagram to the current remote address. A payload over
// wire.MaxPayloadSize is rejected and, like a partial write, counts as a
// failure.
func (t *Transport) SendFrame(seq uint32, payload []byte) error {
	t.mu.RLock()
	conn := t.conn
	remote := t.remote
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotStarted
	}
	if remote == nil {
		return ErrRemoteNotSet
	}
	if len(payload) > wire.MaxPayloadSize {
		t.failed.Add(1)
		return fmt.Errorf("transport: payload of %d bytes exceeds %d", len(payload), wire.MaxPayloadSize)
	}

	packet := wire.Marshal(seq, payload)
	n, err := conn.WriteToUDP(packet, remote)
	if err != nil {
		t.failed.Add(1)
		return fmt.Errorf("transport: write: %w", err)
	}
	if n != len(packet) {
		t.failed.Add(1)
		return fmt.Errorf("transport: short write: wrote %d of %d bytes", n, len(packet))
	}
	t.sent.Add(1)
	return nil
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	buf := make([]byte, scratchSize)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.log.Debug("transport read error", zap.Error(err))
			continue
		}

		t.maybeLearn(from)

		seq, payload, ok := wire.Parse(buf[:n])
		if !ok {
			t.malformed.Add(1)
			continue
		}
		t.received.Add(1)

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			// payload aliases buf; the handler (or FrameBuffer.Push) must
			// copy it before retaining it past this call.
			handler(seq, payload, from)
		}
	}
}

func (t *Transport) maybeLearn(from *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.learning {
		if t.remote == nil {
			t.log.Info("transport remote address learned", zap.String("addr", from.String()))
		}
		t.remote = from
	}
}

// Stop closes the socket and waits for the receive loop to exit.
func (t *Transport) Stop() error {
	t.mu.Lock()
	conn := t.conn
	stopCh := t.stopCh
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(stopCh)
	err := conn.Close()
	t.wg.Wait()

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	return err
}

// Counters returns sent, received, failed-send, and malformed-received, in
// that order.
func (t *Transport) Counters() (sent, received, failed, malformed uint64) {
	return t.sent.Load(), t.received.Load(), t.failed.Load(), t.malformed.Load()
}

// LocalAddr returns the bound local address, or nil if not started.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (m Mode) String() string {
	switch m {
	case Listener:
		return "listener"
	case Initiator:
		return "initiator"
	case Peer:
		return "peer"
	default:
		return "unknown"
	}
}
