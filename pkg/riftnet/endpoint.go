// Package riftnet is the caller-facing surface: an Endpoint owns one UDP
// socket and a set of per-peer connections, exposing Dial/Send/Disconnect/
// PollEvents plus Start/Stop; each connection's Step and Flush run inside
// the endpoint's own tick loop rather than as Endpoint methods.
//
// Grounded on the teacher's source/server.Server: the socket-bind-then-
// listen-loop-plus-update-ticker shape (source/server/server.go Start/
// listen/updateLoop) is kept, generalized from one game-protocol session
// map to a map of internal/lifecycle connections.
package riftnet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/lifecycle"
	"github.com/riftnet/riftnet/internal/metrics"
	"github.com/riftnet/riftnet/internal/sender"
	"github.com/riftnet/riftnet/internal/wire"
	"github.com/riftnet/riftnet/pkg/rlog"
)

// Event is one item from PollEvents, tagged with the remote address it
// concerns.
type Event struct {
	Addr      string
	Kind      lifecycle.EventKind
	ChannelID uint8
	Data      []byte
	Err       lifecycle.ErrorType
}

// udpFrameSink implements wire.FrameSink by writing to one fixed remote
// address over a shared UDP socket (original_source/src/udp_frame_sink.rs).
type udpFrameSink struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (s *udpFrameSink) Send(frame []byte) error {
	_, err := s.conn.WriteToUDP(frame, s.addr)
	return err
}

type peer struct {
	addr *net.UDPAddr
	conn *lifecycle.Connection
}

// Endpoint owns a UDP socket and every connection multiplexed over it,
// keyed by remote address (spec.md §5's "socket demux", explicitly out of
// the core's scope but required to exercise it from outside internal/).
type Endpoint struct {
	cfg  config.EndpointConfig
	sock *net.UDPConn

	mu    sync.Mutex
	peers map[string]*peer

	metrics *metrics.Collector

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	events   []Event
	eventsMu sync.Mutex
}

// New creates an Endpoint bound to laddr. Pass a metrics.Collector to have
// every connection registered when it is created (Dial or an accepted Syn)
// and unregistered once it reaches Fin, or nil to skip metrics entirely. A
// registered connection reports a zero snapshot until it is Active.
func New(cfg config.EndpointConfig, laddr string, collector *metrics.Collector) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("riftnet: resolve %q: %w", laddr, err)
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("riftnet: listen %q: %w", laddr, err)
	}
	return &Endpoint{
		cfg:     cfg,
		sock:    sock,
		peers:   make(map[string]*peer),
		metrics: collector,
		stop:    make(chan struct{}),
	}, nil
}

// Start launches the read loop and the tick loop as background goroutines
// (teacher's Server.Start: go s.updateLoop(); return s.listen()). Unlike
// the core connection state machine, this outer layer is explicitly
// allowed its own goroutines — only the per-connection engine is required
// to be single-threaded (spec.md §5).
func (e *Endpoint) Start(tickInterval time.Duration) {
	e.running = true
	e.wg.Add(2)
	go e.readLoop()
	go e.tickLoop(tickInterval)
}

// Stop halts both loops and closes the socket.
func (e *Endpoint) Stop() {
	e.running = false
	close(e.stop)
	e.sock.Close()
	e.wg.Wait()
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, wire.MaxFrameSize)
	for e.running {
		n, addr, err := e.sock.ReadFromUDP(buf)
		if err != nil {
			if e.running {
				rlog.L().Debugf("riftnet: read: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handlePacket(data, addr)
	}
}

func (e *Endpoint) tickLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Endpoint) handlePacket(data []byte, addr *net.UDPAddr) {
	kind, payload, err := wire.Parse(data)
	if err != nil {
		return // corrupt frame: silent discard (spec.md §7)
	}
	now := time.Now()

	e.mu.Lock()
	p, known := e.peers[addr.String()]
	e.mu.Unlock()

	if known {
		p.conn.HandleFrame(kind, payload, now)
		return
	}

	if kind != wire.KindHandshakeSyn {
		return // no connection for this peer and it isn't trying to open one
	}
	syn, err := wire.DecodeHandshakeSyn(payload)
	if err != nil {
		return
	}
	if code, ok := lifecycle.CheckHandshake(e.cfg, syn); !ok {
		sink := &udpFrameSink{conn: e.sock, addr: addr}
		he := &wire.HandshakeError{NonceAck: syn.Nonce, Code: code}
		sink.Send(wire.Serialize(wire.KindHandshakeError, he.Encode()))
		return
	}

	sink := &udpFrameSink{conn: e.sock, addr: addr}
	c := lifecycle.Accept(e.cfg, sink, syn, now)
	e.addPeer(addr, c)
}

func (e *Endpoint) addPeer(addr *net.UDPAddr, c *lifecycle.Connection) {
	e.mu.Lock()
	e.peers[addr.String()] = &peer{addr: addr, conn: c}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.Add(c.ConnID().String(), c)
	}
}

// Dial opens an outbound connection to raddr and returns immediately;
// watch PollEvents for the resulting Connect or Timeout.
func (e *Endpoint) Dial(raddr string) (string, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return "", fmt.Errorf("riftnet: resolve %q: %w", raddr, err)
	}
	sink := &udpFrameSink{conn: e.sock, addr: addr}
	c := lifecycle.Dial(e.cfg, sink, time.Now())
	e.addPeer(addr, c)
	return addr.String(), nil
}

// tick drives every connection's Step/Flush once and reaps any that have
// reached Fin (teacher's Server.updateLoop plus sessionCleanupLoop,
// collapsed into a single pass since our state machine already knows
// when a connection is done rather than needing an external staleness
// check).
func (e *Endpoint) tick() {
	now := time.Now()

	e.mu.Lock()
	snapshot := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		snapshot = append(snapshot, p)
	}
	e.mu.Unlock()

	var newEvents []Event
	var dead []string
	for _, p := range snapshot {
		for _, ev := range p.conn.Step(now) {
			newEvents = append(newEvents, Event{Addr: p.addr.String(), Kind: ev.Kind, ChannelID: ev.ChannelID, Data: ev.Data, Err: ev.Err})
		}
		p.conn.Flush(now)
		if p.conn.State() == lifecycle.StateFin {
			dead = append(dead, p.addr.String())
		}
	}

	if len(dead) > 0 {
		e.mu.Lock()
		for _, addr := range dead {
			if p, ok := e.peers[addr]; ok && e.metrics != nil {
				e.metrics.Remove(p.conn.ConnID().String())
			}
			delete(e.peers, addr)
		}
		e.mu.Unlock()
	}

	if len(newEvents) > 0 {
		e.eventsMu.Lock()
		e.events = append(e.events, newEvents...)
		e.eventsMu.Unlock()
	}
}

// PollEvents drains every event queued since the last call.
func (e *Endpoint) PollEvents() []Event {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	out := e.events
	e.events = nil
	return out
}

// Send enqueues a payload for delivery to addr (spec.md §6.2). Returns
// false if addr has no known connection.
func (e *Endpoint) Send(addr string, data []byte, channelID uint8, mode sender.Mode) bool {
	e.mu.Lock()
	p, ok := e.peers[addr]
	e.mu.Unlock()
	if !ok {
		return false
	}
	p.conn.Send(data, channelID, mode)
	return true
}

// Disconnect gracefully terminates the connection to addr, if any.
func (e *Endpoint) Disconnect(addr string) {
	e.mu.Lock()
	p, ok := e.peers[addr]
	e.mu.Unlock()
	if ok {
		p.conn.Disconnect()
	}
}

// LocalAddr reports the bound socket address.
func (e *Endpoint) LocalAddr() net.Addr { return e.sock.LocalAddr() }
