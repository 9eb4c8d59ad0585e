// Package mux implements the mirror-side session multiplexer: it owns
// the single active tunnel connection to the proxy, hands out session
// ids for in-flight downloads, and routes inbound wire.DownstreamMessage
// frames to the right session's delivery queue (spec §4.D).
package mux

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/kelindar/bitmap"

	"github.com/omalloc/crateproxy/contrib/log"
	"github.com/omalloc/crateproxy/metrics"
	"github.com/omalloc/crateproxy/wire"
)

// queueCapacity bounds the number of undelivered opcodes buffered per
// session; once full, the tunnel's dispatch loop blocks, applying
// backpressure all the way back to the proxy's TX task (spec §5).
const queueCapacity = 8

// Multiplexer serializes access to the current tunnel and the table of
// live sessions. Only one tunnel is active at a time; accepting a new
// one evicts every session left over from the last.
type Multiplexer struct {
	mu            sync.Mutex
	lastSessionID uint32
	used          bitmap.Bitmap
	sessions      map[uint32]*session
	uplink        *wire.Sender
	generation    uint64
}

// New returns an empty Multiplexer with no active tunnel.
func New() *Multiplexer {
	return &Multiplexer{sessions: make(map[uint32]*session)}
}

// session is one in-flight download's delivery queue. done is closed
// when the session is cancelled by its consumer (HTTP client gone)
// so dispatch never blocks the shared tunnel read loop waiting on a
// queue nobody drains any more.
type session struct {
	ch   chan wire.Opcode
	done chan struct{}
}

// AcceptTunnel installs conn as the current tunnel, replacing and
// evicting whatever tunnel (and its sessions) preceded it. It returns
// once the tunnel's read loop exits (the connection dropped or ctx was
// cancelled).
func (m *Multiplexer) AcceptTunnel(ctx context.Context, conn net.Conn) error {
	m.mu.Lock()
	m.uplink = wire.NewSender(conn)
	m.generation++
	myGeneration := m.generation
	evicted := m.sessions
	m.sessions = make(map[uint32]*session)
	m.used = bitmap.Bitmap{}
	m.mu.Unlock()

	for id, s := range evicted {
		deliverNonBlocking(s.ch, wire.CompleteErr("tunnel replaced"))
		log.Warnf("mux: evicted session %d on tunnel replacement", id)
	}

	defer func() {
		m.mu.Lock()
		if m.generation == myGeneration {
			m.uplink = nil
		}
		m.mu.Unlock()
	}()

	receiver := wire.NewReceiver(conn)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg wire.DownstreamMessage
		ok, err := receiver.Next(&msg)
		if err != nil {
			return fmt.Errorf("mux: read downstream message: %w", err)
		}
		if !ok {
			return nil
		}
		m.dispatch(msg)
	}
}

func (m *Multiplexer) dispatch(msg wire.DownstreamMessage) {
	m.mu.Lock()
	s, ok := m.sessions[msg.SessionID]
	m.mu.Unlock()
	if !ok {
		log.Warnf("mux: downstream message for unknown session %d", msg.SessionID)
		return
	}

	select {
	case s.ch <- msg.Opcode: // bounded; applies backpressure to the read loop itself
	case <-s.done: // consumer gave up; drop rather than stall every other session
		return
	}

	if msg.Opcode.Kind == wire.OpcodeComplete {
		m.forgetSession(msg.SessionID)
	}
}

func deliverNonBlocking(ch chan wire.Opcode, op wire.Opcode) {
	select {
	case ch <- op:
	default:
	}
}

// ErrNoUplink is returned by BeginDownload when no tunnel is currently
// attached.
var ErrNoUplink = fmt.Errorf("mux: no tunnel attached")

// BeginDownload allocates a session id, sends an UpstreamRequest for
// (name, version) over the current tunnel, and returns a channel the
// caller drains for Init/Chunk/Complete opcodes. The channel is never
// closed: the caller stops reading once it observes a Complete opcode,
// or calls the returned cancel function to give up early.
func (m *Multiplexer) BeginDownload(name, version string) (<-chan wire.Opcode, func(), error) {
	m.mu.Lock()
	if m.uplink == nil {
		m.mu.Unlock()
		return nil, nil, ErrNoUplink
	}

	id := m.allocateSessionLocked()
	s := &session{ch: make(chan wire.Opcode, queueCapacity), done: make(chan struct{})}
	m.sessions[id] = s
	uplink := m.uplink
	m.mu.Unlock()
	metrics.SessionStarted()

	req := wire.UpstreamRequest{SessionID: id, Package: name, Version: version}
	if err := uplink.Send(req); err != nil {
		m.endSession(id)
		return nil, nil, fmt.Errorf("mux: send upstream request: %w", err)
	}

	cancel := func() { m.endSession(id) }
	return s.ch, cancel, nil
}

func (m *Multiplexer) allocateSessionLocked() uint32 {
	for {
		m.lastSessionID++
		id := m.lastSessionID
		if id == 0 {
			continue // 0 is reserved as "no session" in logs/diagnostics
		}
		if !m.used.Contains(id) {
			m.used.Set(id)
			return id
		}
	}
}

// forgetSession removes a session after it has delivered its terminal
// Complete opcode, or because its consumer cancelled early. The
// channel itself is left for the consumer to drain and garbage-collect
// (it is never closed, since dispatch may still be mid-select on it),
// but done is closed so a dispatch racing the removal does not block
// the shared tunnel read loop on a queue nobody drains any more.
func (m *Multiplexer) forgetSession(id uint32) {
	m.mu.Lock()
	s, existed := m.sessions[id]
	delete(m.sessions, id)
	m.used.Clear(id)
	m.mu.Unlock()
	if existed {
		close(s.done)
		metrics.SessionEnded()
	}
}

// endSession is forgetSession's caller-initiated counterpart: invoked
// when BeginDownload's caller cancels before a Complete opcode ever
// arrives (e.g. the HTTP client disconnected).
func (m *Multiplexer) endSession(id uint32) {
	m.forgetSession(id)
}
