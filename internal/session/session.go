package session

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol"
)

// State is the connection lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// taskBuffer sizes the loop inbox. Completions run on the loop, so callers
// that issue follow-up requests from a callback queue into this buffer.
const taskBuffer = 128

// Session is the single coordinating object a caller talks to. It owns the
// transport, the transaction table, the at-most-one pending connection, and
// the decoded architecture info. All of that state lives on the loop
// goroutine; the exported methods only post work into it.
type Session struct {
	cfg   Config
	log   zerolog.Logger
	tasks chan func()
	quit  chan struct{}

	closeOnce sync.Once

	// Loop-confined state. Never touched off the loop goroutine.
	state       State
	closed      bool
	conn        net.Conn
	borrowed    bool
	txns        *txnTable
	pendingConn *pendingConnection
	arch        protocol.ArchInfo
	notify      *Dispatcher
	readGen     uint64
	rng         *rand.Rand
}

// New starts a session loop. The caller must Close it.
func New(cfg Config) *Session {
	s := &Session{
		cfg:   cfg.WithDefaults(),
		log:   log.With().Str("component", "session").Logger(),
		tasks: make(chan func(), taskBuffer),
		quit:  make(chan struct{}),
		txns:  newTxnTable(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.notify = NewDispatcher(s.log, NewProcessIndex())
	go s.run()
	return s
}

// Processes is the caller-owned index the notification dispatcher consults.
func (s *Session) Processes() *ProcessIndex {
	return s.notify.index
}

// IsConnected reports whether a transport is currently installed. It round
// trips through the loop, so it must not be called from inside a completion
// callback; callbacks already run on the loop and can rely on the state they
// were invoked under.
func (s *Session) IsConnected() bool {
	out := make(chan bool, 1)
	if !s.post(func() { out <- s.state == StateConnected }) {
		return false
	}
	return <-out
}

// Arch returns the architecture info decoded from the handshake; the zero
// value while disconnected.
func (s *Session) Arch() protocol.ArchInfo {
	out := make(chan protocol.ArchInfo, 1)
	if !s.post(func() { out <- s.arch }) {
		return protocol.ArchInfo{}
	}
	return <-out
}

// Connect starts an asynchronous connect + handshake against addr. done
// fires exactly once, on the loop, with nil on success, ErrAlreadyConnected
// if the session is not disconnected, ErrCancelled if the attempt is
// cancelled by Disconnect, ErrClosed once the session is closed, or the
// dial/handshake failure.
func (s *Session) Connect(addr string, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	ok := s.post(func() {
		if s.closed {
			done(ErrClosed)
			return
		}
		if s.state != StateDisconnected {
			done(ErrAlreadyConnected)
			return
		}
		pc := &pendingConnection{
			sess:     s,
			addr:     addr,
			cfg:      s.cfg,
			helloTxn: s.txns.nextID(),
			done:     done,
			// The worker jitters its retries off the loop, so it cannot
			// share the session's rng.
			rng: rand.New(rand.NewSource(s.rng.Int63())),
		}
		s.pendingConn = pc
		s.state = StateConnecting
		s.log.Debug().Str("addr", addr).Msg("connecting")
		go pc.run()
	})
	if !ok {
		done(ErrClosed)
	}
}

// AttachTransport installs a pre-established connection the session
// borrows: it will read from it but never close it. The peer is assumed to
// have been handshaken already; issue Hello afterwards to populate Arch.
func (s *Session) AttachTransport(conn net.Conn, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	ok := s.post(func() {
		if s.closed {
			done(ErrClosed)
			return
		}
		if s.state != StateDisconnected {
			done(ErrAlreadyConnected)
			return
		}
		s.installTransport(conn, true)
		done(nil)
	})
	if !ok {
		done(ErrClosed)
	}
}

// Disconnect tears the connection down. A pending connect is cancelled (its
// callback fires with ErrCancelled); outstanding requests fail with
// ErrDisconnected. done receives ErrNotConnected if there was nothing to
// tear down.
func (s *Session) Disconnect(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	ok := s.post(func() {
		if s.closed {
			done(ErrClosed)
			return
		}
		switch s.state {
		case StateDisconnected:
			done(ErrNotConnected)
		case StateConnecting:
			pc := s.pendingConn
			s.pendingConn = nil
			s.state = StateDisconnected
			pc.cancel()
			done(nil)
		case StateConnected:
			s.teardown(ErrDisconnected)
			done(nil)
		}
	})
	if !ok {
		done(ErrClosed)
	}
}

// Close stops the loop from any state. In-flight work fails rather than
// leaking callbacks. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}

// post hands fn to the loop goroutine. It returns false once the session is
// closed, in which case fn never runs.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	case s.tasks <- fn:
		return true
	}
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

// shutdown fails everything still in flight, then drains tasks already
// posted so their callbacks observe the closed state instead of vanishing.
// The closed flag is raised first: drained Connect/AttachTransport bodies
// must resolve with ErrClosed rather than act on the dead loop.
func (s *Session) shutdown() {
	s.closed = true
	if s.pendingConn != nil {
		pc := s.pendingConn
		s.pendingConn = nil
		pc.cancel()
	}
	s.teardown(ErrClosed)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		default:
			return
		}
	}
}

// installTransport moves to Connected and starts the read loop. Runs on the
// loop.
func (s *Session) installTransport(conn net.Conn, borrowed bool) {
	s.conn = conn
	s.borrowed = borrowed
	s.state = StateConnected
	observability.SetConnected(true)
	gen := s.readGen
	go s.readLoop(conn, gen)
}

// teardown closes the transport (unless borrowed), fails every outstanding
// request with cause, and resets architecture info. Runs on the loop.
func (s *Session) teardown(cause error) {
	if s.conn != nil {
		if !s.borrowed {
			_ = s.conn.Close()
		}
		s.conn = nil
	}
	s.borrowed = false
	s.readGen++
	for _, p := range s.txns.drain() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.complete(nil, cause)
	}
	s.arch = protocol.ArchInfo{}
	s.state = StateDisconnected
	observability.SetConnected(false)
	observability.SetPendingRequests(0)
}

// send allocates a transaction id, writes the encoded request, and registers
// the completion. complete fires exactly once, on the loop, with the raw
// reply body or an error.
func (s *Session) send(kind protocol.MsgKind, encode func(txid uint32) []byte, complete func(body []byte, err error)) {
	ok := s.post(func() {
		if s.closed {
			complete(nil, ErrClosed)
			return
		}
		if s.state != StateConnected {
			complete(nil, ErrNotConnected)
			return
		}
		txid := s.txns.nextID()
		msg := encode(txid)
		if s.cfg.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if _, err := s.conn.Write(msg); err != nil {
			s.log.Warn().Err(err).Str("kind", kind.String()).Msg("write failed, tearing down")
			s.teardown(fmt.Errorf("%w: %v", ErrTransport, err))
			complete(nil, fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		p := &pendingRequest{txid: txid, kind: kind, complete: complete}
		if s.cfg.RequestTimeout > 0 {
			p.timer = time.AfterFunc(s.cfg.RequestTimeout, func() {
				s.post(func() { s.expire(txid) })
			})
		}
		s.txns.insert(p)
		observability.RecordMessage("send", kind.String())
		observability.SetPendingRequests(s.txns.len())
	})
	if !ok {
		complete(nil, ErrClosed)
	}
}

// expire resolves a timed-out request without disconnecting. Runs on the
// loop; a reply that raced the timer wins because take empties the slot.
func (s *Session) expire(txid uint32) {
	p, ok := s.txns.take(txid)
	if !ok {
		return
	}
	observability.SetPendingRequests(s.txns.len())
	p.complete(nil, ErrTimeout)
}

// readLoop reads complete messages and posts them into the loop in wire
// order. gen ties it to one installed transport: after a teardown bumps the
// generation, anything this loop still posts is ignored.
func (s *Session) readLoop(conn net.Conn, gen uint64) {
	for {
		h, body, err := protocol.ReadMessage(conn)
		if err != nil {
			s.post(func() {
				if gen != s.readGen {
					return
				}
				cause := fmt.Errorf("%w: %v", ErrTransport, err)
				if errors.Is(err, io.EOF) {
					cause = fmt.Errorf("%w: peer closed", ErrTransport)
				}
				s.log.Warn().Err(err).Msg("stream error, tearing down")
				s.teardown(cause)
			})
			return
		}
		if !s.post(func() {
			if gen != s.readGen {
				return
			}
			s.deliver(h, body)
		}) {
			return
		}
	}
}

// deliver routes one received message: transaction id 0 to the notification
// dispatcher, anything else to the transaction table. Decode failures are
// local to the addressed request; the session stays up.
func (s *Session) deliver(h protocol.Header, body []byte) {
	observability.RecordMessage("recv", h.Kind.String())
	if h.TransactionID == 0 {
		s.notify.Dispatch(h.Kind, body)
		return
	}
	p, ok := s.txns.take(h.TransactionID)
	if !ok {
		s.log.Debug().
			Uint32("txid", h.TransactionID).
			Str("kind", h.Kind.String()).
			Msg("reply for unknown transaction dropped")
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	observability.SetPendingRequests(s.txns.len())
	if p.kind != h.Kind {
		p.complete(nil, fmt.Errorf("%w: got %s want %s", ErrUnexpectedReply, h.Kind, p.kind))
		return
	}
	p.complete(body, nil)
}

// Hello issues a handshake probe on an established transport and refreshes
// the cached architecture info from the reply.
func (s *Session) Hello(done func(protocol.HelloReply, error)) {
	s.send(protocol.MsgHello, protocol.EncodeHelloRequest, func(body []byte, err error) {
		if err != nil {
			done(protocol.HelloReply{}, err)
			return
		}
		reply, err := protocol.DecodeHelloReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgHello.String())
			done(protocol.HelloReply{}, err)
			return
		}
		s.arch = protocol.ArchInfo{Arch: reply.Arch, PageSize: reply.PageSize}
		done(reply, nil)
	})
}

// Launch asks the agent to spawn a process from argv.
func (s *Session) Launch(req protocol.LaunchRequest, done func(protocol.LaunchReply, error)) {
	s.send(protocol.MsgLaunch, func(txid uint32) []byte {
		return protocol.EncodeLaunchRequest(txid, req)
	}, func(body []byte, err error) {
		if err != nil {
			done(protocol.LaunchReply{}, err)
			return
		}
		reply, err := protocol.DecodeLaunchReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgLaunch.String())
			done(protocol.LaunchReply{}, err)
			return
		}
		done(reply, nil)
	})
}

// Attach asks the agent to attach to the process named by koid.
func (s *Session) Attach(req protocol.AttachRequest, done func(protocol.AttachReply, error)) {
	s.send(protocol.MsgAttach, func(txid uint32) []byte {
		return protocol.EncodeAttachRequest(txid, req)
	}, func(body []byte, err error) {
		if err != nil {
			done(protocol.AttachReply{}, err)
			return
		}
		reply, err := protocol.DecodeAttachReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgAttach.String())
			done(protocol.AttachReply{}, err)
			return
		}
		done(reply, nil)
	})
}

// ProcessTree fetches the target's job/process tree.
func (s *Session) ProcessTree(done func(protocol.ProcessTreeReply, error)) {
	s.send(protocol.MsgProcessTree, protocol.EncodeProcessTreeRequest, func(body []byte, err error) {
		if err != nil {
			done(protocol.ProcessTreeReply{}, err)
			return
		}
		reply, err := protocol.DecodeProcessTreeReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgProcessTree.String())
			done(protocol.ProcessTreeReply{}, err)
			return
		}
		done(reply, nil)
	})
}

// Threads lists the threads of one process.
func (s *Session) Threads(req protocol.ThreadsRequest, done func(protocol.ThreadsReply, error)) {
	s.send(protocol.MsgThreads, func(txid uint32) []byte {
		return protocol.EncodeThreadsRequest(txid, req)
	}, func(body []byte, err error) {
		if err != nil {
			done(protocol.ThreadsReply{}, err)
			return
		}
		reply, err := protocol.DecodeThreadsReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgThreads.String())
			done(protocol.ThreadsReply{}, err)
			return
		}
		done(reply, nil)
	})
}

// ReadMemory reads a range of target memory.
func (s *Session) ReadMemory(req protocol.ReadMemoryRequest, done func(protocol.ReadMemoryReply, error)) {
	s.send(protocol.MsgReadMemory, func(txid uint32) []byte {
		return protocol.EncodeReadMemoryRequest(txid, req)
	}, func(body []byte, err error) {
		if err != nil {
			done(protocol.ReadMemoryReply{}, err)
			return
		}
		reply, err := protocol.DecodeReadMemoryReply(body)
		if err != nil {
			observability.RecordDecodeError(protocol.MsgReadMemory.String())
			done(protocol.ReadMemoryReply{}, err)
			return
		}
		done(reply, nil)
	})
}
