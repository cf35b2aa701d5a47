// Package agenttest is an in-memory debug agent for session tests. It
// speaks the real wire protocol, either over one side of a net.Pipe or
// behind a loopback listener.
package agenttest

import (
	"crypto/tls"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/probectl/internal/protocol"
)

// HandlerFunc produces the full encoded reply for one request. Returning
// ok=false suppresses the reply, leaving the request pending forever.
type HandlerFunc func(txid uint32, body []byte) (reply []byte, ok bool)

// handlerSet is shared between the conns of one listener.
type handlerSet struct {
	mu sync.Mutex
	fn map[protocol.MsgKind]HandlerFunc
}

func newHandlerSet() *handlerSet {
	return &handlerSet{fn: defaultHandlers()}
}

func (h *handlerSet) get(kind protocol.MsgKind) HandlerFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fn[kind]
}

func (h *handlerSet) set(kind protocol.MsgKind, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn[kind] = fn
}

func defaultHandlers() map[protocol.MsgKind]HandlerFunc {
	return map[protocol.MsgKind]HandlerFunc{
		protocol.MsgHello: func(txid uint32, _ []byte) ([]byte, bool) {
			return protocol.EncodeHelloReply(txid, protocol.HelloReply{
				Arch: protocol.ArchX64, PageSize: 4096,
			}), true
		},
		protocol.MsgAttach: func(txid uint32, _ []byte) ([]byte, bool) {
			return protocol.EncodeAttachReply(txid, protocol.AttachReply{}), true
		},
		protocol.MsgLaunch: func(txid uint32, _ []byte) ([]byte, bool) {
			return protocol.EncodeLaunchReply(txid, protocol.LaunchReply{ProcessKoid: 1111}), true
		},
		protocol.MsgProcessTree: func(txid uint32, _ []byte) ([]byte, bool) {
			return protocol.EncodeProcessTreeReply(txid, protocol.ProcessTreeReply{
				Root: protocol.ProcessTreeRecord{
					Kind: protocol.ObjectJob,
					Koid: 1,
					Name: "root",
					Children: []protocol.ProcessTreeRecord{
						{Kind: protocol.ObjectProcess, Koid: 20, Name: "sysmgr"},
					},
				},
			}), true
		},
		protocol.MsgThreads: func(txid uint32, _ []byte) ([]byte, bool) {
			return protocol.EncodeThreadsReply(txid, protocol.ThreadsReply{
				Threads: []protocol.ThreadRecord{
					{Koid: 2, Name: "initial-thread"},
					{Koid: 3, Name: "worker"},
				},
			}), true
		},
		protocol.MsgReadMemory: func(txid uint32, body []byte) ([]byte, bool) {
			req, err := protocol.DecodeReadMemoryRequest(body)
			if err != nil {
				return nil, false
			}
			return protocol.EncodeReadMemoryReply(txid, protocol.ReadMemoryReply{
				Blocks: []protocol.MemoryBlock{{
					Address: req.Address,
					Valid:   true,
					Size:    req.Size,
					Data:    make([]byte, req.Size),
				}},
			}), true
		},
	}
}

// Agent serves the protocol on one conn.
type Agent struct {
	conn     net.Conn
	handlers *handlerSet
	writeMu  sync.Mutex
}

// Pipe returns an agent speaking over an in-memory pipe and the client end
// of that pipe, suitable for Session.AttachTransport.
func Pipe() (*Agent, net.Conn) {
	client, server := net.Pipe()
	a := &Agent{conn: server, handlers: newHandlerSet()}
	go a.serve()
	return a, client
}

// Stub replaces the handler for kind on this agent.
func (a *Agent) Stub(kind protocol.MsgKind, fn HandlerFunc) {
	a.handlers.set(kind, fn)
}

// Silence makes the agent swallow requests of kind without replying.
func (a *Agent) Silence(kind protocol.MsgKind) {
	a.Stub(kind, func(uint32, []byte) ([]byte, bool) { return nil, false })
}

// Notify pushes an unsolicited message at the client.
func (a *Agent) Notify(n protocol.Notification) error {
	switch n := n.(type) {
	case protocol.NotifyThread:
		return a.SendRaw(protocol.EncodeNotifyThread(n))
	case protocol.NotifyException:
		return a.SendRaw(protocol.EncodeNotifyException(n))
	}
	return nil
}

// SendRaw writes arbitrary bytes to the client, for malformed-input tests.
func (a *Agent) SendRaw(b []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.conn.Write(b)
	return err
}

func (a *Agent) Close() error {
	return a.conn.Close()
}

func (a *Agent) serve() {
	for {
		h, body, err := protocol.ReadMessage(a.conn)
		if err != nil {
			return
		}
		fn := a.handlers.get(h.Kind)
		if fn == nil {
			continue
		}
		if reply, ok := fn(h.TransactionID, body); ok {
			if err := a.SendRaw(reply); err != nil {
				return
			}
		}
	}
}

// Server is a loopback listener that serves every accepted conn with a
// shared handler set, for Session.Connect tests.
type Server struct {
	ln       net.Listener
	handlers *handlerSet
}

func Listen(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("agenttest listen: %v", err)
	}
	return serveListener(t, ln)
}

// ListenTLS wraps the loopback listener in TLS using cfg.
func ListenTLS(t testing.TB, cfg *tls.Config) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("agenttest listen: %v", err)
	}
	return serveListener(t, tls.NewListener(ln, cfg))
}

func serveListener(t testing.TB, ln net.Listener) *Server {
	s := &Server{ln: ln, handlers: newHandlerSet()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			a := &Agent{conn: conn, handlers: s.handlers}
			go a.serve()
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Stub(kind protocol.MsgKind, fn HandlerFunc) {
	s.handlers.set(kind, fn)
}

// Silence makes every conn of this server swallow requests of kind.
func (s *Server) Silence(kind protocol.MsgKind) {
	s.handlers.set(kind, func(uint32, []byte) ([]byte, bool) { return nil, false })
}

func (s *Server) Close() error {
	return s.ln.Close()
}
