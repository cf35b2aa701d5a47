package session

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol"
)

// pendingConnection is one cancellable connect attempt. A worker goroutine
// dials, optionally wraps TLS, performs the Hello handshake, then posts its
// resolution into the session loop. The cancelled flag is read and written
// only on the loop: a cancelled resolution closes its own conn and is
// otherwise inert, so the worker never touches session state directly and a
// session torn down mid-connect is never dereferenced.
type pendingConnection struct {
	sess      *Session
	addr      string
	cfg       Config
	helloTxn  uint32
	done      func(error)
	rng       *rand.Rand
	cancelled bool
}

// cancel runs on the session loop. It fires the original connect callback
// with ErrCancelled; the worker's eventual resolution sees the flag and
// discards itself.
func (p *pendingConnection) cancel() {
	if p.cancelled {
		return
	}
	p.cancelled = true
	p.done(ErrCancelled)
}

// run is the worker goroutine entry point.
func (p *pendingConnection) run() {
	conn, hello, err := p.establish()
	delivered := p.sess.post(func() { p.resolve(conn, hello, err) })
	if !delivered && conn != nil {
		// Session already closed; the resolved transport has no owner.
		_ = conn.Close()
	}
}

// resolve runs on the session loop and delivers exactly one result.
func (p *pendingConnection) resolve(conn net.Conn, hello protocol.HelloReply, err error) {
	if p.cancelled {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s := p.sess
	s.pendingConn = nil
	if err != nil {
		s.state = StateDisconnected
		p.done(err)
		return
	}
	s.installTransport(conn, false)
	s.arch = protocol.ArchInfo{Arch: hello.Arch, PageSize: hello.PageSize}
	s.log.Info().
		Str("addr", p.addr).
		Str("arch", hello.Arch.String()).
		Msg("session connected")
	p.done(nil)
}

// establish performs the dial/handshake attempt loop off the session loop.
func (p *pendingConnection) establish() (net.Conn, protocol.HelloReply, error) {
	if err := p.cfg.ValidateClientTransport(); err != nil {
		return nil, protocol.HelloReply{}, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		observability.RecordConnectAttempt()
		conn, err := p.dial()
		if err == nil {
			hello, err := p.handshake(conn)
			if err == nil {
				return conn, hello, nil
			}
			_ = conn.Close()
			lastErr = err
		} else {
			lastErr = err
		}
		if attempt >= p.cfg.MaxConnectAttempts {
			return nil, protocol.HelloReply{}, lastErr
		}
		time.Sleep(NextBackoffDelay(p.cfg.Backoff, attempt, p.rng))
	}
}

func (p *pendingConnection) dial() (net.Conn, error) {
	rawConn, err := net.DialTimeout("tcp", p.addr, p.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if !p.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := p.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	_ = conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	if err := conn.Handshake(); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func (p *pendingConnection) clientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.cfg.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(p.cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(p.addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(p.cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if p.cfg.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(p.cfg.TLS.CertFile, p.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// handshake sends Hello and reads the reply on the raw conn, before the
// session read loop exists. The reply must carry the handshake's own
// transaction id and an accepting status.
func (p *pendingConnection) handshake(conn net.Conn) (protocol.HelloReply, error) {
	_ = conn.SetDeadline(time.Now().Add(p.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(protocol.EncodeHelloRequest(p.helloTxn)); err != nil {
		return protocol.HelloReply{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	h, body, err := protocol.ReadMessage(conn)
	if err != nil {
		return protocol.HelloReply{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if h.Kind != protocol.MsgHello || h.TransactionID != p.helloTxn {
		return protocol.HelloReply{}, fmt.Errorf("%w: got %s txid=%d", ErrUnexpectedReply, h.Kind, h.TransactionID)
	}
	hello, err := protocol.DecodeHelloReply(body)
	if err != nil {
		return protocol.HelloReply{}, err
	}
	if hello.Status != 0 {
		return protocol.HelloReply{}, fmt.Errorf("%w: status=%d", ErrHandshakeStatus, hello.Status)
	}
	return hello, nil
}
