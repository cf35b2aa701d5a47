package session

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/probectl/internal/protocol"
	"github.com/danmuck/probectl/internal/testutil/testlog"
)

type recordingObserver struct {
	started    chan protocol.NotifyThread
	exited     chan protocol.NotifyThread
	suspended  chan protocol.NotifyThread
	exceptions chan protocol.NotifyException
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started:    make(chan protocol.NotifyThread, 4),
		exited:     make(chan protocol.NotifyThread, 4),
		suspended:  make(chan protocol.NotifyThread, 4),
		exceptions: make(chan protocol.NotifyException, 4),
	}
}

func (o *recordingObserver) OnThreadStarted(n protocol.NotifyThread)   { o.started <- n }
func (o *recordingObserver) OnThreadExited(n protocol.NotifyThread)    { o.exited <- n }
func (o *recordingObserver) OnThreadSuspended(n protocol.NotifyThread) { o.suspended <- n }
func (o *recordingObserver) OnException(n protocol.NotifyException)    { o.exceptions <- n }

// notifyBody strips the wire header off an encoded notification.
func notifyBody(msg []byte) []byte {
	return msg[protocol.HeaderSize:]
}

func TestDispatcherRoutesThreadKinds(t *testing.T) {
	testlog.Start(t)
	index := NewProcessIndex()
	obs := newRecordingObserver()
	index.Register(5, obs)
	d := NewDispatcher(zerolog.Nop(), index)

	kinds := []protocol.MsgKind{
		protocol.MsgNotifyThreadStarted,
		protocol.MsgNotifyThreadExited,
		protocol.MsgNotifyThreadSuspended,
	}
	for _, kind := range kinds {
		n := protocol.NotifyThread{Kind: kind, ProcessKoid: 5, ThreadKoid: 6}
		d.Dispatch(kind, notifyBody(protocol.EncodeNotifyThread(n)))
	}

	for _, ch := range []chan protocol.NotifyThread{obs.started, obs.exited, obs.suspended} {
		select {
		case n := <-ch:
			if n.ProcessKoid != 5 || n.ThreadKoid != 6 {
				t.Fatalf("wrong koids: %+v", n)
			}
		default:
			t.Fatalf("a thread kind was not routed")
		}
	}
}

func TestDispatcherRoutesException(t *testing.T) {
	testlog.Start(t)
	index := NewProcessIndex()
	obs := newRecordingObserver()
	index.Register(5, obs)
	d := NewDispatcher(zerolog.Nop(), index)

	n := protocol.NotifyException{ProcessKoid: 5, ThreadKoid: 6, Exception: 11, Address: 0x7fff0000}
	d.Dispatch(protocol.MsgNotifyException, notifyBody(protocol.EncodeNotifyException(n)))

	select {
	case got := <-obs.exceptions:
		if got != n {
			t.Fatalf("exception payload mismatch: got %+v want %+v", got, n)
		}
	default:
		t.Fatalf("exception was not routed")
	}
}

func TestDispatcherDropsUntrackedProcess(t *testing.T) {
	testlog.Start(t)
	index := NewProcessIndex()
	obs := newRecordingObserver()
	index.Register(5, obs)
	d := NewDispatcher(zerolog.Nop(), index)

	n := protocol.NotifyThread{Kind: protocol.MsgNotifyThreadStarted, ProcessKoid: 99, ThreadKoid: 1}
	d.Dispatch(n.Kind, notifyBody(protocol.EncodeNotifyThread(n)))

	select {
	case got := <-obs.started:
		t.Fatalf("notification for untracked process delivered: %+v", got)
	default:
	}
}

func TestDispatcherSkipsUnknownKind(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(zerolog.Nop(), NewProcessIndex())
	d.Dispatch(protocol.MsgKind(0x9999), nil)
}

func TestDispatcherDropsTruncatedBody(t *testing.T) {
	testlog.Start(t)
	index := NewProcessIndex()
	obs := newRecordingObserver()
	index.Register(5, obs)
	d := NewDispatcher(zerolog.Nop(), index)

	d.Dispatch(protocol.MsgNotifyThreadStarted, make([]byte, 8))

	select {
	case got := <-obs.started:
		t.Fatalf("truncated notification delivered: %+v", got)
	default:
	}
}

func TestDeregisterStopsDelivery(t *testing.T) {
	testlog.Start(t)
	index := NewProcessIndex()
	obs := newRecordingObserver()
	index.Register(5, obs)
	index.Deregister(5)
	d := NewDispatcher(zerolog.Nop(), index)

	n := protocol.NotifyThread{Kind: protocol.MsgNotifyThreadExited, ProcessKoid: 5, ThreadKoid: 6}
	d.Dispatch(n.Kind, notifyBody(protocol.EncodeNotifyThread(n)))

	select {
	case got := <-obs.exited:
		t.Fatalf("deregistered observer still received: %+v", got)
	default:
	}
}
