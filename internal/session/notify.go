package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/probectl/internal/observability"
	"github.com/danmuck/probectl/internal/protocol"
)

// ThreadObserver receives notifications addressed to one process. The
// callbacks run on the session loop goroutine.
type ThreadObserver interface {
	OnThreadStarted(protocol.NotifyThread)
	OnThreadExited(protocol.NotifyThread)
	OnThreadSuspended(protocol.NotifyThread)
	OnException(protocol.NotifyException)
}

// ProcessIndex is the caller-owned map from process koid to observer. The
// caller registers and deregisters from its own goroutines while the
// dispatcher looks up on the loop, hence the lock.
type ProcessIndex struct {
	mu     sync.RWMutex
	byKoid map[uint64]ThreadObserver
}

func NewProcessIndex() *ProcessIndex {
	return &ProcessIndex{byKoid: make(map[uint64]ThreadObserver)}
}

func (x *ProcessIndex) Register(koid uint64, obs ThreadObserver) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byKoid[koid] = obs
}

func (x *ProcessIndex) Deregister(koid uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.byKoid, koid)
}

func (x *ProcessIndex) Lookup(koid uint64) (ThreadObserver, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	obs, ok := x.byKoid[koid]
	return obs, ok
}

// Dispatcher routes transaction-id-0 messages to typed observers by process
// koid. A notification for a process nobody tracks is dropped, not an
// error: targets may be cleaned up locally before an in-flight notification
// about them arrives. Unknown kinds are skipped for forward compatibility.
type Dispatcher struct {
	log   zerolog.Logger
	index *ProcessIndex
}

func NewDispatcher(log zerolog.Logger, index *ProcessIndex) *Dispatcher {
	return &Dispatcher{log: log, index: index}
}

func (d *Dispatcher) Dispatch(kind protocol.MsgKind, body []byte) {
	n, err := protocol.DecodeNotification(kind, body)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessage) {
			d.log.Debug().Uint32("kind", uint32(kind)).Msg("unknown notification kind skipped")
			return
		}
		observability.RecordDecodeError(kind.String())
		d.log.Warn().Err(err).Str("kind", kind.String()).Msg("notification dropped: decode failed")
		return
	}

	switch n := n.(type) {
	case protocol.NotifyThread:
		obs, ok := d.index.Lookup(n.ProcessKoid)
		if !ok {
			d.log.Debug().Uint64("process", n.ProcessKoid).Msg("notification for untracked process dropped")
			return
		}
		switch n.Kind {
		case protocol.MsgNotifyThreadStarted:
			obs.OnThreadStarted(n)
		case protocol.MsgNotifyThreadExited:
			obs.OnThreadExited(n)
		case protocol.MsgNotifyThreadSuspended:
			obs.OnThreadSuspended(n)
		}
	case protocol.NotifyException:
		obs, ok := d.index.Lookup(n.ProcessKoid)
		if !ok {
			d.log.Debug().Uint64("process", n.ProcessKoid).Msg("exception for untracked process dropped")
			return
		}
		obs.OnException(n)
	}
}
