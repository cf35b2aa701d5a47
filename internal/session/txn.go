package session

import (
	"sort"
	"time"

	"github.com/danmuck/probectl/internal/protocol"
)

// pendingRequest tracks one in-flight transaction awaiting its reply.
type pendingRequest struct {
	txid     uint32
	kind     protocol.MsgKind
	complete func(body []byte, err error)
	timer    *time.Timer
}

// txnTable maps transaction ids to pending completions. It is confined to
// the session loop goroutine, so it carries no lock.
type txnTable struct {
	next    uint32
	pending map[uint32]*pendingRequest
}

func newTxnTable() *txnTable {
	return &txnTable{pending: make(map[uint32]*pendingRequest)}
}

// nextID allocates the next transaction id, monotonically, wrapping within
// [1, math.MaxUint32]. Id 0 is reserved for notifications and skipped, as
// is any id still awaiting a reply.
func (t *txnTable) nextID() uint32 {
	for {
		t.next++
		if t.next == 0 {
			t.next++
		}
		if _, busy := t.pending[t.next]; !busy {
			return t.next
		}
	}
}

func (t *txnTable) insert(p *pendingRequest) {
	t.pending[p.txid] = p
}

// take removes and returns the pending request for txid, if any. A request
// resolves at most once because it leaves the table here.
func (t *txnTable) take(txid uint32) (*pendingRequest, bool) {
	p, ok := t.pending[txid]
	if ok {
		delete(t.pending, txid)
	}
	return p, ok
}

// drain empties the table, returning the orphaned requests in txid order so
// teardown failures are deterministic.
func (t *txnTable) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	t.pending = make(map[uint32]*pendingRequest)
	sort.Slice(out, func(i, j int) bool { return out[i].txid < out[j].txid })
	return out
}

func (t *txnTable) len() int {
	return len(t.pending)
}
