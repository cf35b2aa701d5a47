package session

import (
	"testing"

	"github.com/danmuck/probectl/internal/protocol"
	"github.com/danmuck/probectl/internal/testutil/testlog"
)

func TestTxnTableSkipsZeroOnWrap(t *testing.T) {
	testlog.Start(t)
	tbl := newTxnTable()
	tbl.next = ^uint32(0) - 1
	if id := tbl.nextID(); id != ^uint32(0) {
		t.Fatalf("expected max id, got %d", id)
	}
	if id := tbl.nextID(); id != 1 {
		t.Fatalf("expected wrap to 1, got %d", id)
	}
}

func TestTxnTableSkipsBusyIDs(t *testing.T) {
	testlog.Start(t)
	tbl := newTxnTable()
	tbl.insert(&pendingRequest{txid: 1, kind: protocol.MsgHello, complete: func([]byte, error) {}})
	tbl.next = 0
	if id := tbl.nextID(); id != 2 {
		t.Fatalf("expected busy id 1 skipped, got %d", id)
	}
}

func TestTxnTableTakeIsExactlyOnce(t *testing.T) {
	testlog.Start(t)
	tbl := newTxnTable()
	tbl.insert(&pendingRequest{txid: 5, kind: protocol.MsgThreads, complete: func([]byte, error) {}})
	if _, ok := tbl.take(5); !ok {
		t.Fatalf("first take should find the request")
	}
	if _, ok := tbl.take(5); ok {
		t.Fatalf("second take should find nothing")
	}
}

func TestTxnTableDrainIsOrderedAndEmpties(t *testing.T) {
	testlog.Start(t)
	tbl := newTxnTable()
	for _, id := range []uint32{9, 2, 7} {
		tbl.insert(&pendingRequest{txid: id, kind: protocol.MsgThreads, complete: func([]byte, error) {}})
	}
	out := tbl.drain()
	if len(out) != 3 || out[0].txid != 2 || out[1].txid != 7 || out[2].txid != 9 {
		t.Fatalf("unexpected drain order: %v", out)
	}
	if tbl.len() != 0 {
		t.Fatalf("table not empty after drain: %d", tbl.len())
	}
}
