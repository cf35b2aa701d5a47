package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	in := Header{Size: 44, Kind: MsgReadMemory, TransactionID: 7}
	out, err := DecodeHeader(EncodeHeader(in))
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if out != in {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeHeaderSizeBounds(t *testing.T) {
	tooSmall := EncodeHeader(Header{Size: HeaderSize - 1, Kind: MsgHello, TransactionID: 1})
	if _, err := DecodeHeader(tooSmall); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	tooLarge := EncodeHeader(Header{Size: MaxMessageSize + 1, Kind: MsgHello, TransactionID: 1})
	if _, err := DecodeHeader(tooLarge); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

// splitMessage peels the framing header off a full encoded message.
func splitMessage(t *testing.T, msg []byte) (Header, []byte) {
	t.Helper()
	h, err := DecodeHeader(msg[:HeaderSize])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if int(h.Size) != len(msg) {
		t.Fatalf("size field mismatch: header=%d actual=%d", h.Size, len(msg))
	}
	return h, msg[HeaderSize:]
}

func TestHelloReplyRoundTrip(t *testing.T) {
	in := HelloReply{Status: 0, Arch: ArchArm64, PageSize: 4096}
	h, body := splitMessage(t, EncodeHelloReply(9, in))
	if h.Kind != MsgHello || h.TransactionID != 9 {
		t.Fatalf("unexpected header: %+v", h)
	}
	out, err := DecodeHelloReply(body)
	if err != nil {
		t.Fatalf("decode hello reply: %v", err)
	}
	if out != in {
		t.Fatalf("hello reply mismatch: got=%+v want=%+v", out, in)
	}
}

func TestLaunchRoundTrip(t *testing.T) {
	req := LaunchRequest{Argv: []string{"/boot/bin/sh", "-c", ""}}
	_, body := splitMessage(t, EncodeLaunchRequest(3, req))
	gotReq, err := DecodeLaunchRequest(body)
	if err != nil {
		t.Fatalf("decode launch request: %v", err)
	}
	if !reflect.DeepEqual(gotReq, req) {
		t.Fatalf("launch request mismatch: got=%+v want=%+v", gotReq, req)
	}

	reply := LaunchReply{Status: 0, ProcessKoid: 0xDEAD}
	_, body = splitMessage(t, EncodeLaunchReply(3, reply))
	gotReply, err := DecodeLaunchReply(body)
	if err != nil {
		t.Fatalf("decode launch reply: %v", err)
	}
	if gotReply != reply {
		t.Fatalf("launch reply mismatch: got=%+v want=%+v", gotReply, reply)
	}
}

func TestLaunchEmptyArgvRoundTrip(t *testing.T) {
	_, body := splitMessage(t, EncodeLaunchRequest(1, LaunchRequest{}))
	got, err := DecodeLaunchRequest(body)
	if err != nil {
		t.Fatalf("decode launch request: %v", err)
	}
	if len(got.Argv) != 0 {
		t.Fatalf("expected empty argv, got %v", got.Argv)
	}
}

func TestAttachRoundTrip(t *testing.T) {
	_, body := splitMessage(t, EncodeAttachRequest(5, AttachRequest{Koid: 42}))
	gotReq, err := DecodeAttachRequest(body)
	if err != nil {
		t.Fatalf("decode attach request: %v", err)
	}
	if gotReq.Koid != 42 {
		t.Fatalf("attach request mismatch: %+v", gotReq)
	}
	_, body = splitMessage(t, EncodeAttachReply(5, AttachReply{Status: 7}))
	gotReply, err := DecodeAttachReply(body)
	if err != nil {
		t.Fatalf("decode attach reply: %v", err)
	}
	if gotReply.Status != 7 {
		t.Fatalf("attach reply mismatch: %+v", gotReply)
	}
}

func sampleTree() ProcessTreeRecord {
	return ProcessTreeRecord{
		Kind: ObjectJob,
		Koid: 1,
		Name: "root",
		Children: []ProcessTreeRecord{
			{
				Kind: ObjectJob,
				Koid: 10,
				Name: "drivers",
				Children: []ProcessTreeRecord{
					{Kind: ObjectProcess, Koid: 100, Name: "netstack"},
					{Kind: ObjectProcess, Koid: 101, Name: ""},
				},
			},
			{Kind: ObjectProcess, Koid: 20, Name: "sysmgr"},
		},
	}
}

func TestProcessTreeRoundTrip(t *testing.T) {
	in := ProcessTreeReply{Root: sampleTree()}
	_, body := splitMessage(t, EncodeProcessTreeReply(2, in))
	out, err := DecodeProcessTreeReply(body)
	if err != nil {
		t.Fatalf("decode process tree: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("process tree mismatch:\n got=%+v\nwant=%+v", out, in)
	}
}

func TestProcessTreeMaxDepthRoundTrip(t *testing.T) {
	root := ProcessTreeRecord{Kind: ObjectProcess, Koid: uint64(maxTreeDepth), Name: "leaf"}
	for i := maxTreeDepth - 1; i >= 1; i-- {
		root = ProcessTreeRecord{
			Kind:     ObjectJob,
			Koid:     uint64(i),
			Children: []ProcessTreeRecord{root},
		}
	}
	_, body := splitMessage(t, EncodeProcessTreeReply(1, ProcessTreeReply{Root: root}))
	out, err := DecodeProcessTreeReply(body)
	if err != nil {
		t.Fatalf("decode at max depth: %v", err)
	}
	if !reflect.DeepEqual(out.Root, root) {
		t.Fatalf("deep tree mismatch")
	}
}

func TestProcessTreeDepthCap(t *testing.T) {
	root := ProcessTreeRecord{Kind: ObjectProcess, Koid: 0, Name: "leaf"}
	for i := 0; i < maxTreeDepth+1; i++ {
		root = ProcessTreeRecord{Kind: ObjectJob, Children: []ProcessTreeRecord{root}}
	}
	_, body := splitMessage(t, EncodeProcessTreeReply(1, ProcessTreeReply{Root: root}))
	_, err := DecodeProcessTreeReply(body)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestThreadsRoundTrip(t *testing.T) {
	_, body := splitMessage(t, EncodeThreadsRequest(4, ThreadsRequest{ProcessKoid: 77}))
	gotReq, err := DecodeThreadsRequest(body)
	if err != nil {
		t.Fatalf("decode threads request: %v", err)
	}
	if gotReq.ProcessKoid != 77 {
		t.Fatalf("threads request mismatch: %+v", gotReq)
	}

	reply := ThreadsReply{Threads: []ThreadRecord{
		{Koid: 1, Name: "initial-thread"},
		{Koid: 2, Name: ""},
	}}
	_, body = splitMessage(t, EncodeThreadsReply(4, reply))
	gotReply, err := DecodeThreadsReply(body)
	if err != nil {
		t.Fatalf("decode threads reply: %v", err)
	}
	if !reflect.DeepEqual(gotReply, reply) {
		t.Fatalf("threads reply mismatch: got=%+v want=%+v", gotReply, reply)
	}
}

func TestThreadsEmptyVectorRoundTrip(t *testing.T) {
	_, body := splitMessage(t, EncodeThreadsReply(1, ThreadsReply{}))
	got, err := DecodeThreadsReply(body)
	if err != nil {
		t.Fatalf("decode threads reply: %v", err)
	}
	if len(got.Threads) != 0 {
		t.Fatalf("expected no threads, got %+v", got.Threads)
	}
}

func TestReadMemoryRoundTrip(t *testing.T) {
	_, body := splitMessage(t, EncodeReadMemoryRequest(6, ReadMemoryRequest{Address: 0x1000, Size: 16}))
	gotReq, err := DecodeReadMemoryRequest(body)
	if err != nil {
		t.Fatalf("decode read memory request: %v", err)
	}
	if gotReq.Address != 0x1000 || gotReq.Size != 16 {
		t.Fatalf("read memory request mismatch: %+v", gotReq)
	}

	reply := ReadMemoryReply{Blocks: []MemoryBlock{
		{Address: 0x1000, Valid: true, Size: 4, Data: []byte{1, 2, 3, 4}},
		{Address: 0x2000, Valid: false, Size: 64},
	}}
	_, body = splitMessage(t, EncodeReadMemoryReply(6, reply))
	gotReply, err := DecodeReadMemoryReply(body)
	if err != nil {
		t.Fatalf("decode read memory reply: %v", err)
	}
	if !reflect.DeepEqual(gotReply, reply) {
		t.Fatalf("read memory reply mismatch: got=%+v want=%+v", gotReply, reply)
	}
}

func TestInvalidBlockCarriesNoData(t *testing.T) {
	// An invalid block still reports its would-be size but contributes no
	// data bytes to the wire image.
	withData := EncodeReadMemoryReply(1, ReadMemoryReply{Blocks: []MemoryBlock{
		{Address: 0x1000, Valid: false, Size: 1 << 20, Data: []byte{9, 9}},
	}})
	_, body := splitMessage(t, withData[:HeaderSize+4+memoryBlockMinSize])
	got, err := DecodeReadMemoryReply(body)
	if err != nil {
		t.Fatalf("decode read memory reply: %v", err)
	}
	if got.Blocks[0].Data != nil || got.Blocks[0].Size != 1<<20 {
		t.Fatalf("invalid block decoded wrong: %+v", got.Blocks[0])
	}
}

func TestNotifyThreadRoundTrip(t *testing.T) {
	for _, kind := range []MsgKind{MsgNotifyThreadStarted, MsgNotifyThreadExited, MsgNotifyThreadSuspended} {
		in := NotifyThread{Kind: kind, ProcessKoid: 5, ThreadKoid: 6}
		h, body := splitMessage(t, EncodeNotifyThread(in))
		if h.TransactionID != 0 {
			t.Fatalf("notification carries txid %d", h.TransactionID)
		}
		out, err := DecodeNotification(h.Kind, body)
		if err != nil {
			t.Fatalf("decode %s: %v", kind, err)
		}
		if out != in {
			t.Fatalf("notify thread mismatch: got=%+v want=%+v", out, in)
		}
	}
}

func TestNotifyExceptionRoundTrip(t *testing.T) {
	in := NotifyException{ProcessKoid: 5, ThreadKoid: 6, Exception: 3, Address: 0xFFF0}
	h, body := splitMessage(t, EncodeNotifyException(in))
	out, err := DecodeNotification(h.Kind, body)
	if err != nil {
		t.Fatalf("decode exception: %v", err)
	}
	if out != in {
		t.Fatalf("notify exception mismatch: got=%+v want=%+v", out, in)
	}
}

func TestDecodeNotificationUnknownKind(t *testing.T) {
	_, err := DecodeNotification(MsgKind(0x9999), nil)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestReadMessage(t *testing.T) {
	msg := EncodeThreadsRequest(8, ThreadsRequest{ProcessKoid: 11})
	h, body, err := ReadMessage(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if h.Kind != MsgThreads || h.TransactionID != 8 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if got, err := DecodeThreadsRequest(body); err != nil || got.ProcessKoid != 11 {
		t.Fatalf("body mismatch: %+v err=%v", got, err)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	msg := EncodeThreadsRequest(8, ThreadsRequest{ProcessKoid: 11})
	_, _, err := ReadMessage(bytes.NewReader(msg[:len(msg)-2]))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
