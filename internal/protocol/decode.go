package protocol

// Decoders take the message body (everything after the fixed header) and
// must consume it exactly. They are the only code that interprets untrusted
// bytes; every length is validated before the dependent read.

// Minimum encoded sizes, used to validate vector counts before allocating.
const (
	threadRecordMinSize = 8 + 4
	memoryBlockMinSize  = 8 + 4 + 8
	treeRecordMinSize   = 4 + 8 + 4 + 4
	stringMinSize       = 4
)

// maxTreeDepth bounds worst-case decode state against a corrupt or hostile
// deeply-nested process tree payload.
const maxTreeDepth = 1024

func DecodeHelloReply(body []byte) (HelloReply, error) {
	r := newReader(body)
	status, err := r.uint32()
	if err != nil {
		return HelloReply{}, err
	}
	arch, err := r.uint32()
	if err != nil {
		return HelloReply{}, err
	}
	pageSize, err := r.uint64()
	if err != nil {
		return HelloReply{}, err
	}
	if err := r.finish(); err != nil {
		return HelloReply{}, err
	}
	return HelloReply{Status: status, Arch: Arch(arch), PageSize: pageSize}, nil
}

func DecodeLaunchRequest(body []byte) (LaunchRequest, error) {
	r := newReader(body)
	n, err := r.count(stringMinSize)
	if err != nil {
		return LaunchRequest{}, err
	}
	argv := make([]string, 0, n)
	for i := 0; i < n; i++ {
		arg, err := r.str()
		if err != nil {
			return LaunchRequest{}, err
		}
		argv = append(argv, arg)
	}
	if err := r.finish(); err != nil {
		return LaunchRequest{}, err
	}
	return LaunchRequest{Argv: argv}, nil
}

func DecodeLaunchReply(body []byte) (LaunchReply, error) {
	r := newReader(body)
	status, err := r.uint32()
	if err != nil {
		return LaunchReply{}, err
	}
	koid, err := r.uint64()
	if err != nil {
		return LaunchReply{}, err
	}
	if err := r.finish(); err != nil {
		return LaunchReply{}, err
	}
	return LaunchReply{Status: status, ProcessKoid: koid}, nil
}

func DecodeAttachRequest(body []byte) (AttachRequest, error) {
	r := newReader(body)
	koid, err := r.uint64()
	if err != nil {
		return AttachRequest{}, err
	}
	if err := r.finish(); err != nil {
		return AttachRequest{}, err
	}
	return AttachRequest{Koid: koid}, nil
}

func DecodeAttachReply(body []byte) (AttachReply, error) {
	r := newReader(body)
	status, err := r.uint32()
	if err != nil {
		return AttachReply{}, err
	}
	if err := r.finish(); err != nil {
		return AttachReply{}, err
	}
	return AttachReply{Status: status}, nil
}

func DecodeProcessTreeReply(body []byte) (ProcessTreeReply, error) {
	r := newReader(body)
	root, err := decodeTree(r)
	if err != nil {
		return ProcessTreeReply{}, err
	}
	if err := r.finish(); err != nil {
		return ProcessTreeReply{}, err
	}
	return ProcessTreeReply{Root: root}, nil
}

// treeFrame is one level of the explicit decode worklist. rec points into
// the parent's preallocated Children slice, which is never resized while a
// frame below it is live.
type treeFrame struct {
	rec  *ProcessTreeRecord
	left int
}

// decodeTree decodes the recursive record layout with an explicit stack so
// a hostile payload cannot exhaust the call stack. Depth is capped at
// maxTreeDepth.
func decodeTree(r *reader) (ProcessTreeRecord, error) {
	root, children, err := decodeTreeNode(r)
	if err != nil {
		return ProcessTreeRecord{}, err
	}
	stack := []treeFrame{{rec: &root, left: children}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.left == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.left--
		child, grandchildren, err := decodeTreeNode(r)
		if err != nil {
			return ProcessTreeRecord{}, err
		}
		top.rec.Children = append(top.rec.Children, child)
		if grandchildren > 0 {
			if len(stack) >= maxTreeDepth {
				return ProcessTreeRecord{}, ErrDepthExceeded
			}
			stack = append(stack, treeFrame{
				rec:  &top.rec.Children[len(top.rec.Children)-1],
				left: grandchildren,
			})
		}
	}
	return root, nil
}

// decodeTreeNode reads one record's fixed fields and child count. Children
// is preallocated to exactly the validated count so later appends never
// reallocate under live worklist pointers.
func decodeTreeNode(r *reader) (ProcessTreeRecord, int, error) {
	kind, err := r.uint32()
	if err != nil {
		return ProcessTreeRecord{}, 0, err
	}
	koid, err := r.uint64()
	if err != nil {
		return ProcessTreeRecord{}, 0, err
	}
	name, err := r.str()
	if err != nil {
		return ProcessTreeRecord{}, 0, err
	}
	children, err := r.count(treeRecordMinSize)
	if err != nil {
		return ProcessTreeRecord{}, 0, err
	}
	rec := ProcessTreeRecord{Kind: ObjectKind(kind), Koid: koid, Name: name}
	if children > 0 {
		rec.Children = make([]ProcessTreeRecord, 0, children)
	}
	return rec, children, nil
}

func DecodeThreadsRequest(body []byte) (ThreadsRequest, error) {
	r := newReader(body)
	koid, err := r.uint64()
	if err != nil {
		return ThreadsRequest{}, err
	}
	if err := r.finish(); err != nil {
		return ThreadsRequest{}, err
	}
	return ThreadsRequest{ProcessKoid: koid}, nil
}

func DecodeThreadsReply(body []byte) (ThreadsReply, error) {
	r := newReader(body)
	n, err := r.count(threadRecordMinSize)
	if err != nil {
		return ThreadsReply{}, err
	}
	threads := make([]ThreadRecord, 0, n)
	for i := 0; i < n; i++ {
		koid, err := r.uint64()
		if err != nil {
			return ThreadsReply{}, err
		}
		name, err := r.str()
		if err != nil {
			return ThreadsReply{}, err
		}
		threads = append(threads, ThreadRecord{Koid: koid, Name: name})
	}
	if err := r.finish(); err != nil {
		return ThreadsReply{}, err
	}
	return ThreadsReply{Threads: threads}, nil
}

func DecodeReadMemoryRequest(body []byte) (ReadMemoryRequest, error) {
	r := newReader(body)
	address, err := r.uint64()
	if err != nil {
		return ReadMemoryRequest{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return ReadMemoryRequest{}, err
	}
	if err := r.finish(); err != nil {
		return ReadMemoryRequest{}, err
	}
	return ReadMemoryRequest{Address: address, Size: size}, nil
}

func DecodeReadMemoryReply(body []byte) (ReadMemoryReply, error) {
	r := newReader(body)
	n, err := r.count(memoryBlockMinSize)
	if err != nil {
		return ReadMemoryReply{}, err
	}
	blocks := make([]MemoryBlock, 0, n)
	for i := 0; i < n; i++ {
		block, err := decodeMemoryBlock(r)
		if err != nil {
			return ReadMemoryReply{}, err
		}
		blocks = append(blocks, block)
	}
	if err := r.finish(); err != nil {
		return ReadMemoryReply{}, err
	}
	return ReadMemoryReply{Blocks: blocks}, nil
}

// decodeMemoryBlock rejects, rather than truncates, a block whose declared
// size exceeds the bytes remaining. An invalid block carries no data bytes
// regardless of its declared size.
func decodeMemoryBlock(r *reader) (MemoryBlock, error) {
	address, err := r.uint64()
	if err != nil {
		return MemoryBlock{}, err
	}
	valid, err := r.uint32()
	if err != nil {
		return MemoryBlock{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return MemoryBlock{}, err
	}
	block := MemoryBlock{Address: address, Valid: valid != 0, Size: size}
	if block.Valid && size > 0 {
		data, err := r.bytes(size)
		if err != nil {
			return MemoryBlock{}, err
		}
		block.Data = data
	}
	return block, nil
}

// DecodeNotification dispatches a transaction-id-0 message body by kind.
// Unknown kinds fail with ErrUnknownMessage, which the dispatcher treats as
// a skip, not a fault.
func DecodeNotification(kind MsgKind, body []byte) (Notification, error) {
	switch kind {
	case MsgNotifyThreadStarted, MsgNotifyThreadExited, MsgNotifyThreadSuspended:
		return decodeNotifyThread(kind, body)
	case MsgNotifyException:
		return decodeNotifyException(body)
	default:
		return nil, ErrUnknownMessage
	}
}

func decodeNotifyThread(kind MsgKind, body []byte) (NotifyThread, error) {
	r := newReader(body)
	process, err := r.uint64()
	if err != nil {
		return NotifyThread{}, err
	}
	thread, err := r.uint64()
	if err != nil {
		return NotifyThread{}, err
	}
	if err := r.finish(); err != nil {
		return NotifyThread{}, err
	}
	return NotifyThread{Kind: kind, ProcessKoid: process, ThreadKoid: thread}, nil
}

func decodeNotifyException(body []byte) (NotifyException, error) {
	r := newReader(body)
	process, err := r.uint64()
	if err != nil {
		return NotifyException{}, err
	}
	thread, err := r.uint64()
	if err != nil {
		return NotifyException{}, err
	}
	exception, err := r.uint32()
	if err != nil {
		return NotifyException{}, err
	}
	address, err := r.uint64()
	if err != nil {
		return NotifyException{}, err
	}
	if err := r.finish(); err != nil {
		return NotifyException{}, err
	}
	return NotifyException{
		ProcessKoid: process,
		ThreadKoid:  thread,
		Exception:   exception,
		Address:     address,
	}, nil
}
