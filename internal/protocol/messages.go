package protocol

// Request/reply value shapes, one pair per message kind. These are plain
// values with no ownership of the transport.

type HelloRequest struct{}

type HelloReply struct {
	Status   uint32
	Arch     Arch
	PageSize uint64
}

type LaunchRequest struct {
	Argv []string
}

type LaunchReply struct {
	Status      uint32
	ProcessKoid uint64
}

type AttachRequest struct {
	Koid uint64
}

type AttachReply struct {
	Status uint32
}

type ProcessTreeRequest struct{}

type ProcessTreeReply struct {
	Root ProcessTreeRecord
}

type ThreadsRequest struct {
	ProcessKoid uint64
}

type ThreadsReply struct {
	Threads []ThreadRecord
}

type ReadMemoryRequest struct {
	Address uint64
	Size    uint64
}

type ReadMemoryReply struct {
	Blocks []MemoryBlock
}
