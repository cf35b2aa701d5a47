package protocol

// Arch identifies the target architecture reported in the Hello reply.
type Arch uint32

const (
	ArchUnknown Arch = iota
	ArchX64
	ArchArm64
)

func (a Arch) String() string {
	switch a {
	case ArchX64:
		return "x64"
	case ArchArm64:
		return "arm64"
	default:
		return "unknown"
	}
}

// ArchInfo is derived once per successful handshake and reset to the zero
// value on disconnect.
type ArchInfo struct {
	Arch     Arch
	PageSize uint64
}

// ObjectKind tags one node of the process tree.
type ObjectKind uint32

const (
	ObjectJob ObjectKind = iota
	ObjectProcess
)

// ProcessTreeRecord is one node of the target's job/process tree.
type ProcessTreeRecord struct {
	Kind     ObjectKind
	Koid     uint64
	Name     string
	Children []ProcessTreeRecord
}

// ThreadRecord names one thread of a process.
type ThreadRecord struct {
	Koid uint64
	Name string
}

// MemoryBlock is one contiguous range from a ReadMemory reply. Size is
// reported even when Valid is false (it states how many bytes the read
// would have covered); Data is present only when Valid and Size > 0.
type MemoryBlock struct {
	Address uint64
	Valid   bool
	Size    uint64
	Data    []byte
}

// NotifyThread reports a thread lifecycle change. Kind distinguishes the
// started/exited/suspended variants.
type NotifyThread struct {
	Kind        MsgKind
	ProcessKoid uint64
	ThreadKoid  uint64
}

// NotifyException reports a hardware or software exception on a thread.
type NotifyException struct {
	ProcessKoid uint64
	ThreadKoid  uint64
	Exception   uint32
	Address     uint64
}

// Notification is the closed set of unsolicited messages.
type Notification interface {
	isNotification()
}

func (NotifyThread) isNotification()    {}
func (NotifyException) isNotification() {}
