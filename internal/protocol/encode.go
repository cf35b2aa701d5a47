package protocol

// Request encoders produce a complete wire message: header first, fixed
// fields in declared order, then length-prefixed variable fields. Reply and
// notification encoders exist for the agent side of the exchange and for
// tests; both directions share one layout per kind.

func EncodeHelloRequest(txid uint32) []byte {
	return newWriter(MsgHello, txid).finish()
}

func EncodeHelloReply(txid uint32, reply HelloReply) []byte {
	w := newWriter(MsgHello, txid)
	w.uint32(reply.Status)
	w.uint32(uint32(reply.Arch))
	w.uint64(reply.PageSize)
	return w.finish()
}

func EncodeLaunchRequest(txid uint32, req LaunchRequest) []byte {
	w := newWriter(MsgLaunch, txid)
	w.uint32(uint32(len(req.Argv)))
	for _, arg := range req.Argv {
		w.str(arg)
	}
	return w.finish()
}

func EncodeLaunchReply(txid uint32, reply LaunchReply) []byte {
	w := newWriter(MsgLaunch, txid)
	w.uint32(reply.Status)
	w.uint64(reply.ProcessKoid)
	return w.finish()
}

func EncodeAttachRequest(txid uint32, req AttachRequest) []byte {
	w := newWriter(MsgAttach, txid)
	w.uint64(req.Koid)
	return w.finish()
}

func EncodeAttachReply(txid uint32, reply AttachReply) []byte {
	w := newWriter(MsgAttach, txid)
	w.uint32(reply.Status)
	return w.finish()
}

func EncodeProcessTreeRequest(txid uint32) []byte {
	return newWriter(MsgProcessTree, txid).finish()
}

func EncodeProcessTreeReply(txid uint32, reply ProcessTreeReply) []byte {
	w := newWriter(MsgProcessTree, txid)
	encodeTreeRecord(w, reply.Root)
	return w.finish()
}

func encodeTreeRecord(w *writer, rec ProcessTreeRecord) {
	w.uint32(uint32(rec.Kind))
	w.uint64(rec.Koid)
	w.str(rec.Name)
	w.uint32(uint32(len(rec.Children)))
	for _, child := range rec.Children {
		encodeTreeRecord(w, child)
	}
}

func EncodeThreadsRequest(txid uint32, req ThreadsRequest) []byte {
	w := newWriter(MsgThreads, txid)
	w.uint64(req.ProcessKoid)
	return w.finish()
}

func EncodeThreadsReply(txid uint32, reply ThreadsReply) []byte {
	w := newWriter(MsgThreads, txid)
	w.uint32(uint32(len(reply.Threads)))
	for _, thread := range reply.Threads {
		w.uint64(thread.Koid)
		w.str(thread.Name)
	}
	return w.finish()
}

func EncodeReadMemoryRequest(txid uint32, req ReadMemoryRequest) []byte {
	w := newWriter(MsgReadMemory, txid)
	w.uint64(req.Address)
	w.uint64(req.Size)
	return w.finish()
}

func EncodeReadMemoryReply(txid uint32, reply ReadMemoryReply) []byte {
	w := newWriter(MsgReadMemory, txid)
	w.uint32(uint32(len(reply.Blocks)))
	for _, block := range reply.Blocks {
		w.uint64(block.Address)
		valid := uint32(0)
		if block.Valid {
			valid = 1
		}
		w.uint32(valid)
		w.uint64(block.Size)
		if block.Valid && block.Size > 0 {
			w.bytes(block.Data)
		}
	}
	return w.finish()
}

// EncodeNotifyThread serializes a thread lifecycle notification; n.Kind
// selects the started/exited/suspended wire kind. Transaction id is always 0.
func EncodeNotifyThread(n NotifyThread) []byte {
	w := newWriter(n.Kind, 0)
	w.uint64(n.ProcessKoid)
	w.uint64(n.ThreadKoid)
	return w.finish()
}

func EncodeNotifyException(n NotifyException) []byte {
	w := newWriter(MsgNotifyException, 0)
	w.uint64(n.ProcessKoid)
	w.uint64(n.ThreadKoid)
	w.uint32(n.Exception)
	w.uint64(n.Address)
	return w.finish()
}
