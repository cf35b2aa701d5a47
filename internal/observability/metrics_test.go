package observability

import "testing"

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordMessage("send", "read_memory")
	RecordMessage("recv", "read_memory")
	RecordDecodeError("process_tree")
	RecordConnectAttempt()
	SetPendingRequests(3)
	SetConnected(true)
	SetConnected(false)
}
