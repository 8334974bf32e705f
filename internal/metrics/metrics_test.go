package metrics

import (
	"errors"
	"testing"
)

func TestRecordWriteAndRead(t *testing.T) {
	var m SessionMetrics
	m.RecordWrite(10, nil)
	m.RecordWrite(5, errors.New("boom"))
	m.RecordRead(20, nil)

	snap := m.Snapshot()
	if snap.BytesWritten != 15 {
		t.Errorf("BytesWritten = %d, want 15", snap.BytesWritten)
	}
	if snap.BytesRead != 20 {
		t.Errorf("BytesRead = %d, want 20", snap.BytesRead)
	}
	if snap.WritesSent != 2 {
		t.Errorf("WritesSent = %d, want 2", snap.WritesSent)
	}
	if snap.ReadsSent != 1 {
		t.Errorf("ReadsSent = %d, want 1", snap.ReadsSent)
	}
	if snap.OperationsFailed != 1 {
		t.Errorf("OperationsFailed = %d, want 1", snap.OperationsFailed)
	}
	if snap.LastOperationAt.IsZero() {
		t.Error("LastOperationAt should be set after recording an operation")
	}
}

func TestSnapshotBeforeAnyOperation(t *testing.T) {
	var m SessionMetrics
	snap := m.Snapshot()
	if snap.BytesWritten != 0 || snap.WritesSent != 0 || snap.OperationsFailed != 0 {
		t.Fatalf("expected zero-value snapshot, got %+v", snap)
	}
	if !snap.LastOperationAt.IsZero() {
		t.Fatalf("LastOperationAt should be zero before any operation, got %v", snap.LastOperationAt)
	}
}
