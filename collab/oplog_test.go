package collab

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

// a send function with a switchable channel state, recording published
// messages
type testSend struct {
	connected bool
	messages  []*WireMessage
}

func (self *testSend) send(message *WireMessage) bool {
	if !self.connected {
		return false
	}
	self.messages = append(self.messages, message)
	return true
}

func testOp(kind OperationKind) *Operation {
	return NewOperation(kind, "layer-1", json.RawMessage(`{"dx":1}`))
}

func TestOperationLogVersionMonotonicity(t *testing.T) {
	send := &testSend{connected: true}
	opLog := NewOperationLog(send.send)

	a := testOp(OperationKindAdd)
	a.Version = 1
	assert.Equal(t, opLog.ApplyRemote(a), true)
	assert.Equal(t, opLog.CurrentVersion(), uint64(1))

	// duplicate version is a no-op
	assert.Equal(t, opLog.ApplyRemote(a), false)
	assert.Equal(t, opLog.CurrentVersion(), uint64(1))

	// versions can skip forward
	b := testOp(OperationKindUpdate)
	b.Version = 5
	assert.Equal(t, opLog.ApplyRemote(b), true)
	assert.Equal(t, opLog.CurrentVersion(), uint64(5))

	// stale version is a no-op
	c := testOp(OperationKindMove)
	c.Version = 3
	assert.Equal(t, opLog.ApplyRemote(c), false)
	assert.Equal(t, opLog.CurrentVersion(), uint64(5))
}

func TestOperationLogSendConnected(t *testing.T) {
	send := &testSend{connected: true}
	opLog := NewOperationLog(send.send)

	a := testOp(OperationKindAdd)
	opLog.SendOperation(a)
	assert.Equal(t, a.Version, uint64(1))
	assert.Equal(t, opLog.PendingCount(), 0)
	assert.Equal(t, len(send.messages), 1)
	assert.Equal(t, send.messages[0].Event, EventCanvasOperation)
	assert.Equal(t, send.messages[0].Operation.OperationId, a.OperationId)

	// batch gets a contiguous version range
	batch := []*Operation{
		testOp(OperationKindUpdate),
		testOp(OperationKindMove),
	}
	opLog.SendOperations(batch)
	assert.Equal(t, batch[0].Version, uint64(2))
	assert.Equal(t, batch[1].Version, uint64(3))
	assert.Equal(t, opLog.PendingCount(), 0)
	assert.Equal(t, len(send.messages), 2)
	assert.Equal(t, send.messages[1].Event, EventCanvasOperations)
}

func TestOperationLogQueueAndFlush(t *testing.T) {
	send := &testSend{connected: false}
	opLog := NewOperationLog(send.send)

	n := 8
	operationIds := []Id{}
	for i := 0; i < n; i += 1 {
		operation := testOp(OperationKindAdd)
		operationIds = append(operationIds, operation.OperationId)
		opLog.SendOperation(operation)
	}
	assert.Equal(t, opLog.PendingCount(), n)
	assert.Equal(t, len(send.messages), 0)

	// flush while still offline keeps the queue
	opLog.Flush()
	assert.Equal(t, opLog.PendingCount(), n)
	assert.Equal(t, len(send.messages), 0)

	send.connected = true
	opLog.Flush()
	assert.Equal(t, opLog.PendingCount(), 0)
	assert.Equal(t, len(send.messages), 1)

	// all n retransmitted exactly once, in submission order
	flushed := send.messages[0]
	assert.Equal(t, flushed.Event, EventCanvasOperations)
	assert.Equal(t, len(flushed.Operations), n)
	for i, operation := range flushed.Operations {
		assert.Equal(t, operation.OperationId, operationIds[i])
	}

	// a second flush sends nothing
	opLog.Flush()
	assert.Equal(t, len(send.messages), 1)
}

func TestOperationLogQueueOrder(t *testing.T) {
	send := &testSend{connected: true}
	opLog := NewOperationLog(send.send)

	a := testOp(OperationKindAdd)
	opLog.SendOperation(a)
	assert.Equal(t, len(send.messages), 1)

	// go offline. queued operations hold back later sends so that
	// submission order is preserved end to end.
	send.connected = false
	b := testOp(OperationKindUpdate)
	opLog.SendOperation(b)

	send.connected = true
	c := testOp(OperationKindMove)
	opLog.SendOperation(c)
	assert.Equal(t, len(send.messages), 1)
	assert.Equal(t, opLog.PendingCount(), 2)

	opLog.Flush()
	assert.Equal(t, opLog.PendingCount(), 0)
	flushed := send.messages[len(send.messages)-1]
	assert.Equal(t, len(flushed.Operations), 2)
	assert.Equal(t, flushed.Operations[0].OperationId, b.OperationId)
	assert.Equal(t, flushed.Operations[1].OperationId, c.OperationId)
}

// the offline -> reconnect -> conflict scenario. a queued operation is
// renumbered against the snapshot watermark on flush, and the server
// resolution supersedes it.
func TestOperationLogOfflineConflictScenario(t *testing.T) {
	send := &testSend{connected: false}
	opLog := NewOperationLog(send.send)

	op1 := testOp(OperationKindAdd)
	opLog.SendOperation(op1)
	assert.Equal(t, op1.Version, uint64(1))
	assert.Equal(t, opLog.PendingCount(), 1)

	// reconnect. the snapshot advanced the version to 5.
	send.connected = true
	opLog.ResetToVersion(5)
	assert.Equal(t, opLog.CurrentVersion(), uint64(5))
	assert.Equal(t, opLog.PendingCount(), 1)

	opLog.Flush()
	assert.Equal(t, opLog.PendingCount(), 0)
	assert.Equal(t, len(send.messages), 1)
	flushed := send.messages[0].Operations
	assert.Equal(t, len(flushed), 1)
	assert.Equal(t, flushed[0].OperationId, op1.OperationId)
	assert.Equal(t, flushed[0].Version, uint64(6))
	assert.Equal(t, opLog.CurrentVersion(), uint64(6))

	// the server resolves the conflict with a replacement operation
	resolution := testOp(OperationKindUpdate)
	resolution.Version = 6
	opLog.ApplyResolution(resolution)
	assert.Equal(t, opLog.CurrentVersion(), uint64(6))
}

func TestOperationLogResetKeepsQueue(t *testing.T) {
	send := &testSend{connected: false}
	opLog := NewOperationLog(send.send)

	opLog.SendOperation(testOp(OperationKindAdd))
	opLog.SendOperation(testOp(OperationKindUpdate))
	assert.Equal(t, opLog.PendingCount(), 2)

	opLog.ResetToVersion(10)
	assert.Equal(t, opLog.CurrentVersion(), uint64(10))
	assert.Equal(t, opLog.PendingCount(), 2)

	opLog.Clear()
	assert.Equal(t, opLog.CurrentVersion(), uint64(0))
	assert.Equal(t, opLog.PendingCount(), 0)
}
