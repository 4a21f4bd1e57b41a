package collab

import (
	"sync"

	"github.com/golang/glog"
)

type SendFunction = func(message *WireMessage) bool

// enforces version ordering for canvas operations and guarantees that no
// locally-originated edit is lost across disconnects. the log keeps only
// the watermark version, not a full operation history.
type OperationLog struct {
	stateLock sync.Mutex

	send SendFunction

	currentVersion uint64
	// unsent locally-originated operations, in submission order
	queue []*Operation
}

func NewOperationLog(send SendFunction) *OperationLog {
	return &OperationLog{
		send:  send,
		queue: []*Operation{},
	}
}

func (self *OperationLog) CurrentVersion() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.currentVersion
}

func (self *OperationLog) PendingCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.queue)
}

// assigns the next version and publishes immediately. if the channel is
// down the operation is queued, never dropped. local edits made while
// offline are delayed, not discarded.
func (self *OperationLog) SendOperation(operation *Operation) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.currentVersion += 1
	operation.Version = self.currentVersion

	if 0 < len(self.queue) {
		// preserve submission order behind the queued operations
		self.queue = append(self.queue, operation)
		glog.V(2).Infof("[op]queue %s v%d\n", operation.OperationId, operation.Version)
		return
	}

	ok := self.send(&WireMessage{
		Event:     EventCanvasOperation,
		Operation: operation,
	})
	if !ok {
		self.queue = append(self.queue, operation)
		glog.V(2).Infof("[op]queue %s v%d\n", operation.OperationId, operation.Version)
		return
	}
	glog.V(2).Infof("[op]send %s v%d\n", operation.OperationId, operation.Version)
}

// batch variant. assigns a contiguous version range and either publishes
// the batch or queues the whole batch atomically.
func (self *OperationLog) SendOperations(operations []*Operation) {
	if len(operations) == 0 {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, operation := range operations {
		self.currentVersion += 1
		operation.Version = self.currentVersion
	}

	if 0 < len(self.queue) {
		self.queue = append(self.queue, operations...)
		glog.V(2).Infof("[op]queue batch n=%d\n", len(operations))
		return
	}

	ok := self.send(&WireMessage{
		Event:      EventCanvasOperations,
		Operations: operations,
	})
	if !ok {
		self.queue = append(self.queue, operations...)
		glog.V(2).Infof("[op]queue batch n=%d\n", len(operations))
		return
	}
	glog.V(2).Infof("[op]send batch n=%d\n", len(operations))
}

// flush the queue in submission order. queued operations are renumbered
// against the current watermark before resend, because a reconnect
// snapshot may have advanced the version past the numbers assigned while
// offline. renumbering copies, queued operations themselves are immutable.
func (self *OperationLog) Flush() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.queue) == 0 {
		return
	}

	flushOperations := make([]*Operation, len(self.queue))
	version := self.currentVersion
	for i, operation := range self.queue {
		version += 1
		flushOperation := *operation
		flushOperation.Version = version
		flushOperations[i] = &flushOperation
	}

	ok := self.send(&WireMessage{
		Event:      EventCanvasOperations,
		Operations: flushOperations,
	})
	if !ok {
		// still offline. keep the queue for the next flush.
		glog.V(2).Infof("[op]flush deferred n=%d\n", len(self.queue))
		return
	}

	glog.V(2).Infof("[op]flush n=%d v%d\n", len(flushOperations), version)
	self.currentVersion = version
	self.queue = []*Operation{}
}

// apply a remote operation. returns false for stale or duplicate versions,
// which are discarded.
func (self *OperationLog) ApplyRemote(operation *Operation) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if operation.Version <= self.currentVersion {
		glog.V(2).Infof("[op]stale %s v%d <= v%d\n", operation.OperationId, operation.Version, self.currentVersion)
		return false
	}
	self.currentVersion = operation.Version
	return true
}

// apply a server conflict resolution unconditionally. the server is the
// authority on conflicts, the client always converges on whatever the
// server says is final.
func (self *OperationLog) ApplyResolution(resolution *Operation) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.currentVersion < resolution.Version {
		self.currentVersion = resolution.Version
	}
}

// reset the watermark from a `session:joined` snapshot. the server is the
// sole source of truth for version on (re)connect. queued unsent
// operations survive, everything else is discarded.
func (self *OperationLog) ResetToVersion(version uint64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.currentVersion = version
}

func (self *OperationLog) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.currentVersion = 0
	self.queue = []*Operation{}
}
