package collab

import (
	"sync"

	"github.com/golang/glog"
)

// fan-out list for typed callbacks. `Add` returns a callback id that is
// used to remove the callback, so that registration can hand back an
// unsubscribe handle. the list is copied on read so that callbacks can
// add or remove callbacks without deadlock.
type CallbackList[T any] struct {
	mutex       sync.Mutex
	callbackIds []int
	callbacks   []T
	nextId      int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []int{},
		callbacks:   []T{},
		nextId:      0,
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.callbacks))
	copy(callbacks, self.callbacks)
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks = append(self.callbacks, callback)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, existingCallbackId := range self.callbackIds {
		if existingCallbackId == callbackId {
			self.callbackIds = append(self.callbackIds[:i], self.callbackIds[i+1:]...)
			self.callbacks = append(self.callbacks[:i], self.callbacks[i+1:]...)
			return
		}
	}
	// not present
}

// note all callbacks are wrapped to check for nil and recover from errors
// so that one misbehaving listener cannot take down the dispatch path
func handleCallbackError(tag string) {
	if r := recover(); r != nil {
		glog.Errorf("[%s]callback panic = %v\n", tag, r)
	}
}
