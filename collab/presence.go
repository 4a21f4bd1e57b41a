package collab

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// maintains the live collaborator roster and broadcasts local presence.
// presence is ephemeral and non-versioned. outbound presence is
// fire-and-forget: no acknowledgement, no retry, no queueing. stale
// presence is harmless, so sends are dropped silently while offline.
type PresenceTracker struct {
	stateLock sync.Mutex

	send SendFunction

	// user id -> the single owned user record
	users map[Id]*User
}

func NewPresenceTracker(send SendFunction) *PresenceTracker {
	return &PresenceTracker{
		send:  send,
		users: map[Id]*User{},
	}
}

func (self *PresenceTracker) SendCursorPosition(x float64, y float64) {
	self.send(&WireMessage{
		Event: EventUserCursor,
		X:     x,
		Y:     y,
	})
}

func (self *PresenceTracker) SendSelection(layerId string, tool string) {
	self.send(&WireMessage{
		Event:   EventUserSelection,
		LayerId: layerId,
		Tool:    tool,
	})
}

// replace the roster wholesale from a snapshot
func (self *PresenceTracker) Reset(users []*User) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.users = map[Id]*User{}
	for _, user := range users {
		if user == nil {
			continue
		}
		self.users[user.UserId] = user
	}
}

func (self *PresenceTracker) UserJoined(user *User) {
	if user == nil {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	user.Active = true
	user.LastSeenTime = time.Now()
	self.users[user.UserId] = user
}

func (self *PresenceTracker) UserLeft(userId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.users[userId]; !ok {
		return false
	}
	delete(self.users, userId)
	return true
}

// update the cursor of a roster user in place. an event for a user not in
// the roster (out-of-order delivery) is ignored rather than synthesizing a
// partial user record.
func (self *PresenceTracker) UserCursor(userId Id, x float64, y float64) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	user, ok := self.users[userId]
	if !ok {
		glog.V(2).Infof("[p]cursor for unknown user %s, drop\n", userId)
		return false
	}
	user.Cursor = &Cursor{X: x, Y: y}
	user.LastSeenTime = time.Now()
	return true
}

func (self *PresenceTracker) UserSelection(userId Id, layerId string, tool string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	user, ok := self.users[userId]
	if !ok {
		glog.V(2).Infof("[p]selection for unknown user %s, drop\n", userId)
		return false
	}
	user.Selection = &Selection{LayerId: layerId, Tool: tool}
	user.LastSeenTime = time.Now()
	return true
}

// snapshot of the roster. the returned records are copies.
func (self *PresenceTracker) Users() map[Id]*User {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	users := map[Id]*User{}
	for userId, user := range self.users {
		userCopy := *user
		users[userId] = &userCopy
	}
	return users
}

func (self *PresenceTracker) UserIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Keys(self.users)
}

func (self *PresenceTracker) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.users = map[Id]*User{}
}
