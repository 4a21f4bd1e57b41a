package collab

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// a scripted collaboration server for tests. on auth it replies with the
// configured `session:joined` snapshot and then records every client
// message. server events are injected with `Send`. connections can be
// dropped to exercise the reconnect path, or refused to exhaust it.
type testCollabServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	stateLock    sync.Mutex
	conns        []*websocket.Conn
	refuse       bool
	silent       bool
	connectCount int
	snapshot     func() *WireMessage

	receive chan *WireMessage
}

func newTestCollabServer(snapshot func() *WireMessage) *testCollabServer {
	s := &testCollabServer{
		snapshot: snapshot,
		receive:  make(chan *WireMessage, 1024),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (self *testCollabServer) Url() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http")
}

func (self *testCollabServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	self.stateLock.Lock()
	self.connectCount += 1
	refuse := self.refuse
	if !refuse {
		self.conns = append(self.conns, ws)
	}
	self.stateLock.Unlock()

	if refuse {
		ws.Close()
		return
	}

	for {
		message := &WireMessage{}
		if err := ws.ReadJSON(message); err != nil {
			return
		}

		if message.Event == EventAuth {
			self.stateLock.Lock()
			silent := self.silent
			self.stateLock.Unlock()
			if !silent {
				ws.WriteJSON(self.snapshot())
			}
			continue
		}
		if message.Event == EventHeartbeat {
			continue
		}

		select {
		case self.receive <- message:
		default:
		}
	}
}

// inject a server event on the most recent connection
func (self *testCollabServer) Send(message *WireMessage) error {
	self.stateLock.Lock()
	var ws *websocket.Conn
	if 0 < len(self.conns) {
		ws = self.conns[len(self.conns)-1]
	}
	self.stateLock.Unlock()

	if ws == nil {
		return websocket.ErrCloseSent
	}
	return ws.WriteJSON(message)
}

// simulate an unexpected transport failure
func (self *testCollabServer) DropConnections() {
	self.stateLock.Lock()
	conns := self.conns
	self.conns = nil
	self.stateLock.Unlock()

	for _, ws := range conns {
		ws.Close()
	}
}

func (self *testCollabServer) SetRefuse(refuse bool) {
	self.stateLock.Lock()
	self.refuse = refuse
	self.stateLock.Unlock()
}

// accept auth but never answer, to stall the handshake
func (self *testCollabServer) SetSilent(silent bool) {
	self.stateLock.Lock()
	self.silent = silent
	self.stateLock.Unlock()
}

func (self *testCollabServer) ConnectCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectCount
}

func (self *testCollabServer) WaitForReceive(event string, timeout time.Duration) *WireMessage {
	deadline := time.After(timeout)
	for {
		select {
		case message := <-self.receive:
			if message.Event == event {
				return message
			}
		case <-deadline:
			return nil
		}
	}
}

func (self *testCollabServer) Close() {
	self.DropConnections()
	self.server.Close()
}

// a minimal snapshot for tests that do not care about the contents
func testSnapshot(version uint64, users ...*User) func() *WireMessage {
	sessionId := NewId()
	ownerUserId := NewId()
	return func() *WireMessage {
		return &WireMessage{
			Event: EventSessionJoined,
			Session: &Session{
				SessionId:   sessionId,
				OwnerUserId: ownerUserId,
				Public:      false,
				Permissions: &Permissions{
					Edit:    true,
					Comment: true,
					Export:  true,
				},
				CreateTime: time.Now(),
				UpdateTime: time.Now(),
			},
			Users:   users,
			Version: version,
		}
	}
}

func waitFor(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}
