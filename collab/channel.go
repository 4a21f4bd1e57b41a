package collab

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

// Logging convention in the `collab` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of infrequent lifecycle data that
//     is useful for monitoring
//     this includes:
//     - handshake and transport errors
//     - reconnect attempts and terminal reconnect failure
// Error:
//     unrecoverable crash details, including handled panics
// Debug (V(2)):
//     frequent events - e.g. send, receive, heartbeat, queue, flush

const ChannelBufferSize = 32

// handshake did not complete in time. fatal to the connect attempt and not
// retried by the channel itself.
var ErrConnectionTimeout = errors.New("connection handshake timeout")

// the reconnect budget was exhausted. terminal until `Connect` is called
// again explicitly.
var ErrConnectionFailed = errors.New("connection failed")

type ChannelEvent string

const (
	ChannelEventConnected    ChannelEvent = "connected"
	ChannelEventReconnected  ChannelEvent = "reconnected"
	ChannelEventDisconnected ChannelEvent = "disconnected"
	ChannelEventFailed       ChannelEvent = "failed"
)

type ReceiveFunction = func(message *WireMessage)
type LifecycleFunction = func(event ChannelEvent, err error)

type WireChannelSettings struct {
	// the full handshake window: dial, auth frame, first server frame
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	ReconnectBackoff  time.Duration
	// reconnect attempts after an unexpected closure before the channel
	// surfaces `ErrConnectionFailed` and stops
	MaxReconnectAttempts uint64
}

func DefaultWireChannelSettings() *WireChannelSettings {
	return &WireChannelSettings{
		HandshakeTimeout:     10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          90 * time.Second,
		ReconnectBackoff:     1 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// a persistent, authenticated, bidirectional message channel to the
// collaboration server. owns reconnection and the heartbeat. does not
// interpret business-level messages, it hands decoded messages to the
// receive callbacks in arrival order.
type WireChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectUrl string
	settings   *WireChannelSettings

	stateLock sync.Mutex
	auth      *channelAuth
	ws        *websocket.Conn
	send      chan *WireMessage
	genCtx    context.Context
	genCancel context.CancelFunc
	connected bool
	closed    bool

	receiveCallbacks   *CallbackList[ReceiveFunction]
	lifecycleCallbacks *CallbackList[LifecycleFunction]
}

func NewWireChannelWithDefaults(ctx context.Context, connectUrl string) *WireChannel {
	return NewWireChannel(ctx, connectUrl, DefaultWireChannelSettings())
}

func NewWireChannel(ctx context.Context, connectUrl string, settings *WireChannelSettings) *WireChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WireChannel{
		ctx:                cancelCtx,
		cancel:             cancel,
		connectUrl:         connectUrl,
		settings:           settings,
		receiveCallbacks:   NewCallbackList[ReceiveFunction](),
		lifecycleCallbacks: NewCallbackList[LifecycleFunction](),
	}
}

func (self *WireChannel) AddReceiveCallback(receiveCallback ReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)
	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

func (self *WireChannel) AddLifecycleCallback(lifecycleCallback LifecycleFunction) func() {
	callbackId := self.lifecycleCallbacks.Add(lifecycleCallback)
	return func() {
		self.lifecycleCallbacks.Remove(callbackId)
	}
}

// idempotent. if already connected, tears down the prior transport first.
// returns once the handshake completes: dial, auth frame, first server
// frame. the first server frame is delivered to the receive callbacks like
// any other message.
func (self *WireChannel) Connect(ctx context.Context, byJwt string, sessionId Id, userId Id) error {
	self.Disconnect()

	auth := &channelAuth{
		ByJwt:     byJwt,
		SessionId: sessionId,
		UserId:    userId,
	}

	self.stateLock.Lock()
	self.auth = auth
	self.closed = false
	self.stateLock.Unlock()

	genCtx, err := self.connectOnce(ctx)
	if err != nil {
		return err
	}

	self.lifecycleEvent(ChannelEventConnected, nil)
	go self.watch(genCtx)
	return nil
}

// dial, write the auth frame, and wait for the first server frame, all
// within the handshake window. on success the read/write pumps are running.
func (self *WireChannel) connectOnce(ctx context.Context) (context.Context, error) {
	self.stateLock.Lock()
	auth := self.auth
	self.stateLock.Unlock()
	if auth == nil {
		return nil, fmt.Errorf("no session auth")
	}

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, self.settings.HandshakeTimeout)
	defer handshakeCancel()

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(handshakeCtx, self.connectUrl, nil)
	if err != nil {
		return nil, connectError(err)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	authBytes, err := encodeMessage(&WireMessage{
		Event: EventAuth,
		Auth:  auth,
	})
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		return nil, connectError(err)
	}

	genCtx, genCancel := context.WithCancel(self.ctx)
	send := make(chan *WireMessage, ChannelBufferSize)
	ready := make(chan struct{})
	registered := make(chan struct{})

	go self.writeLoop(genCtx, genCancel, ws, send)
	go self.readLoop(genCtx, genCancel, ws, ready, registered)

	select {
	case <-ready:
	case <-genCtx.Done():
		return nil, connectError(fmt.Errorf("connection closed during handshake"))
	case <-handshakeCtx.Done():
		genCancel()
		return nil, ErrConnectionTimeout
	}

	self.stateLock.Lock()
	if self.closed {
		// disconnected during the handshake
		self.stateLock.Unlock()
		genCancel()
		return nil, fmt.Errorf("channel closed")
	}
	self.ws = ws
	self.send = send
	self.genCtx = genCtx
	self.genCancel = genCancel
	self.connected = true
	self.stateLock.Unlock()

	// release the first frame to the receive callbacks only after the
	// connection state is published, so that a callback reacting to the
	// frame can immediately send
	close(registered)

	success = true
	return genCtx, nil
}

func connectError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}
	return err
}

// watch one connection generation. on unexpected closure, retry with
// bounded backoff. exceeding the budget surfaces a terminal
// `ErrConnectionFailed` and stops until `Connect` is called again.
func (self *WireChannel) watch(genCtx context.Context) {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-genCtx.Done():
		}

		self.stateLock.Lock()
		closed := self.closed
		superseded := self.genCtx != genCtx
		if !superseded {
			self.connected = false
		}
		self.stateLock.Unlock()
		if closed || superseded {
			// a newer connect owns the channel now
			return
		}

		self.lifecycleEvent(ChannelEventDisconnected, nil)

		backoff := retry.WithMaxRetries(
			self.settings.MaxReconnectAttempts,
			retry.NewFibonacci(self.settings.ReconnectBackoff),
		)
		var nextGenCtx context.Context
		err := retry.Do(self.ctx, backoff, func(ctx context.Context) error {
			self.stateLock.Lock()
			closed := self.closed
			self.stateLock.Unlock()
			if closed {
				return fmt.Errorf("channel closed")
			}

			var connectErr error
			nextGenCtx, connectErr = self.connectOnce(ctx)
			if connectErr != nil {
				glog.Infof("[ch]reconnect error = %s\n", connectErr)
				return retry.RetryableError(connectErr)
			}
			return nil
		})
		if err != nil {
			self.stateLock.Lock()
			closed := self.closed
			self.stateLock.Unlock()
			if !closed {
				glog.Infof("[ch]reconnect budget exhausted = %s\n", err)
				self.lifecycleEvent(ChannelEventFailed, ErrConnectionFailed)
			}
			return
		}

		// a reconnection never resumes a partial version history.
		// always ask for a fresh snapshot.
		self.SendMessage(&WireMessage{
			Event: EventCanvasRequestSync,
		})
		self.lifecycleEvent(ChannelEventReconnected, nil)
		genCtx = nextGenCtx
	}
}

func (self *WireChannel) writeLoop(genCtx context.Context, genCancel context.CancelFunc, ws *websocket.Conn, send chan *WireMessage) {
	defer genCancel()

	for {
		select {
		case <-genCtx.Done():
			return
		case message, ok := <-send:
			if !ok {
				return
			}

			messageBytes, err := encodeMessage(message)
			if err != nil {
				glog.Infof("[ch]encode error = %s\n", err)
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				glog.Infof("[ch]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[ch]->%s\n", message.Event)
		case <-time.After(self.settings.HeartbeatInterval):
			heartbeatBytes, _ := encodeMessage(&WireMessage{
				Event: EventHeartbeat,
			})
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, heartbeatBytes); err != nil {
				return
			}
			glog.V(2).Infof("[ch]->heartbeat\n")
		}
	}
}

func (self *WireChannel) readLoop(genCtx context.Context, genCancel context.CancelFunc, ws *websocket.Conn, ready chan struct{}, registered chan struct{}) {
	defer genCancel()

	first := true
	for {
		select {
		case <-genCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, messageBytes, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[ch]<- error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			message, err := decodeMessage(messageBytes)
			if err != nil {
				glog.Infof("[ch]<- decode error = %s\n", err)
				continue
			}
			if first {
				first = false
				close(ready)
				select {
				case <-registered:
				case <-genCtx.Done():
					return
				}
			}
			glog.V(2).Infof("[ch]<-%s\n", message.Event)
			self.dispatch(message)
		default:
			glog.V(2).Infof("[ch]<- other=%d\n", messageType)
		}
	}
}

func (self *WireChannel) dispatch(message *WireMessage) {
	for _, receiveCallback := range self.receiveCallbacks.Get() {
		func() {
			defer handleCallbackError("ch")
			receiveCallback(message)
		}()
	}
}

func (self *WireChannel) lifecycleEvent(event ChannelEvent, err error) {
	for _, lifecycleCallback := range self.lifecycleCallbacks.Get() {
		func() {
			defer handleCallbackError("ch")
			lifecycleCallback(event, err)
		}()
	}
}

// non-blocking publish. returns false if the channel is not connected or
// the send buffer is full.
func (self *WireChannel) SendMessage(message *WireMessage) bool {
	self.stateLock.Lock()
	connected := self.connected
	send := self.send
	self.stateLock.Unlock()

	if !connected || send == nil {
		return false
	}

	select {
	case send <- message:
		return true
	default:
		// buffer full, drop
		glog.Infof("[ch]send buffer full, drop %s\n", message.Event)
		return false
	}
}

func (self *WireChannel) IsConnected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connected
}

// stops the heartbeat, closes the transport, and clears channel state.
// safe to call when not connected.
func (self *WireChannel) Disconnect() {
	self.stateLock.Lock()
	self.closed = true
	self.connected = false
	ws := self.ws
	genCancel := self.genCancel
	self.ws = nil
	self.send = nil
	self.genCtx = nil
	self.genCancel = nil
	self.stateLock.Unlock()

	if genCancel != nil {
		genCancel()
	}
	if ws != nil {
		ws.Close()
	}
}

func (self *WireChannel) Close() {
	self.Disconnect()
	self.cancel()
}
