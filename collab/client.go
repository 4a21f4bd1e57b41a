package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/golang/glog"
)

type SessionState string

const (
	SessionStateIdle             SessionState = "idle"
	SessionStateConnecting       SessionState = "connecting"
	SessionStateAwaitingSnapshot SessionState = "awaiting_snapshot"
	SessionStateActive           SessionState = "active"
	SessionStateReconnecting     SessionState = "reconnecting"
)

// the full roster + canvas state + version sent on every (re)connection
type Snapshot struct {
	Session     *Session
	Users       []*User
	CanvasState json.RawMessage
	Version     uint64
}

type PresenceEventType string

const (
	PresenceEventJoined    PresenceEventType = "joined"
	PresenceEventLeft      PresenceEventType = "left"
	PresenceEventCursor    PresenceEventType = "cursor"
	PresenceEventSelection PresenceEventType = "selection"
)

type PresenceEvent struct {
	Type   PresenceEventType
	UserId Id
	User   *User
}

type CommentEventType string

const (
	CommentEventAdded   CommentEventType = "added"
	CommentEventUpdated CommentEventType = "updated"
	CommentEventDeleted CommentEventType = "deleted"
)

type CommentEvent struct {
	Type      CommentEventType
	Comment   *Comment
	CommentId Id
}

type StateFunction = func(state SessionState)
type SnapshotFunction = func(snapshot *Snapshot)
type OperationFunction = func(operation *Operation)
type PresenceFunction = func(event *PresenceEvent)
type CommentFunction = func(event *CommentEvent)
type ErrorFunction = func(err error)

type ClientSettings struct {
	ChannelSettings *WireChannelSettings
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ChannelSettings: DefaultWireChannelSettings(),
	}
}

// one client per co-edited design document. the client owns the session
// lifecycle state machine:
//
//	Idle -> Connecting -> AwaitingSnapshot -> Active <-> Reconnecting -> Idle
//
// and wires the wire channel to the operation log, presence tracker and
// comment threads. clients are explicitly constructed and independent,
// there is no shared process-level instance. joining a new session while
// one is active tears down the old one first.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *ClientSettings

	channel  *WireChannel
	api      *CollabApi
	opLog    *OperationLog
	presence *PresenceTracker
	comments *CommentThreads

	stateLock sync.Mutex
	state     SessionState
	session   *Session
	userId    Id

	stateCallbacks     *CallbackList[StateFunction]
	snapshotCallbacks  *CallbackList[SnapshotFunction]
	operationCallbacks *CallbackList[OperationFunction]
	presenceCallbacks  *CallbackList[PresenceFunction]
	commentCallbacks   *CallbackList[CommentFunction]
	errorCallbacks     *CallbackList[ErrorFunction]
}

func NewClientWithDefaults(ctx context.Context, connectUrl string, apiUrl string) *Client {
	return NewClient(ctx, connectUrl, apiUrl, DefaultClientSettings())
}

func NewClient(ctx context.Context, connectUrl string, apiUrl string, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	client := &Client{
		ctx:                cancelCtx,
		cancel:             cancel,
		settings:           settings,
		channel:            NewWireChannel(cancelCtx, connectUrl, settings.ChannelSettings),
		api:                NewCollabApiWithContext(cancelCtx, apiUrl),
		state:              SessionStateIdle,
		stateCallbacks:     NewCallbackList[StateFunction](),
		snapshotCallbacks:  NewCallbackList[SnapshotFunction](),
		operationCallbacks: NewCallbackList[OperationFunction](),
		presenceCallbacks:  NewCallbackList[PresenceFunction](),
		commentCallbacks:   NewCallbackList[CommentFunction](),
		errorCallbacks:     NewCallbackList[ErrorFunction](),
	}
	client.opLog = NewOperationLog(client.channel.SendMessage)
	client.presence = NewPresenceTracker(client.channel.SendMessage)
	client.comments = NewCommentThreads(client.channel.SendMessage)

	client.channel.AddReceiveCallback(client.receive)
	client.channel.AddLifecycleCallback(client.channelLifecycle)

	return client
}

// callback registration. each returns an unsubscribe handle.

func (self *Client) AddStateCallback(stateCallback StateFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

func (self *Client) AddSnapshotCallback(snapshotCallback SnapshotFunction) func() {
	callbackId := self.snapshotCallbacks.Add(snapshotCallback)
	return func() {
		self.snapshotCallbacks.Remove(callbackId)
	}
}

func (self *Client) AddOperationCallback(operationCallback OperationFunction) func() {
	callbackId := self.operationCallbacks.Add(operationCallback)
	return func() {
		self.operationCallbacks.Remove(callbackId)
	}
}

func (self *Client) AddPresenceCallback(presenceCallback PresenceFunction) func() {
	callbackId := self.presenceCallbacks.Add(presenceCallback)
	return func() {
		self.presenceCallbacks.Remove(callbackId)
	}
}

func (self *Client) AddCommentCallback(commentCallback CommentFunction) func() {
	callbackId := self.commentCallbacks.Add(commentCallback)
	return func() {
		self.commentCallbacks.Remove(callbackId)
	}
}

func (self *Client) AddErrorCallback(errorCallback ErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

// join one collaboration session. the credential is injected here, the
// client never reads ambient storage for it. blocks until the channel
// handshake completes or times out.
func (self *Client) JoinSession(ctx context.Context, sessionId Id, byJwt string) error {
	if self.State() != SessionStateIdle {
		self.LeaveSession()
	}

	userId := Id{}
	if byJwt != "" {
		if claims, err := ParseByJwtUnverified(byJwt); err == nil {
			userId = claims.UserId
		}
	}

	self.stateLock.Lock()
	self.userId = userId
	self.stateLock.Unlock()

	self.setState(SessionStateConnecting)
	self.api.SetByJwt(byJwt)

	if err := self.channel.Connect(ctx, byJwt, sessionId, userId); err != nil {
		self.setState(SessionStateIdle)
		return err
	}

	// the first server frame is normally the `session:joined` snapshot,
	// in which case the state is already active here
	self.setStateIf(SessionStateConnecting, SessionStateAwaitingSnapshot)
	return nil
}

// the only cancellation primitive. unconditionally discards the operation
// queue, roster, comment threads and version watermark.
func (self *Client) LeaveSession() {
	self.channel.Disconnect()

	self.stateLock.Lock()
	self.session = nil
	self.stateLock.Unlock()

	self.opLog.Clear()
	self.presence.Clear()
	self.comments.Clear()

	self.setState(SessionStateIdle)
}

// canvas operations

func (self *Client) SendOperation(operation *Operation) {
	self.stateLock.Lock()
	operation.UserId = self.userId
	self.stateLock.Unlock()
	self.opLog.SendOperation(operation)
}

func (self *Client) SendOperations(operations []*Operation) {
	self.stateLock.Lock()
	for _, operation := range operations {
		operation.UserId = self.userId
	}
	self.stateLock.Unlock()
	self.opLog.SendOperations(operations)
}

// presence

func (self *Client) SendCursorPosition(x float64, y float64) {
	self.presence.SendCursorPosition(x, y)
}

func (self *Client) SendSelection(layerId string, tool string) {
	self.presence.SendSelection(layerId, tool)
}

// comments

func (self *Client) AddComment(text string, position *Cursor, layerId string) {
	self.comments.AddComment(text, position, layerId)
}

func (self *Client) UpdateComment(commentId Id, text string) {
	self.comments.UpdateComment(commentId, text)
}

func (self *Client) DeleteComment(commentId Id) {
	self.comments.DeleteComment(commentId)
}

func (self *Client) ReplyToComment(parentCommentId Id, text string) {
	self.comments.ReplyToComment(parentCommentId, text)
}

func (self *Client) ToggleCommentResolved(commentId Id) {
	self.comments.ToggleCommentResolved(commentId)
}

// collaborator rest facade. these are plain request/response calls against
// the collaborator endpoints, exposed here for caller convenience.

func (self *Client) CreateSession(createSession *CreateSessionArgs, callback CreateSessionCallback) {
	self.api.CreateSession(createSession, callback)
}

func (self *Client) InviteUser(inviteUser *InviteUserArgs, callback InviteUserCallback) {
	self.api.InviteUser(inviteUser, callback)
}

func (self *Client) RemoveUser(removeUser *RemoveUserArgs, callback RemoveUserCallback) {
	self.api.RemoveUser(removeUser, callback)
}

func (self *Client) Api() *CollabApi {
	return self.api
}

// accessors

func (self *Client) State() SessionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Client) Session() *Session {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.session == nil {
		return nil
	}
	sessionCopy := *self.session
	return &sessionCopy
}

func (self *Client) UserId() Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.userId
}

func (self *Client) CurrentVersion() uint64 {
	return self.opLog.CurrentVersion()
}

func (self *Client) PendingOperationCount() int {
	return self.opLog.PendingCount()
}

func (self *Client) Users() map[Id]*User {
	return self.presence.Users()
}

func (self *Client) Comments() []*Comment {
	return self.comments.Comments()
}

func (self *Client) IsConnected() bool {
	return self.channel.IsConnected()
}

func (self *Client) Close() {
	self.LeaveSession()
	self.channel.Close()
	self.api.Close()
	self.cancel()
}

// channel wiring

func (self *Client) channelLifecycle(event ChannelEvent, err error) {
	switch event {
	case ChannelEventDisconnected:
		self.setStateIf(SessionStateActive, SessionStateReconnecting)
		self.setStateIf(SessionStateAwaitingSnapshot, SessionStateReconnecting)
	case ChannelEventReconnected:
		// the fresh snapshot moves the state to active. if the snapshot
		// did not arrive within the handshake, wait for it.
		self.setStateIf(SessionStateReconnecting, SessionStateAwaitingSnapshot)
	case ChannelEventFailed:
		// retry budget exhausted. surface the terminal error rather than
		// silently hanging.
		self.setState(SessionStateIdle)
		self.emitError(ErrConnectionFailed)
	}
}

func (self *Client) receive(message *WireMessage) {
	switch message.Event {
	case EventSessionJoined:
		self.sessionJoined(message)
	case EventUserJoined:
		self.presence.UserJoined(message.User)
		if message.User != nil {
			self.emitPresence(&PresenceEvent{
				Type:   PresenceEventJoined,
				UserId: message.User.UserId,
				User:   message.User,
			})
		}
	case EventUserLeft:
		if self.presence.UserLeft(message.UserId) {
			self.emitPresence(&PresenceEvent{
				Type:   PresenceEventLeft,
				UserId: message.UserId,
			})
		}
	case EventUserCursor:
		if self.presence.UserCursor(message.UserId, message.X, message.Y) {
			self.emitPresence(&PresenceEvent{
				Type:   PresenceEventCursor,
				UserId: message.UserId,
			})
		}
	case EventUserSelection:
		if self.presence.UserSelection(message.UserId, message.LayerId, message.Tool) {
			self.emitPresence(&PresenceEvent{
				Type:   PresenceEventSelection,
				UserId: message.UserId,
			})
		}
	case EventCanvasOperation:
		if message.Operation == nil {
			return
		}
		if !self.snapshotReceived() {
			// no canvas sync before the first snapshot
			return
		}
		if self.opLog.ApplyRemote(message.Operation) {
			self.emitOperation(message.Operation)
		}
	case EventCanvasOperations:
		if !self.snapshotReceived() {
			return
		}
		for _, operation := range message.Operations {
			if self.opLog.ApplyRemote(operation) {
				self.emitOperation(operation)
			}
		}
	case EventCanvasConflict:
		// the server resolution supersedes whatever local state existed
		// for the target. applied unconditionally.
		resolution := message.Resolution
		if resolution == nil {
			resolution = message.Operation
		}
		if resolution == nil {
			return
		}
		self.opLog.ApplyResolution(resolution)
		self.emitOperation(resolution)
	case EventCommentAdded:
		if self.comments.CommentAdded(message.Comment, message.ParentCommentId) {
			self.emitComment(&CommentEvent{
				Type:    CommentEventAdded,
				Comment: message.Comment,
			})
		}
	case EventCommentUpdated:
		if self.comments.CommentUpdated(message.Comment) {
			self.emitComment(&CommentEvent{
				Type:    CommentEventUpdated,
				Comment: message.Comment,
			})
		}
	case EventCommentDeleted:
		if self.comments.CommentDeleted(message.CommentId) {
			self.emitComment(&CommentEvent{
				Type:      CommentEventDeleted,
				CommentId: message.CommentId,
			})
		}
	case EventError:
		// server-reported errors are non-fatal notifications
		self.emitError(errors.New(message.Message))
	default:
		glog.V(2).Infof("[s]ignore event %s\n", message.Event)
	}
}

// a `session:joined` snapshot fully replaces the session descriptor,
// roster and version watermark, regardless of prior state. only queued
// unsent operations survive, and they flush once active.
func (self *Client) sessionJoined(message *WireMessage) {
	self.stateLock.Lock()
	self.session = message.Session
	self.stateLock.Unlock()

	self.presence.Reset(message.Users)
	self.opLog.ResetToVersion(message.Version)

	snapshot := &Snapshot{
		Session:     message.Session,
		Users:       message.Users,
		CanvasState: message.CanvasState,
		Version:     message.Version,
	}
	for _, snapshotCallback := range self.snapshotCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			snapshotCallback(snapshot)
		}()
	}

	self.setState(SessionStateActive)
	self.opLog.Flush()
}

func (self *Client) snapshotReceived() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == SessionStateActive
}

// transition only if the current state matches. the snapshot can arrive
// on the read goroutine while a connect caller is still deciding the
// next state, and snapshot-driven transitions must win.
func (self *Client) setStateIf(from SessionState, to SessionState) {
	self.stateLock.Lock()
	if self.state != from {
		self.stateLock.Unlock()
		return
	}
	self.state = to
	self.stateLock.Unlock()

	glog.V(2).Infof("[s]state %s\n", to)
	for _, stateCallback := range self.stateCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			stateCallback(to)
		}()
	}
}

func (self *Client) setState(state SessionState) {
	self.stateLock.Lock()
	if self.state == state {
		self.stateLock.Unlock()
		return
	}
	self.state = state
	self.stateLock.Unlock()

	glog.V(2).Infof("[s]state %s\n", state)
	for _, stateCallback := range self.stateCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			stateCallback(state)
		}()
	}
}

func (self *Client) emitOperation(operation *Operation) {
	for _, operationCallback := range self.operationCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			operationCallback(operation)
		}()
	}
}

func (self *Client) emitPresence(event *PresenceEvent) {
	for _, presenceCallback := range self.presenceCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			presenceCallback(event)
		}()
	}
}

func (self *Client) emitComment(event *CommentEvent) {
	for _, commentCallback := range self.commentCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			commentCallback(event)
		}()
	}
}

func (self *Client) emitError(err error) {
	for _, errorCallback := range self.errorCallbacks.Get() {
		func() {
			defer handleCallbackError("s")
			errorCallback(err)
		}()
	}
}
