package collab

import (
	"encoding/json"
)

// wire protocol events. the collaboration server speaks a json event
// envelope where unused fields are omitted per event type.

const (
	// server -> client
	EventSessionJoined  = "session:joined"
	EventUserJoined     = "user:joined"
	EventUserLeft       = "user:left"
	EventUserCursor     = "user:cursor"
	EventUserSelection  = "user:selection"
	EventCanvasConflict = "canvas:conflict"
	EventCommentAdded   = "comment:added"
	EventCommentUpdated = "comment:updated"
	EventCommentDeleted = "comment:deleted"
	EventError          = "error"

	// client -> server
	EventAuth                  = "auth"
	EventCanvasRequestSync     = "canvas:request-sync"
	EventCommentAdd            = "comment:add"
	EventCommentUpdate         = "comment:update"
	EventCommentDelete         = "comment:delete"
	EventCommentReply          = "comment:reply"
	EventCommentToggleResolved = "comment:toggle-resolved"
	EventHeartbeat             = "heartbeat"

	// both directions
	EventCanvasOperation  = "canvas:operation"
	EventCanvasOperations = "canvas:operations"
)

// the handshake frame. sent once as the first client frame after the
// websocket upgrade. the server validates and answers with a
// `session:joined` snapshot or an `error`.
type channelAuth struct {
	ByJwt     string `json:"by_jwt"`
	SessionId Id     `json:"session_id"`
	UserId    Id     `json:"user_id"`
}

type WireMessage struct {
	Event string `json:"event"`

	// auth
	Auth *channelAuth `json:"auth,omitempty"`

	// session:joined
	Session     *Session        `json:"session,omitempty"`
	Users       []*User         `json:"users,omitempty"`
	CanvasState json.RawMessage `json:"canvas_state,omitempty"`
	Version     uint64          `json:"version,omitempty"`

	// user:*
	User    *User   `json:"user,omitempty"`
	UserId  Id      `json:"user_id,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	LayerId string  `json:"layer_id,omitempty"`
	Tool    string  `json:"tool,omitempty"`

	// canvas:*
	Operation  *Operation   `json:"operation,omitempty"`
	Operations []*Operation `json:"operations,omitempty"`
	Resolution *Operation   `json:"resolution,omitempty"`

	// comment:*
	Comment         *Comment `json:"comment,omitempty"`
	CommentId       Id       `json:"comment_id,omitempty"`
	ParentCommentId Id       `json:"parent_comment_id,omitempty"`
	Text            string   `json:"text,omitempty"`
	Position        *Cursor  `json:"position,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func encodeMessage(message *WireMessage) ([]byte, error) {
	return json.Marshal(message)
}

func decodeMessage(messageBytes []byte) (*WireMessage, error) {
	message := &WireMessage{}
	if err := json.Unmarshal(messageBytes, message); err != nil {
		return nil, err
	}
	return message, nil
}
