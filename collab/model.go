package collab

import (
	"encoding/json"
	"time"
)

// one logical shared-editing context for a single design document.
// the descriptor is owned by the client and replaced wholesale on every
// `session:joined` snapshot.
type Session struct {
	SessionId    Id           `json:"session_id"`
	OwnerUserId  Id           `json:"owner_user_id"`
	Participants []Id         `json:"participants,omitempty"`
	Public       bool         `json:"public"`
	Permissions  *Permissions `json:"permissions,omitempty"`
	CreateTime   time.Time    `json:"create_time"`
	UpdateTime   time.Time    `json:"update_time"`
}

type Permissions struct {
	Edit    bool `json:"edit"`
	Comment bool `json:"comment"`
	Export  bool `json:"export"`
}

// a connected participant. owned exclusively by the presence roster,
// keyed by `UserId`, and mutated in place on cursor/selection events.
type User struct {
	UserId       Id         `json:"user_id"`
	Name         string     `json:"name,omitempty"`
	UserAuth     string     `json:"user_auth,omitempty"`
	AvatarUrl    string     `json:"avatar_url,omitempty"`
	Color        string     `json:"color,omitempty"`
	Cursor       *Cursor    `json:"cursor,omitempty"`
	Selection    *Selection `json:"selection,omitempty"`
	Active       bool       `json:"active"`
	LastSeenTime time.Time  `json:"last_seen_time"`
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Selection struct {
	LayerId string `json:"layer_id,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

type OperationKind string

const (
	OperationKindAdd       OperationKind = "add"
	OperationKindUpdate    OperationKind = "update"
	OperationKindDelete    OperationKind = "delete"
	OperationKindMove      OperationKind = "move"
	OperationKindTransform OperationKind = "transform"
)

// one atomic, ordered mutation to the shared canvas.
// immutable once created. the payload is opaque to the sync engine,
// the canvas interprets it. operations are discarded after apply,
// the client keeps only the watermark version.
type Operation struct {
	OperationId Id              `json:"operation_id"`
	Kind        OperationKind   `json:"kind"`
	LayerId     string          `json:"layer_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	UserId      Id              `json:"user_id"`
	CreateTime  time.Time       `json:"create_time"`
	Version     uint64          `json:"version"`
}

func NewOperation(kind OperationKind, layerId string, payload json.RawMessage) *Operation {
	return &Operation{
		OperationId: NewId(),
		Kind:        kind,
		LayerId:     layerId,
		Payload:     payload,
		CreateTime:  time.Now(),
	}
}

// a threaded annotation. replies are appended in order and removed only
// by explicit delete. comments are not subject to canvas versioning.
type Comment struct {
	CommentId  Id         `json:"comment_id"`
	UserId     Id         `json:"user_id"`
	UserName   string     `json:"user_name,omitempty"`
	AvatarUrl  string     `json:"avatar_url,omitempty"`
	Text       string     `json:"text"`
	Position   *Cursor    `json:"position,omitempty"`
	LayerId    string     `json:"layer_id,omitempty"`
	CreateTime time.Time  `json:"create_time"`
	Replies    []*Comment `json:"replies,omitempty"`
	Resolved   bool       `json:"resolved"`
}
