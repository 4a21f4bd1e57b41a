package collab

import (
	"sync"
)

// synchronizes the threaded comment stream. comments are independent of
// canvas versioning. the server is the broadcaster of record: the local
// view updates only on the `comment:*` echo, never optimistically. this
// avoids comment-ordering conflicts at the cost of input latency.
type CommentThreads struct {
	stateLock sync.Mutex

	send SendFunction

	// top-level comments in arrival order. replies live inside.
	comments []*Comment
}

func NewCommentThreads(send SendFunction) *CommentThreads {
	return &CommentThreads{
		send:     send,
		comments: []*Comment{},
	}
}

// outbound calls. each is a direct fire to the server.

func (self *CommentThreads) AddComment(text string, position *Cursor, layerId string) bool {
	return self.send(&WireMessage{
		Event:    EventCommentAdd,
		Text:     text,
		Position: position,
		LayerId:  layerId,
	})
}

func (self *CommentThreads) UpdateComment(commentId Id, text string) bool {
	return self.send(&WireMessage{
		Event:     EventCommentUpdate,
		CommentId: commentId,
		Text:      text,
	})
}

func (self *CommentThreads) DeleteComment(commentId Id) bool {
	return self.send(&WireMessage{
		Event:     EventCommentDelete,
		CommentId: commentId,
	})
}

func (self *CommentThreads) ReplyToComment(parentCommentId Id, text string) bool {
	return self.send(&WireMessage{
		Event:           EventCommentReply,
		ParentCommentId: parentCommentId,
		Text:            text,
	})
}

func (self *CommentThreads) ToggleCommentResolved(commentId Id) bool {
	return self.send(&WireMessage{
		Event:     EventCommentToggleResolved,
		CommentId: commentId,
	})
}

// inbound echo/broadcast handlers.

func (self *CommentThreads) CommentAdded(comment *Comment, parentCommentId Id) bool {
	if comment == nil {
		return false
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if parentCommentId.IsZero() {
		self.comments = append(self.comments, comment)
		return true
	}

	parent := findComment(self.comments, parentCommentId)
	if parent == nil {
		// parent deleted or never seen, drop the reply
		return false
	}
	parent.Replies = append(parent.Replies, comment)
	return true
}

func (self *CommentThreads) CommentUpdated(comment *Comment) bool {
	if comment == nil {
		return false
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	existing := findComment(self.comments, comment.CommentId)
	if existing == nil {
		return false
	}
	existing.Text = comment.Text
	existing.Position = comment.Position
	existing.Resolved = comment.Resolved
	return true
}

func (self *CommentThreads) CommentDeleted(commentId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	comments, removed := removeComment(self.comments, commentId)
	self.comments = comments
	return removed
}

// snapshot of the thread tree. the returned comments are deep copies.
func (self *CommentThreads) Comments() []*Comment {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return copyComments(self.comments)
}

func (self *CommentThreads) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.comments = []*Comment{}
}

func findComment(comments []*Comment, commentId Id) *Comment {
	for _, comment := range comments {
		if comment.CommentId == commentId {
			return comment
		}
		if reply := findComment(comment.Replies, commentId); reply != nil {
			return reply
		}
	}
	return nil
}

func removeComment(comments []*Comment, commentId Id) ([]*Comment, bool) {
	for i, comment := range comments {
		if comment.CommentId == commentId {
			return append(comments[:i], comments[i+1:]...), true
		}
		if replies, removed := removeComment(comment.Replies, commentId); removed {
			comment.Replies = replies
			return comments, true
		}
	}
	return comments, false
}

func copyComments(comments []*Comment) []*Comment {
	if comments == nil {
		return nil
	}
	commentsCopy := make([]*Comment, len(comments))
	for i, comment := range comments {
		commentCopy := *comment
		commentCopy.Replies = copyComments(comment.Replies)
		commentsCopy[i] = &commentCopy
	}
	return commentsCopy
}
