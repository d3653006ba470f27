package models

import "time"

// Comment represents a GitHub issue comment
type Comment struct {
	ID        int64
	Body      string
	User      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommentAction describes what happened to the report comment on the PR
type CommentAction string

const (
	CommentNone    CommentAction = "none"
	CommentCreated CommentAction = "created"
	CommentUpdated CommentAction = "updated"
)
