// crispy/models/models.go
package models

import (
	"time"
)

// --- Core Data Models ---

// Board owns one identifier partition, selected by Prefix.
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Prefix      int       `json:"prefix"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Thread struct {
	ThreadID  int64     `json:"threadId,string"`
	BoardID   string    `json:"boardId"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"imageUrl"`
	ImageAlt  *string   `json:"imageAlt"`
	OriginIP  string    `json:"opIp"`
	CreatedAt time.Time `json:"createdAt"`
}

type Post struct {
	ID        int64     `json:"id,string"`
	ThreadID  int64     `json:"threadId,string"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"imageUrl"`
	ImageAlt  *string   `json:"imageAlt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Inputs ---

type ThreadInput struct {
	BoardID  string
	Content  string
	ImageURL string
	ImageAlt string
	OriginIP string
}

type PostInput struct {
	ThreadID int64
	Content  string
	ImageURL string
	ImageAlt string
}

// ContentUpdate carries the mutable fields of a thread or post.
type ContentUpdate struct {
	Content  string
	ImageURL string
	ImageAlt string
}

// --- Moderation & System Models ---

type ModAction struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// StoredFile describes an uploaded image after it has been written to a file store.
type StoredFile struct {
	ImageURL     string `json:"imageUrl"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
}

// NullableString returns nil for the empty string.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
