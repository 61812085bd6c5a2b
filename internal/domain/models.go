// Package domain defines the persistence models for chat messages, their
// attachments, and derived session summaries. Messages live in a MongoDB
// collection and are immutable once stored; the only mutation is bulk
// deletion by filter. Store-native identifiers (ObjectID) never appear here:
// the repo layer normalizes them to hex strings at its boundary.
package domain

import (
	"time"
)

// Message roles. Every stored message is authored by exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message kinds. A message carrying attachments is stored as KindFile;
// everything else (including all assistant replies) is KindText.
const (
	KindText = "text"
	KindFile = "file"
)

// Message represents a single utterance within a session. Sessions have no
// standalone record: a session exists exactly as long as messages share its
// SessionID.
//
// Fields:
//   - ID: hex string form of the store-assigned identifier; empty until the
//     message has been persisted, immutable afterwards.
//   - SessionID: groups messages into one conversation thread.
//   - UserID: the owner of the message.
//   - Role: "user" or "assistant".
//   - Content: full text content.
//   - Kind: "text" or "file".
//   - Timestamp: assigned at write time (UTC); within a session, retrieval
//     orders by this field ascending.
//   - Attachments: normalized file descriptors for KindFile messages.
type Message struct {
	ID          string       `json:"id"          bson:"-"`
	SessionID   string       `json:"session_id"  bson:"session_id"`
	UserID      string       `json:"user_id"     bson:"user_id"`
	Role        string       `json:"role"        bson:"role"`
	Content     string       `json:"content"     bson:"content"`
	Kind        string       `json:"message_type" bson:"message_type"`
	Timestamp   time.Time    `json:"timestamp"   bson:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`
}

// Attachment is the explicitly enumerated descriptor for a file attached to
// a message. Unknown fields submitted by clients are dropped at the HTTP
// boundary; only these survive into storage.
type Attachment struct {
	ID          string `json:"id,omitempty"           bson:"id,omitempty"`
	Name        string `json:"name,omitempty"         bson:"name,omitempty"`
	Kind        string `json:"kind,omitempty"         bson:"kind,omitempty"`
	Size        int64  `json:"size,omitempty"         bson:"size,omitempty"`
	Path        string `json:"path,omitempty"         bson:"path,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"  bson:"preview_url,omitempty"`
	URL         string `json:"url,omitempty"          bson:"url,omitempty"`
	DownloadURL string `json:"download_url,omitempty" bson:"download_url,omitempty"`
}

// SessionSummary is the on-demand projection of a session: its identifier
// plus the content and timestamp of its most recent message. Summaries are
// derived by aggregation, never stored.
type SessionSummary struct {
	SessionID   string    `json:"session_id"   bson:"_id"`
	LastMessage string    `json:"last_message" bson:"last_message"`
	Timestamp   time.Time `json:"timestamp"    bson:"timestamp"`
}
