// Package model defines data structures for the relay.
package model

import (
	"strings"
	"time"
)

// AnonymousUserKey is the storage key used for unauthenticated callers.
const AnonymousUserKey = "unknown"

// TimestampLayout is the ISO-8601 layout used for stored entries.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one stored conversation record. Two shapes exist in stored data:
// the current {role, content, timestamp} shape and the legacy
// {query, timestamp} shape. Only current entries are written.
type Entry struct {
	Role      Role   `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Query     string `json:"query,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewEntry builds a current-shape entry stamped with t.
func NewEntry(role Role, content string, t time.Time) Entry {
	return Entry{
		Role:      role,
		Content:   content,
		Timestamp: FormatTimestamp(t),
	}
}

// IsCurrent reports whether the entry has the current shape.
func (e Entry) IsCurrent() bool {
	return e.Role != "" && e.Content != ""
}

// IsLegacy reports whether the entry is a legacy query record.
func (e Entry) IsLegacy() bool {
	return e.Query != "" && !e.IsCurrent()
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Conversation is the ordered sequence of entries stored for one user.
type Conversation []Entry

// WithoutLegacy returns a copy of c with legacy entries removed.
func (c Conversation) WithoutLegacy() Conversation {
	out := make(Conversation, 0, len(c))
	for _, e := range c {
		if e.IsLegacy() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LastTimestamp returns the timestamp of the final entry, if any.
func (c Conversation) LastTimestamp() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1].Timestamp
}

// UserKey derives the storage key for a verified identifier. Empty
// identifiers map to the anonymous key.
func UserKey(identifier string) string {
	if identifier == "" {
		return AnonymousUserKey
	}
	return strings.ReplaceAll(identifier, ".", "_")
}

// UserSummary describes one stored conversation.
type UserSummary struct {
	UserKey       string `json:"userKey"`
	MessageCount  int    `json:"messageCount"`
	LastMessageAt string `json:"lastMessageAt,omitempty"`
}

// ConversationResponse is returned by the conversation lookup endpoints.
type ConversationResponse struct {
	UserKey      string       `json:"userKey"`
	Conversation Conversation `json:"conversation"`
	Count        int          `json:"count"`
}

// ListUsersResponse is returned by the user listing endpoint.
type ListUsersResponse struct {
	Users      []UserSummary `json:"users"`
	TotalUsers int           `json:"totalUsers"`
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	UsersScanned   int  `json:"usersScanned"`
	UsersUpdated   int  `json:"usersUpdated"`
	EntriesRemoved int  `json:"entriesRemoved"`
	DryRun         bool `json:"dryRun,omitempty"`
}
