// Package model defines data structures for the conversation widget.
package model

import (
	"sort"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Origin identifies which session a message came from.
type Origin string

const (
	OriginVoice Origin = "voice"
	OriginChat  Origin = "chat"
)

// Message represents one conversation message. Timestamp is assigned at
// creation and is the sole ordering key across origins. Content of an
// in-flight assistant message may grow only while it is the most recently
// appended message and Loading is true.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Loading   bool      `json:"loading,omitempty"`
}

// Transcript is a finalized voice transcript fragment emitted by the
// voice transport.
type Transcript struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MergeByTimestamp combines the voice and chat histories into one
// time-ordered conversation. The sort is stable, so messages that share a
// timestamp keep their relative order, with voice messages ahead of chat
// messages at the same instant. Inputs are never mutated.
func MergeByTimestamp(voice, chat []Message) []Message {
	merged := make([]Message, 0, len(voice)+len(chat))
	merged = append(merged, voice...)
	merged = append(merged, chat...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
