// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the per-user outbound pipeline: bounded FIFO
// queues, a merging worker per user, tool-result in-place editing, status
// collapsing, and rate-limited dispatch.
package delivery

import (
	"context"

	"github.com/wingedpig/ccbot/internal/transcript"
)

// Kind distinguishes delivery work items.
type Kind int

const (
	KindContent Kind = iota
	KindStatusUpdate
	KindStatusClear
)

// Task is one delivery work item.
type Task struct {
	Kind        Kind
	UserID      int64
	ChatID      int64
	TopicID     int64
	WindowID    string
	ContentType transcript.ContentType
	Text        string
	ToolUseID   string
	Offset      int64 // transcript byte offset backing this content, 0 if none
	Mirrored    bool  // transcript-mirrored traffic, subject to the notification filter
}

// MergeLimit caps a merged payload's length, below the platform's
// per-message limit with headroom.
const MergeLimit = 3800

// mergeable reports whether a content type participates in merging.
// Tool traffic always breaks the chain: tool_use must keep its own
// message ID for the future result edit, and tool_result dispatches as
// an edit.
func mergeable(ct transcript.ContentType) bool {
	switch ct {
	case transcript.ContentText, transcript.ContentThinking,
		transcript.ContentUser, transcript.ContentLocalCommand:
		return true
	}
	return false
}

// Sender is the chat-platform contract the pipeline dispatches through.
// Implementations format per content type and fall back to plain text when
// the platform rejects the markup; a message is never dropped for
// formatting reasons.
type Sender interface {
	// SendMessage posts into a topic and returns the new message ID.
	SendMessage(ctx context.Context, chatID, topicID int64, text string, ct transcript.ContentType) (int, error)
	// EditMessage replaces a previously sent message's text.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, ct transcript.ContentType) error
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
