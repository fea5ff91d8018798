// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"sync"

	"github.com/wingedpig/ccbot/internal/transcript"
	"golang.org/x/time/rate"
)

// maxQueuedContent bounds pending content tasks per user before compaction.
const maxQueuedContent = 5

// compactKeepNewest is how many trailing tasks survive a compaction, in
// addition to the oldest one kept for context.
const compactKeepNewest = 3

// userQueue is one user's FIFO plus the worker-owned status pointers.
type userQueue struct {
	mu    sync.Mutex
	tasks []Task

	// signal wakes the worker; capacity 1 keeps it coalescing.
	signal chan struct{}

	// statusMsgs maps window ID to the currently displayed status message.
	statusMsgs map[string]int

	limiter *rate.Limiter
}

func newUserQueue(limiter *rate.Limiter) *userQueue {
	return &userQueue{
		signal:     make(chan struct{}, 1),
		statusMsgs: make(map[string]int),
		limiter:    limiter,
	}
}

func (q *userQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pushContent appends a content task, compacting on overflow: the oldest
// task stays for context, the newest compactKeepNewest stay, the middle is
// replaced by one synthetic notice.
func (q *userQueue) pushContent(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)

	contentIdx := make([]int, 0, len(q.tasks))
	for i, task := range q.tasks {
		if task.Kind == KindContent {
			contentIdx = append(contentIdx, i)
		}
	}
	if len(contentIdx) > maxQueuedContent {
		dropped := len(contentIdx) - 1 - compactKeepNewest
		first := contentIdx[0]
		keepFrom := contentIdx[len(contentIdx)-compactKeepNewest]

		notice := Task{
			Kind:        KindContent,
			UserID:      t.UserID,
			ChatID:      q.tasks[first].ChatID,
			TopicID:     q.tasks[first].TopicID,
			WindowID:    q.tasks[first].WindowID,
			ContentType: transcript.ContentText,
			Text:        fmt.Sprintf("… %d messages dropped …", dropped),
		}

		compacted := make([]Task, 0, 2+len(q.tasks)-keepFrom)
		compacted = append(compacted, q.tasks[first], notice)
		compacted = append(compacted, q.tasks[keepFrom:]...)
		q.tasks = compacted
	}
	q.mu.Unlock()
	q.wake()
}

// pushStatusUpdate appends after removing any prior pending status update
// for the same window.
func (q *userQueue) pushStatusUpdate(t Task) {
	q.mu.Lock()
	kept := q.tasks[:0]
	for _, task := range q.tasks {
		if task.Kind == KindStatusUpdate && task.WindowID == t.WindowID {
			continue
		}
		kept = append(kept, task)
	}
	q.tasks = append(kept, t)
	q.mu.Unlock()
	q.wake()
}

// pushStatusClear appends a clear marker.
func (q *userQueue) pushStatusClear(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.wake()
}

// pop removes and returns the head task.
func (q *userQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// popMergeable pops successive tasks mergeable with head: same window and
// topic, both in the mergeable content set, and a combined length within
// MergeLimit. Tool traffic at the frontier always breaks the chain.
func (q *userQueue) popMergeable(head Task, combinedLen int) (Task, bool) {
	if head.ToolUseID != "" || !mergeable(head.ContentType) {
		return Task{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	next := q.tasks[0]
	if next.Kind != KindContent ||
		next.WindowID != head.WindowID || next.TopicID != head.TopicID ||
		next.ToolUseID != "" || !mergeable(next.ContentType) {
		return Task{}, false
	}
	if combinedLen+2+len([]rune(next.Text)) > MergeLimit {
		return Task{}, false
	}
	q.tasks = q.tasks[1:]
	return next, true
}

// dropWindow removes every queued task for a window and forgets its status
// pointer. Used when a topic closes or a window dies.
func (q *userQueue) dropWindow(windowID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.tasks[:0]
	for _, task := range q.tasks {
		if task.WindowID == windowID {
			continue
		}
		kept = append(kept, task)
	}
	q.tasks = kept
	delete(q.statusMsgs, windowID)
}

// statusMsg returns the displayed status message for a window, if any.
func (q *userQueue) statusMsg(windowID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.statusMsgs[windowID]
	return id, ok
}

func (q *userQueue) setStatusMsg(windowID string, messageID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statusMsgs[windowID] = messageID
}

func (q *userQueue) clearStatusMsg(windowID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.statusMsgs, windowID)
}

func (q *userQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}
