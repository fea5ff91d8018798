// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/wingedpig/ccbot/internal/transcript"
	"golang.org/x/time/rate"
)

// pendingToolTTL bounds how long a delivered tool_use message waits for its
// result before the pairing entry is evicted.
const pendingToolTTL = 24 * time.Hour

// pendingTool records a delivered tool_use message awaiting its result.
type pendingTool struct {
	chatID    int64
	messageID int
	text      string // delivered tool_use text, kept for the edit
	at        time.Time
}

// FilterFunc reports whether a content type should be delivered at all.
// In-place edits (tool results pairing with a delivered call) bypass it.
type FilterFunc func(transcript.ContentType) bool

// DeliveredFunc observes successful content delivery; used to advance
// per-user read cursors.
type DeliveredFunc func(userID int64, windowID string, offset int64)

// Pipeline fans deliveries out to one worker per user. Exactly one FIFO
// and one worker exist per user; workers are spawned lazily on first
// enqueue and torn down only at shutdown.
type Pipeline struct {
	sender      Sender
	gap         time.Duration
	drain       time.Duration
	filter      FilterFunc
	onDelivered DeliveredFunc

	mu     sync.Mutex
	queues map[int64]*userQueue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]pendingTool // tool_use_id -> delivered message
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFilter installs a notification filter.
func WithFilter(f FilterFunc) Option {
	return func(p *Pipeline) { p.filter = f }
}

// WithDeliveredHook installs a delivery observer.
func WithDeliveredHook(f DeliveredFunc) Option {
	return func(p *Pipeline) { p.onDelivered = f }
}

// WithDrainTimeout overrides the per-user shutdown drain budget.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.drain = d }
}

// New creates a pipeline dispatching through the given sender with the
// given minimum per-user send gap.
func New(sender Sender, gap time.Duration, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		sender:  sender,
		gap:     gap,
		drain:   2 * time.Second,
		queues:  make(map[int64]*userQueue),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]pendingTool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// queueFor returns the user's queue, spawning its worker on first use.
func (p *Pipeline) queueFor(userID int64) *userQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[userID]
	if !ok {
		q = newUserQueue(rate.NewLimiter(rate.Every(p.gap), 1))
		p.queues[userID] = q
		p.wg.Add(1)
		go p.worker(userID, q)
	}
	return q
}

// EnqueueContent appends a content task to the user's queue. Mirrored
// transcript traffic is subject to the notification filter; an edit-class
// tool result pairing with a delivered call always goes through.
func (p *Pipeline) EnqueueContent(t Task) {
	t.Kind = KindContent
	if t.Mirrored && p.filter != nil && !p.filter(t.ContentType) {
		if !p.isPairedResult(t) {
			return
		}
	}
	p.queueFor(t.UserID).pushContent(t)
}

// EnqueueStatusUpdate replaces any pending status update for the same
// window, then appends.
func (p *Pipeline) EnqueueStatusUpdate(t Task) {
	t.Kind = KindStatusUpdate
	p.queueFor(t.UserID).pushStatusUpdate(t)
}

// EnqueueStatusClear appends a marker deleting the displayed status
// message, if any.
func (p *Pipeline) EnqueueStatusClear(t Task) {
	t.Kind = KindStatusClear
	p.queueFor(t.UserID).pushStatusClear(t)
}

// DropWindow flushes all queued traffic for a window across users and
// forgets its status pointers. Used on topic close and external kills.
func (p *Pipeline) DropWindow(windowID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.queues {
		q.dropWindow(windowID)
	}
}

// Shutdown stops accepting work and lets each worker drain its queue
// within the configured budget.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) isPairedResult(t Task) bool {
	if t.ContentType != transcript.ContentToolResult && t.ContentType != transcript.ContentToolError {
		return false
	}
	if t.ToolUseID == "" {
		return false
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	_, ok := p.pending[t.ToolUseID]
	return ok
}

// worker is the single consumer for one user's queue.
func (p *Pipeline) worker(userID int64, q *userQueue) {
	defer p.wg.Done()
	for {
		t, ok := q.pop()
		if !ok {
			select {
			case <-p.ctx.Done():
				p.drainQueue(userID, q)
				return
			case <-q.signal:
				continue
			}
		}
		p.process(p.ctx, q, t)
	}
}

// drainQueue processes remaining tasks within the drain budget after
// shutdown begins.
func (p *Pipeline) drainQueue(userID int64, q *userQueue) {
	ctx, cancel := context.WithTimeout(context.Background(), p.drain)
	defer cancel()
	for {
		if ctx.Err() != nil {
			if !q.empty() {
				log.Printf("[delivery] user %d: drain budget elapsed, dropping remainder", userID)
			}
			return
		}
		t, ok := q.pop()
		if !ok {
			return
		}
		p.process(ctx, q, t)
	}
}

// process dispatches one task. A failure affects this task only. A task
// caught by shutdown mid-loop still gets the drain budget.
func (p *Pipeline) process(ctx context.Context, q *userQueue, t Task) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), p.drain)
		defer cancel()
	}
	switch t.Kind {
	case KindContent:
		p.processContent(ctx, q, t)
	case KindStatusUpdate:
		p.processStatusUpdate(ctx, q, t)
	case KindStatusClear:
		p.processStatusClear(ctx, q, t)
	}
}

func (p *Pipeline) processContent(ctx context.Context, q *userQueue, t Task) {
	// Merge adjacent compatible tasks before paying the rate limit.
	text := t.Text
	lastOffset := t.Offset
	for {
		next, ok := q.popMergeable(t, len([]rune(text)))
		if !ok {
			break
		}
		text = text + "\n\n" + next.Text
		if next.Offset > lastOffset {
			lastOffset = next.Offset
		}
	}

	if err := q.limiter.Wait(ctx); err != nil {
		return
	}

	// A result pairing with a delivered tool_use edits that message in
	// place, preserving visual pairing regardless of intervening traffic.
	if t.ToolUseID != "" &&
		(t.ContentType == transcript.ContentToolResult || t.ContentType == transcript.ContentToolError) {
		if p.editPairedResult(ctx, t, text) {
			p.delivered(t, lastOffset)
			return
		}
	}

	// First content while a status message is displayed edits the status
	// message instead of sending anew.
	if id, ok := q.statusMsg(t.WindowID); ok {
		if err := p.sender.EditMessage(ctx, t.ChatID, id, text, t.ContentType); err == nil {
			q.clearStatusMsg(t.WindowID)
			if t.ContentType == transcript.ContentToolUse && t.ToolUseID != "" {
				p.recordToolUse(t, id, text)
			}
			p.delivered(t, lastOffset)
			return
		}
		// Collapse failed (e.g. the status message was deleted); fall
		// through to a plain send.
		q.clearStatusMsg(t.WindowID)
	}

	id, err := p.sender.SendMessage(ctx, t.ChatID, t.TopicID, text, t.ContentType)
	if err != nil {
		log.Printf("[delivery] send to %d/%d: %v", t.ChatID, t.TopicID, err)
		return
	}
	if t.ContentType == transcript.ContentToolUse && t.ToolUseID != "" {
		p.recordToolUse(t, id, text)
	}
	p.delivered(t, lastOffset)
}

func (p *Pipeline) processStatusUpdate(ctx context.Context, q *userQueue, t Task) {
	if err := q.limiter.Wait(ctx); err != nil {
		return
	}
	if id, ok := q.statusMsg(t.WindowID); ok {
		if err := p.sender.EditMessage(ctx, t.ChatID, id, t.Text, t.ContentType); err != nil {
			log.Printf("[delivery] status edit: %v", err)
		}
		return
	}
	id, err := p.sender.SendMessage(ctx, t.ChatID, t.TopicID, t.Text, t.ContentType)
	if err != nil {
		log.Printf("[delivery] status send: %v", err)
		return
	}
	q.setStatusMsg(t.WindowID, id)
}

func (p *Pipeline) processStatusClear(ctx context.Context, q *userQueue, t Task) {
	id, ok := q.statusMsg(t.WindowID)
	if !ok {
		return
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return
	}
	if err := p.sender.DeleteMessage(ctx, t.ChatID, id); err != nil {
		log.Printf("[delivery] status delete: %v", err)
	}
	q.clearStatusMsg(t.WindowID)
}

// editPairedResult edits the recorded tool_use message with its result.
// Returns false when no pairing entry exists (the result is then sent as a
// regular message by the caller's fallthrough path).
func (p *Pipeline) editPairedResult(ctx context.Context, t Task, resultText string) bool {
	p.pendingMu.Lock()
	pt, ok := p.pending[t.ToolUseID]
	if ok {
		delete(p.pending, t.ToolUseID)
	}
	p.pendingMu.Unlock()
	if !ok {
		return false
	}

	combined := pt.text + "\n\n" + resultText
	if len([]rune(combined)) > MergeLimit {
		combined = string([]rune(combined)[:MergeLimit]) + "…"
	}
	if err := p.sender.EditMessage(ctx, pt.chatID, pt.messageID, combined, t.ContentType); err != nil {
		log.Printf("[delivery] tool result edit: %v", err)
		return false
	}
	return true
}

// recordToolUse remembers a delivered tool_use message for the future
// result edit, evicting stale entries.
func (p *Pipeline) recordToolUse(t Task, messageID int, text string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	now := time.Now()
	for id, pt := range p.pending {
		if now.Sub(pt.at) > pendingToolTTL {
			delete(p.pending, id)
		}
	}
	p.pending[t.ToolUseID] = pendingTool{
		chatID:    t.ChatID,
		messageID: messageID,
		text:      strings.TrimRight(text, "\n"),
		at:        now,
	}
}

func (p *Pipeline) delivered(t Task, offset int64) {
	if p.onDelivered != nil && offset > 0 {
		p.onDelivered(t.UserID, t.WindowID, offset)
	}
}
