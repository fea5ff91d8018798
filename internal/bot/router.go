// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wingedpig/ccbot/internal/delivery"
	"github.com/wingedpig/ccbot/internal/hub"
	"github.com/wingedpig/ccbot/internal/skills"
	"github.com/wingedpig/ccbot/internal/terminal"
	"github.com/wingedpig/ccbot/internal/transcript"
)

// historyLines is how many trailing pane lines /history returns.
const historyLines = 40

// Message is the router's view of one inbound topic message.
type Message struct {
	UserID      int64
	ChatID      int64
	TopicID     int64
	Text        string
	TopicClosed bool // set for topic close/delete service messages
}

// pendingBinding holds a topic's first message while the user picks a
// window, plus the picker's numbering.
type pendingBinding struct {
	heldText string
	options  []terminal.WindowInfo
}

// Router handles every inbound topic message.
type Router struct {
	adapter      *terminal.Adapter
	hub          *hub.Hub
	pipeline     *delivery.Pipeline
	skills       skills.Map
	agentCommand string
	shellTimeout time.Duration
	shellLimit   int

	mu      sync.Mutex
	pending map[string]*pendingBinding // "user:topic"
}

// NewRouter creates a command router.
func NewRouter(adapter *terminal.Adapter, h *hub.Hub, pipeline *delivery.Pipeline, skillMap skills.Map, agentCommand string, shellTimeout time.Duration, shellLimit int) *Router {
	return &Router{
		adapter:      adapter,
		hub:          h,
		pipeline:     pipeline,
		skills:       skillMap,
		agentCommand: agentCommand,
		shellTimeout: shellTimeout,
		shellLimit:   shellLimit,
		pending:      make(map[string]*pendingBinding),
	}
}

// Handle routes one message. Errors are reported to the user in the topic;
// a failure never cancels the topic binding.
func (r *Router) Handle(ctx context.Context, msg Message) {
	if msg.TopicClosed {
		r.handleTopicClosed(ctx, msg)
		return
	}
	if msg.TopicID == 0 || strings.TrimSpace(msg.Text) == "" {
		return
	}

	windowID, bound := r.hub.ResolveTopic(msg.UserID, msg.TopicID)
	if !bound {
		r.handleUnbound(ctx, msg)
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/"):
		r.handleCommand(ctx, msg, windowID)
	case strings.HasPrefix(msg.Text, "!"):
		go r.handleShell(ctx, msg, windowID)
	default:
		r.forwardText(ctx, msg, windowID, msg.Text)
	}
}

// handleUnbound runs the first-message binding flow: window picker when
// unbound live windows exist, directory prompt otherwise. The triggering
// text is held and forwarded once binding succeeds.
func (r *Router) handleUnbound(ctx context.Context, msg Message) {
	key := pendingKey(msg.UserID, msg.TopicID)

	name, args := splitCommand(msg.Text)
	switch name {
	case "use":
		r.handlePick(ctx, msg, args)
		return
	case "new":
		r.handleNew(ctx, msg, args)
		return
	}

	unbound, err := r.unboundWindows(ctx)
	if err != nil {
		r.reply(msg, fmt.Sprintf("Cannot list windows: %v", err))
		return
	}

	held := msg.Text
	if name == "start" {
		held = ""
	}

	if len(unbound) == 0 {
		r.mu.Lock()
		r.pending[key] = &pendingBinding{heldText: held}
		r.mu.Unlock()
		r.reply(msg, "No free windows. Reply /new <directory> to start a session there.")
		return
	}

	sort.Slice(unbound, func(i, j int) bool { return unbound[i].Name < unbound[j].Name })
	r.mu.Lock()
	r.pending[key] = &pendingBinding{heldText: held, options: unbound}
	r.mu.Unlock()

	var b strings.Builder
	b.WriteString("Pick a window:\n")
	for i, w := range unbound {
		fmt.Fprintf(&b, "%d. %s (%s) in %s\n", i+1, w.Name, w.ID, w.Cwd)
	}
	b.WriteString("Reply /use <number>, or /new <directory> for a fresh window.")
	r.reply(msg, b.String())
}

// handlePick binds the topic to a previously offered window.
func (r *Router) handlePick(ctx context.Context, msg Message, args string) {
	key := pendingKey(msg.UserID, msg.TopicID)
	r.mu.Lock()
	pb := r.pending[key]
	r.mu.Unlock()
	if pb == nil || len(pb.options) == 0 {
		r.reply(msg, "Nothing to pick. Send a message first.")
		return
	}

	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 || n > len(pb.options) {
		r.reply(msg, fmt.Sprintf("Pick a number between 1 and %d.", len(pb.options)))
		return
	}
	w := pb.options[n-1]

	// The window may have died since the picker was shown.
	live, err := r.adapter.FindByID(ctx, w.ID)
	if err != nil {
		r.reply(msg, fmt.Sprintf("Window %s is gone. Send a message to pick again.", w.ID))
		r.clearPending(key)
		return
	}

	r.bindAndForward(ctx, msg, live, pb.heldText)
	r.clearPending(key)
}

// handleNew creates a window via the directory path and binds it.
func (r *Router) handleNew(ctx context.Context, msg Message, args string) {
	dir := strings.TrimSpace(args)
	if dir == "" {
		r.reply(msg, "Usage: /new <directory>")
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		r.reply(msg, fmt.Sprintf("%s is not a directory.", dir))
		return
	}

	key := pendingKey(msg.UserID, msg.TopicID)
	r.mu.Lock()
	pb := r.pending[key]
	r.mu.Unlock()
	held := ""
	if pb != nil {
		held = pb.heldText
	}

	name := baseName(dir)
	windowID, finalName, err := r.adapter.CreateWindow(ctx, dir, name, r.agentCommand)
	if err != nil {
		r.reply(msg, fmt.Sprintf("Cannot create window: %v", err))
		return
	}

	r.bindAndForward(ctx, msg, terminal.WindowInfo{ID: windowID, Name: finalName, Cwd: dir}, held)
	r.clearPending(key)
}

// bindAndForward persists the binding and forwards the held first message.
func (r *Router) bindAndForward(ctx context.Context, msg Message, w terminal.WindowInfo, held string) {
	err := r.hub.Bind(msg.UserID, msg.TopicID, w.ID, w.Name, msg.ChatID, hub.WindowState{
		Cwd:        w.Cwd,
		WindowName: w.Name,
	})
	if err != nil {
		if errors.Is(err, hub.ErrWindowBound) {
			r.reply(msg, fmt.Sprintf("Window %s is already taken.", w.ID))
		} else {
			r.reply(msg, fmt.Sprintf("Bind failed: %v", err))
		}
		return
	}

	r.reply(msg, fmt.Sprintf("Bound to %s (%s).", w.Name, w.ID))
	if held != "" {
		r.forwardText(ctx, msg, w.ID, held)
	}
}

// handleCommand splits a /command into name and args and dispatches it:
// skill aliases are rewritten, the bridge's own commands run locally,
// everything else is forwarded verbatim.
func (r *Router) handleCommand(ctx context.Context, msg Message, windowID string) {
	name, args := splitCommand(msg.Text)

	if native, ok := r.skills.Translate(name); ok {
		text := native
		if args != "" {
			text += " " + args
		}
		r.forwardText(ctx, msg, windowID, text)
		return
	}

	switch name {
	case "start":
		ws, _ := r.hub.Window(windowID)
		r.reply(msg, fmt.Sprintf("This topic drives %s (%s) in %s.", ws.WindowName, windowID, ws.Cwd))
	case "history":
		r.sendPaneCapture(ctx, msg, windowID, historyLines)
	case "screenshot":
		r.sendPaneCapture(ctx, msg, windowID, 0)
	case "esc":
		if err := r.adapter.SendControlKey(ctx, windowID, "Escape"); err != nil {
			r.reportSendError(ctx, msg, windowID, err)
		}
	case "resume":
		r.forwardText(ctx, msg, windowID, "/resume")
	default:
		text := "/" + name
		if args != "" {
			text += " " + args
		}
		r.forwardText(ctx, msg, windowID, text)
	}
}

// sendPaneCapture delivers the pane's visible tail as a monospace block.
func (r *Router) sendPaneCapture(ctx context.Context, msg Message, windowID string, tail int) {
	pane, err := r.adapter.CapturePane(ctx, windowID, false)
	if err != nil {
		r.reportSendError(ctx, msg, windowID, err)
		return
	}
	lines := strings.Split(strings.TrimRight(pane, "\n"), "\n")
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	r.enqueue(msg, transcript.ContentInteractivePrompt, strings.Join(lines, "\n"))
}

// handleShell strips the leading "!", executes in the window's recorded
// cwd with a restricted environment, and sends the combined output back as
// one message after the command exits; output is not streamed while the
// command runs.
func (r *Router) handleShell(ctx context.Context, msg Message, windowID string) {
	command := strings.TrimSpace(strings.TrimPrefix(msg.Text, "!"))
	if command == "" {
		return
	}
	ws, ok := r.hub.Window(windowID)
	if !ok {
		r.reply(msg, "Window state is missing.")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, r.shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = ws.Cwd
	cmd.Env = restrictedEnv()
	output, err := cmd.CombinedOutput()

	if len(output) > r.shellLimit {
		output = append(output[:r.shellLimit], []byte("\n… output truncated …")...)
	}
	text := strings.TrimRight(string(output), "\n")
	if err != nil {
		if text != "" {
			text += "\n"
		}
		text += fmt.Sprintf("(exit: %v)", err)
	}
	if text == "" {
		text = "(no output)"
	}
	r.enqueue(msg, transcript.ContentInteractivePrompt, text)
}

// forwardText delivers text as literal keystrokes followed by Enter.
func (r *Router) forwardText(ctx context.Context, msg Message, windowID, text string) {
	if err := r.adapter.SendKeys(ctx, windowID, text, true, true); err != nil {
		r.reportSendError(ctx, msg, windowID, err)
	}
}

// reportSendError reports one failed operation; a vanished window is
// treated as an external kill.
func (r *Router) reportSendError(ctx context.Context, msg Message, windowID string, err error) {
	if errors.Is(err, terminal.ErrWindowNotFound) {
		r.HandleOrphan(windowID, []hub.Subscriber{{
			UserID:   msg.UserID,
			TopicID:  msg.TopicID,
			ChatID:   msg.ChatID,
			WindowID: windowID,
		}})
		return
	}
	r.reply(msg, fmt.Sprintf("Failed: %v", err))
}

// handleTopicClosed kills the window, unbinds, and flushes pending
// deliveries for the window.
func (r *Router) handleTopicClosed(ctx context.Context, msg Message) {
	windowID, ok := r.hub.ResolveTopic(msg.UserID, msg.TopicID)
	if !ok {
		return
	}
	if err := r.adapter.KillWindow(ctx, windowID); err != nil {
		log.Printf("[router] kill window %s: %v", windowID, err)
	}
	if err := r.hub.Unbind(msg.UserID, msg.TopicID); err != nil {
		log.Printf("[router] unbind %d:%d: %v", msg.UserID, msg.TopicID, err)
	}
	r.pipeline.DropWindow(windowID)
	r.clearPending(pendingKey(msg.UserID, msg.TopicID))
}

// HandleOrphan unbinds subscribers of an externally killed window and
// notifies each affected topic once.
func (r *Router) HandleOrphan(windowID string, subs []hub.Subscriber) {
	for _, sub := range subs {
		if err := r.hub.Unbind(sub.UserID, sub.TopicID); err != nil {
			continue
		}
		r.pipeline.DropWindow(sub.WindowID)
		r.pipeline.EnqueueContent(delivery.Task{
			UserID:      sub.UserID,
			ChatID:      sub.ChatID,
			TopicID:     sub.TopicID,
			WindowID:    sub.WindowID,
			ContentType: transcript.ContentText,
			Text:        "The window for this topic is gone. Send a message to bind a new one.",
		})
	}
}

// unboundWindows lists live windows not bound to any topic.
func (r *Router) unboundWindows(ctx context.Context) ([]terminal.WindowInfo, error) {
	windows, err := r.adapter.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	bound := make(map[string]bool)
	for _, w := range r.hub.BoundWindows() {
		bound[w] = true
	}
	var free []terminal.WindowInfo
	for _, w := range windows {
		if !bound[w.ID] {
			free = append(free, w)
		}
	}
	return free, nil
}

// reply enqueues a plain text response into the topic.
func (r *Router) reply(msg Message, text string) {
	r.enqueue(msg, transcript.ContentText, text)
}

func (r *Router) enqueue(msg Message, ct transcript.ContentType, text string) {
	windowID, _ := r.hub.ResolveTopic(msg.UserID, msg.TopicID)
	r.pipeline.EnqueueContent(delivery.Task{
		UserID:      msg.UserID,
		ChatID:      msg.ChatID,
		TopicID:     msg.TopicID,
		WindowID:    windowID,
		ContentType: ct,
		Text:        text,
	})
}

func (r *Router) clearPending(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}

func pendingKey(userID, topicID int64) string {
	return fmt.Sprintf("%d:%d", userID, topicID)
}

// splitCommand parses "/name args", tolerating a @botname suffix.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "/"))
	name := text
	args := ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		name = text[:i]
		args = strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, args
}

// restrictedEnv is the minimal child environment for !commands.
func restrictedEnv() []string {
	var env []string
	for _, key := range []string{"HOME", "PATH", "LANG", "TERM"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

func baseName(dir string) string {
	dir = strings.TrimRight(dir, "/")
	if i := strings.LastIndexByte(dir, '/'); i >= 0 {
		return dir[i+1:]
	}
	return dir
}
