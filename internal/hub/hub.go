// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub owns the topic/window/session routing state: bindings, chat
// locations, read cursors, and display names. It is the single point of
// mutation for bindings; every mutating operation takes the internal lock
// and persists before returning.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/wingedpig/ccbot/internal/terminal"
)

// StateFileName is the bindings file name inside the config directory.
const StateFileName = "state.json"

// ErrWindowBound is returned when binding a window that already belongs to
// another topic.
var ErrWindowBound = errors.New("window already bound")

// ErrNotBound is returned when an operation needs a binding that does not
// exist.
var ErrNotBound = errors.New("topic not bound")

// WindowState describes one window the bridge knows about. SessionID stays
// empty until the lifecycle hook writes the session map entry.
type WindowState struct {
	SessionID  string `json:"session_id,omitempty"`
	Cwd        string `json:"cwd"`
	WindowName string `json:"window_name"`
}

// Subscriber is one (user, topic) pair receiving a window's output.
type Subscriber struct {
	UserID   int64
	TopicID  int64
	ChatID   int64
	WindowID string
}

// state is the persisted shape of the hub.
type state struct {
	WindowStates       map[string]WindowState `json:"window_states"`        // window_id -> state
	UserWindowOffsets  map[string]int64       `json:"user_window_offsets"`  // "user:window" -> byte offset
	ThreadBindings     map[string]string      `json:"thread_bindings"`      // "user:topic" -> window_id
	GroupChatIDs       map[string]int64       `json:"group_chat_ids"`       // "user:topic" -> chat_id
	WindowDisplayNames map[string]string      `json:"window_display_names"` // window_id -> display name
}

func newState() state {
	return state{
		WindowStates:       make(map[string]WindowState),
		UserWindowOffsets:  make(map[string]int64),
		ThreadBindings:     make(map[string]string),
		GroupChatIDs:       make(map[string]int64),
		WindowDisplayNames: make(map[string]string),
	}
}

// bindingRef names the (user, topic) pair owning a window.
type bindingRef struct {
	userID  int64
	topicID int64
}

// Hub is the routing state hub.
type Hub struct {
	mu       sync.RWMutex
	filePath string
	st       state
	reverse  map[string]bindingRef // window_id -> owner, rebuilt from bindings
}

// New creates a hub persisting to the given file.
func New(filePath string) *Hub {
	return &Hub{
		filePath: filePath,
		st:       newState(),
		reverse:  make(map[string]bindingRef),
	}
}

func bindingKey(userID, topicID int64) string {
	return fmt.Sprintf("%d:%d", userID, topicID)
}

func cursorKey(userID int64, windowID string) string {
	return fmt.Sprintf("%d:%s", userID, windowID)
}

// Load reads persisted state and rebuilds the reverse index.
func (h *Hub) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	merged := newState()
	for k, v := range st.WindowStates {
		merged.WindowStates[k] = v
	}
	for k, v := range st.UserWindowOffsets {
		merged.UserWindowOffsets[k] = v
	}
	for k, v := range st.ThreadBindings {
		merged.ThreadBindings[k] = v
	}
	for k, v := range st.GroupChatIDs {
		merged.GroupChatIDs[k] = v
	}
	for k, v := range st.WindowDisplayNames {
		merged.WindowDisplayNames[k] = v
	}
	h.st = merged
	h.rebuildReverse()
	return nil
}

// rebuildReverse regenerates the reverse index from the forward map.
// Callers hold the lock.
func (h *Hub) rebuildReverse() {
	h.reverse = make(map[string]bindingRef, len(h.st.ThreadBindings))
	for key, windowID := range h.st.ThreadBindings {
		var userID, topicID int64
		if _, err := fmt.Sscanf(key, "%d:%d", &userID, &topicID); err != nil {
			continue
		}
		h.reverse[windowID] = bindingRef{userID: userID, topicID: topicID}
	}
}

// save persists state atomically. Callers hold the lock.
func (h *Hub) save() error {
	data, err := json.MarshalIndent(h.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(h.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmpPath := h.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmpPath, h.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Bind atomically inserts the binding, reverse index entry, window state,
// display name, and chat location. Fails if the window is already bound to
// a different topic.
func (h *Hub) Bind(userID, topicID int64, windowID, displayName string, chatID int64, ws WindowState) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := bindingKey(userID, topicID)
	if ref, ok := h.reverse[windowID]; ok && (ref.userID != userID || ref.topicID != topicID) {
		return fmt.Errorf("%w: %s is bound to %s", ErrWindowBound, windowID, bindingKey(ref.userID, ref.topicID))
	}

	if prev, ok := h.st.ThreadBindings[key]; ok && prev != windowID {
		// Rebinding a topic implicitly releases its previous window.
		h.unbindLocked(userID, topicID, prev)
	}

	h.st.ThreadBindings[key] = windowID
	h.st.GroupChatIDs[key] = chatID
	h.st.WindowStates[windowID] = ws
	h.st.WindowDisplayNames[windowID] = displayName
	h.reverse[windowID] = bindingRef{userID: userID, topicID: topicID}
	return h.save()
}

// Unbind removes the binding and all dependent entries. It does not kill
// the window; the caller decides.
func (h *Hub) Unbind(userID, topicID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	windowID, ok := h.st.ThreadBindings[bindingKey(userID, topicID)]
	if !ok {
		return ErrNotBound
	}
	h.unbindLocked(userID, topicID, windowID)
	return h.save()
}

// unbindLocked removes a binding and its dependent entries: chat location,
// window state, display name, read cursor, and reverse index entry.
// Callers hold the lock.
func (h *Hub) unbindLocked(userID, topicID int64, windowID string) {
	key := bindingKey(userID, topicID)
	delete(h.st.ThreadBindings, key)
	delete(h.st.GroupChatIDs, key)
	delete(h.st.WindowStates, windowID)
	delete(h.st.WindowDisplayNames, windowID)
	delete(h.st.UserWindowOffsets, cursorKey(userID, windowID))
	delete(h.reverse, windowID)
}

// ResolveTopic returns the window bound to a topic.
func (h *Hub) ResolveTopic(userID, topicID int64) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.st.ThreadBindings[bindingKey(userID, topicID)]
	return w, ok
}

// ChatID returns the recorded chat for a topic.
func (h *Hub) ChatID(userID, topicID int64) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.st.GroupChatIDs[bindingKey(userID, topicID)]
	return c, ok
}

// Window returns the stored state for a window.
func (h *Hub) Window(windowID string) (WindowState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ws, ok := h.st.WindowStates[windowID]
	return ws, ok
}

// SetWindowSession updates a window's agent session ID.
func (h *Hub) SetWindowSession(windowID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws, ok := h.st.WindowStates[windowID]
	if !ok || ws.SessionID == sessionID {
		return
	}
	ws.SessionID = sessionID
	h.st.WindowStates[windowID] = ws
	if err := h.save(); err != nil {
		log.Printf("Warning: failed to save routing state: %v", err)
	}
}

// SubscribersFor returns every (user, topic) pair bound to a window via
// the reverse index. At most one exists; the slice shape keeps fan-out
// uniform downstream.
func (h *Hub) SubscribersFor(windowID string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ref, ok := h.reverse[windowID]
	if !ok {
		return nil
	}
	return []Subscriber{{
		UserID:   ref.userID,
		TopicID:  ref.topicID,
		ChatID:   h.st.GroupChatIDs[bindingKey(ref.userID, ref.topicID)],
		WindowID: windowID,
	}}
}

// BoundWindows returns the set of currently bound window IDs.
func (h *Hub) BoundWindows() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	windows := make([]string, 0, len(h.reverse))
	for w := range h.reverse {
		windows = append(windows, w)
	}
	return windows
}

// AdvanceCursor moves a user's delivered-content cursor forward. Attempts
// to move backward are no-ops.
func (h *Hub) AdvanceCursor(userID int64, windowID string, newOffset int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := cursorKey(userID, windowID)
	if newOffset <= h.st.UserWindowOffsets[key] {
		return
	}
	h.st.UserWindowOffsets[key] = newOffset
	if err := h.save(); err != nil {
		log.Printf("Warning: failed to save routing state: %v", err)
	}
}

// Cursor returns a user's delivered-content cursor for a window.
func (h *Hub) Cursor(userID int64, windowID string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.st.UserWindowOffsets[cursorKey(userID, windowID)]
}

// ResolveStaleIDs repairs bindings whose window IDs no longer exist, using
// the stored display name as a secondary key against the live window list.
// Unmatched bindings are dropped. Running it twice is identical to running
// it once.
func (h *Hub) ResolveStaleIDs(live []terminal.WindowInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	liveByID := make(map[string]terminal.WindowInfo, len(live))
	liveByName := make(map[string]terminal.WindowInfo, len(live))
	for _, w := range live {
		liveByID[w.ID] = w
		// First window wins when the multiplexer briefly allows duplicate
		// names; the pick is deterministic.
		if _, ok := liveByName[w.Name]; !ok {
			liveByName[w.Name] = w
		}
	}

	claimed := make(map[string]bool)
	for _, w := range h.st.ThreadBindings {
		if _, ok := liveByID[w]; ok {
			claimed[w] = true
		}
	}

	changed := false
	for key, windowID := range h.st.ThreadBindings {
		if _, ok := liveByID[windowID]; ok {
			continue
		}

		var userID, topicID int64
		fmt.Sscanf(key, "%d:%d", &userID, &topicID)

		name := h.st.WindowDisplayNames[windowID]
		replacement, found := liveByName[name]
		if !found || claimed[replacement.ID] {
			h.unbindLocked(userID, topicID, windowID)
			changed = true
			continue
		}

		// Rewrite the binding and every dependent entry to the new ID.
		claimed[replacement.ID] = true
		ws := h.st.WindowStates[windowID]
		ws.Cwd = replacement.Cwd
		ws.WindowName = replacement.Name

		chatID := h.st.GroupChatIDs[key]
		offset := h.st.UserWindowOffsets[cursorKey(userID, windowID)]
		h.unbindLocked(userID, topicID, windowID)
		h.st.ThreadBindings[key] = replacement.ID
		h.st.GroupChatIDs[key] = chatID
		h.st.WindowStates[replacement.ID] = ws
		h.st.WindowDisplayNames[replacement.ID] = name
		if offset > 0 {
			h.st.UserWindowOffsets[cursorKey(userID, replacement.ID)] = offset
		}
		h.reverse[replacement.ID] = bindingRef{userID: userID, topicID: topicID}
		changed = true
	}

	if changed {
		return h.save()
	}
	return nil
}
