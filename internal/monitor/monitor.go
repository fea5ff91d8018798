// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wingedpig/ccbot/internal/sessionmap"
	"github.com/wingedpig/ccbot/internal/transcript"
)

// NewMessage is one mirrored transcript event.
type NewMessage struct {
	SessionID   string
	WindowID    string
	ContentType transcript.ContentType
	Text        string
	Role        string
	IsComplete  bool
	ToolUseID   string
	ToolName    string
	ByteOffset  int64 // transcript offset past this event's line
}

// Callback receives events synchronously inside the poll loop. It must not
// block; the delivery pipeline enqueues.
type Callback func(NewMessage)

// trackedFile is the monitor's in-memory state for one tailed transcript.
type trackedFile struct {
	windowID  string
	path      string
	lastMtime time.Time
}

// Monitor reconciles the session map against its tracked set and tails
// each transcript incrementally.
type Monitor struct {
	interval   time.Duration
	muxSession string
	smap       *sessionmap.Store
	offsets    *OffsetStore
	callback   Callback

	tracked map[string]*trackedFile // keyed by agent session ID
	byKey   map[string]string       // session-map key -> agent session ID
	initial bool                    // true until the first reconcile completes

	reconcileCh chan struct{}
	watcher     *fsnotify.Watcher

	// home anchors transcript path resolution; overridable in tests.
	home string
}

// New creates a monitor. The callback receives every parsed entry.
func New(interval time.Duration, muxSession string, smap *sessionmap.Store, offsets *OffsetStore, cb Callback) *Monitor {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	return &Monitor{
		home:        home,
		interval:    interval,
		muxSession:  muxSession,
		smap:        smap,
		offsets:     offsets,
		callback:    cb,
		tracked:     make(map[string]*trackedFile),
		byKey:       make(map[string]string),
		initial:     true,
		reconcileCh: make(chan struct{}, 1),
	}
}

// Run executes the poll loop until the context is cancelled. A session-map
// file change triggers an immediate reconcile between ticks.
func (m *Monitor) Run(ctx context.Context) error {
	m.startWatcher()
	defer m.stopWatcher()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			if err := m.offsets.FlushIfDirty(); err != nil {
				log.Printf("[monitor] offset flush on shutdown: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		case <-m.reconcileCh:
			m.reconcile()
		}
	}
}

// tick runs one full poll cycle: reconcile, tail, flush.
func (m *Monitor) tick(ctx context.Context) {
	m.reconcile()

	for sessionID, tf := range m.tracked {
		if ctx.Err() != nil {
			return
		}
		if err := m.pollSession(sessionID, tf); err != nil {
			// Transient I/O failure aborts this session only; the next
			// tick retries without advancing its offset.
			log.Printf("[monitor] poll %s: %v", sessionID, err)
		}
	}

	if err := m.offsets.FlushIfDirty(); err != nil {
		log.Printf("[monitor] offset flush: %v", err)
	}
}

// reconcile diffs the session map against the tracked set.
func (m *Monitor) reconcile() {
	data, err := m.smap.Load()
	if err != nil {
		log.Printf("[monitor] session map load: %v", err)
		return
	}

	prefix := m.muxSession + ":"
	seen := make(map[string]bool, len(data))

	for key, entry := range data {
		if !strings.HasPrefix(key, prefix) || entry.SessionID == "" {
			continue
		}
		windowID := strings.TrimPrefix(key, prefix)
		seen[key] = true

		rotated := false
		if prevID, ok := m.byKey[key]; ok {
			if prevID == entry.SessionID {
				continue
			}
			// Session rotated (e.g. /clear): drop the old row before the
			// new one is tracked.
			log.Printf("[monitor] window %s rotated session %s -> %s", windowID, prevID, entry.SessionID)
			m.drop(prevID)
			rotated = true
		}
		m.track(key, windowID, entry, rotated)
	}

	for key, sessionID := range m.byKey {
		if !seen[key] {
			log.Printf("[monitor] session map entry %s gone, dropping %s", key, sessionID)
			m.drop(sessionID)
		}
	}

	m.initial = false
}

// track starts tailing one session's transcript. Startup catch-up: entries
// that pre-existed the bridge start at end-of-file unless a persisted
// offset row exists; rotations start at end-of-file; entries appearing
// later start at 0.
func (m *Monitor) track(key, windowID string, entry sessionmap.Entry, rotated bool) {
	if entry.Cwd == "" {
		log.Printf("[monitor] entry %s has no cwd, skipping", key)
		return
	}

	tf := &trackedFile{windowID: windowID, path: m.transcriptPath(entry)}

	offset := int64(0)
	if row, ok := m.offsets.Get(entry.SessionID); ok && row.FilePath == tf.path {
		offset = row.LastByteOffset
	} else if m.initial || rotated {
		// Pre-existing entry at startup, or a rotation: no retro-delivery.
		if info, err := os.Stat(tf.path); err == nil {
			offset = info.Size()
		}
	}

	m.offsets.Put(TrackedSession{
		SessionID:      entry.SessionID,
		FilePath:       tf.path,
		LastByteOffset: offset,
	})
	m.tracked[entry.SessionID] = tf
	m.byKey[key] = entry.SessionID
	log.Printf("[monitor] tracking %s (window %s, offset %d)", entry.SessionID, windowID, offset)
}

// drop stops tracking a session and deletes its offset row.
func (m *Monitor) drop(sessionID string) {
	delete(m.tracked, sessionID)
	m.offsets.Remove(sessionID)
	for key, id := range m.byKey {
		if id == sessionID {
			delete(m.byKey, key)
		}
	}
}

// pollSession tails one transcript from its last offset. Only fully
// decoded lines advance the offset; a partial trailing line is left for
// the next cycle. A malformed line is logged, skipped, and advanced past.
func (m *Monitor) pollSession(sessionID string, tf *trackedFile) error {
	info, err := os.Stat(tf.path)
	if err != nil {
		return err
	}
	if info.ModTime().Equal(tf.lastMtime) {
		return nil
	}

	row, ok := m.offsets.Get(sessionID)
	if !ok {
		return nil
	}
	offset := row.LastByteOffset
	if offset > info.Size() {
		// File truncated underneath us; start over.
		log.Printf("[monitor] %s truncated (offset %d > size %d), resetting", tf.path, offset, info.Size())
		offset = 0
	}

	f, err := os.Open(tf.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			break
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			// Incomplete trailing line: not consumed, offset stays put.
			break
		}

		entries, perr := transcript.ParseLine(line[:len(line)-1])
		if perr != nil {
			log.Printf("[monitor] bad line in %s: %v", tf.path, perr)
		}
		offset += int64(len(line))

		for _, e := range entries {
			m.callback(NewMessage{
				SessionID:   sessionID,
				WindowID:    tf.windowID,
				ContentType: e.ContentType,
				Text:        e.Text,
				Role:        e.Role,
				IsComplete:  true,
				ToolUseID:   e.ToolUseID,
				ToolName:    e.ToolName,
				ByteOffset:  offset,
			})
		}

		if err == io.EOF {
			break
		}
	}

	tf.lastMtime = info.ModTime()
	m.offsets.Put(TrackedSession{SessionID: sessionID, FilePath: tf.path, LastByteOffset: offset})
	return nil
}

// startWatcher watches the session map's directory so hook writes trigger
// an immediate reconcile instead of waiting for the next tick.
func (m *Monitor) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[monitor] fsnotify unavailable: %v", err)
		return
	}
	dir := m.smap.Path()
	if i := strings.LastIndexByte(dir, '/'); i > 0 {
		dir = dir[:i]
	}
	if err := w.Add(dir); err != nil {
		log.Printf("[monitor] watch %s: %v", dir, err)
		w.Close()
		return
	}
	m.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, sessionmap.FileName) {
					continue
				}
				select {
				case m.reconcileCh <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (m *Monitor) stopWatcher() {
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// transcriptPath resolves the transcript file for a session-map entry:
// ~/.claude/projects/<encoded-cwd>/<session_id>.jsonl
func (m *Monitor) transcriptPath(entry sessionmap.Entry) string {
	encoded := strings.ReplaceAll(entry.Cwd, "/", "-")
	return m.home + "/.claude/projects/" + encoded + "/" + entry.SessionID + ".jsonl"
}
