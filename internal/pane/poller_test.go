// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pane

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/ccbot/internal/hub"
	"github.com/wingedpig/ccbot/internal/terminal"
)

// paneTmux implements terminal.TmuxExecutor with scripted pane content.
type paneTmux struct {
	windows map[string]string // windowID -> pane content
}

func (m *paneTmux) HasSession(ctx context.Context, session string) bool { return true }
func (m *paneTmux) NewSession(ctx context.Context, session, firstWindowName string) error {
	return nil
}
func (m *paneTmux) ListWindows(ctx context.Context, session string) ([]terminal.WindowInfo, error) {
	var ws []terminal.WindowInfo
	for id := range m.windows {
		ws = append(ws, terminal.WindowInfo{ID: id, Name: "w"})
	}
	return ws, nil
}
func (m *paneTmux) NewWindow(ctx context.Context, session, name, workdir string) (string, error) {
	return "", nil
}
func (m *paneTmux) KillWindow(ctx context.Context, session, windowID string) error { return nil }
func (m *paneTmux) SendKeys(ctx context.Context, session, windowID, keys string, literal bool) error {
	return nil
}
func (m *paneTmux) CapturePane(ctx context.Context, session, windowID string, withANSI bool) (string, error) {
	content, ok := m.windows[windowID]
	if !ok {
		return "", terminal.ErrWindowNotFound
	}
	return content, nil
}

// recordingSink captures status transitions.
type recordingSink struct {
	updates []string
	clears  int
}

func (s *recordingSink) StatusUpdate(sub hub.Subscriber, text string) {
	s.updates = append(s.updates, text)
}

func (s *recordingSink) StatusClear(sub hub.Subscriber) {
	s.clears++
}

func pollerFixture(t *testing.T) (*paneTmux, *hub.Hub, *recordingSink, *Poller, *[]string) {
	t.Helper()
	tmux := &paneTmux{windows: map[string]string{}}
	adapter := terminal.NewAdapter(tmux, "ccbot")
	h := hub.New(filepath.Join(t.TempDir(), hub.StateFileName))
	sink := &recordingSink{}
	var orphans []string
	p := NewPoller(time.Second, adapter, h, sink, func(windowID string, subs []hub.Subscriber) {
		orphans = append(orphans, windowID)
	})
	return tmux, h, sink, p, &orphans
}

func TestPollerStatusTransitions(t *testing.T) {
	tmux, h, sink, p, _ := pollerFixture(t)
	tmux.windows["@3"] = "output\n"
	require.NoError(t, h.Bind(42, 7, "@3", "w", -1, hub.WindowState{}))

	// Idle with no prior status: nothing happens.
	p.tick(context.Background())
	assert.Empty(t, sink.updates)
	assert.Zero(t, sink.clears)

	// Spinner appears.
	tmux.windows["@3"] = "output\n✻ Running tests… (2s)\n"
	p.tick(context.Background())
	require.Equal(t, []string{"Running tests…"}, sink.updates)

	// Same phrase again: no duplicate enqueue.
	p.tick(context.Background())
	assert.Len(t, sink.updates, 1)

	// Phrase changes.
	tmux.windows["@3"] = "output\n✻ Formatting… (1s)\n"
	p.tick(context.Background())
	assert.Equal(t, []string{"Running tests…", "Formatting…"}, sink.updates)

	// Back to idle: one clear.
	tmux.windows["@3"] = "output\n$ \n"
	p.tick(context.Background())
	assert.Equal(t, 1, sink.clears)

	// Still idle: no further clears.
	p.tick(context.Background())
	assert.Equal(t, 1, sink.clears)
}

func TestPollerSuppressesStatusDuringPrompt(t *testing.T) {
	tmux, h, sink, p, _ := pollerFixture(t)
	require.NoError(t, h.Bind(42, 7, "@3", "w", -1, hub.WindowState{}))

	tmux.windows["@3"] = "✻ Working… (1s)\n"
	p.tick(context.Background())
	require.Len(t, sink.updates, 1)

	// Prompt appears: the stale status is cleared, no new updates.
	tmux.windows["@3"] = "Do you want to proceed?\n\n ❯ 1. Yes\n   2. No\n esc to cancel\n"
	p.tick(context.Background())
	assert.Equal(t, 1, sink.clears)
	assert.Len(t, sink.updates, 1)
}

func TestPollerDetectsOrphan(t *testing.T) {
	tmux, h, _, p, orphans := pollerFixture(t)
	tmux.windows["@3"] = "output\n"
	require.NoError(t, h.Bind(42, 7, "@3", "w", -1, hub.WindowState{}))

	p.tick(context.Background())
	assert.Empty(t, *orphans)

	delete(tmux.windows, "@3")
	p.tick(context.Background())
	assert.Equal(t, []string{"@3"}, *orphans)
}
