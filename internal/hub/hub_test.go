// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/ccbot/internal/terminal"
)

func newHub(t *testing.T) *Hub {
	t.Helper()
	return New(filepath.Join(t.TempDir(), StateFileName))
}

func TestBindAndResolve(t *testing.T) {
	h := newHub(t)
	ws := WindowState{Cwd: "/tmp/proj", WindowName: "proj"}
	require.NoError(t, h.Bind(42, 7, "@3", "proj", -100123, ws))

	windowID, ok := h.ResolveTopic(42, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", windowID)

	chatID, ok := h.ChatID(42, 7)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), chatID)

	got, ok := h.Window("@3")
	require.True(t, ok)
	assert.Equal(t, ws, got)
}

func TestDoubleBindRejected(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", 1, WindowState{}))

	err := h.Bind(42, 8, "@3", "proj", 1, WindowState{})
	assert.ErrorIs(t, err, ErrWindowBound)

	err = h.Bind(99, 1, "@3", "proj", 1, WindowState{})
	assert.ErrorIs(t, err, ErrWindowBound)

	// Re-binding the same (user, topic) to the same window is fine.
	assert.NoError(t, h.Bind(42, 7, "@3", "proj", 1, WindowState{}))
}

func TestUnbindRemovesEverything(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", 1, WindowState{Cwd: "/tmp"}))
	h.AdvanceCursor(42, "@3", 100)

	require.NoError(t, h.Unbind(42, 7))

	_, ok := h.ResolveTopic(42, 7)
	assert.False(t, ok)
	_, ok = h.Window("@3")
	assert.False(t, ok)
	assert.Zero(t, h.Cursor(42, "@3"))
	assert.Empty(t, h.SubscribersFor("@3"))

	assert.ErrorIs(t, h.Unbind(42, 7), ErrNotBound)
}

func TestSubscribersFor(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", -55, WindowState{}))
	require.NoError(t, h.Bind(42, 9, "@4", "other", -55, WindowState{}))

	subs := h.SubscribersFor("@3")
	require.Len(t, subs, 1)
	assert.Equal(t, Subscriber{UserID: 42, TopicID: 7, ChatID: -55, WindowID: "@3"}, subs[0])

	assert.Empty(t, h.SubscribersFor("@99"))
}

func TestCursorMonotonic(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", 1, WindowState{}))

	h.AdvanceCursor(42, "@3", 100)
	assert.Equal(t, int64(100), h.Cursor(42, "@3"))

	h.AdvanceCursor(42, "@3", 50)
	assert.Equal(t, int64(100), h.Cursor(42, "@3"), "backward move is a no-op")

	h.AdvanceCursor(42, "@3", 150)
	assert.Equal(t, int64(150), h.Cursor(42, "@3"))
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StateFileName)

	h := New(path)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", -9, WindowState{Cwd: "/tmp/proj", WindowName: "proj"}))
	h.AdvanceCursor(42, "@3", 77)

	h2 := New(path)
	require.NoError(t, h2.Load())

	windowID, ok := h2.ResolveTopic(42, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", windowID)
	assert.Equal(t, int64(77), h2.Cursor(42, "@3"))

	subs := h2.SubscribersFor("@3")
	require.Len(t, subs, 1)
	assert.Equal(t, int64(7), subs[0].TopicID)
}

func TestResolveStaleIDsRewritesByDisplayName(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", -9, WindowState{Cwd: "/old", WindowName: "proj"}))
	h.AdvanceCursor(42, "@3", 50)

	// Multiplexer restarted; proj now lives at @11.
	live := []terminal.WindowInfo{{ID: "@11", Name: "proj", Cwd: "/tmp/proj"}}
	require.NoError(t, h.ResolveStaleIDs(live))

	windowID, ok := h.ResolveTopic(42, 7)
	require.True(t, ok)
	assert.Equal(t, "@11", windowID)

	ws, ok := h.Window("@11")
	require.True(t, ok)
	assert.Equal(t, "/tmp/proj", ws.Cwd)

	chatID, ok := h.ChatID(42, 7)
	require.True(t, ok)
	assert.Equal(t, int64(-9), chatID)

	assert.Equal(t, int64(50), h.Cursor(42, "@11"))
	assert.Zero(t, h.Cursor(42, "@3"))
}

func TestResolveStaleIDsDropsUnmatched(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "gone", 1, WindowState{WindowName: "gone"}))

	require.NoError(t, h.ResolveStaleIDs(nil))

	_, ok := h.ResolveTopic(42, 7)
	assert.False(t, ok)
}

func TestResolveStaleIDsDuplicateNamesFirstWins(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", 1, WindowState{WindowName: "proj"}))
	require.NoError(t, h.Bind(42, 8, "@4", "proj", 1, WindowState{WindowName: "proj"}))

	// Only one live window carries the shared name; the other binding drops.
	live := []terminal.WindowInfo{{ID: "@11", Name: "proj", Cwd: "/a"}}
	require.NoError(t, h.ResolveStaleIDs(live))

	bound := 0
	if _, ok := h.ResolveTopic(42, 7); ok {
		bound++
	}
	if _, ok := h.ResolveTopic(42, 8); ok {
		bound++
	}
	assert.Equal(t, 1, bound)
}

func TestResolveStaleIDsFixedPoint(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "proj", -9, WindowState{WindowName: "proj"}))
	require.NoError(t, h.Bind(42, 9, "@5", "alive", -9, WindowState{WindowName: "alive"}))

	live := []terminal.WindowInfo{
		{ID: "@11", Name: "proj", Cwd: "/a"},
		{ID: "@5", Name: "alive", Cwd: "/b"},
	}
	require.NoError(t, h.ResolveStaleIDs(live))
	first, _ := h.ResolveTopic(42, 7)
	alive, _ := h.ResolveTopic(42, 9)

	require.NoError(t, h.ResolveStaleIDs(live))
	second, _ := h.ResolveTopic(42, 7)
	aliveAfter, _ := h.ResolveTopic(42, 9)

	assert.Equal(t, first, second)
	assert.Equal(t, "@5", alive)
	assert.Equal(t, alive, aliveAfter)
}

func TestBoundWindows(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "a", 1, WindowState{}))
	require.NoError(t, h.Bind(43, 2, "@4", "b", 1, WindowState{}))

	windows := h.BoundWindows()
	assert.ElementsMatch(t, []string{"@3", "@4"}, windows)
}

func TestRebindTopicReleasesOldWindow(t *testing.T) {
	h := newHub(t)
	require.NoError(t, h.Bind(42, 7, "@3", "a", 1, WindowState{}))
	require.NoError(t, h.Bind(42, 7, "@4", "b", 1, WindowState{}))

	windowID, _ := h.ResolveTopic(42, 7)
	assert.Equal(t, "@4", windowID)
	_, ok := h.Window("@3")
	assert.False(t, ok)

	// @3 is free for someone else now.
	assert.NoError(t, h.Bind(43, 1, "@3", "a", 1, WindowState{}))
}
