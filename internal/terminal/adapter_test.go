// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTmuxExecutor for testing.
type MockTmuxExecutor struct {
	Sessions map[string]bool
	Windows  map[string][]WindowInfo
	Sent     []string // "windowID keys literal" records of SendKeys calls
	Captured string
	nextID   int
}

func NewMockTmuxExecutor() *MockTmuxExecutor {
	return &MockTmuxExecutor{
		Sessions: make(map[string]bool),
		Windows:  make(map[string][]WindowInfo),
		nextID:   1,
	}
}

func (m *MockTmuxExecutor) HasSession(ctx context.Context, session string) bool {
	return m.Sessions[session]
}

func (m *MockTmuxExecutor) NewSession(ctx context.Context, session, firstWindowName string) error {
	m.Sessions[session] = true
	if firstWindowName != "" {
		m.Windows[session] = append(m.Windows[session], WindowInfo{
			ID:   fmt.Sprintf("@%d", m.nextID),
			Name: firstWindowName,
		})
		m.nextID++
	}
	return nil
}

func (m *MockTmuxExecutor) ListWindows(ctx context.Context, session string) ([]WindowInfo, error) {
	return m.Windows[session], nil
}

func (m *MockTmuxExecutor) NewWindow(ctx context.Context, session, name, workdir string) (string, error) {
	id := fmt.Sprintf("@%d", m.nextID)
	m.nextID++
	m.Windows[session] = append(m.Windows[session], WindowInfo{ID: id, Name: name, Cwd: workdir})
	return id, nil
}

func (m *MockTmuxExecutor) KillWindow(ctx context.Context, session, windowID string) error {
	windows := m.Windows[session]
	for i, w := range windows {
		if w.ID == windowID {
			m.Windows[session] = append(windows[:i], windows[i+1:]...)
			return nil
		}
	}
	return ErrWindowNotFound
}

func (m *MockTmuxExecutor) SendKeys(ctx context.Context, session, windowID, keys string, literal bool) error {
	for _, w := range m.Windows[session] {
		if w.ID == windowID {
			m.Sent = append(m.Sent, fmt.Sprintf("%s %s %v", windowID, keys, literal))
			return nil
		}
	}
	return ErrWindowNotFound
}

func (m *MockTmuxExecutor) CapturePane(ctx context.Context, session, windowID string, withANSI bool) (string, error) {
	for _, w := range m.Windows[session] {
		if w.ID == windowID {
			return m.Captured, nil
		}
	}
	return "", ErrWindowNotFound
}

func TestParseWindowList(t *testing.T) {
	output := "@1\thome\t/root\tbash\n@3\tproj\t/tmp/proj\tclaude\n"
	windows := parseWindowList(output)
	require.Len(t, windows, 2)

	assert.Equal(t, "@1", windows[0].ID)
	assert.Equal(t, "home", windows[0].Name)
	assert.Equal(t, "/root", windows[0].Cwd)
	assert.Equal(t, "bash", windows[0].CurrentCommand)

	assert.Equal(t, "@3", windows[1].ID)
	assert.Equal(t, "proj", windows[1].Name)
	assert.Equal(t, "claude", windows[1].CurrentCommand)
}

func TestParseWindowListSkipsGarbage(t *testing.T) {
	output := "garbage line\n@2\tdev\t/home\tvim\n\n"
	windows := parseWindowList(output)
	require.Len(t, windows, 1)
	assert.Equal(t, "@2", windows[0].ID)
}

func TestAdapterExcludesHomeWindow(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	_, err := mock.NewWindow(context.Background(), "ccbot", "proj", "/tmp/proj")
	require.NoError(t, err)

	windows, err := a.ListWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "proj", windows[0].Name)
}

func TestCreateWindowNameCollision(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	_, name1, err := a.CreateWindow(context.Background(), "/tmp/proj", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, "proj", name1)

	_, name2, err := a.CreateWindow(context.Background(), "/tmp/proj", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-2", name2)

	_, name3, err := a.CreateWindow(context.Background(), "/tmp/proj", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-3", name3)
}

func TestCreateWindowStartCommand(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	id, _, err := a.CreateWindow(context.Background(), "/tmp/proj", "proj", "claude")
	require.NoError(t, err)

	require.Len(t, mock.Sent, 2)
	assert.Equal(t, id+" claude true", mock.Sent[0])
	assert.Equal(t, id+" Enter false", mock.Sent[1])
}

func TestKillWindowIdempotent(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	id, _, err := a.CreateWindow(context.Background(), "/tmp", "w", "")
	require.NoError(t, err)

	require.NoError(t, a.KillWindow(context.Background(), id))
	// Second kill of a gone window is not an error.
	require.NoError(t, a.KillWindow(context.Background(), id))
}

func TestFindByNameAndID(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	id, _, err := a.CreateWindow(context.Background(), "/tmp/proj", "proj", "")
	require.NoError(t, err)

	byID, err := a.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "proj", byID.Name)

	byName, err := a.FindByName(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	_, err = a.FindByID(context.Background(), "@999")
	assert.ErrorIs(t, err, ErrWindowNotFound)

	_, err = a.FindByName(context.Background(), HomeWindowName)
	assert.ErrorIs(t, err, ErrWindowNotFound)
}

func TestSendKeysAppendEnterOnlyAfterDelivery(t *testing.T) {
	mock := NewMockTmuxExecutor()
	a := NewAdapter(mock, "ccbot")
	require.NoError(t, a.EnsureSession(context.Background()))

	err := a.SendKeys(context.Background(), "@999", "hi", true, true)
	assert.ErrorIs(t, err, ErrWindowNotFound)
	// No Enter was sent after the failed delivery.
	assert.Empty(t, mock.Sent)
}
