// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// HomeWindowName is the name of the persistent window that anchors the
// bridge's tmux session. It is excluded from all enumeration.
const HomeWindowName = "home"

// Adapter is the bridge's view of one tmux session. All operations may
// block on subprocess I/O; callers run them off the event thread.
type Adapter struct {
	tmux    TmuxExecutor
	session string
}

// NewAdapter creates an adapter bound to the named tmux session.
func NewAdapter(tmux TmuxExecutor, session string) *Adapter {
	return &Adapter{tmux: tmux, session: session}
}

// Session returns the tmux session name this adapter targets.
func (a *Adapter) Session() string {
	return a.session
}

// EnsureSession creates the bridge session (with its home window) if it does
// not exist. Called once at startup; an error here is fatal.
func (a *Adapter) EnsureSession(ctx context.Context) error {
	if a.tmux.HasSession(ctx, a.session) {
		return nil
	}
	if !tmuxServerRunning() {
		log.Printf("[terminal] no tmux server process found, starting one")
	}
	if err := a.tmux.NewSession(ctx, a.session, HomeWindowName); err != nil {
		return fmt.Errorf("create session %s: %w", a.session, err)
	}
	return nil
}

// ListWindows returns all windows except the home window.
func (a *Adapter) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	windows, err := a.tmux.ListWindows(ctx, a.session)
	if err != nil {
		return nil, err
	}
	result := make([]WindowInfo, 0, len(windows))
	for _, w := range windows {
		if w.Name == HomeWindowName {
			continue
		}
		result = append(result, w)
	}
	return result, nil
}

// FindByID returns the window with the given ID, or ErrWindowNotFound.
func (a *Adapter) FindByID(ctx context.Context, windowID string) (WindowInfo, error) {
	windows, err := a.ListWindows(ctx)
	if err != nil {
		return WindowInfo{}, err
	}
	for _, w := range windows {
		if w.ID == windowID {
			return w, nil
		}
	}
	return WindowInfo{}, ErrWindowNotFound
}

// FindByName returns the first window with the given name, or
// ErrWindowNotFound. tmux allows duplicate names briefly; list order makes
// the pick deterministic.
func (a *Adapter) FindByName(ctx context.Context, name string) (WindowInfo, error) {
	windows, err := a.ListWindows(ctx)
	if err != nil {
		return WindowInfo{}, err
	}
	for _, w := range windows {
		if w.Name == name {
			return w, nil
		}
	}
	return WindowInfo{}, ErrWindowNotFound
}

// CreateWindow opens a window at cwd, starts startCommand in it, and returns
// the window ID and final name. On a name collision the name gets a -2, -3,
// ... suffix until unique.
func (a *Adapter) CreateWindow(ctx context.Context, cwd, desiredName, startCommand string) (string, string, error) {
	existing, err := a.tmux.ListWindows(ctx, a.session)
	if err != nil {
		return "", "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, w := range existing {
		taken[w.Name] = true
	}

	name := desiredName
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s-%d", desiredName, i)
	}

	windowID, err := a.tmux.NewWindow(ctx, a.session, name, cwd)
	if err != nil {
		return "", "", err
	}

	if startCommand != "" {
		if err := a.SendKeys(ctx, windowID, startCommand, true, true); err != nil {
			return windowID, name, fmt.Errorf("start command: %w", err)
		}
	}
	return windowID, name, nil
}

// KillWindow kills a window. Killing a window that is already gone is not
// an error.
func (a *Adapter) KillWindow(ctx context.Context, windowID string) error {
	err := a.tmux.KillWindow(ctx, a.session, windowID)
	if errors.Is(err, ErrWindowNotFound) {
		return nil
	}
	return err
}

// SendKeys delivers keys to a window. literal suppresses escape-sequence
// interpretation; appendEnter issues a subsequent Enter key only after the
// content was actually delivered.
func (a *Adapter) SendKeys(ctx context.Context, windowID, keys string, literal, appendEnter bool) error {
	if err := a.tmux.SendKeys(ctx, a.session, windowID, keys, literal); err != nil {
		return err
	}
	if appendEnter {
		return a.tmux.SendKeys(ctx, a.session, windowID, "Enter", false)
	}
	return nil
}

// SendControlKey sends a single named key (e.g. "Escape", "Enter") without
// literal interpretation.
func (a *Adapter) SendControlKey(ctx context.Context, windowID, key string) error {
	return a.tmux.SendKeys(ctx, a.session, windowID, key, false)
}

// CapturePane returns the visible pane content of a window.
func (a *Adapter) CapturePane(ctx context.Context, windowID string, withANSI bool) (string, error) {
	return a.tmux.CapturePane(ctx, a.session, windowID, withANSI)
}

// tmuxServerRunning reports whether any tmux server process exists. Used
// only to sharpen the startup log when the bridge session is missing.
func tmuxServerRunning() bool {
	procs, err := ps.Processes()
	if err != nil {
		return false
	}
	for _, p := range procs {
		if strings.HasPrefix(p.Executable(), "tmux") {
			return true
		}
	}
	return false
}
