// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package terminal wraps the tmux control plane behind an executor interface.
package terminal

import (
	"context"
	"errors"
	"regexp"
)

// ErrWindowNotFound is returned when a window ID or name does not resolve
// to a live tmux window. The routing layer treats it as an external kill.
var ErrWindowNotFound = errors.New("window not found")

// WindowIDPattern matches tmux window IDs like "@12".
var WindowIDPattern = regexp.MustCompile(`^@[0-9]+$`)

// WindowInfo describes one live tmux window.
type WindowInfo struct {
	ID             string `json:"id"`   // Opaque tmux handle, "@12"
	Name           string `json:"name"` // Display name
	Cwd            string `json:"cwd"`  // Pane current path
	CurrentCommand string `json:"current_command"`
}

// TmuxExecutor executes tmux commands.
type TmuxExecutor interface {
	// HasSession checks if a session exists.
	HasSession(ctx context.Context, session string) bool
	// NewSession creates a new detached session with a first window name.
	NewSession(ctx context.Context, session, firstWindowName string) error
	// ListWindows lists windows in a session.
	ListWindows(ctx context.Context, session string) ([]WindowInfo, error)
	// NewWindow creates a window at workdir and returns its window ID.
	NewWindow(ctx context.Context, session, name, workdir string) (string, error)
	// KillWindow kills a window by ID.
	KillWindow(ctx context.Context, session, windowID string) error
	// SendKeys sends keys to a window's active pane.
	SendKeys(ctx context.Context, session, windowID, keys string, literal bool) error
	// CapturePane captures the visible pane content.
	CapturePane(ctx context.Context, session, windowID string, withANSI bool) (string, error)
}
