// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hook consumes one SessionStart payload from the agent and writes
// the corresponding session-map entry. It runs as the short-lived `ccbot
// hook` subcommand inside the agent's pane.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"github.com/wingedpig/ccbot/internal/sessionmap"
	"github.com/wingedpig/ccbot/internal/terminal"
)

// Payload is the SessionStart event shape on stdin.
type Payload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
}

// PaneInfo locates the pane the hook is running in.
type PaneInfo struct {
	MuxSession string
	WindowID   string
	WindowName string
}

// PaneResolver resolves the current pane; injectable for tests.
type PaneResolver func(ctx context.Context) (PaneInfo, error)

// Run reads one payload, resolves the surrounding pane, and writes one
// session-map entry.
func Run(ctx context.Context, stdin io.Reader, store *sessionmap.Store, resolve PaneResolver) error {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read hook payload: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse hook payload: %w", err)
	}
	if _, err := uuid.Parse(payload.SessionID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", payload.SessionID, err)
	}
	if payload.Cwd == "" {
		return fmt.Errorf("hook payload has no cwd")
	}

	pane, err := resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve pane: %w", err)
	}
	if !terminal.WindowIDPattern.MatchString(pane.WindowID) {
		return fmt.Errorf("unexpected window id %q", pane.WindowID)
	}

	return store.Put(sessionmap.Key(pane.MuxSession, pane.WindowID), sessionmap.Entry{
		SessionID:  payload.SessionID,
		Cwd:        payload.Cwd,
		WindowName: pane.WindowName,
	})
}

// ResolvePaneFromEnv locates the pane via $TMUX_PANE.
func ResolvePaneFromEnv(ctx context.Context) (PaneInfo, error) {
	paneID := os.Getenv("TMUX_PANE")
	if paneID == "" {
		return PaneInfo{}, fmt.Errorf("TMUX_PANE is not set; not running inside tmux")
	}

	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-p", "-t", paneID,
		"#{session_name}\t#{window_id}\t#{window_name}")
	output, err := cmd.Output()
	if err != nil {
		return PaneInfo{}, fmt.Errorf("tmux display-message: %w", err)
	}

	fields := strings.SplitN(strings.TrimSpace(string(output)), "\t", 3)
	if len(fields) < 3 {
		return PaneInfo{}, fmt.Errorf("unexpected display-message output %q", output)
	}
	return PaneInfo{MuxSession: fields[0], WindowID: fields[1], WindowName: fields[2]}, nil
}
