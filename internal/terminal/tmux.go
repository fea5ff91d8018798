// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RealTmuxExecutor executes real tmux commands.
type RealTmuxExecutor struct{}

// NewRealTmuxExecutor creates a new tmux executor.
func NewRealTmuxExecutor() *RealTmuxExecutor {
	return &RealTmuxExecutor{}
}

// HasSession checks if a session exists.
func (e *RealTmuxExecutor) HasSession(ctx context.Context, session string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", session)
	return cmd.Run() == nil
}

// NewSession creates a new detached tmux session with a first window name.
func (e *RealTmuxExecutor) NewSession(ctx context.Context, session, firstWindowName string) error {
	args := []string{"new-session", "-d", "-s", session}
	if firstWindowName != "" {
		args = append(args, "-n", firstWindowName)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	// Ensure we're not inside another tmux session
	cmd.Env = filterTMUXEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux new-session failed: %s: %v", stderr.String(), err)
	}
	return nil
}

// windowListFormat yields tab-separated fields parsed by parseWindowList.
const windowListFormat = "#{window_id}\t#{window_name}\t#{pane_current_path}\t#{pane_current_command}"

// ListWindows lists windows in a session.
func (e *RealTmuxExecutor) ListWindows(ctx context.Context, session string) ([]WindowInfo, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-windows", "-t", session, "-F", windowListFormat)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows failed: %w", err)
	}
	return parseWindowList(string(output)), nil
}

// NewWindow creates a window at workdir and returns its window ID.
func (e *RealTmuxExecutor) NewWindow(ctx context.Context, session, name, workdir string) (string, error) {
	args := []string{"new-window", "-d", "-t", session, "-n", name, "-P", "-F", "#{window_id}"}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = filterTMUXEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux new-window failed: %s: %v", stderr.String(), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// KillWindow kills a window by ID.
func (e *RealTmuxExecutor) KillWindow(ctx context.Context, session, windowID string) error {
	target := fmt.Sprintf("%s:%s", session, windowID)
	cmd := exec.CommandContext(ctx, "tmux", "kill-window", "-t", target)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "can't find window") {
			return ErrWindowNotFound
		}
		return fmt.Errorf("tmux kill-window failed: %s: %v", stderr.String(), err)
	}
	return nil
}

// SendKeys sends keys to a window's active pane.
func (e *RealTmuxExecutor) SendKeys(ctx context.Context, session, windowID, keys string, literal bool) error {
	target := fmt.Sprintf("%s:%s", session, windowID)
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "can't find window") {
			return ErrWindowNotFound
		}
		return fmt.Errorf("tmux send-keys failed: %s: %v", stderr.String(), err)
	}
	return nil
}

// CapturePane captures the visible pane content.
func (e *RealTmuxExecutor) CapturePane(ctx context.Context, session, windowID string, withANSI bool) (string, error) {
	target := fmt.Sprintf("%s:%s", session, windowID)
	args := []string{"capture-pane", "-t", target, "-p"}
	if withANSI {
		args = append(args, "-e")
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if strings.Contains(stderr.String(), "can't find window") {
			return "", ErrWindowNotFound
		}
		return "", fmt.Errorf("tmux capture-pane failed: %s: %v", stderr.String(), err)
	}
	return string(output), nil
}

// filterTMUXEnv filters out TMUX environment variable.
func filterTMUXEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			result = append(result, e)
		}
	}
	return result
}

// parseWindowList parses list-windows output in windowListFormat.
func parseWindowList(output string) []WindowInfo {
	var windows []WindowInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 2 || !WindowIDPattern.MatchString(fields[0]) {
			continue
		}
		w := WindowInfo{ID: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			w.Cwd = fields[2]
		}
		if len(fields) > 3 {
			w.CurrentCommand = fields[3]
		}
		windows = append(windows, w)
	}
	return windows
}
