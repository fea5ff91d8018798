// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// hookCommand is the command line registered with the agent.
const hookCommand = "ccbot hook"

// Install appends the SessionStart hook declaration to the agent's settings
// file. Running it again is a no-op.
func Install(settingsPath string) error {
	settings := map[string]interface{}{}
	data, err := os.ReadFile(settingsPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read settings: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
	}

	hooks, _ := settings["hooks"].(map[string]interface{})
	if hooks == nil {
		hooks = map[string]interface{}{}
		settings["hooks"] = hooks
	}
	sessionStart, _ := hooks["SessionStart"].([]interface{})

	if hasHookCommand(sessionStart) {
		return nil
	}

	sessionStart = append(sessionStart, map[string]interface{}{
		"hooks": []interface{}{
			map[string]interface{}{
				"type":    "command",
				"command": hookCommand,
			},
		},
	})
	hooks["SessionStart"] = sessionStart

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}

// hasHookCommand reports whether the hook command is already declared.
func hasHookCommand(sessionStart []interface{}) bool {
	for _, matcher := range sessionStart {
		m, ok := matcher.(map[string]interface{})
		if !ok {
			continue
		}
		inner, _ := m["hooks"].([]interface{})
		for _, h := range inner {
			hm, ok := h.(map[string]interface{})
			if !ok {
				continue
			}
			if hm["command"] == hookCommand {
				return true
			}
		}
	}
	return false
}

// DefaultSettingsPath returns the agent's settings file location.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}
