// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionmap reads and writes the hook-maintained file linking tmux
// windows to agent sessions. The bridge only reads it; the SessionStart hook
// subcommand is the sole writer.
package sessionmap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the session map file name inside the config directory.
const FileName = "session_map.json"

// Entry links one tmux window to one agent session.
type Entry struct {
	SessionID  string `json:"session_id"`
	Cwd        string `json:"cwd"`
	WindowName string `json:"window_name"`
}

// Data maps "mux_session:window_id" keys to entries.
type Data map[string]Entry

// Key builds the composite key for a window.
func Key(muxSession, windowID string) string {
	return muxSession + ":" + windowID
}

// Store reads and writes the session map file.
type Store struct {
	filePath string
}

// NewStore creates a store at the given file path.
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Path returns the file path backing this store.
func (s *Store) Path() string {
	return s.filePath
}

// Load reads the session map from disk. Returns an empty map if the file
// does not exist.
func (s *Store) Load() (Data, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Data), nil
		}
		return nil, fmt.Errorf("read session map: %w", err)
	}
	if len(data) == 0 {
		return make(Data), nil
	}
	var m Data
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse session map: %w", err)
	}
	return m, nil
}

// Put inserts or replaces one entry and rewrites the file atomically.
// Used by the hook subcommand.
func (s *Store) Put(key string, entry Entry) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	m[key] = entry
	return s.save(m)
}

// Remove deletes one entry if present.
func (s *Store) Remove(key string) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

// save writes the map to disk atomically (write tmp + rename).
func (s *Store) save(m Data) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session map: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session map dir: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp session map: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename session map: %w", err)
	}
	return nil
}
