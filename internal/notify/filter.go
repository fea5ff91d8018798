// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package notify implements the per-content-type notification filter.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hjson/hjson-go/v4"
	"github.com/wingedpig/ccbot/internal/transcript"
)

// FileName is the filter file name inside the config directory.
const FileName = "notify.json"

// filterable lists the content types the filter governs. Interactive
// prompts and in-place edits always go through.
var filterable = []transcript.ContentType{
	transcript.ContentText,
	transcript.ContentThinking,
	transcript.ContentToolUse,
	transcript.ContentToolResult,
	transcript.ContentToolError,
	transcript.ContentLocalCommand,
	transcript.ContentUser,
}

// Filter decides which content types are delivered.
type Filter struct {
	mu      sync.RWMutex
	path    string
	enabled map[transcript.ContentType]bool
}

// Load reads the filter file, creating it with everything enabled on first
// use.
func Load(path string) (*Filter, error) {
	f := &Filter{path: path, enabled: make(map[transcript.ContentType]bool)}
	for _, ct := range filterable {
		f.enabled[ct] = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := f.save(); err != nil {
				return nil, err
			}
			return f, nil
		}
		return nil, fmt.Errorf("read notify file: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse notify file: %w", err)
	}
	for key, val := range raw {
		if b, ok := val.(bool); ok {
			f.enabled[transcript.ContentType(key)] = b
		}
	}
	return f, nil
}

// Allows reports whether a content type should be delivered. Unknown types
// (interactive prompts among them) always pass.
func (f *Filter) Allows(ct transcript.ContentType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	enabled, known := f.enabled[ct]
	if !known {
		return true
	}
	return enabled
}

// Set flips one content type and persists.
func (f *Filter) Set(ct transcript.ContentType, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[ct] = enabled
	return f.save()
}

// save writes the filter atomically. Callers hold the lock (or own the
// filter exclusively during Load).
func (f *Filter) save() error {
	out := make(map[string]bool, len(f.enabled))
	for ct, enabled := range f.enabled {
		out[string(ct)] = enabled
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal notify file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create notify dir: %w", err)
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp notify file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename notify file: %w", err)
	}
	return nil
}
