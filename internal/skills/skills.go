// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package skills manages the skill alias map: chat-safe command names that
// translate to the agent's native slash commands.
package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"
)

// FileName is the skills file name inside the config directory.
const FileName = "skills.json"

// NamePattern constrains chat-safe skill names.
var NamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// NativeCommands are the bridge's own command names; aliases must not
// collide with them.
var NativeCommands = map[string]bool{
	"start":      true,
	"history":    true,
	"resume":     true,
	"screenshot": true,
	"esc":        true,
	"use":        true,
	"new":        true,
}

// Skill is one alias entry.
type Skill struct {
	Command     string `json:"command"` // native slash command, e.g. "/gsd:progress"
	Description string `json:"description"`
}

// Map holds all aliases keyed by chat-safe name.
type Map map[string]Skill

// Load reads the skills file. Missing file yields an empty map. The file
// is parsed leniently so users may keep comments in it.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Map), nil
		}
		return nil, fmt.Errorf("read skills file: %w", err)
	}
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse skills file: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert skills file: %w", err)
	}
	var m Map
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("unmarshal skills file: %w", err)
	}
	return m, nil
}

// Save writes the map atomically.
func Save(path string, m Map) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp skills file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename skills file: %w", err)
	}
	return nil
}

// ValidateName checks that a name is chat-safe and free of collisions.
func ValidateName(name string) error {
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid skill name %q", name)
	}
	if NativeCommands[name] {
		return fmt.Errorf("skill name %q collides with a native command", name)
	}
	return nil
}

// frontmatter is the YAML header of a command definition file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Sync scans <projectDir>/.claude/commands/ for markdown command files and
// builds the alias map from their frontmatter. File names become native
// command names; directories add a namespace (gsd/progress.md ->
// /gsd:progress, alias gsd_progress).
func Sync(projectDir string) (Map, error) {
	commandsDir := filepath.Join(projectDir, ".claude", "commands")
	m := make(Map)

	err := filepath.Walk(commandsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		rel, err := filepath.Rel(commandsDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(strings.TrimSuffix(rel, ".md"), string(filepath.Separator))
		native := "/" + strings.Join(parts, ":")
		alias := sanitizeName(strings.Join(parts, "_"))

		if err := ValidateName(alias); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}

		fm, err := readFrontmatter(path)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}

		m[alias] = Skill{Command: native, Description: fm.Description}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// readFrontmatter extracts the YAML block between the leading "---" fences.
// A file without frontmatter yields an empty description.
func readFrontmatter(path string) (frontmatter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frontmatter{}, err
	}

	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return frontmatter{}, nil
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontmatter{}, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontmatter{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, nil
}

// sanitizeName lowers a candidate alias into the chat-safe alphabet.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '_' || c == '-' || c == ':':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Names returns the alias names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Translate rewrites an alias into its native command, returning the input
// unchanged when no alias matches.
func (m Map) Translate(name string) (string, bool) {
	if s, ok := m[name]; ok {
		return s.Command, true
	}
	return name, false
}
