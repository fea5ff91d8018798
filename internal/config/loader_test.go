// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(env map[string]string) *Loader {
	return &Loader{lookup: func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	l := testLoader(map[string]string{
		"CCBOT_CONFIG_DIR":    dir,
		"CCBOT_TOKEN":         "tok",
		"CCBOT_ALLOWED_USERS": "42",
	})

	cfg, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ccbot", cfg.TmuxSession)
	assert.Equal(t, "claude", cfg.AgentCommand)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.StatusInterval)
	assert.Equal(t, 1100*time.Millisecond, cfg.SendGap)
	assert.Equal(t, 30*time.Second, cfg.ShellTimeout)
	assert.Equal(t, 64*1024, cfg.ShellOutputLimit)
	assert.Empty(t, cfg.DebugAddr)
}

func TestLoadMissingRequired(t *testing.T) {
	dir := t.TempDir()
	l := testLoader(map[string]string{"CCBOT_CONFIG_DIR": dir})

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	hjsonPath := filepath.Join(dir, "ccbot.hjson")
	require.NoError(t, os.WriteFile(hjsonPath, []byte(`{
  // comments are allowed here
  tmux_session: filesession
  agent_command: claude-from-file
  poll_interval: 5s
}`), 0644))

	l := testLoader(map[string]string{
		"CCBOT_CONFIG_DIR":    dir,
		"CCBOT_TOKEN":         "tok",
		"CCBOT_ALLOWED_USERS": "1,2",
		"CCBOT_TMUX_SESSION":  "envsession",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "envsession", cfg.TmuxSession)
	assert.Equal(t, "claude-from-file", cfg.AgentCommand)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, []int64{1, 2}, cfg.AllowedUsers)
}

func TestLoadDotenvInConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CCBOT_TOKEN=dotenv-token\nCCBOT_ALLOWED_USERS=7\n"), 0644))

	l := testLoader(map[string]string{"CCBOT_CONFIG_DIR": dir})
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "dotenv-token", cfg.Token)
	assert.Equal(t, []int64{7}, cfg.AllowedUsers)
}

func TestParseUserList(t *testing.T) {
	tests := []struct {
		input   string
		want    []int64
		wantErr bool
	}{
		{"42", []int64{42}, false},
		{"1, 2,3", []int64{1, 2, 3}, false},
		{"", nil, false},
		{"abc", nil, true},
		{"0", nil, true},
		{"-5", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseUserList(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserAllowed(t *testing.T) {
	cfg := &Config{AllowedUsers: []int64{42, 99}}
	assert.True(t, cfg.UserAllowed(42))
	assert.False(t, cfg.UserAllowed(7))
}
