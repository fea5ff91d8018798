// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hjson/hjson-go/v4"
	"github.com/joho/godotenv"
)

// Loader handles configuration loading from environment, dotenv files, and
// an optional HJSON defaults file in the config directory.
type Loader struct {
	// lookup is the environment lookup function; overridable for tests.
	lookup func(string) (string, bool)
}

// NewLoader creates a new config loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// Load assembles the configuration. Precedence, first wins:
// process environment, ./.env, <config_dir>/.env, ccbot.hjson defaults,
// built-in defaults.
func (l *Loader) Load() (*Config, error) {
	env := map[string]string{}

	// Dotenv files never override values already present.
	for _, path := range []string{".env"} {
		if vals, err := godotenv.Read(path); err == nil {
			for k, v := range vals {
				if _, ok := env[k]; !ok {
					env[k] = v
				}
			}
		}
	}

	get := func(key string) string {
		if v, ok := l.lookup(key); ok {
			return v
		}
		return env[key]
	}

	cfgDir := get("CCBOT_CONFIG_DIR")
	if cfgDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfgDir = filepath.Join(home, ".ccbot")
	}

	// A second dotenv file may live in the config directory.
	if vals, err := godotenv.Read(filepath.Join(cfgDir, ".env")); err == nil {
		for k, v := range vals {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}

	cfg := &Config{}

	// HJSON defaults sit below the environment.
	if fileCfg, err := l.loadFile(filepath.Join(cfgDir, "ccbot.hjson")); err == nil && fileCfg != nil {
		*cfg = *fileCfg
	}

	cfg.ConfigDir = cfgDir
	if v := get("CCBOT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := get("CCBOT_ALLOWED_USERS"); v != "" {
		users, err := ParseUserList(v)
		if err != nil {
			return nil, fmt.Errorf("CCBOT_ALLOWED_USERS: %w", err)
		}
		cfg.AllowedUsers = users
	}
	if v := get("CCBOT_TMUX_SESSION"); v != "" {
		cfg.TmuxSession = v
	}
	if v := get("CCBOT_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if v := get("CCBOT_POLL_INTERVAL"); v != "" {
		cfg.PollIntervalRaw = v
	}
	if v := get("CCBOT_STATUS_INTERVAL"); v != "" {
		cfg.StatusIntervalRaw = v
	}
	if v := get("CCBOT_SEND_GAP"); v != "" {
		cfg.SendGapRaw = v
	}
	if v := get("CCBOT_SHELL_TIMEOUT"); v != "" {
		cfg.ShellTimeoutRaw = v
	}
	if v := get("CCBOT_SHELL_OUTPUT_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.ShellOutputLimit)
	}
	if v := get("CCBOT_DEBUG_ADDR"); v != "" {
		cfg.DebugAddr = v
	}

	applyDefaults(cfg)
	return cfg, nil
}

// loadFile reads an HJSON config file. Returns (nil, nil) if absent.
func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map, then through JSON for type safety.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.TmuxSession == "" {
		cfg.TmuxSession = "ccbot"
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = "claude"
	}
	cfg.PollInterval = ParseDuration(cfg.PollIntervalRaw, 2*time.Second)
	cfg.StatusInterval = ParseDuration(cfg.StatusIntervalRaw, time.Second)
	cfg.SendGap = ParseDuration(cfg.SendGapRaw, 1100*time.Millisecond)
	cfg.ShellTimeout = ParseDuration(cfg.ShellTimeoutRaw, 30*time.Second)
	if cfg.ShellOutputLimit == 0 {
		cfg.ShellOutputLimit = 64 * 1024
	}
}
