// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), FileName))
	m, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestPutAndLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), FileName))

	entry := Entry{
		SessionID:  "3f1b0a52-9f1c-4c9e-9a38-6a2b1a9f0c11",
		Cwd:        "/tmp/proj",
		WindowName: "proj",
	}
	require.NoError(t, s.Put(Key("ccbot", "@3"), entry))

	m, err := s.Load()
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, entry, m["ccbot:@3"])

	// Replacing the same key (session rotation after /clear).
	entry.SessionID = "b7e2d4c0-1111-4c9e-9a38-6a2b1a9f0c11"
	require.NoError(t, s.Put(Key("ccbot", "@3"), entry))

	m, err = s.Load()
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "b7e2d4c0-1111-4c9e-9a38-6a2b1a9f0c11", m["ccbot:@3"].SessionID)
}

func TestRemove(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, s.Put("ccbot:@1", Entry{SessionID: "a"}))
	require.NoError(t, s.Remove("ccbot:@1"))
	require.NoError(t, s.Remove("ccbot:@1")) // absent key is fine

	m, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewStore(path).Load()
	assert.Error(t, err)
}
