// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/ccbot/internal/sessionmap"
	"github.com/wingedpig/ccbot/internal/transcript"
)

const (
	sessA = "aaaaaaaa-0000-0000-0000-000000000001"
	sessB = "bbbbbbbb-0000-0000-0000-000000000002"
)

type fixture struct {
	dir     string
	home    string
	smap    *sessionmap.Store
	offsets *OffsetStore
	mon     *Monitor
	events  []NewMessage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		home:    filepath.Join(dir, "home"),
		smap:    sessionmap.NewStore(filepath.Join(dir, sessionmap.FileName)),
		offsets: NewOffsetStore(filepath.Join(dir, OffsetFileName)),
	}
	f.mon = New(time.Second, "ccbot", f.smap, f.offsets, func(msg NewMessage) {
		f.events = append(f.events, msg)
	})
	f.mon.home = f.home
	return f
}

// writeTranscript appends lines to the transcript file for (cwd, session).
func (f *fixture) writeTranscript(t *testing.T, cwd, sessionID, content string) string {
	t.Helper()
	encoded := ""
	for _, c := range cwd {
		if c == '/' {
			encoded += "-"
		} else {
			encoded += string(c)
		}
	}
	path := filepath.Join(f.home, ".claude", "projects", encoded, sessionID+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer fh.Close()
	_, err = fh.WriteString(content)
	require.NoError(t, err)
	return path
}

func textLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"%s"}]}}`+"\n", text)
}

func (f *fixture) bind(t *testing.T, windowID, sessionID, cwd string) {
	t.Helper()
	require.NoError(t, f.smap.Put(sessionmap.Key("ccbot", windowID), sessionmap.Entry{
		SessionID:  sessionID,
		Cwd:        cwd,
		WindowName: "proj",
	}))
}

func TestStartupCatchUpSkipsExistingContent(t *testing.T) {
	f := newFixture(t)
	f.writeTranscript(t, "/tmp/proj", sessA, textLine("old content"))
	f.bind(t, "@3", sessA, "/tmp/proj")

	f.mon.tick(context.Background())
	assert.Empty(t, f.events, "pre-existing content must not be delivered")

	f.writeTranscript(t, "/tmp/proj", sessA, textLine("new content"))
	bumpMtime(t, f, sessA)
	f.mon.tick(context.Background())

	require.Len(t, f.events, 1)
	assert.Equal(t, "new content", f.events[0].Text)
	assert.Equal(t, "@3", f.events[0].WindowID)
	assert.Equal(t, transcript.ContentText, f.events[0].ContentType)
}

func TestNewSessionAtRuntimeDeliversFromStart(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background()) // startup with empty map

	f.writeTranscript(t, "/tmp/proj", sessA, textLine("hello"))
	f.bind(t, "@4", sessA, "/tmp/proj")
	f.mon.tick(context.Background())

	require.Len(t, f.events, 1)
	assert.Equal(t, "hello", f.events[0].Text)
}

func TestSessionRotationTracksFreshFromEOF(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	f.writeTranscript(t, "/tmp/proj", sessA, textLine("a1"))
	f.bind(t, "@5", sessA, "/tmp/proj")
	f.mon.tick(context.Background())
	require.Len(t, f.events, 1)

	// Rotation: same window, new session with pre-seeded preamble.
	f.writeTranscript(t, "/tmp/proj", sessB, textLine("preamble"))
	f.bind(t, "@5", sessB, "/tmp/proj")
	f.mon.tick(context.Background())

	// Old offset row is gone, new one tracked at EOF, preamble not replayed.
	_, ok := f.offsets.Get(sessA)
	assert.False(t, ok)
	row, ok := f.offsets.Get(sessB)
	require.True(t, ok)
	assert.Greater(t, row.LastByteOffset, int64(0))
	assert.Len(t, f.events, 1, "no retro-delivery after rotation")

	f.writeTranscript(t, "/tmp/proj", sessB, textLine("fresh"))
	bumpMtime(t, f, sessB)
	f.mon.tick(context.Background())
	require.Len(t, f.events, 2)
	assert.Equal(t, "fresh", f.events[1].Text)
}

func TestPartialLineNotConsumed(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	path := f.writeTranscript(t, "/tmp/proj", sessA, textLine("complete"))
	// Partial trailing line without newline.
	f.writeTranscript(t, "/tmp/proj", sessA, `{"type":"assistant","message":`)
	f.bind(t, "@6", sessA, "/tmp/proj")
	f.mon.tick(context.Background())

	require.Len(t, f.events, 1)
	row, _ := f.offsets.Get(sessA)
	assert.Equal(t, int64(len(textLine("complete"))), row.LastByteOffset)

	// Completing the line delivers it on the next cycle.
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = fh.WriteString(`{"role":"assistant","content":[{"type":"text","text":"finished"}]}}` + "\n")
	require.NoError(t, err)
	fh.Close()
	bumpMtime(t, f, sessA)

	f.mon.tick(context.Background())
	require.Len(t, f.events, 2)
	assert.Equal(t, "finished", f.events[1].Text)
}

func TestMalformedLineSkippedButAdvanced(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	bad := "this is not json at all {{{\n"
	f.writeTranscript(t, "/tmp/proj", sessA, bad+textLine("after"))
	f.bind(t, "@7", sessA, "/tmp/proj")
	f.mon.tick(context.Background())

	require.Len(t, f.events, 1)
	assert.Equal(t, "after", f.events[0].Text)
	row, _ := f.offsets.Get(sessA)
	assert.Equal(t, int64(len(bad)+len(textLine("after"))), row.LastByteOffset)
}

func TestTruncationResetsToZero(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	path := f.writeTranscript(t, "/tmp/proj", sessA, textLine("one")+textLine("two"))
	f.bind(t, "@8", sessA, "/tmp/proj")
	f.mon.tick(context.Background())
	require.Len(t, f.events, 2)

	// Truncate and rewrite shorter content.
	require.NoError(t, os.WriteFile(path, []byte(textLine("re")), 0644))
	bumpMtime(t, f, sessA)
	f.mon.tick(context.Background())

	require.Len(t, f.events, 3)
	assert.Equal(t, "re", f.events[2].Text)
}

func TestRestartDoesNotRedeliver(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	f.writeTranscript(t, "/tmp/proj", sessA, textLine("once"))
	f.bind(t, "@9", sessA, "/tmp/proj")
	f.mon.tick(context.Background())
	require.Len(t, f.events, 1)

	// Simulate a bridge restart: fresh monitor over the same stores.
	offsets2 := NewOffsetStore(filepath.Join(f.dir, OffsetFileName))
	require.NoError(t, offsets2.Load())
	var replayed []NewMessage
	mon2 := New(time.Second, "ccbot", f.smap, offsets2, func(msg NewMessage) {
		replayed = append(replayed, msg)
	})
	mon2.home = f.home
	mon2.tick(context.Background())

	assert.Empty(t, replayed, "restart must not replay delivered entries")
}

func TestEntryDisappearedDropsSession(t *testing.T) {
	f := newFixture(t)
	f.mon.tick(context.Background())

	f.writeTranscript(t, "/tmp/proj", sessA, textLine("x"))
	f.bind(t, "@10", sessA, "/tmp/proj")
	f.mon.tick(context.Background())
	_, ok := f.offsets.Get(sessA)
	require.True(t, ok)

	require.NoError(t, f.smap.Remove(sessionmap.Key("ccbot", "@10")))
	f.mon.tick(context.Background())
	_, ok = f.offsets.Get(sessA)
	assert.False(t, ok)
}

// bumpMtime forces a visible mtime change so the poll does not skip the
// file on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, f *fixture, sessionID string) {
	t.Helper()
	tf, ok := f.mon.tracked[sessionID]
	require.True(t, ok)
	future := time.Now().Add(time.Duration(len(f.events)+1) * time.Second)
	require.NoError(t, os.Chtimes(tf.path, future, future))
}
