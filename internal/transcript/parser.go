// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript decodes agent session log lines into typed entries.
package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContentType classifies one parsed entry.
type ContentType string

const (
	ContentText              ContentType = "text"
	ContentThinking          ContentType = "thinking"
	ContentToolUse           ContentType = "tool_use"
	ContentToolResult        ContentType = "tool_result"
	ContentToolError         ContentType = "tool_error"
	ContentLocalCommand      ContentType = "local_command"
	ContentUser              ContentType = "user"
	ContentInteractivePrompt ContentType = "interactive_prompt"
)

// ThinkingLimit bounds how much reasoning text is kept per entry.
const ThinkingLimit = 500

// toolSummaryLimit bounds the one-line tool argument summary.
const toolSummaryLimit = 120

// ParsedEntry is one typed unit decoded from a transcript line.
type ParsedEntry struct {
	Role        string
	ContentType ContentType
	Text        string
	Timestamp   time.Time
	ToolUseID   string
	ToolName    string
}

// rawEntry mirrors the outer shape of one transcript line.
type rawEntry struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	IsMeta    bool            `json:"isMeta"`
	Message   json.RawMessage `json:"message"`
}

// rawMessage is the inner message payload.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one block of an assistant or user content array.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseLine decodes one complete transcript line into zero or more entries.
// Lines the bridge does not mirror (summaries, meta markers, system noise)
// yield an empty slice and no error.
func ParseLine(line []byte) ([]ParsedEntry, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}

	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, fmt.Errorf("decode transcript line: %w", err)
	}

	ts := parseTimestamp(entry.Timestamp)

	switch entry.Type {
	case "assistant":
		return parseAssistant(entry.Message, ts)
	case "user":
		if entry.IsMeta {
			return nil, nil
		}
		return parseUser(entry.Message, ts)
	default:
		// summary, system, and unknown entry types are not mirrored.
		return nil, nil
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseAssistant(raw json.RawMessage, ts time.Time) ([]ParsedEntry, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode assistant message: %w", err)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("decode assistant content: %w", err)
	}

	var entries []ParsedEntry
	for _, block := range blocks {
		switch block.Type {
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			entries = append(entries, ParsedEntry{
				Role:        "assistant",
				ContentType: ContentThinking,
				Text:        truncateThinking(block.Thinking),
				Timestamp:   ts,
			})
		case "text":
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			entries = append(entries, ParsedEntry{
				Role:        "assistant",
				ContentType: ContentText,
				Text:        block.Text,
				Timestamp:   ts,
			})
		case "tool_use":
			entries = append(entries, ParsedEntry{
				Role:        "assistant",
				ContentType: ContentToolUse,
				Text:        fmt.Sprintf("*%s* %s", block.Name, SummarizeToolInput(block.Name, block.Input)),
				Timestamp:   ts,
				ToolUseID:   block.ID,
				ToolName:    block.Name,
			})
		}
	}
	return entries, nil
}

func parseUser(raw json.RawMessage, ts time.Time) ([]ParsedEntry, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode user message: %w", err)
	}

	// Plain string content is a typed user message or a local command.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return classifyUserText(text, ts), nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("decode user content: %w", err)
	}

	var entries []ParsedEntry
	for _, block := range blocks {
		switch block.Type {
		case "tool_result":
			resultText := flattenResultContent(block.Content)
			ct := ContentToolResult
			if block.IsError || IsErrorResult(resultText) {
				ct = ContentToolError
			}
			entries = append(entries, ParsedEntry{
				Role:        "user",
				ContentType: ct,
				Text:        resultText,
				Timestamp:   ts,
				ToolUseID:   block.ToolUseID,
			})
		case "text":
			entries = append(entries, classifyUserText(block.Text, ts)...)
		}
	}
	return entries, nil
}

// classifyUserText distinguishes command invocations typed at the agent's
// own prompt from plain user messages.
func classifyUserText(text string, ts time.Time) []ParsedEntry {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "<command-name>") {
		return []ParsedEntry{{
			Role:        "user",
			ContentType: ContentLocalCommand,
			Text:        extractCommandLine(trimmed),
			Timestamp:   ts,
		}}
	}
	// Caveat banners injected around pasted/meta content are not mirrored.
	if strings.HasPrefix(trimmed, "Caveat:") {
		return nil
	}
	return []ParsedEntry{{
		Role:        "user",
		ContentType: ContentUser,
		Text:        text,
		Timestamp:   ts,
	}}
}

// extractCommandLine pulls the command (and args, if any) out of the
// <command-name>/<command-args> markup.
func extractCommandLine(s string) string {
	name := tagContent(s, "command-name")
	args := tagContent(s, "command-args")
	if args != "" {
		return name + " " + args
	}
	return name
}

func tagContent(s, tag string) string {
	open, close := "<"+tag+">", "</"+tag+">"
	i := strings.Index(s, open)
	if i < 0 {
		return ""
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:j])
}

// flattenResultContent renders a tool result payload (string or block list)
// as plain text. No truncation happens here; size handling is downstream.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsErrorResult reports whether a tool result payload carries the error
// sentinel: an "Error:" prefix or the standard interrupt marker.
func IsErrorResult(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "Error:") ||
		strings.Contains(trimmed, "[Request interrupted")
}

// truncateThinking keeps the head of a reasoning block with an ellipsis.
func truncateThinking(s string) string {
	runes := []rune(s)
	if len(runes) <= ThinkingLimit {
		return s
	}
	return string(runes[:ThinkingLimit]) + "…"
}

// summaryKeys lists tool input fields worth surfacing, most useful first.
var summaryKeys = []string{"command", "file_path", "path", "pattern", "url", "query", "description", "prompt"}

// SummarizeToolInput builds a compact one-line summary of a tool call's
// arguments.
func SummarizeToolInput(name string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var args map[string]interface{}
	if err := json.Unmarshal(input, &args); err != nil || len(args) == 0 {
		return ""
	}

	for _, key := range summaryKeys {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return oneLine(s)
			}
		}
	}

	// Fallback: key=value pairs in stable order.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return oneLine(strings.Join(parts, " "))
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > toolSummaryLimit {
		return string(runes[:toolSummaryLimit]) + "…"
	}
	return s
}
