// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pane classifies captured terminal pane content as idle, status
// line, or interactive prompt, and runs the low-rate status polling loop.
package pane

import (
	"regexp"
	"strings"
)

// Kind is the classification of a pane snapshot.
type Kind int

const (
	Idle Kind = iota
	Status
	InteractivePrompt
)

// State is the result of classifying one pane capture.
type State struct {
	Kind       Kind
	StatusText string // spinner phrase, for Kind == Status
	PromptName string // template name, for Kind == InteractivePrompt
	PromptText string // enclosed content, for Kind == InteractivePrompt
}

// promptTemplate recognizes one interactive UI by its delimiters.
type promptTemplate struct {
	name    string
	top     *regexp.Regexp
	bottom  *regexp.Regexp
	minGap  int
}

// templates covers the agent's interactive dialogs. Order matters: the
// first match wins.
var templates = []promptTemplate{
	{
		name:   "permission",
		top:    regexp.MustCompile(`Do you want to (proceed|make this edit|allow|create)`),
		bottom: regexp.MustCompile(`(?i)(esc to|❯|to cancel)`),
		minGap: 1,
	},
	{
		name:   "plan-approval",
		top:    regexp.MustCompile(`(Would you like to proceed|Ready to code\?|approve this plan)`),
		bottom: regexp.MustCompile(`(?i)(esc to|❯|to cancel)`),
		minGap: 1,
	},
	{
		name:   "multi-choice",
		top:    regexp.MustCompile(`Select an option|Choose an option|Pick one`),
		bottom: regexp.MustCompile(`(?i)(esc to|❯)`),
		minGap: 1,
	},
	{
		name:   "checkpoint",
		top:    regexp.MustCompile(`Restore checkpoint`),
		bottom: regexp.MustCompile(`(?i)(esc to|❯)`),
		minGap: 1,
	},
	{
		name:   "settings",
		top:    regexp.MustCompile(`^\s*Settings\b`),
		bottom: regexp.MustCompile(`(?i)(esc to|tab to)`),
		minGap: 1,
	},
}

// statusLinePattern matches the spinner + phrase the agent paints near the
// pane footer while working, e.g. "✻ Churning… (3s · esc to interrupt)".
var statusLinePattern = regexp.MustCompile(`^\s*[✳✢✶✻✽·∗+*]\s+([A-Za-z][^(…]*?)(…|\.{3})`)

// statusSearchWindow is how many footer lines are scanned for a status line.
const statusSearchWindow = 15

// Classify inspects one pane capture (ANSI already stripped).
func Classify(pane string) State {
	lines := strings.Split(pane, "\n")

	if st, ok := matchPrompt(lines); ok {
		return st
	}
	if phrase, ok := matchStatus(lines); ok {
		return State{Kind: Status, StatusText: phrase}
	}
	return State{Kind: Idle}
}

// matchPrompt looks for a template's top and bottom delimiters with at
// least minGap lines between them, extracting the enclosed content.
func matchPrompt(lines []string) (State, bool) {
	for _, tpl := range templates {
		top := -1
		for i, line := range lines {
			if tpl.top.MatchString(line) {
				top = i
				break
			}
		}
		if top < 0 {
			continue
		}
		for j := len(lines) - 1; j > top; j-- {
			if !tpl.bottom.MatchString(lines[j]) {
				continue
			}
			if j-top-1 < tpl.minGap {
				break
			}
			content := strings.TrimSpace(strings.Join(lines[top:j+1], "\n"))
			return State{Kind: InteractivePrompt, PromptName: tpl.name, PromptText: content}, true
		}
	}
	return State{}, false
}

// matchStatus scans the footer window bottom-up for a spinner line.
func matchStatus(lines []string) (string, bool) {
	start := len(lines) - statusSearchWindow
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		m := statusLinePattern.FindStringSubmatch(lines[i])
		if m != nil {
			return strings.TrimSpace(m[1]) + "…", true
		}
	}
	return "", false
}
