// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pane

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/wingedpig/ccbot/internal/hub"
	"github.com/wingedpig/ccbot/internal/terminal"
)

// Sink receives status transitions for delivery to subscribers.
type Sink interface {
	StatusUpdate(sub hub.Subscriber, text string)
	StatusClear(sub hub.Subscriber)
}

// OrphanFunc is invoked when a bound window has disappeared from the
// multiplexer (external kill).
type OrphanFunc func(windowID string, subs []hub.Subscriber)

// Poller iterates all bound windows at a low rate, classifies their panes,
// and feeds status transitions into the delivery pipeline.
type Poller struct {
	interval time.Duration
	adapter  *terminal.Adapter
	hub      *hub.Hub
	sink     Sink
	onOrphan OrphanFunc

	last        map[string]string // windowID -> last enqueued status text
	interactive map[string]bool   // windowID -> currently showing a prompt
}

// NewPoller creates a status poller.
func NewPoller(interval time.Duration, adapter *terminal.Adapter, h *hub.Hub, sink Sink, onOrphan OrphanFunc) *Poller {
	return &Poller{
		interval:    interval,
		adapter:     adapter,
		hub:         h,
		sink:        sink,
		onOrphan:    onOrphan,
		last:        make(map[string]string),
		interactive: make(map[string]bool),
	}
}

// Run executes the polling loop until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick classifies every bound window once.
func (p *Poller) tick(ctx context.Context) {
	for _, windowID := range p.hub.BoundWindows() {
		subs := p.hub.SubscribersFor(windowID)
		if len(subs) == 0 {
			continue
		}

		pane, err := p.adapter.CapturePane(ctx, windowID, false)
		if err != nil {
			if errors.Is(err, terminal.ErrWindowNotFound) {
				p.forget(windowID)
				p.onOrphan(windowID, subs)
			} else {
				log.Printf("[pane] capture %s: %v", windowID, err)
			}
			continue
		}

		p.apply(windowID, subs, Classify(pane))
	}
}

// apply turns a classification into status transitions for the window.
func (p *Poller) apply(windowID string, subs []hub.Subscriber, st State) {
	switch st.Kind {
	case InteractivePrompt:
		// The interactive UI renders elsewhere; status traffic would only
		// fight with it.
		if !p.interactive[windowID] {
			p.interactive[windowID] = true
			p.clear(windowID, subs)
		}
	case Status:
		p.interactive[windowID] = false
		if p.last[windowID] == st.StatusText {
			return
		}
		p.last[windowID] = st.StatusText
		for _, sub := range subs {
			p.sink.StatusUpdate(sub, st.StatusText)
		}
	case Idle:
		p.interactive[windowID] = false
		p.clear(windowID, subs)
	}
}

func (p *Poller) clear(windowID string, subs []hub.Subscriber) {
	if p.last[windowID] == "" {
		return
	}
	p.last[windowID] = ""
	for _, sub := range subs {
		p.sink.StatusClear(sub)
	}
}

// forget drops per-window poller state after an unbind or external kill.
func (p *Poller) forget(windowID string) {
	delete(p.last, windowID)
	delete(p.interactive, windowID)
}
