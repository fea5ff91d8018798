// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the bridge's subsystems together and runs them.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/ccbot/internal/api"
	"github.com/wingedpig/ccbot/internal/bot"
	"github.com/wingedpig/ccbot/internal/config"
	"github.com/wingedpig/ccbot/internal/delivery"
	"github.com/wingedpig/ccbot/internal/hub"
	"github.com/wingedpig/ccbot/internal/monitor"
	"github.com/wingedpig/ccbot/internal/notify"
	"github.com/wingedpig/ccbot/internal/pane"
	"github.com/wingedpig/ccbot/internal/sessionmap"
	"github.com/wingedpig/ccbot/internal/skills"
	"github.com/wingedpig/ccbot/internal/terminal"
)

// App is the main application container.
type App struct {
	cfg      *config.Config
	adapter  *terminal.Adapter
	hub      *hub.Hub
	filter   *notify.Filter
	smap     *sessionmap.Store
	offsets  *monitor.OffsetStore
	monitor  *monitor.Monitor
	pipeline *delivery.Pipeline
	poller   *pane.Poller
	bridge   *bot.Bridge
	router   *bot.Router
	debugSrv *api.Server
}

// New assembles the bridge. All fatal startup conditions (missing config,
// unwritable config dir, unreachable multiplexer) surface here.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ConfigDir, 0755); err != nil {
		return nil, fmt.Errorf("config directory %s: %w", cfg.ConfigDir, err)
	}

	a := &App{cfg: cfg}

	a.adapter = terminal.NewAdapter(terminal.NewRealTmuxExecutor(), cfg.TmuxSession)
	if err := a.adapter.EnsureSession(ctx); err != nil {
		return nil, fmt.Errorf("multiplexer unreachable: %w", err)
	}

	a.hub = hub.New(filepath.Join(cfg.ConfigDir, hub.StateFileName))
	if err := a.hub.Load(); err != nil {
		return nil, err
	}
	live, err := a.adapter.ListWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if err := a.hub.ResolveStaleIDs(live); err != nil {
		return nil, err
	}

	a.filter, err = notify.Load(filepath.Join(cfg.ConfigDir, notify.FileName))
	if err != nil {
		return nil, err
	}

	skillMap, err := skills.Load(filepath.Join(cfg.ConfigDir, skills.FileName))
	if err != nil {
		log.Printf("Warning: skills file unreadable, aliases disabled: %v", err)
		skillMap = skills.Map{}
	}

	a.bridge, err = bot.NewBridge(cfg)
	if err != nil {
		return nil, fmt.Errorf("chat platform: %w", err)
	}

	sender := bot.NewTelegramSender(a.bridge.Client())
	a.pipeline = delivery.New(sender, cfg.SendGap,
		delivery.WithFilter(a.filter.Allows),
		delivery.WithDeliveredHook(a.hub.AdvanceCursor),
	)

	a.router = bot.NewRouter(a.adapter, a.hub, a.pipeline, skillMap,
		cfg.AgentCommand, cfg.ShellTimeout, cfg.ShellOutputLimit)
	a.bridge.SetRouter(a.router)

	a.smap = sessionmap.NewStore(filepath.Join(cfg.ConfigDir, sessionmap.FileName))
	a.offsets = monitor.NewOffsetStore(filepath.Join(cfg.ConfigDir, monitor.OffsetFileName))
	if err := a.offsets.Load(); err != nil {
		return nil, err
	}
	a.monitor = monitor.New(cfg.PollInterval, cfg.TmuxSession, a.smap, a.offsets, a.onTranscriptEvent)

	a.poller = pane.NewPoller(cfg.StatusInterval, a.adapter, a.hub,
		statusSink{a.pipeline}, a.router.HandleOrphan)

	if cfg.DebugAddr != "" {
		a.debugSrv = api.NewServer(cfg.DebugAddr, a.hub)
	}

	return a, nil
}

// Run drives all long-lived tasks until the context is cancelled, then
// drains the delivery pipeline.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.poller.Run(ctx) })
	g.Go(func() error { return a.bridge.Run(ctx) })
	if a.debugSrv != nil {
		g.Go(func() error { return a.debugSrv.Run(ctx) })
	}

	err := g.Wait()

	// Loops are down; let the user workers drain within their budget.
	a.pipeline.Shutdown()

	if err == context.Canceled {
		return nil
	}
	return err
}

// onTranscriptEvent routes one mirrored transcript event to its topic.
// It runs inside the monitor loop; besides recording the window's session
// ID in the hub (which persists state when it changes), it only enqueues.
func (a *App) onTranscriptEvent(msg monitor.NewMessage) {
	if a.debugSrv != nil {
		a.debugSrv.Publish(msg)
	}
	a.hub.SetWindowSession(msg.WindowID, msg.SessionID)

	for _, sub := range a.hub.SubscribersFor(msg.WindowID) {
		a.pipeline.EnqueueContent(delivery.Task{
			UserID:      sub.UserID,
			ChatID:      sub.ChatID,
			TopicID:     sub.TopicID,
			WindowID:    sub.WindowID,
			ContentType: msg.ContentType,
			Text:        msg.Text,
			ToolUseID:   msg.ToolUseID,
			Offset:      msg.ByteOffset,
			Mirrored:    true,
		})
	}
}

// statusSink adapts the pipeline to the poller's status interface.
type statusSink struct {
	pipeline *delivery.Pipeline
}

func (s statusSink) StatusUpdate(sub hub.Subscriber, text string) {
	s.pipeline.EnqueueStatusUpdate(delivery.Task{
		UserID:   sub.UserID,
		ChatID:   sub.ChatID,
		TopicID:  sub.TopicID,
		WindowID: sub.WindowID,
		Text:     text,
	})
}

func (s statusSink) StatusClear(sub hub.Subscriber) {
	s.pipeline.EnqueueStatusClear(delivery.Task{
		UserID:   sub.UserID,
		ChatID:   sub.ChatID,
		TopicID:  sub.TopicID,
		WindowID: sub.WindowID,
	})
}
