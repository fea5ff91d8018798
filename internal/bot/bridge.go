// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"log"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/wingedpig/ccbot/internal/config"
)

// Bridge owns the chat platform receive loop and feeds the command router.
type Bridge struct {
	cfg    *config.Config
	client *bot.Bot
	router *Router
}

// NewBridge builds the bot client with the default update handler wired to
// the router. Users off the allow list are rejected silently. The router is
// attached afterwards via SetRouter because it needs the client's sender.
func NewBridge(cfg *config.Config) (*Bridge, error) {
	br := &Bridge{cfg: cfg}

	client, err := bot.New(cfg.Token, bot.WithDefaultHandler(br.handleUpdate))
	if err != nil {
		return nil, err
	}
	br.client = client
	return br, nil
}

// SetRouter attaches the command router. Must happen before Run.
func (br *Bridge) SetRouter(router *Router) {
	br.router = router
}

// Client exposes the underlying bot for the sender.
func (br *Bridge) Client() *bot.Bot {
	return br.client
}

// Run starts the long-polling receive loop; it returns when the context is
// cancelled.
func (br *Bridge) Run(ctx context.Context) error {
	log.Printf("[bot] receive loop started")
	br.client.Start(ctx)
	return ctx.Err()
}

// handleUpdate converts one platform update into a router message.
func (br *Bridge) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	m := update.Message
	if m == nil || m.From == nil || br.router == nil {
		return
	}
	if !br.cfg.UserAllowed(m.From.ID) {
		return
	}

	msg := Message{
		UserID:  m.From.ID,
		ChatID:  m.Chat.ID,
		TopicID: int64(m.MessageThreadID),
		Text:    m.Text,
	}
	if m.ForumTopicClosed != nil {
		msg.TopicClosed = true
	}

	br.router.Handle(ctx, msg)
}
