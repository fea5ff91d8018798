// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bot glues the chat platform to the routing fabric: the outbound
// sender, the inbound command router, and the bridge wiring.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/wingedpig/ccbot/internal/transcript"
)

// messageLimit is the platform's hard per-message length cap.
const messageLimit = 4096

// sendChunk keeps chunked sends under the limit with formatting headroom.
const sendChunk = 4000

// TelegramSender dispatches through the Telegram Bot API with a plain-text
// fallback when the platform rejects the markup. A message is never
// dropped for formatting reasons.
type TelegramSender struct {
	b *bot.Bot
}

// NewTelegramSender wraps a bot client.
func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{b: b}
}

// SendMessage posts into a topic, splitting oversized payloads. Returns the
// first chunk's message ID so tool-result edits target the call header.
func (s *TelegramSender) SendMessage(ctx context.Context, chatID, topicID int64, text string, ct transcript.ContentType) (int, error) {
	firstID := 0
	for _, chunk := range splitChunks(format(text, ct), sendChunk) {
		params := &bot.SendMessageParams{
			ChatID:          chatID,
			MessageThreadID: int(topicID),
			Text:            chunk,
			ParseMode:       models.ParseModeMarkdownV1,
		}
		msg, err := s.b.SendMessage(ctx, params)
		if err != nil {
			// Markup fallback: resend this chunk without a parse mode so
			// the split stays aligned and no content is repeated.
			params.ParseMode = ""
			msg, err = s.b.SendMessage(ctx, params)
			if err != nil {
				return firstID, fmt.Errorf("send message: %w", err)
			}
		}
		if firstID == 0 {
			firstID = msg.ID
		}
	}
	return firstID, nil
}

// EditMessage replaces a message's text, truncating to the platform limit.
func (s *TelegramSender) EditMessage(ctx context.Context, chatID int64, messageID int, text string, ct transcript.ContentType) error {
	formatted := format(text, ct)
	if len([]rune(formatted)) > sendChunk {
		formatted = string([]rune(formatted)[:sendChunk]) + "…"
	}
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      formatted,
		ParseMode: models.ParseModeMarkdownV1,
	}
	if _, err := s.b.EditMessageText(ctx, params); err != nil {
		plain := text
		if len([]rune(plain)) > sendChunk {
			plain = string([]rune(plain)[:sendChunk]) + "…"
		}
		params.ParseMode = ""
		params.Text = plain
		if _, err := s.b.EditMessageText(ctx, params); err != nil {
			return fmt.Errorf("edit message: %w", err)
		}
	}
	return nil
}

// DeleteMessage removes a message; an already-deleted message is fine.
func (s *TelegramSender) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	ok, err := s.b.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		log.Printf("[bot] delete message %d: %v", messageID, err)
	}
	_ = ok
	return nil
}

// format applies per-content-type presentation.
func format(text string, ct transcript.ContentType) string {
	switch ct {
	case transcript.ContentThinking:
		var b strings.Builder
		for _, line := range strings.Split(text, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	case transcript.ContentLocalCommand:
		return "`" + text + "`"
	case transcript.ContentInteractivePrompt:
		return "```\n" + text + "\n```"
	}
	return text
}

// splitChunks splits text into rune-bounded chunks.
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

