// Package telegram runs the bot that lets users link a chat for push notices.
package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/auth"
	"github.com/hubleticsdev/hubletics-web-sub003/internal/repository"
)

const (
	startText = "👋 Hubletics notifications\n\n" +
		"Open Settings → Notifications on the website, copy your link token and send:\n" +
		"/link <token>\n\n" +
		"You will then get booking requests and payment updates here."
	linkUsage   = "Usage: /link <token>"
	linkInvalid = "❌ This link token is invalid or expired. Copy a fresh one from the website."
	linkUnknown = "❌ No active account matches this token."
	linkFailed  = "❌ Could not link this chat right now. Try again later."
	linkDone    = "✅ Chat linked. Notifications will arrive here."
)

type ChatLinker interface {
	SetTelegramChat(ctx context.Context, userID uuid.UUID, chatID int64) error
}

type BotController struct {
	bot       *bot.Bot
	users     ChatLinker
	jwtSecret string
	logger    *zap.Logger
}

func NewBotController(b *bot.Bot, users ChatLinker, jwtSecret string, logger *zap.Logger) *BotController {
	return &BotController{bot: b, users: users, jwtSecret: jwtSecret, logger: logger}
}

// RegisterHandlers registers the commands and the command menu.
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, c.handleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/link", bot.MatchTypePrefix, c.handleLink)

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: []models.BotCommand{
			{Command: "start", Description: "How to link this chat"},
			{Command: "link", Description: "Link this chat to your account"},
		},
	})
	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}
	return nil
}

// Start polls for updates until ctx is cancelled.
func (c *BotController) Start(ctx context.Context) {
	c.logger.Info("Starting Telegram bot")
	c.bot.Start(ctx)
}

func (c *BotController) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	c.reply(ctx, b, update.Message.Chat.ID, startText)
}

func (c *BotController) handleLink(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	c.reply(ctx, b, chatID, c.link(ctx, chatID, update.Message.Text))
}

// link validates the token in a "/link <token>" message and stores the chat.
func (c *BotController) link(ctx context.Context, chatID int64, text string) string {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return linkUsage
	}

	actor, err := auth.ParseActor(fields[1], c.jwtSecret)
	if err != nil {
		return linkInvalid
	}

	if err := c.users.SetTelegramChat(ctx, actor.UserID, chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return linkUnknown
		}
		c.logger.Error("Failed to link telegram chat",
			zap.String("user_id", actor.UserID.String()),
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		return linkFailed
	}

	c.logger.Info("Telegram chat linked", zap.String("user_id", actor.UserID.String()), zap.Int64("chat_id", chatID))
	return linkDone
}

func (c *BotController) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		c.logger.Warn("Failed to send telegram reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
