package notification

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramClient is the part of *bot.Bot used for pushes.
type TelegramClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramPusher sends short notices to users who linked a Telegram chat.
type TelegramPusher struct {
	client TelegramClient
}

func NewTelegramPusher(client TelegramClient) *TelegramPusher {
	return &TelegramPusher{client: client}
}

func (p *TelegramPusher) Push(ctx context.Context, chatID int64, text string) error {
	_, err := p.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
