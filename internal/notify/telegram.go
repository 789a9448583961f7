package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramChannel posts to one Telegram chat through the Bot API.
type TelegramChannel struct {
	bot    *bot.Bot
	chatID string
}

// TelegramOpts holds parameters for creating a TelegramChannel.
type TelegramOpts struct {
	BotToken   string
	ChatID     string
	BaseURL    string       // defaults to https://api.telegram.org
	HTTPClient *http.Client // defaults to a 10s-timeout client
}

// NewTelegram returns a TelegramChannel, or nil when the token or chat id
// is missing. The bot is built offline: no getMe call is made.
func NewTelegram(opts TelegramOpts) (*TelegramChannel, error) {
	if opts.BotToken == "" || opts.ChatID == "" {
		return nil, nil
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	botOpts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(hc.Timeout, hc),
	}
	if opts.BaseURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(strings.TrimRight(opts.BaseURL, "/")))
	}
	b, err := bot.New(opts.BotToken, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramChannel{bot: b, chatID: opts.ChatID}, nil
}

// Name implements Channel.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send implements Channel.
func (t *TelegramChannel) Send(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             t.chatID,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
