// Package notify broadcasts incident messages to secondary channels
// (Telegram, Slack, Discord). Delivery is best-effort: a failing channel is
// logged and never affects the others or the caller.
package notify

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/metrics"
)

// Channel is one secondary broadcast destination.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Send delivers text to the channel.
	Send(ctx context.Context, text string) error
}

// Broadcaster is what the incident workflow depends on.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string)
}

// Dispatcher fans a message out to every configured channel.
type Dispatcher struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher over channels. Nil channels are dropped.
func NewDispatcher(logger zerolog.Logger, channels ...Channel) *Dispatcher {
	d := &Dispatcher{logger: logger}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Broadcast sends text to all channels concurrently and waits for them to
// finish, so two consecutive broadcasts arrive in order on each channel.
// Errors and panics are logged per channel and swallowed.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) {
	if len(d.channels) == 0 {
		d.logger.Warn().Msg("notify: no secondary channels configured")
		return
	}
	var wg sync.WaitGroup
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.NotifyFailures.WithLabelValues(ch.Name()).Inc()
					d.logger.Error().Str("channel", ch.Name()).Interface("panic", r).Msg("notify: channel panicked")
				}
			}()
			if err := ch.Send(ctx, text); err != nil {
				metrics.NotifyFailures.WithLabelValues(ch.Name()).Inc()
				d.logger.Error().Err(err).Str("channel", ch.Name()).Msg("notify: send failed")
				return
			}
			d.logger.Info().Str("channel", ch.Name()).Msg("notify: sent")
		}(ch)
	}
	wg.Wait()
}

// FromConfig builds a Dispatcher from every channel that has credentials.
func FromConfig(cfg config.NotifyConfig, hc *http.Client, logger zerolog.Logger) (*Dispatcher, error) {
	var channels []Channel
	tg, err := NewTelegram(TelegramOpts{BotToken: cfg.Telegram.BotToken, ChatID: cfg.Telegram.ChatID, HTTPClient: hc})
	if err != nil {
		return nil, err
	}
	if tg != nil {
		channels = append(channels, tg)
	}
	if sl := NewSlack(cfg.Slack.BotToken, cfg.Slack.ChannelID); sl != nil {
		channels = append(channels, sl)
	}
	dc, err := NewDiscord(cfg.Discord.BotToken, cfg.Discord.ChannelID)
	if err != nil {
		return nil, err
	}
	if dc != nil {
		channels = append(channels, dc)
	}
	return NewDispatcher(logger, channels...), nil
}
