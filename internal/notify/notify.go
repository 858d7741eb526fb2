// Package notify delivers user-facing messages over Telegram with
// bounded retries. Rate-limit responses are honored by waiting the
// server-advised interval before retrying.
package notify

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
)

const (
	maxAttempts  = 5
	initialDelay = 2 * time.Second
)

// Sender abstracts the Telegram send call for tests.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error
}

// TelegramSender sends through a live bot connection.
type TelegramSender struct {
	bot *bot.Bot
}

func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{bot: b}
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	return err
}

// Notifier wraps a Sender with retry and backoff.
type Notifier struct {
	sender Sender
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger
}

func New(sender Sender) *Notifier {
	return &Notifier{
		sender: sender,
		sleep:  sleepCtx,
		log:    logger.Component("notify"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notify sends text to chatID, retrying transient failures with
// exponential backoff. A Telegram 429 overrides the backoff with the
// server's retry-after value. Permanent failures return immediately.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	return n.NotifyWithMarkup(ctx, chatID, text, nil)
}

func (n *Notifier) NotifyWithMarkup(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	delay := initialDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = n.sender.Send(ctx, chatID, text, markup)
		if err == nil {
			return nil
		}

		wait, retryable := n.classify(err, delay)
		if !retryable {
			n.log.Error().Err(err).Int64("chat_id", chatID).Msg("notification failed permanently")
			return err
		}
		n.log.Warn().Err(err).
			Int64("chat_id", chatID).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("notification failed, retrying")
		if attempt == maxAttempts {
			break
		}
		if serr := n.sleep(ctx, wait); serr != nil {
			return serr
		}
		delay *= 2
	}
	n.log.Error().Err(err).Int64("chat_id", chatID).Msg("notification dropped after retries")
	return err
}

// classify decides whether err is worth retrying and how long to wait.
func (n *Notifier) classify(err error, backoff time.Duration) (time.Duration, bool) {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		wait := time.Duration(tooMany.RetryAfter) * time.Second
		if wait <= 0 {
			wait = backoff
		}
		return wait, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return backoff, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return backoff, true
	}
	return 0, false
}
