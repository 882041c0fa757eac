package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"marketing-analytics/monitoring"
	"marketing-analytics/utils"
)

type Options struct {
	Client Client
	Ledger Ledger
	Cursor CursorStore

	PollTimeout time.Duration
	IdleDelay   time.Duration
	ErrorDelay  time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

type Bot struct {
	client Client
	ledger Ledger
	cursor CursorStore

	pollTimeout time.Duration
	idleDelay   time.Duration
	errorDelay  time.Duration

	logger *log.Logger
	now    func() time.Time
}

func New(opts Options) *Bot {
	b := &Bot{
		client:      opts.Client,
		ledger:      opts.Ledger,
		cursor:      opts.Cursor,
		pollTimeout: opts.PollTimeout,
		idleDelay:   opts.IdleDelay,
		errorDelay:  opts.ErrorDelay,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if b.pollTimeout <= 0 {
		b.pollTimeout = 10 * time.Second
	}
	if b.idleDelay <= 0 {
		b.idleDelay = time.Second
	}
	if b.errorDelay <= 0 {
		b.errorDelay = 5 * time.Second
	}
	if b.logger == nil {
		b.logger = log.New(os.Stdout, "BOT: ", log.LstdFlags|log.Lshortfile)
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Check verifies the token with getMe. Polling must not start when it fails.
func (b *Bot) Check(ctx context.Context) (User, error) {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return User{}, fmt.Errorf("bot check failed: %w", err)
	}
	b.logger.Printf("Bot connected: @%s", me.Username)
	return me, nil
}

// Run polls until ctx is cancelled. Each update is handled at most once: the
// cursor is saved right after its reply.
func (b *Bot) Run(ctx context.Context) error {
	offset, err := b.cursor.Load(ctx)
	if err != nil {
		return err
	}
	b.logger.Printf("Telegram bot is listening, last update %d", offset)

	for ctx.Err() == nil {
		updates, err := b.client.GetUpdates(ctx, offset+1, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			monitoring.BotPollErrors.Inc()
			b.logger.Printf("Telegram poll error: %v", err)
			utils.CaptureError(err, map[string]interface{}{"component": "bot", "offset": offset})
			sleep(ctx, b.errorDelay)
			continue
		}

		for _, u := range updates {
			if u.UpdateID <= offset {
				continue
			}
			b.handleUpdate(ctx, u)
			offset = u.UpdateID
			if err := b.cursor.Save(ctx, offset); err != nil {
				b.logger.Printf("Failed to save bot cursor: %v", err)
			}
		}

		sleep(ctx, b.idleDelay)
	}

	b.logger.Println("Telegram bot stopped")
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	if u.Message == nil || u.Message.Text == "" || u.Message.Chat.ID == 0 {
		return
	}

	b.logger.Printf("Message from %d: %s", u.Message.Chat.ID, u.Message.Text)
	cmd, reply := b.Reply(ctx, u.Message.Text)
	monitoring.BotUpdates.WithLabelValues(cmd).Inc()

	if err := b.client.SendMessage(ctx, u.Message.Chat.ID, reply); err != nil {
		b.logger.Printf("Telegram send error: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
