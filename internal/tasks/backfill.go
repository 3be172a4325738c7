package tasks

import (
	"context"
	"fmt"
	"time"

	"chat-fanout/internal/models"
	"chat-fanout/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	shortcutSlots = 9
	runTimeout    = 3 * time.Minute
)

// DefaultShortcuts are the empty Ctrl+1..Ctrl+9 reply slots every user starts with.
func DefaultShortcuts() []models.ReplyShortcut {
	out := make([]models.ReplyShortcut, 0, shortcutSlots)
	for i := 1; i <= shortcutSlots; i++ {
		out = append(out, models.ReplyShortcut{Shortcut: fmt.Sprintf("Ctrl+%d", i)})
	}
	return out
}

// ShortcutBackfill gives users without reply shortcuts the default set.
type ShortcutBackfill struct {
	repo repository.ShortcutRepo
	log  *zap.Logger
	cron *cron.Cron
}

func NewShortcutBackfill(repo repository.ShortcutRepo, log *zap.Logger) *ShortcutBackfill {
	return &ShortcutBackfill{
		repo: repo,
		log:  log.Named("worker"),
	}
}

// RunOnce backfills every user that has no shortcuts and returns how many
// users were updated.
func (b *ShortcutBackfill) RunOnce(ctx context.Context) (int, error) {
	ids, err := b.repo.UsersWithoutShortcuts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users without shortcuts: %w", err)
	}

	defaults := DefaultShortcuts()
	done := 0
	for _, id := range ids {
		if err := b.repo.CreateShortcuts(ctx, id, defaults); err != nil {
			return done, fmt.Errorf("backfill user %d: %w", id, err)
		}
		done++
	}
	if done > 0 {
		b.log.Info("reply shortcuts backfilled", zap.Int("users", done))
	}
	return done, nil
}

// Start schedules RunOnce on the cron expression expr.
func (b *ShortcutBackfill) Start(expr string) error {
	c := cron.New()

	_, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		if _, err := b.RunOnce(ctx); err != nil {
			b.log.Error("shortcut backfill failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule backfill %q: %w", expr, err)
	}

	b.cron = c
	c.Start()
	b.log.Info("shortcut backfill scheduled", zap.String("cron", expr))
	return nil
}

// Stop halts the schedule and waits for a running backfill to finish.
func (b *ShortcutBackfill) Stop() {
	if b.cron == nil {
		return
	}
	<-b.cron.Stop().Done()
}
