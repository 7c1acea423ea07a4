package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"vpn-shop-bot/internal/bot/middleware"
	"vpn-shop-bot/internal/bot/services"
	"vpn-shop-bot/internal/config"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/panel"
	"vpn-shop-bot/internal/plans"
	"vpn-shop-bot/internal/storage"
)

// Bot represents the Telegram storefront bot
type Bot struct {
	config   *config.Config
	bot      *telego.Bot
	handler  *th.BotHandler
	logger   *logger.Logger
	storage  storage.Storage
	catalog  *plans.Catalog
	approval *services.ApprovalService
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	recovery *middleware.Recovery

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewBot creates a new Bot instance. The approval service is built here
// because its Notifier is the bot itself.
func NewBot(
	cfg *config.Config,
	store storage.Storage,
	catalog *plans.Catalog,
	panels *panel.Registry,
	log *logger.Logger,
) (*Bot, error) {
	tgBot, err := telego.NewBot(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b := &Bot{
		config:   cfg,
		bot:      tgBot,
		logger:   log.WithField("component", "bot"),
		storage:  store,
		catalog:  catalog,
		auth:     middleware.NewAuthMiddleware(cfg),
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.MaxRequestsPerMinute, cfg.RateLimit.WindowSeconds),
		recovery: middleware.NewRecovery(log),
	}

	b.approval = services.NewApprovalService(store, catalog, panels, b, cfg, log)

	return b, nil
}

// Approval exposes the workflow service
func (b *Bot) Approval() *services.ApprovalService {
	return b.approval
}

// Start starts the bot
func (b *Bot) Start() error {
	err := b.bot.SetMyCommands(context.Background(), &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "start", Description: "Open the shop"},
			{Command: "help", Description: "Show help message"},
			{Command: "id", Description: "Get your Telegram ID"},
		},
	})
	if err != nil {
		b.logger.ErrorErr(err, "Failed to set bot commands")
	}

	if !b.isRunning {
		go b.receiveMessages()
		b.isRunning = true
	}

	return nil
}

// Stop stops the bot and all waiting tickers
func (b *Bot) Stop() {
	b.approval.StopAll()
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
	b.isRunning = false
}

const (
	janitorInterval = time.Hour
	staleStateAge   = 24 * time.Hour
)

// receiveMessages starts receiving and handling updates
func (b *Bot) receiveMessages() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go b.runJanitor(ctx)

	updates, _ := b.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.recovery.Recover()

		handler, _ := th.NewBotHandler(b.bot, updates)
		b.handler = handler

		handler.HandleMessage(b.handleCommand, th.AnyCommand())
		handler.HandleMessage(b.handlePhoto, func(ctx context.Context, update telego.Update) bool {
			return update.Message != nil && len(update.Message.Photo) > 0
		})
		handler.HandleCallbackQuery(b.handleCallback, th.AnyCallbackQueryWithMessage())

		_ = handler.Start()
	}()
}

// runJanitor periodically drops abandoned plan selections, leftover
// closed ledger entries and expired rate-limit windows
func (b *Bot) runJanitor(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.storage.CleanupExpiredStates(staleStateAge); err != nil {
				b.logger.ErrorErr(err, "Stale state cleanup failed")
			}
			b.limiter.Prune()
		}
	}
}

// checkRateLimit answers the callback with a notice when the user is
// over quota
func (b *Bot) checkRateLimit(userID int64, queryID string) bool {
	if err := b.limiter.Check(userID); err != nil {
		if queryID != "" {
			b.answerCallback(queryID, "⏳ Slow down a little", true)
		}
		return false
	}
	return true
}

// answerCallback answers a callback query, optionally as an alert
func (b *Bot) answerCallback(queryID, text string, alert bool) {
	err := b.bot.AnswerCallbackQuery(context.Background(), &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil && !strings.Contains(err.Error(), "query is too old") {
		b.logger.Debugf("Failed to answer callback: %v", err)
	}
}
