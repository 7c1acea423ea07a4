package main

import (
	"context"
	"flag"
	"time"

	"vpn-shop-bot/internal/bot"
	"vpn-shop-bot/internal/bot/services"
	"vpn-shop-bot/internal/config"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/panel"
	"vpn-shop-bot/internal/plans"
	"vpn-shop-bot/internal/shutdown"
	"vpn-shop-bot/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.GetLogger().FatalErr(err, "Failed to load configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.GetLogger()

	var store storage.Storage
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err = storage.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			log.FatalErr(err, "Failed to open sqlite storage")
		}
	default:
		store = storage.NewMemoryStorage()
	}

	catalog := plans.NewCatalog(cfg)
	panels := panel.NewRegistry(cfg, log)

	tgBot, err := bot.NewBot(cfg, store, catalog, panels, log)
	if err != nil {
		log.FatalErr(err, "Failed to create bot")
	}

	if err := tgBot.Start(); err != nil {
		log.FatalErr(err, "Failed to start bot")
	}
	log.Info("Bot started")

	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	expiryNotifier := services.NewExpiryNotifierService(store, tgBot, log)
	go expiryNotifier.Start(notifierCtx)

	manager := shutdown.NewManager(log, 15*time.Second)
	manager.Register(func(ctx context.Context) error {
		return store.Close()
	})
	manager.Register(func(ctx context.Context) error {
		cancelNotifier()
		tgBot.Stop()
		return nil
	})

	manager.Wait()
	log.Info("Bot stopped")
}
