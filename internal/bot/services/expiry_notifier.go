package services

import (
	"context"
	"fmt"
	"time"

	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/storage"
)

// ExpiryNotifierService reminds buyers once before a key expires so
// they can buy a new plan in time
type ExpiryNotifierService struct {
	storage       storage.Storage
	notifier      Notifier
	logger        *logger.Logger
	warnBefore    time.Duration
	checkInterval time.Duration
}

// NewExpiryNotifierService creates a new expiry notifier service
func NewExpiryNotifierService(store storage.Storage, notifier Notifier, log *logger.Logger) *ExpiryNotifierService {
	return &ExpiryNotifierService{
		storage:       store,
		notifier:      notifier,
		logger:        log.WithField("service", "expiry_notifier"),
		warnBefore:    3 * 24 * time.Hour,
		checkInterval: time.Hour,
	}
}

// Start begins the periodic check for expiring subscriptions
func (s *ExpiryNotifierService) Start(ctx context.Context) {
	s.logger.Info("Starting expiry notifier service")

	s.checkAndNotify(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping expiry notifier service")
			return
		case <-ticker.C:
			s.checkAndNotify(ctx)
		}
	}
}

// checkAndNotify sends one reminder per expiring subscription
func (s *ExpiryNotifierService) checkAndNotify(ctx context.Context) {
	expiring, err := s.storage.ExpiringSubscriptions(s.warnBefore)
	if err != nil {
		s.logger.ErrorErr(err, "Failed to load expiring subscriptions")
		return
	}

	for _, sub := range expiring {
		remaining := time.Until(sub.ExpiresAt)
		days := int(remaining.Hours() / 24)

		var msg string
		if days < 1 {
			msg = fmt.Sprintf(
				"🔴 Your %s key expires today (%s)!\n\nBuy a new plan with /start to stay connected.",
				sub.PlanName, sub.ExpiresAt.Format("15:04"))
		} else {
			msg = fmt.Sprintf(
				"⚠️ Your %s key expires in %d day(s), on %s.\n\nBuy a new plan with /start to stay connected.",
				sub.PlanName, days, sub.ExpiresAt.Format("2006-01-02"))
		}

		if _, err := s.notifier.SendMessage(ctx, sub.UserID, msg, nil); err != nil {
			s.logger.WithField("user_id", sub.UserID).ErrorErr(err, "Failed to send expiry reminder")
			continue
		}

		if err := s.storage.MarkReminderSent(sub.ID); err != nil {
			s.logger.WithField("subscription_id", sub.ID).ErrorErr(err, "Failed to mark reminder sent")
		}

		s.logger.Infof("Sent expiry reminder to user %d (%s)", sub.UserID, sub.Label)
	}
}
