package services

import (
	"context"
	"fmt"
	"time"
)

const waitingTickInterval = 3 * time.Second

// startWaiting spawns the buyer-side status ticker for a payment. The
// goroutine edits the waiting message in place every tick and exits
// when the payment leaves the waiting state, whichever side closes it.
func (s *ApprovalService) startWaiting(paymentID string, chatID int64, messageID int) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if old, exists := s.waiting[paymentID]; exists {
		old()
	}
	s.waiting[paymentID] = cancel
	s.mu.Unlock()

	go s.runWaiting(ctx, paymentID, chatID, messageID)
}

// stopWaiting cancels a payment's ticker if one is running
func (s *ApprovalService) stopWaiting(paymentID string) {
	s.mu.Lock()
	cancel, exists := s.waiting[paymentID]
	if exists {
		delete(s.waiting, paymentID)
	}
	s.mu.Unlock()

	if exists {
		cancel()
	}
}

// StopAll cancels every running ticker. Called on shutdown.
func (s *ApprovalService) StopAll() {
	s.mu.Lock()
	for id, cancel := range s.waiting {
		cancel()
		delete(s.waiting, id)
	}
	s.mu.Unlock()
}

func (s *ApprovalService) runWaiting(ctx context.Context, paymentID string, chatID int64, messageID int) {
	defer s.stopWaiting(paymentID)

	started := time.Now()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	hourglass := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// self-terminate if the ledger says the payment is closed,
		// regardless of who closed it
		rec, err := s.storage.GetPayment(paymentID)
		if err != nil || rec.Status.Closed() {
			return
		}

		hourglass = !hourglass
		text := waitingText(time.Since(started), hourglass)
		err = s.notifier.EditMessage(ctx, chatID, messageID, text, Row(
			Button{Text: "🚫 Cancel", CallbackData: "cancel_payment_" + paymentID},
		))
		if err != nil {
			s.logger.WithField("payment_id", paymentID).Debugf("Waiting tick edit failed: %v", err)
		}
	}
}

func waitingText(elapsed time.Duration, hourglass bool) string {
	frame := "⏳"
	if !hourglass {
		frame = "⌛"
	}

	minutes := int(elapsed.Minutes())
	seconds := int(elapsed.Seconds()) % 60

	return fmt.Sprintf(
		"%s Waiting for admin approval… (%d:%02d)\n\nYour key will arrive here as soon as the payment is confirmed.",
		frame, minutes, seconds,
	)
}
