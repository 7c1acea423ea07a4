package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"vpn-shop-bot/internal/bot/keyboard"
	apperrors "vpn-shop-bot/internal/errors"
)

// Admin handlers: review decisions, pending list, admin menu

// handleAdminMenu shows the admin panel
func (b *Bot) handleAdminMenu(chatID int64) {
	pending, err := b.storage.PendingPayments()
	if err != nil {
		b.logger.ErrorErr(err, "Failed to count pending payments")
	}

	msg := fmt.Sprintf("🛠 Admin panel\n\nPending payments: %d\n\n/generate &lt;plan&gt; [recipient] issues a key manually.", len(pending))
	b.sendMessageWithInlineKeyboard(chatID, msg, keyboard.BuildAdminMenu())
}

// handlePendingList lists payments still waiting for a decision
func (b *Bot) handlePendingList(chatID int64) {
	pending, err := b.storage.PendingPayments()
	if err != nil {
		b.logger.ErrorErr(err, "Failed to list pending payments")
		b.sendMessage(chatID, "❌ Could not load pending payments.")
		return
	}

	if len(pending) == 0 {
		b.sendMessage(chatID, "📭 No pending payments.")
		return
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "📋 Pending payments (%d):\n", len(pending))
	for _, p := range pending {
		plan, _ := b.catalog.Get(p.PlanKey)
		planName := p.PlanKey
		if plan != nil {
			planName = plan.Name
		}
		fmt.Fprintf(&msg, "\n• %s — %s (user %d), submitted %s",
			planName, p.Username, p.UserID, p.CreatedAt.Format("15:04:05"))
	}

	b.sendMessage(chatID, msg.String())
}

// handleApprove runs the approval workflow for a review-card button tap
func (b *Bot) handleApprove(ctx *th.Context, query telego.CallbackQuery, paymentID string) {
	err := b.approval.Approve(ctx, paymentID)
	switch {
	case err == nil:
		b.answerCallback(query.ID, "Approved", false)
	case errors.Is(err, apperrors.ErrAlreadyProcessed):
		b.answerCallback(query.ID, "This payment was already handled", true)
	default:
		b.logger.ErrorErr(err, "Approval failed")
		b.answerCallback(query.ID, "⚠️ Approved with errors, check the card", true)
	}
}

// handleReject runs the rejection workflow for a review-card button tap
func (b *Bot) handleReject(ctx *th.Context, query telego.CallbackQuery, paymentID string) {
	err := b.approval.Reject(ctx, paymentID)
	switch {
	case err == nil:
		b.answerCallback(query.ID, "Payment rejected", false)
	case errors.Is(err, apperrors.ErrAlreadyProcessed):
		b.answerCallback(query.ID, "This payment was already handled", true)
	default:
		b.logger.ErrorErr(err, "Rejection failed")
		b.answerCallback(query.ID, "❌ Rejection failed", true)
	}
}
