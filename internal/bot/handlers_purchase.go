package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"vpn-shop-bot/internal/bot/keyboard"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/plans"
)

// Buyer-side storefront handlers: menus, plan purchase, trial, and the
// payment screenshot.

// handleBackToMenu clears any pending plan selection and redraws the menu
func (b *Bot) handleBackToMenu(ctx *th.Context, userID, chatID int64, messageID int) {
	_ = b.approval.CancelSelection(ctx, userID)
	b.editMessage(chatID, messageID,
		"👋 Welcome to the VPN shop!\n\nPick an option below to get started.",
		keyboard.BuildMainMenu(b.config.Trial.Enabled))
}

// handleViewPrices shows the plan catalog
func (b *Bot) handleViewPrices(chatID int64, messageID int) {
	var msg strings.Builder
	msg.WriteString("💰 Plans\n\n")

	if vless := b.catalog.ByProtocol(plans.ProtocolVLESS); len(vless) > 0 {
		msg.WriteString("🔵 VLESS (subscription link + QR):\n")
		for _, p := range vless {
			fmt.Fprintf(&msg, "  • %s: %s, %d days\n", p.Name, p.Label(), p.Days)
		}
		msg.WriteString("\n")
	}
	if outline := b.catalog.ByProtocol(plans.ProtocolOutline); len(outline) > 0 {
		msg.WriteString("🟢 Outline (one key per device):\n")
		for _, p := range outline {
			fmt.Fprintf(&msg, "  • %s: %s, %d days\n", p.Name, p.Label(), p.Days)
		}
		msg.WriteString("\n")
	}

	msg.WriteString("Tap a plan to buy it.")
	b.editMessage(chatID, messageID, msg.String(), keyboard.BuildPlanList(b.catalog))
}

// handleVPNApps shows client app download pointers
func (b *Bot) handleVPNApps(chatID int64, messageID int) {
	msg := `📲 VPN apps

🔵 For VLESS keys:
  • v2rayNG (Android)
  • Streisand / FoXray (iOS)
  • v2rayN (Windows)
  • Nekoray (Linux)

🟢 For Outline keys:
  • Outline Client (all platforms) — getoutline.org

Import your key with "Add from clipboard" or scan the QR code.`
	b.editMessage(chatID, messageID, msg, keyboard.BuildBack())
}

// handleMySubscriptions lists the buyer's issued keys
func (b *Bot) handleMySubscriptions(chatID int64, messageID int, userID int64) {
	subs, err := b.storage.ListSubscriptions(userID)
	if err != nil {
		b.logger.ErrorErr(err, "Failed to list subscriptions")
		b.editMessage(chatID, messageID, "❌ Could not load your keys, try again later.", keyboard.BuildBack())
		return
	}

	if len(subs) == 0 {
		b.editMessage(chatID, messageID, "🔑 You don't have any keys yet.\n\nBuy a plan or grab the free trial first.", keyboard.BuildBack())
		return
	}

	b.editMessage(chatID, messageID,
		fmt.Sprintf("🔑 Your keys (%d)\n\nTap one to see its details.", len(subs)),
		keyboard.BuildSubscriptionList(subs))
}

// handleViewKey resends one issued key in full
func (b *Bot) handleViewKey(ctx *th.Context, chatID, userID int64, index int) {
	subs, err := b.storage.ListSubscriptions(userID)
	if err != nil || index < 0 || index >= len(subs) {
		b.sendMessage(chatID, "❌ Key not found.")
		return
	}

	sub := subs[index]
	var msg strings.Builder
	fmt.Fprintf(&msg, "🔑 %s\n\n%s\n", sub.PlanName, sub.ConnectionURI)
	fmt.Fprintf(&msg, "\nExpires: %s", sub.ExpiresAt.Format("2006-01-02 15:04"))
	if sub.SubscriptionURL != "" {
		fmt.Fprintf(&msg, "\nSubscription: %s", sub.SubscriptionURL)
	}

	if _, err := b.SendMessage(ctx, chatID, msg.String(), nil); err != nil {
		b.logger.ErrorErr(err, "Failed to send key details")
	}
}

// handleFreeTrial issues the one-per-user trial key
func (b *Bot) handleFreeTrial(ctx *th.Context, query telego.CallbackQuery) {
	userID := query.From.ID
	chatID := query.Message.GetChat().ID

	if !b.config.Trial.Enabled {
		b.answerCallback(query.ID, "Trials are disabled", true)
		return
	}

	b.answerCallback(query.ID, "⏳ Issuing your trial…", false)

	err := b.approval.IssueTrial(ctx, userID, chatID, query.From.Username)
	if err != nil && !errors.Is(err, apperrors.ErrTrialUsed) {
		b.logger.ErrorErr(err, "Trial issuance failed")
	}
}

// handleBuyPlan shows payment instructions and arms the screenshot wait
func (b *Bot) handleBuyPlan(ctx *th.Context, query telego.CallbackQuery, planKey string) {
	userID := query.From.ID
	chatID := query.Message.GetChat().ID
	messageID := query.Message.GetMessageID()

	plan, err := b.approval.SelectPlan(ctx, userID, planKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotConfigured) {
			b.answerCallback(query.ID, "⛔ This plan is unavailable right now", true)
		} else {
			b.answerCallback(query.ID, "❌ Unknown plan", true)
		}
		return
	}

	b.answerCallback(query.ID, "", false)
	b.editMessage(chatID, messageID, b.paymentInstructions(plan), keyboard.BuildCancelSelection())
}

// paymentInstructions renders the manual payment page for a plan
func (b *Bot) paymentInstructions(plan *plans.Plan) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "💳 %s — %s\n\n", plan.Name, plan.Price)
	msg.WriteString("Pay to one of these accounts:\n")

	pay := b.config.Payment
	if pay.KPayNumber != "" {
		fmt.Fprintf(&msg, "  • KPay: %s\n", pay.KPayNumber)
	}
	if pay.AYAPayNumber != "" {
		fmt.Fprintf(&msg, "  • AYA Pay: %s\n", pay.AYAPayNumber)
	}
	if pay.WavePayNumber != "" {
		fmt.Fprintf(&msg, "  • Wave Pay: %s\n", pay.WavePayNumber)
	}
	if pay.ReceiverName != "" {
		fmt.Fprintf(&msg, "\nReceiver name: %s\n", pay.ReceiverName)
	}

	msg.WriteString("\n📸 Then send a screenshot of the payment here.")
	return msg.String()
}

// handleCancelPayment lets the buyer withdraw a payment under review
func (b *Bot) handleCancelPayment(ctx *th.Context, query telego.CallbackQuery, paymentID string) {
	userID := query.From.ID

	err := b.approval.CancelPayment(ctx, userID, paymentID)
	switch {
	case err == nil:
		b.answerCallback(query.ID, "Payment cancelled", false)
	case errors.Is(err, apperrors.ErrAlreadyProcessed), errors.Is(err, apperrors.ErrNotFound):
		b.answerCallback(query.ID, "This payment was already handled", true)
	case errors.Is(err, apperrors.ErrUnauthorized):
		b.answerCallback(query.ID, "⛔ Not your payment", true)
	default:
		b.answerCallback(query.ID, "❌ Could not cancel", true)
	}
}

// handlePhoto treats an incoming photo as a payment screenshot when the
// sender owes one; photos outside the purchase flow are ignored.
func (b *Bot) handlePhoto(ctx *th.Context, message telego.Message) error {
	userID := message.From.ID
	chatID := message.Chat.ID

	if !b.auth.IsAdmin(userID) && !b.checkRateLimit(userID, "") {
		return nil
	}

	// largest resolution is last
	fileID := message.Photo[len(message.Photo)-1].FileID

	_, err := b.approval.SubmitProof(ctx, userID, chatID, message.From.Username, fileID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// no plan picked, nothing to do with this photo
			return nil
		}
		b.logger.ErrorErr(err, "Proof submission failed")
		b.sendMessage(chatID, "❌ Could not register your payment, please try again.")
	}

	return nil
}
