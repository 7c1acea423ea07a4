package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"vpn-shop-bot/internal/bot/constants"
	"vpn-shop-bot/internal/bot/keyboard"
)

// Command handlers: /start, /help, /id, /admin, /generate

// handleCommand handles incoming commands
func (b *Bot) handleCommand(ctx *th.Context, message telego.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	isAdmin := b.auth.IsAdmin(userID)

	command, _, args := tu.ParseCommand(message.Text)

	b.logger.Infof("Command /%s from user ID: %d", command, userID)

	if !isAdmin && !b.checkRateLimit(userID, "") {
		b.logger.Warnf("Rate limit exceeded for user ID: %d", userID)
		return nil
	}

	switch command {
	case constants.CmdStart:
		b.handleStart(chatID, message.From.FirstName)
	case constants.CmdHelp:
		b.handleHelp(chatID)
	case constants.CmdID:
		b.sendMessage(chatID, fmt.Sprintf("🆔 Your Telegram ID: <code>%d</code>", userID))
	case constants.CmdAdmin:
		if !isAdmin {
			b.sendMessage(chatID, "⛔ You don't have permission to use this command.")
			return nil
		}
		b.handleAdminMenu(chatID)
	case constants.CmdGenerate:
		if !isAdmin {
			b.sendMessage(chatID, "⛔ You don't have permission to use this command.")
			return nil
		}
		b.handleGenerate(ctx, chatID, args)
	default:
		b.sendMessage(chatID, "❌ Unknown command. Use /help.")
	}

	return nil
}

// handleStart shows the storefront main menu
func (b *Bot) handleStart(chatID int64, firstName string) {
	msg := fmt.Sprintf("👋 Hi %s, welcome to the VPN shop!\n\nPick an option below to get started.", firstName)
	b.sendMessageWithInlineKeyboard(chatID, msg, keyboard.BuildMainMenu(b.config.Trial.Enabled))
}

// handleHelp handles the /help command
func (b *Bot) handleHelp(chatID int64) {
	msg := `📋 Available commands:

🏠 /start - Open the shop
ℹ️ /help - This help
🆔 /id - Get your Telegram ID

To buy a key: pick a plan, pay to one of the listed accounts, and send
a screenshot of the payment here. Your key arrives once the payment is
confirmed.`
	b.sendMessage(chatID, msg)
}

// handleGenerate handles /generate <plan_key> [recipient] — direct
// provisioning outside the payment flow
func (b *Bot) handleGenerate(ctx *th.Context, chatID int64, args []string) {
	planKey, recipient, ok := parseGenerateArgs(args)
	if !ok {
		var keys []string
		for _, p := range b.catalog.All() {
			keys = append(keys, p.Key)
		}
		b.sendMessage(chatID, fmt.Sprintf("Usage: /generate &lt;plan&gt; [recipient]\n\nPlans: %s", strings.Join(keys, ", ")))
		return
	}

	b.sendMessage(chatID, "⏳ Provisioning…")

	if err := b.approval.GenerateManual(context.Background(), chatID, planKey, recipient); err != nil {
		b.logger.ErrorErr(err, "Manual generation failed")
		b.sendMessage(chatID, fmt.Sprintf("❌ Generation failed: %v", err))
	}
}

// parseGenerateArgs reads the /generate arguments. ParseCommand strips
// the command itself, so the plan key comes first, then an optional
// recipient label.
func parseGenerateArgs(args []string) (planKey, recipient string, ok bool) {
	if len(args) == 0 {
		return "", "", false
	}
	planKey = args[0]
	if len(args) > 1 {
		recipient = args[1]
	}
	return planKey, recipient, true
}
