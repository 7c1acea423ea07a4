package bot

import (
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"vpn-shop-bot/internal/bot/constants"
)

// handleCallback routes callback queries to the storefront handlers
func (b *Bot) handleCallback(ctx *th.Context, query telego.CallbackQuery) error {
	data := query.Data
	userID := query.From.ID
	chatID := query.Message.GetChat().ID
	messageID := query.Message.GetMessageID()
	isAdmin := b.auth.IsAdmin(userID)

	b.logger.Infof("Callback from user %d: %s", userID, data)

	if !isAdmin && !b.checkRateLimit(userID, query.ID) {
		return nil
	}

	switch {
	case data == constants.CbBackMenu:
		b.handleBackToMenu(ctx, userID, chatID, messageID)
		b.answerCallback(query.ID, "", false)

	case data == constants.CbViewPrices:
		b.handleViewPrices(chatID, messageID)
		b.answerCallback(query.ID, "", false)

	case data == constants.CbVPNApps:
		b.handleVPNApps(chatID, messageID)
		b.answerCallback(query.ID, "", false)

	case data == constants.CbMySubs:
		b.handleMySubscriptions(chatID, messageID, userID)
		b.answerCallback(query.ID, "", false)

	case strings.HasPrefix(data, constants.CbViewKeyPrefix):
		index, err := strconv.Atoi(strings.TrimPrefix(data, constants.CbViewKeyPrefix))
		if err == nil {
			b.handleViewKey(ctx, chatID, userID, index)
		}
		b.answerCallback(query.ID, "", false)

	case data == constants.CbFreeTrial:
		b.handleFreeTrial(ctx, query)

	case strings.HasPrefix(data, constants.CbBuyPrefix):
		b.handleBuyPlan(ctx, query, strings.TrimPrefix(data, constants.CbBuyPrefix))

	case strings.HasPrefix(data, constants.CbCancelPaymentPrefix):
		b.handleCancelPayment(ctx, query, strings.TrimPrefix(data, constants.CbCancelPaymentPrefix))

	case strings.HasPrefix(data, constants.CbApprovePrefix):
		if !isAdmin {
			b.answerCallback(query.ID, "⛔ You don't have permission", true)
			return nil
		}
		b.handleApprove(ctx, query, strings.TrimPrefix(data, constants.CbApprovePrefix))

	case strings.HasPrefix(data, constants.CbRejectPrefix):
		if !isAdmin {
			b.answerCallback(query.ID, "⛔ You don't have permission", true)
			return nil
		}
		b.handleReject(ctx, query, strings.TrimPrefix(data, constants.CbRejectPrefix))

	case data == constants.CbAdminPending:
		if !isAdmin {
			b.answerCallback(query.ID, "⛔ You don't have permission", true)
			return nil
		}
		b.handlePendingList(chatID)
		b.answerCallback(query.ID, "", false)

	default:
		b.answerCallback(query.ID, "", false)
	}

	return nil
}
