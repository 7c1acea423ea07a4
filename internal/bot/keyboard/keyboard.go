package keyboard

import (
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"vpn-shop-bot/internal/bot/constants"
	"vpn-shop-bot/internal/plans"
	"vpn-shop-bot/internal/storage"
)

// BuildMainMenu creates the storefront main menu
func BuildMainMenu(trialEnabled bool) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{}

	if trialEnabled {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🎁 Free Trial (24h)").WithCallbackData(constants.CbFreeTrial),
		))
	}

	rows = append(rows,
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💰 View Prices").WithCallbackData(constants.CbViewPrices),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔑 My Keys").WithCallbackData(constants.CbMySubs),
			tu.InlineKeyboardButton("📲 VPN Apps").WithCallbackData(constants.CbVPNApps),
		),
	)

	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildPlanList creates one button per plan, grouped with VLESS plans
// first, plus a back button
func BuildPlanList(catalog *plans.Catalog) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{}

	for _, p := range catalog.All() {
		text := fmt.Sprintf("%s — %s", p.Name, p.Label())
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(text).WithCallbackData(constants.CbBuyPrefix+p.Key),
		))
	}

	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("◀️ Back").WithCallbackData(constants.CbBackMenu),
	))

	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildSubscriptionList creates one button per issued key
func BuildSubscriptionList(subs []*storage.SubscriptionRecord) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{}

	for i, sub := range subs {
		text := fmt.Sprintf("%d. %s — expires %s", i+1, sub.PlanName, sub.ExpiresAt.Format("02 Jan"))
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(text).WithCallbackData(fmt.Sprintf("%s%d", constants.CbViewKeyPrefix, i)),
		))
	}

	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("◀️ Back").WithCallbackData(constants.CbBackMenu),
	))

	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BuildCancelSelection creates the cancel button shown under the
// payment instructions
func BuildCancelSelection() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🚫 Cancel").WithCallbackData(constants.CbBackMenu),
		),
	)
}

// BuildBack creates a lone back button
func BuildBack() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("◀️ Back").WithCallbackData(constants.CbBackMenu),
		),
	)
}

// BuildAdminMenu creates the admin panel keyboard
func BuildAdminMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📋 Pending payments").WithCallbackData(constants.CbAdminPending),
		),
	)
}
