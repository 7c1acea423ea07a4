package constants

// Commands
const (
	CmdStart    = "start"
	CmdHelp     = "help"
	CmdID       = "id"
	CmdAdmin    = "admin"
	CmdGenerate = "generate"
)

// Callback Prefixes and Data
const (
	// Storefront menu
	CbFreeTrial  = "free_trial"
	CbMySubs     = "my_subs"
	CbViewPrices = "view_prices"
	CbVPNApps    = "vpn_apps"
	CbBackMenu   = "back_menu"

	// Subscription detail
	CbViewKeyPrefix = "view_key_"

	// Purchase flow
	CbBuyPrefix           = "buy_"
	CbCancelPaymentPrefix = "cancel_payment_"

	// Admin review
	CbApprovePrefix = "approve_"
	CbRejectPrefix  = "reject_"

	// Admin panel
	CbAdminPending = "admin_pending"
)
