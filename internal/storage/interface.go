package storage

import (
	"time"
)

// PaymentStatus is the lifecycle state of a payment record
type PaymentStatus string

const (
	StatusWaiting   PaymentStatus = "waiting"
	StatusApproved  PaymentStatus = "approved"
	StatusRejected  PaymentStatus = "rejected"
	StatusCancelled PaymentStatus = "cancelled"
)

// Closed reports whether the status is terminal
func (s PaymentStatus) Closed() bool {
	return s != StatusWaiting
}

// PaymentRecord represents one payment awaiting (or past) review
type PaymentRecord struct {
	ID       string
	UserID   int64
	ChatID   int64
	Username string
	PlanKey  string
	Status   PaymentStatus

	// ProofFileID is the Telegram file id of the payment screenshot
	ProofFileID string

	// StatusMessageID is the buyer-side "waiting for approval" message,
	// AdminMessageID the admin-side review card
	StatusMessageID int
	AdminMessageID  int

	CreatedAt time.Time
	ClosedAt  time.Time
}

// SessionState tracks a buyer who picked a plan and owes a screenshot
type SessionState struct {
	PlanKey         string
	PromptMessageID int
	Timestamp       time.Time
}

// SubscriptionRecord is an issued credential as shown to the buyer
type SubscriptionRecord struct {
	ID              int64
	UserID          int64
	PlanName        string
	Protocol        string
	Label           string
	ClientID        string
	ConnectionURI   string
	SubscriptionURL string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	ReminderSent    bool
}

// Storage defines the interface for state persistence
type Storage interface {
	// Payment ledger. TryClosePayment transitions waiting -> status
	// exactly once; a second close of the same record (or a close of an
	// unknown id) returns ErrAlreadyProcessed.
	OpenPayment(p *PaymentRecord) error
	GetPayment(id string) (*PaymentRecord, error)
	SetPaymentMessages(id string, statusMessageID, adminMessageID int) error
	TryClosePayment(id string, status PaymentStatus) (*PaymentRecord, error)
	RemovePayment(id string) error
	PendingPayments() ([]*PaymentRecord, error)

	// Plan-selection sessions
	SetSession(userID int64, state *SessionState) error
	GetSession(userID int64) (*SessionState, error)
	ClearSession(userID int64) error

	// Issued subscriptions
	AppendSubscription(sub *SubscriptionRecord) error
	ListSubscriptions(userID int64) ([]*SubscriptionRecord, error)

	// Expiry reminders. ExpiringSubscriptions returns still-valid
	// records expiring within the window that have no reminder sent.
	ExpiringSubscriptions(within time.Duration) ([]*SubscriptionRecord, error)
	MarkReminderSent(subID int64) error

	// Trial flag. MarkTrialUsed is a compare-and-set: the first call
	// wins, every later call returns ErrTrialUsed. The flag is never
	// cleared, even when provisioning fails afterwards.
	MarkTrialUsed(userID int64) error
	TrialUsed(userID int64) (bool, error)

	// Cleanup
	CleanupExpiredStates(maxAge time.Duration) error

	// Close the storage
	Close() error
}
