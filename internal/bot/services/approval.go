package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/panel"
	"vpn-shop-bot/internal/plans"
	"vpn-shop-bot/internal/storage"
)

const trialPlanName = "Free Trial"

// ApprovalService drives the payment review workflow: plan selection,
// screenshot submission, admin approve/reject, and provisioning of the
// purchased credentials.
type ApprovalService struct {
	storage  storage.Storage
	catalog  *plans.Catalog
	panels   *panel.Registry
	notifier Notifier
	cfg      *config.Config
	logger   *logger.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	waiting map[string]context.CancelFunc
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	store storage.Storage,
	catalog *plans.Catalog,
	panels *panel.Registry,
	notifier Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		storage:      store,
		catalog:      catalog,
		panels:       panels,
		notifier:     notifier,
		cfg:          cfg,
		logger:       log.WithField("service", "approval"),
		tickInterval: waitingTickInterval,
		waiting:      make(map[string]context.CancelFunc),
	}
}

// SelectPlan records that a buyer picked a plan and now owes a payment
// screenshot. Fails fast when no panel serves the plan's protocol.
func (s *ApprovalService) SelectPlan(ctx context.Context, userID int64, planKey string) (*plans.Plan, error) {
	plan, ok := s.catalog.Get(planKey)
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("unknown plan %s", planKey))
	}

	if _, err := s.panels.For(plan.Protocol); err != nil {
		return nil, err
	}

	if err := s.storage.SetSession(userID, &storage.SessionState{PlanKey: planKey}); err != nil {
		return nil, err
	}

	return plan, nil
}

// CancelSelection drops a buyer's pending plan selection
func (s *ApprovalService) CancelSelection(ctx context.Context, userID int64) error {
	return s.storage.ClearSession(userID)
}

// SubmitProof opens a payment record from a screenshot, posts the
// review card to the admin, and starts the buyer's waiting ticker
func (s *ApprovalService) SubmitProof(ctx context.Context, userID, chatID int64, username, proofFileID string) (*storage.PaymentRecord, error) {
	session, err := s.storage.GetSession(userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "NO_SESSION", "no plan selected")
	}

	plan, ok := s.catalog.Get(session.PlanKey)
	if !ok {
		_ = s.storage.ClearSession(userID)
		return nil, apperrors.NotFound(fmt.Sprintf("plan %s no longer exists", session.PlanKey))
	}

	rec := &storage.PaymentRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChatID:      chatID,
		Username:    username,
		PlanKey:     plan.Key,
		ProofFileID: proofFileID,
	}

	if err := s.storage.OpenPayment(rec); err != nil {
		return nil, err
	}
	_ = s.storage.ClearSession(userID)

	caption := fmt.Sprintf(
		"💳 Payment review\n\nBuyer: %s (id %d)\nPlan: %s — %s\nSubmitted: %s",
		displayName(username, userID), userID, plan.Name, plan.Price,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	adminMsgID, err := s.notifier.SendPhoto(ctx, s.cfg.Telegram.AdminID, proofFileID, caption, Row(
		Button{Text: "✅ Approve", CallbackData: "approve_" + rec.ID},
		Button{Text: "❌ Reject", CallbackData: "reject_" + rec.ID},
	))
	if err != nil {
		_ = s.storage.RemovePayment(rec.ID)
		return nil, apperrors.Wrap(err, "ADMIN_NOTIFY", "failed to post review card")
	}

	statusMsgID, err := s.notifier.SendMessage(ctx, chatID, waitingText(0, true), Row(
		Button{Text: "🚫 Cancel", CallbackData: "cancel_payment_" + rec.ID},
	))
	if err != nil {
		s.logger.WithField("payment_id", rec.ID).ErrorErr(err, "Failed to send waiting message")
	}

	if err := s.storage.SetPaymentMessages(rec.ID, statusMsgID, adminMsgID); err != nil {
		s.logger.WithField("payment_id", rec.ID).ErrorErr(err, "Failed to record message ids")
	}
	rec.StatusMessageID = statusMsgID
	rec.AdminMessageID = adminMsgID

	if statusMsgID != 0 {
		s.startWaiting(rec.ID, chatID, statusMsgID)
	}

	s.logger.WithFields(map[string]interface{}{
		"payment_id": rec.ID,
		"user_id":    userID,
		"plan":       plan.Key,
	}).Info("Payment submitted for review")

	return rec, nil
}

// Approve closes a waiting payment as approved and provisions the
// purchased credentials. The close is exactly-once: a stale button tap
// after the record is closed returns ErrAlreadyProcessed and has no
// side effects. When provisioning fails the payment stays approved and
// the buyer is told to contact the admin.
func (s *ApprovalService) Approve(ctx context.Context, paymentID string) error {
	rec, err := s.storage.TryClosePayment(paymentID, storage.StatusApproved)
	if err != nil {
		return err
	}
	s.stopWaiting(paymentID)

	plan, ok := s.catalog.Get(rec.PlanKey)
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("plan %s no longer exists", rec.PlanKey))
	}

	s.editAdminCard(ctx, rec, fmt.Sprintf("✅ Approved — provisioning %s for %s…", plan.Name, displayName(rec.Username, rec.UserID)))

	creds, err := s.provisionPlan(ctx, rec.UserID, rec.Username, plan)
	if err != nil {
		s.logger.WithField("payment_id", paymentID).ErrorErr(err, "Provisioning failed after approval")

		s.editStatus(ctx, rec, fmt.Sprintf(
			"✅ Your payment was approved, but issuing the key hit a server error.\n\nPlease contact the admin: %s",
			s.adminContact(),
		))
		s.editAdminCard(ctx, rec, fmt.Sprintf(
			"⚠️ Approved, but provisioning failed for %s: %v\nIssue the key manually.",
			displayName(rec.Username, rec.UserID), err,
		))
		return err
	}

	for _, cred := range creds {
		sub := &storage.SubscriptionRecord{
			UserID:          rec.UserID,
			PlanName:        plan.Name,
			Protocol:        string(cred.Protocol),
			Label:           cred.Label,
			ClientID:        cred.ClientID,
			ConnectionURI:   cred.ConnectionURI,
			SubscriptionURL: cred.SubscriptionURL,
			ExpiresAt:       cred.ExpiresAt,
		}
		if err := s.storage.AppendSubscription(sub); err != nil {
			s.logger.WithField("payment_id", paymentID).ErrorErr(err, "Failed to record subscription")
		}
	}

	s.editStatus(ctx, rec, "✅ Payment approved! Your key is on its way below.")
	s.deliverCredentials(ctx, rec.ChatID, plan.Name, creds)
	s.editAdminCard(ctx, rec, fmt.Sprintf("✅ Approved and delivered %d key(s) to %s.", len(creds), displayName(rec.Username, rec.UserID)))

	_ = s.storage.RemovePayment(paymentID)
	return nil
}

// Reject closes a waiting payment as rejected. Same exactly-once rule
// as Approve.
func (s *ApprovalService) Reject(ctx context.Context, paymentID string) error {
	rec, err := s.storage.TryClosePayment(paymentID, storage.StatusRejected)
	if err != nil {
		return err
	}
	s.stopWaiting(paymentID)

	s.editStatus(ctx, rec, fmt.Sprintf(
		"❌ Your payment was not approved.\n\nIf you believe this is a mistake, contact the admin: %s",
		s.adminContact(),
	))
	s.editAdminCard(ctx, rec, fmt.Sprintf("❌ Rejected payment from %s.", displayName(rec.Username, rec.UserID)))

	s.logger.WithField("payment_id", paymentID).Info("Payment rejected")
	_ = s.storage.RemovePayment(paymentID)
	return nil
}

// CancelPayment lets the buyer withdraw their own waiting payment
func (s *ApprovalService) CancelPayment(ctx context.Context, userID int64, paymentID string) error {
	rec, err := s.storage.GetPayment(paymentID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return apperrors.Unauthorized("payment belongs to another user")
	}

	rec, err = s.storage.TryClosePayment(paymentID, storage.StatusCancelled)
	if err != nil {
		return err
	}
	s.stopWaiting(paymentID)

	s.editStatus(ctx, rec, "🚫 Payment cancelled. Pick a plan again whenever you're ready.")
	s.editAdminCard(ctx, rec, fmt.Sprintf("🚫 %s cancelled their payment.", displayName(rec.Username, rec.UserID)))

	_ = s.storage.RemovePayment(paymentID)
	return nil
}

// IssueTrial provisions the free trial for a first-time user. The trial
// flag is claimed before the panel call and is never rolled back, so a
// provisioning failure still burns the trial; the buyer is pointed at
// the admin instead.
func (s *ApprovalService) IssueTrial(ctx context.Context, userID, chatID int64, username string) error {
	if err := s.storage.MarkTrialUsed(userID); err != nil {
		if errors.Is(err, apperrors.ErrTrialUsed) {
			_, _ = s.notifier.SendMessage(ctx, chatID, "⛔ You have already used your free trial.", nil)
		}
		return err
	}

	client, err := s.panels.For(plans.ProtocolVLESS)
	if err != nil {
		_, _ = s.notifier.SendMessage(ctx, chatID, fmt.Sprintf(
			"⚠️ Trials are unavailable right now. Contact the admin: %s", s.adminContact()), nil)
		return err
	}

	trial := s.cfg.Trial
	cred, err := client.ProvisionClient(ctx, panel.ProvisionRequest{
		Listener:    panel.ListenerRef{ID: trial.InboundID},
		Label:       panel.BuildLabel(fmt.Sprintf("trial_%s", displayName(username, userID)), time.Now()),
		DeviceLimit: trial.DeviceLimit,
		TrafficGB:   trial.TrafficGB,
		Validity:    time.Duration(trial.DurationHours) * time.Hour,
	})
	if err != nil {
		s.logger.WithField("user_id", userID).ErrorErr(err, "Trial provisioning failed")
		_, _ = s.notifier.SendMessage(ctx, chatID, fmt.Sprintf(
			"⚠️ Could not issue your trial key due to a server error. Contact the admin: %s", s.adminContact()), nil)
		return err
	}

	sub := &storage.SubscriptionRecord{
		UserID:          userID,
		PlanName:        trialPlanName,
		Protocol:        string(cred.Protocol),
		Label:           cred.Label,
		ClientID:        cred.ClientID,
		ConnectionURI:   cred.ConnectionURI,
		SubscriptionURL: cred.SubscriptionURL,
		ExpiresAt:       cred.ExpiresAt,
	}
	if err := s.storage.AppendSubscription(sub); err != nil {
		s.logger.WithField("user_id", userID).ErrorErr(err, "Failed to record trial subscription")
	}

	s.deliverCredentials(ctx, chatID, trialPlanName, []*panel.Credential{cred})
	return nil
}

// GenerateManual provisions a plan outside the payment flow and sends
// the credentials to the given chat. Used by the admin generate command
// after a provisioning failure or an off-platform sale.
func (s *ApprovalService) GenerateManual(ctx context.Context, chatID int64, planKey, recipient string) error {
	plan, ok := s.catalog.Get(planKey)
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("unknown plan %s", planKey))
	}

	if recipient == "" {
		recipient = "manual"
	}

	creds, err := s.provisionPlan(ctx, 0, recipient, plan)
	if err != nil {
		return err
	}

	s.deliverCredentials(ctx, chatID, plan.Name, creds)
	return nil
}

// provisionPlan issues all keys a plan grants. Each key gets a fresh
// identity on the panel; a failure partway through surfaces as an error
// with whatever was issued left in place for manual cleanup.
func (s *ApprovalService) provisionPlan(ctx context.Context, userID int64, username string, plan *plans.Plan) ([]*panel.Credential, error) {
	client, err := s.panels.For(plan.Protocol)
	if err != nil {
		return nil, err
	}

	creds := make([]*panel.Credential, 0, plan.KeyCount)
	for i := 0; i < plan.KeyCount; i++ {
		label := panel.BuildLabel(displayName(username, userID), time.Now())
		if plan.KeyCount > 1 {
			label = fmt.Sprintf("%s_%d", label, i+1)
		}

		cred, err := client.ProvisionClient(ctx, panel.ProvisionRequest{
			Listener:    panel.ListenerRef{ID: plan.InboundID},
			Label:       label,
			DeviceLimit: plan.DeviceLimit,
			TrafficGB:   plan.TrafficGB,
			Validity:    plan.Validity(),
		})
		if err != nil {
			return nil, fmt.Errorf("key %d of %d: %w", i+1, plan.KeyCount, err)
		}
		creds = append(creds, cred)
	}

	return creds, nil
}

// deliverCredentials sends each issued key with its QR code
func (s *ApprovalService) deliverCredentials(ctx context.Context, chatID int64, planName string, creds []*panel.Credential) {
	for i, cred := range creds {
		caption := formatCredential(i+1, len(creds), planName, cred)

		png, err := qrcode.Encode(cred.ConnectionURI, qrcode.Medium, 512)
		if err != nil {
			s.logger.WithField("label", cred.Label).ErrorErr(err, "Failed to render QR code")
			if _, err := s.notifier.SendMessage(ctx, chatID, caption, nil); err != nil {
				s.logger.WithField("label", cred.Label).ErrorErr(err, "Failed to deliver credential")
			}
			continue
		}

		if err := s.notifier.SendQRCode(ctx, chatID, png, caption); err != nil {
			s.logger.WithField("label", cred.Label).ErrorErr(err, "Failed to deliver credential")
		}
	}
}

func formatCredential(idx, total int, planName string, cred *panel.Credential) string {
	var b strings.Builder

	if total > 1 {
		fmt.Fprintf(&b, "🔑 %s — key %d of %d\n\n", planName, idx, total)
	} else {
		fmt.Fprintf(&b, "🔑 %s\n\n", planName)
	}

	fmt.Fprintf(&b, "%s\n", cred.ConnectionURI)
	fmt.Fprintf(&b, "\nExpires: %s", cred.ExpiresAt.Format("2006-01-02 15:04"))

	if cred.DeviceLimit > 0 {
		fmt.Fprintf(&b, "\nDevices: %d", cred.DeviceLimit)
	}
	if cred.TrafficLimitBytes == 0 {
		b.WriteString("\nTraffic: unlimited")
	} else {
		fmt.Fprintf(&b, "\nTraffic: %d GB", cred.TrafficLimitBytes>>30)
	}
	if cred.SubscriptionURL != "" {
		fmt.Fprintf(&b, "\n\nSubscription: %s", cred.SubscriptionURL)
	}

	return b.String()
}

// editStatus updates the buyer-side waiting message, tolerating a
// missing message id
func (s *ApprovalService) editStatus(ctx context.Context, rec *storage.PaymentRecord, text string) {
	if rec.StatusMessageID == 0 {
		_, _ = s.notifier.SendMessage(ctx, rec.ChatID, text, nil)
		return
	}
	if err := s.notifier.EditMessage(ctx, rec.ChatID, rec.StatusMessageID, text, nil); err != nil {
		s.logger.WithField("payment_id", rec.ID).Debugf("Status edit failed: %v", err)
	}
}

// editAdminCard rewrites the review card caption and drops its buttons
func (s *ApprovalService) editAdminCard(ctx context.Context, rec *storage.PaymentRecord, caption string) {
	if rec.AdminMessageID == 0 {
		return
	}
	if err := s.notifier.EditCaption(ctx, s.cfg.Telegram.AdminID, rec.AdminMessageID, caption, nil); err != nil {
		s.logger.WithField("payment_id", rec.ID).Debugf("Admin card edit failed: %v", err)
	}
}

func (s *ApprovalService) adminContact() string {
	if s.cfg.Telegram.AdminUsername != "" {
		return "@" + strings.TrimPrefix(s.cfg.Telegram.AdminUsername, "@")
	}
	return fmt.Sprintf("tg://user?id=%d", s.cfg.Telegram.AdminID)
}

func displayName(username string, userID int64) string {
	if username != "" {
		return username
	}
	return fmt.Sprintf("user%d", userID)
}
