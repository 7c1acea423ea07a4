package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "vpn-shop-bot/internal/errors"
)

func openTestPayment(t *testing.T, s Storage, id string) *PaymentRecord {
	t.Helper()
	rec := &PaymentRecord{
		ID:          id,
		UserID:      42,
		ChatID:      42,
		Username:    "buyer",
		PlanKey:     "vless_1",
		ProofFileID: "file123",
	}
	if err := s.OpenPayment(rec); err != nil {
		t.Fatalf("OpenPayment: %v", err)
	}
	return rec
}

func TestTryClosePaymentExactlyOnce(t *testing.T) {
	s := NewMemoryStorage()
	openTestPayment(t, s, "pay1")

	const closers = 50
	var wg sync.WaitGroup
	wins := make(chan PaymentStatus, closers)

	for i := 0; i < closers; i++ {
		status := StatusApproved
		if i%2 == 1 {
			status = StatusRejected
		}
		wg.Add(1)
		go func(st PaymentStatus) {
			defer wg.Done()
			if _, err := s.TryClosePayment("pay1", st); err == nil {
				wins <- st
			}
		}(status)
	}
	wg.Wait()
	close(wins)

	var winners []PaymentStatus
	for st := range wins {
		winners = append(winners, st)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winning close, got %d", len(winners))
	}

	rec, err := s.GetPayment("pay1")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if rec.Status != winners[0] {
		t.Errorf("final status = %s, winner closed with %s", rec.Status, winners[0])
	}
	if rec.ClosedAt.IsZero() {
		t.Error("ClosedAt not set on close")
	}
}

func TestTryClosePaymentUnknownID(t *testing.T) {
	s := NewMemoryStorage()

	_, err := s.TryClosePayment("missing", StatusApproved)
	if !errors.Is(err, apperrors.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed for unknown id, got %v", err)
	}
}

func TestOpenPaymentDuplicate(t *testing.T) {
	s := NewMemoryStorage()
	rec := openTestPayment(t, s, "pay1")

	if err := s.OpenPayment(rec); err == nil {
		t.Error("expected error opening the same payment twice")
	}
}

func TestPendingPayments(t *testing.T) {
	s := NewMemoryStorage()
	openTestPayment(t, s, "a")
	openTestPayment(t, s, "b")
	openTestPayment(t, s, "c")

	if _, err := s.TryClosePayment("b", StatusCancelled); err != nil {
		t.Fatalf("TryClosePayment: %v", err)
	}

	pending, err := s.PendingPayments()
	if err != nil {
		t.Fatalf("PendingPayments: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending payments, got %d", len(pending))
	}
	for _, p := range pending {
		if p.Status != StatusWaiting {
			t.Errorf("pending payment %s has status %s", p.ID, p.Status)
		}
	}
}

func TestSetPaymentMessages(t *testing.T) {
	s := NewMemoryStorage()
	openTestPayment(t, s, "pay1")

	if err := s.SetPaymentMessages("pay1", 10, 20); err != nil {
		t.Fatalf("SetPaymentMessages: %v", err)
	}

	rec, err := s.GetPayment("pay1")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if rec.StatusMessageID != 10 || rec.AdminMessageID != 20 {
		t.Errorf("message ids = (%d, %d), want (10, 20)", rec.StatusMessageID, rec.AdminMessageID)
	}

	if err := s.SetPaymentMessages("missing", 1, 2); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMarkTrialUsedMonotonic(t *testing.T) {
	s := NewMemoryStorage()

	used, err := s.TrialUsed(7)
	if err != nil || used {
		t.Fatalf("fresh user should not have used trial, got used=%v err=%v", used, err)
	}

	if err := s.MarkTrialUsed(7); err != nil {
		t.Fatalf("first MarkTrialUsed: %v", err)
	}
	if err := s.MarkTrialUsed(7); !errors.Is(err, apperrors.ErrTrialUsed) {
		t.Errorf("second MarkTrialUsed = %v, want ErrTrialUsed", err)
	}

	used, _ = s.TrialUsed(7)
	if !used {
		t.Error("TrialUsed should report true after claim")
	}
}

func TestMarkTrialUsedConcurrent(t *testing.T) {
	s := NewMemoryStorage()

	const claimers = 30
	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkTrialUsed(7); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly 1 winning trial claim, got %d", winners)
	}
}

func TestSubscriptionOrder(t *testing.T) {
	s := NewMemoryStorage()

	for _, label := range []string{"first", "second", "third"} {
		err := s.AppendSubscription(&SubscriptionRecord{
			UserID:    42,
			PlanName:  "Basic Plan",
			Label:     label,
			ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendSubscription(%s): %v", label, err)
		}
	}
	if err := s.AppendSubscription(&SubscriptionRecord{UserID: 99, Label: "other"}); err != nil {
		t.Fatalf("AppendSubscription: %v", err)
	}

	subs, err := s.ListSubscriptions(42)
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subscriptions for user 42, got %d", len(subs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if subs[i].Label != want {
			t.Errorf("subs[%d].Label = %s, want %s", i, subs[i].Label, want)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewMemoryStorage()

	if _, err := s.GetSession(5); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing session, got %v", err)
	}

	if err := s.SetSession(5, &SessionState{PlanKey: "vless_2"}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	state, err := s.GetSession(5)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if state.PlanKey != "vless_2" {
		t.Errorf("PlanKey = %s, want vless_2", state.PlanKey)
	}
	if state.Timestamp.IsZero() {
		t.Error("Timestamp not defaulted on SetSession")
	}

	if err := s.ClearSession(5); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, err := s.GetSession(5); err == nil {
		t.Error("session should be gone after ClearSession")
	}
}

func TestExpiringSubscriptions(t *testing.T) {
	s := NewMemoryStorage()

	soon := &SubscriptionRecord{UserID: 1, Label: "soon", ExpiresAt: time.Now().Add(24 * time.Hour)}
	far := &SubscriptionRecord{UserID: 1, Label: "far", ExpiresAt: time.Now().Add(10 * 24 * time.Hour)}
	gone := &SubscriptionRecord{UserID: 1, Label: "gone", ExpiresAt: time.Now().Add(-time.Hour)}
	for _, sub := range []*SubscriptionRecord{soon, far, gone} {
		if err := s.AppendSubscription(sub); err != nil {
			t.Fatalf("AppendSubscription: %v", err)
		}
	}

	expiring, err := s.ExpiringSubscriptions(3 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("ExpiringSubscriptions: %v", err)
	}
	if len(expiring) != 1 || expiring[0].Label != "soon" {
		t.Fatalf("expected only the soon-expiring record, got %d records", len(expiring))
	}

	if err := s.MarkReminderSent(expiring[0].ID); err != nil {
		t.Fatalf("MarkReminderSent: %v", err)
	}

	expiring, _ = s.ExpiringSubscriptions(3 * 24 * time.Hour)
	if len(expiring) != 0 {
		t.Errorf("reminded record should not reappear, got %d records", len(expiring))
	}
}

func TestCleanupExpiredStates(t *testing.T) {
	s := NewMemoryStorage()

	_ = s.SetSession(1, &SessionState{PlanKey: "vless_1", Timestamp: time.Now().Add(-2 * time.Hour)})
	_ = s.SetSession(2, &SessionState{PlanKey: "vless_2"})

	openTestPayment(t, s, "old")
	if _, err := s.TryClosePayment("old", StatusRejected); err != nil {
		t.Fatalf("TryClosePayment: %v", err)
	}

	if err := s.CleanupExpiredStates(time.Hour); err != nil {
		t.Fatalf("CleanupExpiredStates: %v", err)
	}

	if _, err := s.GetSession(1); err == nil {
		t.Error("stale session should be cleaned up")
	}
	if _, err := s.GetSession(2); err != nil {
		t.Error("fresh session should survive cleanup")
	}
	// the closed payment is younger than maxAge, stays for now
	if _, err := s.GetPayment("old"); err != nil {
		t.Error("recently closed payment should survive cleanup")
	}
}
