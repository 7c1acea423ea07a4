package storage

import (
	"fmt"
	"sync"
	"time"

	apperrors "vpn-shop-bot/internal/errors"
)

// MemoryStorage implements Storage interface with in-memory storage
type MemoryStorage struct {
	payments      map[string]*PaymentRecord
	sessions      map[int64]*SessionState
	subscriptions map[int64][]*SubscriptionRecord
	trials        map[int64]bool
	nextSubID     int64
	mu            sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		payments:      make(map[string]*PaymentRecord),
		sessions:      make(map[int64]*SessionState),
		subscriptions: make(map[int64][]*SubscriptionRecord),
		trials:        make(map[int64]bool),
	}
}

// Payment ledger
func (s *MemoryStorage) OpenPayment(p *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already open", p.ID)
	}
	if p.Status == "" {
		p.Status = StatusWaiting
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.payments[p.ID] = p
	return nil
}

func (s *MemoryStorage) GetPayment(id string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, exists := s.payments[id]
	if !exists {
		return nil, apperrors.NotFound(fmt.Sprintf("payment %s not found", id))
	}
	snapshot := *p
	return &snapshot, nil
}

func (s *MemoryStorage) SetPaymentMessages(id string, statusMessageID, adminMessageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.payments[id]
	if !exists {
		return apperrors.NotFound(fmt.Sprintf("payment %s not found", id))
	}
	if statusMessageID != 0 {
		p.StatusMessageID = statusMessageID
	}
	if adminMessageID != 0 {
		p.AdminMessageID = adminMessageID
	}
	return nil
}

// TryClosePayment atomically moves a waiting payment into a terminal
// status. Exactly one caller wins for a given record.
func (s *MemoryStorage) TryClosePayment(id string, status PaymentStatus) (*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.payments[id]
	if !exists || p.Status.Closed() {
		return nil, apperrors.Wrap(apperrors.ErrAlreadyProcessed, "PAYMENT_CLOSED",
			fmt.Sprintf("payment %s is not open", id))
	}

	p.Status = status
	p.ClosedAt = time.Now()

	snapshot := *p
	return &snapshot, nil
}

func (s *MemoryStorage) RemovePayment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, id)
	return nil
}

func (s *MemoryStorage) PendingPayments() ([]*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*PaymentRecord
	for _, p := range s.payments {
		if p.Status == StatusWaiting {
			snapshot := *p
			result = append(result, &snapshot)
		}
	}
	return result, nil
}

// Plan-selection sessions
func (s *MemoryStorage) SetSession(userID int64, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now()
	}
	s.sessions[userID] = state
	return nil
}

func (s *MemoryStorage) GetSession(userID int64) (*SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, exists := s.sessions[userID]
	if !exists {
		return nil, apperrors.NotFound(fmt.Sprintf("no active session for user %d", userID))
	}
	return state, nil
}

func (s *MemoryStorage) ClearSession(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// Issued subscriptions
func (s *MemoryStorage) AppendSubscription(sub *SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	sub.ID = s.nextSubID
	if sub.IssuedAt.IsZero() {
		sub.IssuedAt = time.Now()
	}
	s.subscriptions[sub.UserID] = append(s.subscriptions[sub.UserID], sub)
	return nil
}

func (s *MemoryStorage) ListSubscriptions(userID int64) ([]*SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.subscriptions[userID]
	result := make([]*SubscriptionRecord, len(subs))
	copy(result, subs)
	return result, nil
}

// Expiry reminders
func (s *MemoryStorage) ExpiringSubscriptions(within time.Duration) ([]*SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	cutoff := now.Add(within)

	var result []*SubscriptionRecord
	for _, subs := range s.subscriptions {
		for _, sub := range subs {
			if !sub.ReminderSent && sub.ExpiresAt.After(now) && sub.ExpiresAt.Before(cutoff) {
				result = append(result, sub)
			}
		}
	}
	return result, nil
}

func (s *MemoryStorage) MarkReminderSent(subID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subs := range s.subscriptions {
		for _, sub := range subs {
			if sub.ID == subID {
				sub.ReminderSent = true
				return nil
			}
		}
	}
	return nil
}

// Trial flag
func (s *MemoryStorage) MarkTrialUsed(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trials[userID] {
		return apperrors.ErrTrialUsed
	}
	s.trials[userID] = true
	return nil
}

func (s *MemoryStorage) TrialUsed(userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trials[userID], nil
}

// CleanupExpiredStates removes sessions and open payments older than maxAge
func (s *MemoryStorage) CleanupExpiredStates(maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	for userID, state := range s.sessions {
		if now.Sub(state.Timestamp) > maxAge {
			delete(s.sessions, userID)
		}
	}

	for id, p := range s.payments {
		if p.Status.Closed() && now.Sub(p.ClosedAt) > maxAge {
			delete(s.payments, id)
		}
	}

	return nil
}

// Close closes the storage (no-op for memory storage)
func (s *MemoryStorage) Close() error {
	return nil
}
