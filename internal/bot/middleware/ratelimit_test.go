package middleware

import (
	"errors"
	"testing"

	apperrors "vpn-shop-bot/internal/errors"
)

func TestRateLimiterQuota(t *testing.T) {
	r := NewRateLimiter(2, 60)

	if err := r.Check(1); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := r.Check(1); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := r.Check(1); !errors.Is(err, apperrors.ErrRateLimitExceeded) {
		t.Errorf("third request = %v, want ErrRateLimitExceeded", err)
	}

	// other users have their own window
	if err := r.Check(2); err != nil {
		t.Errorf("different user should not be throttled: %v", err)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	r := NewRateLimiter(0, 0)

	for i := 0; i < 10; i++ {
		if err := r.Check(1); err != nil {
			t.Fatalf("request %d within default quota: %v", i+1, err)
		}
	}
	if err := r.Check(1); !errors.Is(err, apperrors.ErrRateLimitExceeded) {
		t.Errorf("request over default quota = %v, want ErrRateLimitExceeded", err)
	}
}
