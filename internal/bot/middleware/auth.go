package middleware

import (
	"vpn-shop-bot/internal/config"
	"vpn-shop-bot/internal/errors"
)

// AuthMiddleware handles authorization checks
type AuthMiddleware struct {
	config *config.Config
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

// IsAdmin checks if user is the configured admin
func (m *AuthMiddleware) IsAdmin(userID int64) bool {
	return userID == m.config.Telegram.AdminID
}

// RequireAdmin returns an error if user is not an admin
func (m *AuthMiddleware) RequireAdmin(userID int64) error {
	if !m.IsAdmin(userID) {
		return errors.Unauthorized("admin access required")
	}
	return nil
}
