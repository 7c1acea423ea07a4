package middleware

import (
	"runtime/debug"

	"vpn-shop-bot/internal/logger"
)

// Recovery keeps a handler panic from killing the update loop
type Recovery struct {
	logger *logger.Logger
}

// NewRecovery creates a new recovery middleware
func NewRecovery(log *logger.Logger) *Recovery {
	return &Recovery{logger: log}
}

// Recover logs the panic value with its stack and resumes. Meant to be
// deferred at the top of an update-handling goroutine.
func (r *Recovery) Recover() {
	if v := recover(); v != nil {
		r.logger.WithFields(map[string]interface{}{
			"panic": v,
			"stack": string(debug.Stack()),
		}).Error("Recovered from panic while handling updates")
	}
}
