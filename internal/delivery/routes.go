// Package delivery implements the delivery note fulfillment engine: the
// delivery note state machine, pick list coordination and the
// dispatch/receive ledger.
package delivery

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// MountRoutes wires all delivery domain routes.
func MountRoutes(r chi.Router, logger *slog.Logger, service *Service) {
	NewHandler(logger, service).MountRoutes(r)
}
