// internal/handler/rest/chain_webhook.go
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"trade-service/internal/pkg/response"
	"trade-service/internal/usecase"

	"go.uber.org/zap"
)

// ChainWebhookHandler receives deposit and payout notifications from the
// chain watcher service. It is mounted outside the user auth group and is
// guarded by a shared secret header instead.
type ChainWebhookHandler struct {
	bridge *usecase.ChainBridge
	secret string
	logger *zap.Logger
}

func NewChainWebhookHandler(bridge *usecase.ChainBridge, secret string, logger *zap.Logger) *ChainWebhookHandler {
	return &ChainWebhookHandler{
		bridge: bridge,
		secret: secret,
		logger: logger,
	}
}

// HandleEvent processes a single watcher callback
// POST /trade/chain/events
func (h *ChainWebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Watcher-Secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		h.logger.Warn("Rejected chain event with bad watcher secret",
			zap.String("remote_addr", r.RemoteAddr))
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var event usecase.ChainEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid event body")
		return
	}
	if event.TicketID == "" || event.Type == "" {
		response.Error(w, http.StatusBadRequest, "ticket_id and type are required")
		return
	}

	if _, err := h.bridge.HandleEvent(r.Context(), event); err != nil {
		// The watcher retries on non-2xx. Events that no longer apply to the
		// ticket's phase are acknowledged so they are not redelivered forever.
		h.logger.Warn("Chain event not applied",
			zap.String("ticket_id", event.TicketID),
			zap.String("type", event.Type),
			zap.Error(err))
		response.JSON(w, http.StatusOK, map[string]interface{}{"applied": false})
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"applied": true})
}
