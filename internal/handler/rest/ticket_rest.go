// internal/handler/rest/ticket_rest.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"trade-service/internal/domain"
	"trade-service/internal/pkg/middleware"
	"trade-service/internal/pkg/response"
	xerrors "trade-service/internal/pkg/xerrors"
	"trade-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TicketRestHandler struct {
	tickets *usecase.TicketUsecase
	logger  *zap.Logger
}

func NewTicketRestHandler(tickets *usecase.TicketUsecase, logger *zap.Logger) *TicketRestHandler {
	return &TicketRestHandler{
		tickets: tickets,
		logger:  logger,
	}
}

// ============================================================================
// LIFECYCLE ENDPOINTS
// ============================================================================

// CreateTicket opens a new trade ticket
// POST /trade/tickets
func (h *TicketRestHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Currency      string `json:"cryptocurrency"`
		InvitedUserID string `json:"invited_user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.logger.Info("Creating trade ticket",
		zap.String("user_id", userID),
		zap.String("currency", req.Currency))

	ticket, err := h.tickets.CreateTicket(r.Context(), userID, req.Currency, req.InvitedUserID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]interface{}{"ticket": ticket})
}

// GetTicket returns the current snapshot including the transcript
// GET /trade/tickets/{ticketID}
func (h *TicketRestHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.GetTicket(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ListTickets returns the caller's tickets
// GET /trade/tickets?status=&limit=&offset=
func (h *TicketRestHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit := intQuery(r, "limit", 20)
	offset := intQuery(r, "offset", 0)
	tickets, err := h.tickets.ListTickets(r.Context(), userID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// RespondToInvitation accepts or declines an invite
// POST /trade/tickets/{ticketID}/invitation
func (h *TicketRestHandler) RespondToInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Action string `json:"action"` // accept | decline
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Action != "accept" && req.Action != "decline" {
		response.Error(w, http.StatusBadRequest, "Action must be accept or decline")
		return
	}

	ticket, err := h.tickets.RespondToInvitation(r.Context(), ticketIDParam(r), userID, req.Action == "accept")
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// CancelTicket terminates the ticket while cancellation is still allowed
// POST /trade/tickets/{ticketID}/cancel
func (h *TicketRestHandler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.CancelTicket(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ============================================================================
// ROLE / AMOUNT / FEE ENDPOINTS
// ============================================================================

// SelectRole binds sender or receiver to the caller
// POST /trade/tickets/{ticketID}/role
func (h *TicketRestHandler) SelectRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.tickets.SelectRole(r.Context(), ticketIDParam(r), userID, req.Role)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ConfirmRole records a role-confirmation vote
// POST /trade/tickets/{ticketID}/role/confirm
func (h *TicketRestHandler) ConfirmRole(w http.ResponseWriter, r *http.Request) {
	h.confirmVote(w, r, h.tickets.ConfirmRole)
}

// DetectAmount parses a USD amount out of a chat message
// POST /trade/tickets/{ticketID}/amount/detect
func (h *TicketRestHandler) DetectAmount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, amount, err := h.tickets.DetectAmount(r.Context(), ticketIDParam(r), userID, req.Message)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"ticket":          ticket,
		"detected_amount": amount,
	})
}

// ConfirmAmount records an amount-confirmation vote
// POST /trade/tickets/{ticketID}/amount/confirm
func (h *TicketRestHandler) ConfirmAmount(w http.ResponseWriter, r *http.Request) {
	h.confirmVote(w, r, h.tickets.ConfirmAmount)
}

// SelectFeeOption picks with-fees or use-pass
// POST /trade/tickets/{ticketID}/fee/option
func (h *TicketRestHandler) SelectFeeOption(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.tickets.SelectFeeOption(r.Context(), ticketIDParam(r), userID, req.Option)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ConfirmPassUse redeems one pass to waive the ticket fee
// POST /trade/tickets/{ticketID}/fee/pass/confirm
func (h *TicketRestHandler) ConfirmPassUse(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.ConfirmPassUse(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ConfirmFees records a fee-confirmation vote
// POST /trade/tickets/{ticketID}/fee/confirm
func (h *TicketRestHandler) ConfirmFees(w http.ResponseWriter, r *http.Request) {
	h.confirmVote(w, r, h.tickets.ConfirmFees)
}

// PassBalance returns the caller's pass balance
// GET /trade/passes
func (h *TicketRestHandler) PassBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balance, err := h.tickets.PassBalance(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// ============================================================================
// PAYOUT / MONITORING ENDPOINTS
// ============================================================================

// SubmitPayoutAddress stores the receiver's payout address
// POST /trade/tickets/{ticketID}/payout-address
func (h *TicketRestHandler) SubmitPayoutAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.tickets.SubmitPayoutAddress(r.Context(), ticketIDParam(r), userID, req.Address)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ConfirmPayoutAddress is the receiver-only vote on the stored address
// POST /trade/tickets/{ticketID}/payout-address/confirm
func (h *TicketRestHandler) ConfirmPayoutAddress(w http.ResponseWriter, r *http.Request) {
	h.confirmVote(w, r, h.tickets.ConfirmPayoutAddress)
}

// CopyTransactionDetails re-posts transfer details, capped at three
// POST /trade/tickets/{ticketID}/details/copy
func (h *TicketRestHandler) CopyTransactionDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, count, atLimit, err := h.tickets.CopyTransactionDetails(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"ticket":        ticket,
		"click_count":   count,
		"limit_reached": atLimit,
	})
}

// RescanTransaction re-arms deposit detection after a timeout
// POST /trade/tickets/{ticketID}/rescan
func (h *TicketRestHandler) RescanTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, attempts, err := h.tickets.RescanTransaction(r.Context(), ticketIDParam(r), userID)
	if errors.Is(err, xerrors.ErrRescanLimitReached) {
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"ticket":          ticket,
			"rescan_attempts": attempts,
			"limit_reached":   true,
			"message":         "Maximum rescan attempts reached",
		})
		return
	}
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"ticket":          ticket,
		"rescan_attempts": attempts,
		"limit_reached":   attempts >= domain.MaxRescanAttempts,
	})
}

// CancelTransactionMonitoring aborts deposit watching
// POST /trade/tickets/{ticketID}/monitoring/cancel
func (h *TicketRestHandler) CancelTransactionMonitoring(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.CancelTransactionMonitoring(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ReleaseFunds is the sender-only one-way payout trigger
// POST /trade/tickets/{ticketID}/release
func (h *TicketRestHandler) ReleaseFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.ReleaseFunds(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// SelectPrivacy records the caller's visibility preference
// POST /trade/tickets/{ticketID}/privacy
func (h *TicketRestHandler) SelectPrivacy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Preference string `json:"preference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := h.tickets.SelectPrivacy(r.Context(), ticketIDParam(r), userID, req.Preference)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// FinalizeTicket schedules the auto-close once privacy unanimity holds
// POST /trade/tickets/{ticketID}/finalize
func (h *TicketRestHandler) FinalizeTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ticket, err := h.tickets.FinalizeTicket(r.Context(), ticketIDParam(r), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ============================================================================
// HELPERS
// ============================================================================

type voteFn func(ctx context.Context, ticketID, userID string, confirmed bool) (*domain.Ticket, error)

func (h *TicketRestHandler) confirmVote(w http.ResponseWriter, r *http.Request, vote voteFn) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		response.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ticket, err := vote(r.Context(), ticketIDParam(r), userID, req.Confirmed)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"ticket": ticket})
}

// ticketIDParam decodes the ticket id path segment. Ticket ids start with
// "#" and arrive percent-encoded.
func ticketIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "ticketID")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// respondDomainError maps business-rule rejections onto user-displayable
// JSON envelopes; anything unexpected is logged as a bug and reported 500.
func (h *TicketRestHandler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, xerrors.ErrTicketNotFound):
		response.Error(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, xerrors.ErrRoleTaken):
		response.ErrorCode(w, http.StatusConflict, "role_taken", "That role is already taken")
	case errors.Is(err, xerrors.ErrConflict):
		response.ErrorCode(w, http.StatusConflict, "conflict", "Ticket changed underneath you, refetch and retry")
	case errors.Is(err, xerrors.ErrNotParticipant),
		errors.Is(err, xerrors.ErrNotInvited),
		errors.Is(err, xerrors.ErrNotReceiver),
		errors.Is(err, xerrors.ErrNotSender),
		errors.Is(err, xerrors.ErrPassNotOffered):
		response.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, xerrors.ErrWrongPhase),
		errors.Is(err, xerrors.ErrTicketClosed),
		errors.Is(err, xerrors.ErrFundsAlreadyReleased),
		errors.Is(err, xerrors.ErrCancelNotAllowed),
		errors.Is(err, xerrors.ErrPrivacyIncomplete):
		response.ErrorCode(w, http.StatusConflict, "wrong_phase", err.Error())
	case errors.Is(err, xerrors.ErrInvalidCurrency),
		errors.Is(err, xerrors.ErrInvalidRole),
		errors.Is(err, xerrors.ErrInvalidAmount),
		errors.Is(err, xerrors.ErrInvalidAddress),
		errors.Is(err, xerrors.ErrInvalidPrivacy),
		errors.Is(err, xerrors.ErrInvalidFeeOption),
		errors.Is(err, xerrors.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, xerrors.ErrInsufficientPasses):
		response.ErrorCode(w, http.StatusPaymentRequired, "insufficient_passes", "You have no passes to redeem")
	case errors.Is(err, xerrors.ErrCopyLimitReached),
		errors.Is(err, xerrors.ErrRescanLimitReached):
		response.ErrorCode(w, http.StatusOK, "limit_reached", err.Error())
	default:
		h.logger.Error("Unexpected error in ticket handler", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}
