package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func ParsePGErrorCode(err error) string {
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
)

// Ticket lookup / persistence
var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrConflict       = errors.New("ticket modified concurrently, retry")
)

// Authorization (wrong party for the action)
var (
	ErrNotParticipant = errors.New("you are not a participant of this ticket")
	ErrNotInvited     = errors.New("no pending invitation for this user")
	ErrRoleTaken      = errors.New("role_taken")
	ErrNoRoleBound    = errors.New("no role bound for this user")
	ErrNotReceiver    = errors.New("only the receiver may perform this action")
	ErrNotSender      = errors.New("only the sender may perform this action")
)

// Phase (legal participant, wrong point in the flow)
var (
	ErrWrongPhase           = errors.New("action is not valid in the current phase")
	ErrTicketClosed         = errors.New("ticket is closed")
	ErrFundsAlreadyReleased = errors.New("funds already released")
	ErrCancelNotAllowed     = errors.New("ticket can no longer be cancelled")
	ErrPrivacyIncomplete    = errors.New("waiting for all parties to select privacy")
)

// Validation
var (
	ErrInvalidCurrency  = errors.New("unsupported cryptocurrency")
	ErrInvalidRole      = errors.New("role must be sender or receiver")
	ErrInvalidAmount    = errors.New("could not detect a valid amount")
	ErrInvalidAddress   = errors.New("payout address is not valid for this currency")
	ErrInvalidPrivacy   = errors.New("privacy preference must be anonymous or global")
	ErrInvalidFeeOption = errors.New("unknown fee option")
)

// Limits (safe no-ops, not failures)
var (
	ErrCopyLimitReached   = errors.New("copy details limit reached")
	ErrRescanLimitReached = errors.New("maximum rescan attempts reached")
)

// Passes
var (
	ErrInsufficientPasses = errors.New("insufficient passes")
	ErrPassNotOffered     = errors.New("pass redemption was not offered")
)
