// internal/usecase/ports.go
package usecase

import (
	"context"
	"time"

	"trade-service/internal/domain"
)

// TicketStore is the persistence port for the ticket aggregate. Update must
// be a conditional write on the aggregate version, returning
// xerrors.ErrConflict when a concurrent writer won.
type TicketStore interface {
	Create(ctx context.Context, t *domain.Ticket) error
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Update(ctx context.Context, t *domain.Ticket) error
	ListByParticipant(ctx context.Context, userID, status string, limit, offset int) ([]*domain.Ticket, error)
	ListDueForClose(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error)
	ListMonitoringExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error)
}

// PassLedger is the shared pass-balance port. RedeemOne must be an atomic
// decrement-if-positive.
type PassLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	RedeemOne(ctx context.Context, userID string) (bool, error)
	Grant(ctx context.Context, userID string, n int) error
}

// ChainWatcher is the outbound port to the blockchain collaborator. The core
// only ever asks it to start watching and to broadcast a payout; everything
// it learns comes back through webhook events.
type ChainWatcher interface {
	WatchAddress(ctx context.Context, ticketID, currency string) error
	BroadcastPayout(ctx context.Context, ticketID, address string, amountUSD float64, currency string) error
	CancelWatch(ctx context.Context, ticketID string) error
}

// Notifier pushes fresh ticket snapshots to connected participants. Pushes
// are advisory; polling GET remains the authoritative read.
type Notifier interface {
	NotifyTicket(userIDs []string, t *domain.Ticket)
}
