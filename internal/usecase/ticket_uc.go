// internal/usecase/ticket_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-service/internal/domain"
	"trade-service/internal/pkg/id"
	xerrors "trade-service/internal/pkg/xerrors"

	"go.uber.org/zap"
)

// Config carries the durable-deadline and retry tuning for the orchestrator.
type Config struct {
	// TransactionTimeout is how long deposit detection may run before the
	// ticket enters the timeout sub-state.
	TransactionTimeout time.Duration
	// CloseDelay is the fixed delay between finalize and auto-close.
	CloseDelay time.Duration
	// MaxUpdateRetries bounds reload-and-retry on optimistic write conflicts.
	MaxUpdateRetries int
}

func DefaultConfig() Config {
	return Config{
		TransactionTimeout: 30 * time.Minute,
		CloseDelay:         time.Minute,
		MaxUpdateRetries:   3,
	}
}

// TicketUsecase is the public operation surface over the ticket aggregate.
// Every mutating operation follows the same shape: load the snapshot, apply
// the deadline sweep, apply the transition, attempt a single conditional
// write, and retry from a fresh load on conflict. No blocking I/O happens
// between load and write.
type TicketUsecase struct {
	store    TicketStore
	passes   PassLedger
	watcher  ChainWatcher
	notifier Notifier
	logger   *zap.Logger
	cfg      Config

	now func() time.Time
}

func NewTicketUsecase(
	store TicketStore,
	passes PassLedger,
	watcher ChainWatcher,
	notifier Notifier,
	logger *zap.Logger,
	cfg Config,
) *TicketUsecase {
	if cfg.MaxUpdateRetries <= 0 {
		cfg.MaxUpdateRetries = 3
	}
	return &TicketUsecase{
		store:    store,
		passes:   passes,
		watcher:  watcher,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (uc *TicketUsecase) SetClock(now func() time.Time) { uc.now = now }

// mutate runs one transition under optimistic concurrency. The transition fn
// sees a snapshot that already had expired deadlines applied, so a ticket
// past its close deadline rejects mutations as completed even before the
// sweeper has persisted that fact.
func (uc *TicketUsecase) mutate(ctx context.Context, ticketID string, fn func(t *domain.Ticket) error) (*domain.Ticket, error) {
	var lastErr error
	for attempt := 0; attempt < uc.cfg.MaxUpdateRetries; attempt++ {
		t, err := uc.store.Get(ctx, ticketID)
		if err != nil {
			return nil, err
		}

		now := uc.now()
		t.CheckAutoClose(now)
		t.CheckTransactionTimeout(now)

		if err := fn(t); err != nil {
			return t, err
		}

		if err := uc.store.Update(ctx, t); err != nil {
			if errors.Is(err, xerrors.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		uc.notifier.NotifyTicket(t.ParticipantIDs(), t)
		return t, nil
	}
	return nil, lastErr
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// CreateTicket opens a new escrow ticket, optionally inviting a second user
// by identifier.
func (uc *TicketUsecase) CreateTicket(ctx context.Context, creator, currency, invitedUserID string) (*domain.Ticket, error) {
	cur, err := domain.ParseCurrency(currency)
	if err != nil {
		return nil, err
	}

	t := domain.NewTicket(id.GenerateTicketID(), cur, creator, invitedUserID, uc.now())
	if err := uc.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	uc.logger.Info("Ticket created",
		zap.String("ticket_id", t.TicketID),
		zap.String("creator", creator),
		zap.String("currency", currency))

	uc.notifier.NotifyTicket(t.ParticipantIDs(), t)
	return t, nil
}

// GetTicket returns the current snapshot for a participant. Expired
// deadlines are applied on read and persisted best-effort, so a poller sees
// the completed state without waiting for the sweeper.
func (uc *TicketUsecase) GetTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	t, err := uc.store.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.CanView(userID) {
		now := uc.now()
		if t.CheckAutoClose(now) || t.CheckTransactionTimeout(now) {
			if err := uc.store.Update(ctx, t); err != nil && !errors.Is(err, xerrors.ErrConflict) {
				uc.logger.Error("Failed to persist deadline transition",
					zap.String("ticket_id", ticketID),
					zap.Error(err))
			}
		}
		return t, nil
	}
	return nil, xerrors.ErrNotParticipant
}

// ListTickets returns the caller's tickets, optionally filtered by status.
func (uc *TicketUsecase) ListTickets(ctx context.Context, userID, status string, limit, offset int) ([]*domain.Ticket, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return uc.store.ListByParticipant(ctx, userID, status, limit, offset)
}

func (uc *TicketUsecase) RespondToInvitation(ctx context.Context, ticketID, userID string, accept bool) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.RespondToInvitation(userID, accept, uc.now())
	})
}

// ============================================================================
// ROLE / AMOUNT / FEES
// ============================================================================

func (uc *TicketUsecase) SelectRole(ctx context.Context, ticketID, userID, role string) (*domain.Ticket, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.SelectRole(userID, r, uc.now())
	})
}

func (uc *TicketUsecase) ConfirmRole(ctx context.Context, ticketID, userID string, confirmed bool) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ConfirmRole(userID, confirmed, uc.now())
	})
}

// DetectAmount runs the optimistic amount parse over a chat message.
func (uc *TicketUsecase) DetectAmount(ctx context.Context, ticketID, userID, message string) (*domain.Ticket, float64, error) {
	var amount float64
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		var err error
		amount, err = t.DetectAmount(userID, message, uc.now())
		return err
	})
	return t, amount, err
}

func (uc *TicketUsecase) ConfirmAmount(ctx context.Context, ticketID, userID string, confirmed bool) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ConfirmAmount(userID, confirmed, uc.now())
	})
}

// SelectFeeOption picks the fee path. The pass balance is read up front so
// the use-pass path can fall back to standard fees for a broke party.
func (uc *TicketUsecase) SelectFeeOption(ctx context.Context, ticketID, userID, option string) (*domain.Ticket, error) {
	opt := domain.FeeOption(option)
	if opt != domain.FeeOptionWithFees && opt != domain.FeeOptionUsePass {
		return nil, xerrors.ErrInvalidFeeOption
	}

	balance := 0
	if opt == domain.FeeOptionUsePass {
		var err error
		balance, err = uc.passes.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to read pass balance: %w", err)
		}
	}

	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.SelectFeeOption(userID, opt, balance, uc.now())
	})
}

// ConfirmPassUse redeems one pass and waives the ticket fee. The ledger
// decrement runs first so two tickets racing over a balance of one produce
// exactly one success; a failed ticket transition refunds the pass.
func (uc *TicketUsecase) ConfirmPassUse(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	redeemed, err := uc.passes.RedeemOne(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !redeemed {
		return nil, xerrors.ErrInsufficientPasses
	}

	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ConfirmPassUse(userID, uc.now())
	})
	if err != nil {
		if grantErr := uc.passes.Grant(ctx, userID, 1); grantErr != nil {
			uc.logger.Error("Failed to refund pass after rejected redemption",
				zap.String("ticket_id", ticketID),
				zap.String("user_id", userID),
				zap.Error(grantErr))
		}
		return t, err
	}
	return t, nil
}

func (uc *TicketUsecase) ConfirmFees(ctx context.Context, ticketID, userID string, confirmed bool) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ConfirmFees(userID, confirmed, uc.now())
	})
}

// PassBalance exposes the caller's pass balance.
func (uc *TicketUsecase) PassBalance(ctx context.Context, userID string) (int, error) {
	return uc.passes.Balance(ctx, userID)
}

// ============================================================================
// PAYOUT ADDRESS / MONITORING
// ============================================================================

func (uc *TicketUsecase) SubmitPayoutAddress(ctx context.Context, ticketID, userID, address string) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.SubmitPayoutAddress(userID, address, uc.now())
	})
}

// ConfirmPayoutAddress records the receiver's vote; on confirmation the Chain
// Watcher is asked to start watching for the deposit. The watch call happens
// after the write, outside any concurrency window; its failure is logged and
// retried via rescan, never left half-applied on the ticket.
func (uc *TicketUsecase) ConfirmPayoutAddress(ctx context.Context, ticketID, userID string, confirmed bool) (*domain.Ticket, error) {
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ConfirmPayoutAddress(userID, confirmed, uc.cfg.TransactionTimeout, uc.now())
	})
	if err != nil {
		return t, err
	}

	if confirmed {
		if werr := uc.watcher.WatchAddress(ctx, ticketID, t.Currency.String()); werr != nil {
			uc.logger.Error("Failed to start chain watch",
				zap.String("ticket_id", ticketID),
				zap.Error(werr))
		}
	}
	return t, nil
}

// CopyTransactionDetails re-posts transfer details, capped at three clicks.
// At the cap the counter value is returned unchanged rather than erroring.
func (uc *TicketUsecase) CopyTransactionDetails(ctx context.Context, ticketID, userID string) (*domain.Ticket, int, bool, error) {
	var count int
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		var err error
		count, err = t.CopyTransactionDetails(userID, uc.now())
		return err
	})
	if errors.Is(err, xerrors.ErrCopyLimitReached) {
		return t, count, true, nil
	}
	if err != nil {
		return t, count, false, err
	}
	return t, count, count >= domain.MaxCopyDetailsClicks, nil
}

// RescanTransaction re-arms deposit detection from the timeout sub-state.
func (uc *TicketUsecase) RescanTransaction(ctx context.Context, ticketID, userID string) (*domain.Ticket, int, error) {
	var attempts int
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		var err error
		attempts, err = t.RescanTransaction(userID, uc.cfg.TransactionTimeout, uc.now())
		return err
	})
	if err != nil {
		return t, attempts, err
	}

	if werr := uc.watcher.WatchAddress(ctx, ticketID, t.Currency.String()); werr != nil {
		uc.logger.Error("Failed to re-arm chain watch",
			zap.String("ticket_id", ticketID),
			zap.Error(werr))
	}
	return t, attempts, nil
}

func (uc *TicketUsecase) CancelTransactionMonitoring(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.CancelTransactionMonitoring(userID, uc.now())
	})
	if err != nil {
		return t, err
	}

	if werr := uc.watcher.CancelWatch(ctx, ticketID); werr != nil {
		uc.logger.Error("Failed to cancel chain watch",
			zap.String("ticket_id", ticketID),
			zap.Error(werr))
	}
	return t, nil
}

// ============================================================================
// RELEASE / PRIVACY / CLOSE
// ============================================================================

// ReleaseFunds triggers the one-way payout. The broadcast instruction goes
// out only after the release is durably recorded, so a crash between the two
// can be reconciled by ops but can never double-release.
func (uc *TicketUsecase) ReleaseFunds(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	t, err := uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.ReleaseFunds(userID, uc.now())
	})
	if err != nil {
		return t, err
	}

	uc.logger.Info("Funds released",
		zap.String("ticket_id", ticketID),
		zap.String("sender", userID))

	if werr := uc.watcher.BroadcastPayout(ctx, ticketID, t.PayoutAddress, t.ExpectedAmount, t.Currency.String()); werr != nil {
		uc.logger.Error("Failed to instruct payout broadcast",
			zap.String("ticket_id", ticketID),
			zap.Error(werr))
	}
	return t, nil
}

func (uc *TicketUsecase) SelectPrivacy(ctx context.Context, ticketID, userID, preference string) (*domain.Ticket, error) {
	pref, err := domain.ParsePrivacyPreference(preference)
	if err != nil {
		return nil, err
	}
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.SelectPrivacy(userID, pref, uc.now())
	})
}

func (uc *TicketUsecase) FinalizeTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if !t.IsAccepted(userID) {
			return xerrors.ErrNotParticipant
		}
		return t.Finalize(uc.cfg.CloseDelay, uc.now())
	})
}

func (uc *TicketUsecase) CancelTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	return uc.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		return t.Cancel(userID, uc.now())
	})
}

// ============================================================================
// DEADLINE SWEEPER
// ============================================================================

// RunDeadlineSweeper applies stored deadlines in the background so tickets
// progress even when nobody is polling them. Safe to run on every instance:
// the conditional write makes concurrent sweeps race harmlessly.
func (uc *TicketUsecase) RunDeadlineSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uc.logger.Info("Deadline sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("Deadline sweeper stopped")
			return
		case <-ticker.C:
			uc.sweepOnce(ctx)
		}
	}
}

func (uc *TicketUsecase) sweepOnce(ctx context.Context) {
	now := uc.now()

	due, err := uc.store.ListDueForClose(ctx, now, 50)
	if err != nil {
		uc.logger.Error("Sweep: failed to list tickets due for close", zap.Error(err))
	}
	for _, t := range due {
		uc.applySweep(ctx, t, now)
	}

	expired, err := uc.store.ListMonitoringExpired(ctx, now, 50)
	if err != nil {
		uc.logger.Error("Sweep: failed to list expired monitoring tickets", zap.Error(err))
	}
	for _, t := range expired {
		uc.applySweep(ctx, t, now)
	}
}

func (uc *TicketUsecase) applySweep(ctx context.Context, t *domain.Ticket, now time.Time) {
	closed := t.CheckAutoClose(now)
	timedOut := t.CheckTransactionTimeout(now)
	if !closed && !timedOut {
		return
	}
	if err := uc.store.Update(ctx, t); err != nil {
		if !errors.Is(err, xerrors.ErrConflict) {
			uc.logger.Error("Sweep: failed to persist deadline transition",
				zap.String("ticket_id", t.TicketID),
				zap.Error(err))
		}
		return
	}
	uc.notifier.NotifyTicket(t.ParticipantIDs(), t)
}
