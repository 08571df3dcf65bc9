package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"trade-service/internal/domain"
	xerrors "trade-service/internal/pkg/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	alice = "user-alice"
	bob   = "user-bob"

	goodEthAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

// ============================================================================
// FAKES
// ============================================================================

// fakeStore is an in-memory TicketStore with the same conditional-write
// contract as the Postgres repository. forceConflicts makes the next N
// updates fail with ErrConflict regardless of version.
type fakeStore struct {
	mu             sync.Mutex
	tickets        map[string]*domain.Ticket
	forceConflicts int
	updates        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: make(map[string]*domain.Ticket)}
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	raw, _ := json.Marshal(t)
	var out domain.Ticket
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (s *fakeStore) Create(_ context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Version = 1
	s.tickets[t.TicketID] = cloneTicket(t)
	return nil
}

func (s *fakeStore) Get(_ context.Context, ticketID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, xerrors.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (s *fakeStore) Update(_ context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceConflicts > 0 {
		s.forceConflicts--
		return xerrors.ErrConflict
	}
	cur, ok := s.tickets[t.TicketID]
	if !ok {
		return xerrors.ErrTicketNotFound
	}
	if cur.Version != t.Version {
		return xerrors.ErrConflict
	}
	t.Version++
	s.tickets[t.TicketID] = cloneTicket(t)
	s.updates++
	return nil
}

func (s *fakeStore) ListByParticipant(_ context.Context, userID, status string, limit, offset int) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if !t.CanView(userID) {
			continue
		}
		if status != "" && string(t.Status) != status {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	return out, nil
}

func (s *fakeStore) ListDueForClose(_ context.Context, now time.Time, _ int) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if t.CloseScheduledAt != nil && !now.Before(*t.CloseScheduledAt) && !t.Status.IsTerminal() {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

func (s *fakeStore) ListMonitoringExpired(_ context.Context, now time.Time, _ int) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if t.Phase == domain.PhaseAwaitingTransaction && t.TransactionTimeoutAt != nil && !now.Before(*t.TransactionTimeoutAt) {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

func newFakeLedger() *fakeLedger { return &fakeLedger{balances: make(map[string]int)} }

func (l *fakeLedger) Balance(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *fakeLedger) RedeemOne(_ context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < 1 {
		return false, nil
	}
	l.balances[userID]--
	return true, nil
}

func (l *fakeLedger) Grant(_ context.Context, userID string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += n
	return nil
}

type fakeWatcher struct {
	mu         sync.Mutex
	watches    []string
	broadcasts []string
	cancels    []string
}

func (w *fakeWatcher) WatchAddress(_ context.Context, ticketID, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watches = append(w.watches, ticketID)
	return nil
}

func (w *fakeWatcher) BroadcastPayout(_ context.Context, ticketID, _ string, _ float64, _ string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcasts = append(w.broadcasts, ticketID)
	return nil
}

func (w *fakeWatcher) CancelWatch(_ context.Context, ticketID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels = append(w.cancels, ticketID)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *fakeNotifier) NotifyTicket(_ []string, _ *domain.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

// ============================================================================
// HARNESS
// ============================================================================

type harness struct {
	uc       *TicketUsecase
	store    *fakeStore
	ledger   *fakeLedger
	watcher  *fakeWatcher
	notifier *fakeNotifier
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		ledger:   newFakeLedger(),
		watcher:  &fakeWatcher{},
		notifier: &fakeNotifier{},
		clock:    t0,
	}
	h.uc = NewTicketUsecase(h.store, h.ledger, h.watcher, h.notifier, zap.NewNop(), DefaultConfig())
	h.uc.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) createTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	tk, err := h.uc.CreateTicket(ctx, alice, "ethereum", bob)
	require.NoError(t, err)
	_, err = h.uc.RespondToInvitation(ctx, tk.TicketID, bob, true)
	require.NoError(t, err)
	return tk
}

func (h *harness) advanceToFeeSelection(t *testing.T, ticketID string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.uc.SelectRole(ctx, ticketID, alice, "sender")
	require.NoError(t, err)
	_, err = h.uc.SelectRole(ctx, ticketID, bob, "receiver")
	require.NoError(t, err)
	_, err = h.uc.ConfirmRole(ctx, ticketID, alice, true)
	require.NoError(t, err)
	_, err = h.uc.ConfirmRole(ctx, ticketID, bob, true)
	require.NoError(t, err)
	_, _, err = h.uc.DetectAmount(ctx, ticketID, alice, "$100")
	require.NoError(t, err)
	_, err = h.uc.ConfirmAmount(ctx, ticketID, alice, true)
	require.NoError(t, err)
	_, err = h.uc.ConfirmAmount(ctx, ticketID, bob, true)
	require.NoError(t, err)
}

func (h *harness) advanceToAwaitingTransaction(t *testing.T, ticketID string) {
	t.Helper()
	ctx := context.Background()
	h.advanceToFeeSelection(t, ticketID)
	_, err := h.uc.SelectFeeOption(ctx, ticketID, alice, "with-fees")
	require.NoError(t, err)
	_, err = h.uc.ConfirmFees(ctx, ticketID, alice, true)
	require.NoError(t, err)
	_, err = h.uc.ConfirmFees(ctx, ticketID, bob, true)
	require.NoError(t, err)
	_, err = h.uc.SubmitPayoutAddress(ctx, ticketID, bob, goodEthAddress)
	require.NoError(t, err)
	_, err = h.uc.ConfirmPayoutAddress(ctx, ticketID, bob, true)
	require.NoError(t, err)
}

// ============================================================================
// TESTS
// ============================================================================

func TestTicketUsecase_CreateAndGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tk, err := h.uc.CreateTicket(ctx, alice, "ethereum", bob)
	require.NoError(t, err)
	assert.Regexp(t, `^#[0-9A-Z]{8}$`, tk.TicketID)

	got, err := h.uc.GetTicket(ctx, tk.TicketID, alice)
	require.NoError(t, err)
	assert.Equal(t, tk.TicketID, got.TicketID)

	// Invited-but-undecided users may read.
	_, err = h.uc.GetTicket(ctx, tk.TicketID, bob)
	require.NoError(t, err)

	_, err = h.uc.GetTicket(ctx, tk.TicketID, "mallory")
	assert.ErrorIs(t, err, xerrors.ErrNotParticipant)
}

func TestTicketUsecase_CreateInvalidCurrency(t *testing.T) {
	h := newHarness(t)
	_, err := h.uc.CreateTicket(context.Background(), alice, "dogecoin", "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidCurrency)
}

func TestTicketUsecase_RetriesOnConflict(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)

	// Two transient conflicts, then success on the third attempt.
	h.store.forceConflicts = 2
	_, err := h.uc.SelectRole(context.Background(), tk.TicketID, alice, "sender")
	require.NoError(t, err)

	got, err := h.store.Get(context.Background(), tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, alice, got.SenderID())
}

func TestTicketUsecase_GivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)

	h.store.forceConflicts = DefaultConfig().MaxUpdateRetries
	_, err := h.uc.SelectRole(context.Background(), tk.TicketID, alice, "sender")
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestTicketUsecase_PassRedemptionRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.balances[alice] = 1

	// Two tickets both offering a pass against a balance of one.
	t1 := h.createTicket(t)
	h.advanceToFeeSelection(t, t1.TicketID)
	t2 := h.createTicket(t)
	h.advanceToFeeSelection(t, t2.TicketID)

	_, err := h.uc.SelectFeeOption(ctx, t1.TicketID, alice, "use-pass")
	require.NoError(t, err)
	_, err = h.uc.SelectFeeOption(ctx, t2.TicketID, alice, "use-pass")
	require.NoError(t, err)

	_, err = h.uc.ConfirmPassUse(ctx, t1.TicketID, alice)
	require.NoError(t, err)

	_, err = h.uc.ConfirmPassUse(ctx, t2.TicketID, alice)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientPasses)

	balance, err := h.uc.PassBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestTicketUsecase_PassRefundedOnFailedRedemption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.balances[alice] = 1

	// Ticket still in role selection: the redemption transition must fail
	// and the decremented pass must come back.
	tk := h.createTicket(t)
	_, err := h.uc.ConfirmPassUse(ctx, tk.TicketID, alice)
	assert.ErrorIs(t, err, xerrors.ErrWrongPhase)

	balance, err := h.uc.PassBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestTicketUsecase_ConfirmPayoutAddressArmsWatcher(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	assert.Equal(t, []string{tk.TicketID}, h.watcher.watches)

	got, err := h.store.Get(context.Background(), tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAwaitingTransaction, got.Phase)
	require.NotNil(t, got.TransactionTimeoutAt)
	assert.Equal(t, t0.Add(DefaultConfig().TransactionTimeout), got.TransactionTimeoutAt.UTC())
}

func TestTicketUsecase_ReleaseFundsBroadcastsPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	bridge := NewChainBridge(h.uc, zap.NewNop())
	_, err := bridge.HandleEvent(ctx, ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventTransactionSeen, Confirmations: 1,
	})
	require.NoError(t, err)

	_, err = h.uc.ReleaseFunds(ctx, tk.TicketID, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{tk.TicketID}, h.watcher.broadcasts)

	// Releasing twice is rejected and does not broadcast again.
	_, err = h.uc.ReleaseFunds(ctx, tk.TicketID, alice)
	assert.ErrorIs(t, err, xerrors.ErrFundsAlreadyReleased)
	assert.Len(t, h.watcher.broadcasts, 1)
}

func TestTicketUsecase_CancelMonitoringCancelsWatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	got, err := h.uc.CancelTransactionMonitoring(ctx, tk.TicketID, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFeeConfirmation, got.Phase)
	assert.Equal(t, []string{tk.TicketID}, h.watcher.cancels)
}

func TestTicketUsecase_GetAppliesExpiredDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	h.clock = t0.Add(DefaultConfig().TransactionTimeout + time.Minute)
	got, err := h.uc.GetTicket(ctx, tk.TicketID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTransactionTimeout, got.Phase)

	// The transition was persisted, not just computed on the fly.
	stored, err := h.store.Get(ctx, tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTransactionTimeout, stored.Phase)
}

func TestTicketUsecase_SweeperTimesOutMonitoring(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	h.clock = t0.Add(DefaultConfig().TransactionTimeout + time.Minute)
	h.uc.sweepOnce(context.Background())

	stored, err := h.store.Get(context.Background(), tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTransactionTimeout, stored.Phase)
}

func TestTicketUsecase_SweeperAutoCloses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	bridge := NewChainBridge(h.uc, zap.NewNop())
	_, err := bridge.HandleEvent(ctx, ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventTransactionSeen, Confirmations: 2,
	})
	require.NoError(t, err)
	_, err = h.uc.ReleaseFunds(ctx, tk.TicketID, alice)
	require.NoError(t, err)
	_, err = h.uc.SelectPrivacy(ctx, tk.TicketID, alice, "anonymous")
	require.NoError(t, err)
	_, err = h.uc.SelectPrivacy(ctx, tk.TicketID, bob, "global")
	require.NoError(t, err)
	_, err = h.uc.FinalizeTicket(ctx, tk.TicketID, alice)
	require.NoError(t, err)

	h.clock = h.clock.Add(DefaultConfig().CloseDelay + time.Second)
	h.uc.sweepOnce(ctx)

	stored, err := h.store.Get(ctx, tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, domain.PhaseClosed, stored.Phase)
}

func TestChainBridge_FullMonitoringSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.createTicket(t)
	h.advanceToAwaitingTransaction(t, tk.TicketID)

	bridge := NewChainBridge(h.uc, zap.NewNop())

	got, err := bridge.HandleEvent(ctx, ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventAddressAssigned, Address: "0xescrow0000000000000000000000000000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xescrow0000000000000000000000000000000000", got.DepositAddress)

	got, err = bridge.HandleEvent(ctx, ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventTransactionSeen, Confirmations: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseConfirming, got.Phase)

	got, err = bridge.HandleEvent(ctx, ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventConfirmationsUpdated, Confirmations: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Confirmations)
}

func TestChainBridge_WrongPhaseEventRejected(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)

	bridge := NewChainBridge(h.uc, zap.NewNop())
	_, err := bridge.HandleEvent(context.Background(), ChainEvent{
		TicketID: tk.TicketID, Type: ChainEventTransactionSeen, Confirmations: 1,
	})
	assert.ErrorIs(t, err, xerrors.ErrWrongPhase)
}

func TestChainBridge_UnknownEventType(t *testing.T) {
	h := newHarness(t)
	tk := h.createTicket(t)

	bridge := NewChainBridge(h.uc, zap.NewNop())
	_, err := bridge.HandleEvent(context.Background(), ChainEvent{
		TicketID: tk.TicketID, Type: "meteor-strike",
	})
	assert.ErrorIs(t, err, xerrors.ErrInvalidRequest)
}
