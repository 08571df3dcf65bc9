package domain

import (
	"fmt"
	"time"

	xerrors "trade-service/internal/pkg/xerrors"
	"trade-service/internal/pkg/utils"
)

// Status is the ticket's coarse lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInProgress    Status = "in-progress"
	StatusAwaitingClose Status = "awaiting-close"
	StatusClosing       Status = "closing"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
)

// IsTerminal reports whether the ticket accepts no further mutations.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// Phase is the fine-grained sub-state driving which operation is legal next.
type Phase string

const (
	PhaseRoleSelection       Phase = "role-selection"
	PhaseRoleConfirmation    Phase = "role-confirmation"
	PhaseAmountEntry         Phase = "amount-entry"
	PhaseAmountConfirmation  Phase = "amount-confirmation"
	PhaseFeeSelection        Phase = "fee-selection"
	PhasePassConfirmation    Phase = "pass-confirmation"
	PhaseFeeConfirmation     Phase = "fee-confirmation"
	PhaseAddressCollection   Phase = "address-collection"
	PhaseAddressConfirmation Phase = "address-confirmation"
	PhaseAwaitingTransaction Phase = "awaiting-transaction"
	PhaseConfirming          Phase = "confirming"
	PhaseTransactionTimeout  Phase = "transaction-timeout"
	PhasePrivacySelection    Phase = "privacy-selection"
	PhaseClosed              Phase = "closed"
)

// Role is the side of the trade a participant is bound to.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
	RoleUnset    Role = ""
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSender, RoleReceiver:
		return Role(s), nil
	}
	return RoleUnset, xerrors.ErrInvalidRole
}

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
)

type Participant struct {
	UserID  string            `json:"user_id"`
	Role    Role              `json:"role"`
	Status  ParticipantStatus `json:"status"`
	AddedAt time.Time         `json:"added_at"`
}

// PrivacyPreference is a party's choice for how the completed trade appears.
type PrivacyPreference string

const (
	PrivacyAnonymous PrivacyPreference = "anonymous"
	PrivacyGlobal    PrivacyPreference = "global"
)

func ParsePrivacyPreference(s string) (PrivacyPreference, error) {
	switch PrivacyPreference(s) {
	case PrivacyAnonymous, PrivacyGlobal:
		return PrivacyPreference(s), nil
	}
	return "", xerrors.ErrInvalidPrivacy
}

// Anti-abuse caps. Both are call-count based, not time based.
const (
	MaxCopyDetailsClicks = 3
	MaxRescanAttempts    = 3
)

// Ticket is the escrow session aggregate. All transition methods are pure
// in-memory mutations; persistence and the optimistic-concurrency guard live
// in the repository and usecase layers. Every transition appends at least one
// transcript entry.
type Ticket struct {
	TicketID    string   `json:"ticket_id"`
	Currency    Currency `json:"cryptocurrency"`
	Creator     string   `json:"creator"`
	CreatorRole Role     `json:"creator_role,omitempty"`

	Participants []Participant `json:"participants"`

	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`

	RolesConfirmed     bool          `json:"roles_confirmed"`
	RoleConfirm        *Confirmation `json:"role_confirmations,omitempty"`
	RoleSelectionShown bool          `json:"role_selection_shown"`

	ExpectedAmount      float64       `json:"expected_amount"`
	DealAmountConfirmed bool          `json:"deal_amount_confirmed"`
	AmountConfirm       *Confirmation `json:"amount_confirmations,omitempty"`

	FeeOption     FeeOption     `json:"fee_option"`
	FeeChosenBy   string        `json:"fee_chosen_by,omitempty"`
	FeeQuote      *FeeQuote     `json:"fee_quote,omitempty"`
	FeesConfirmed bool          `json:"fees_confirmed"`
	FeeConfirm    *Confirmation `json:"fee_confirmations,omitempty"`
	PassRedeemedBy string       `json:"pass_redeemed_by,omitempty"`

	AwaitingPayoutAddress bool          `json:"awaiting_payout_address"`
	PayoutAddress         string        `json:"payout_address,omitempty"`
	AddressConfirm        *Confirmation `json:"address_confirmations,omitempty"`

	DepositAddress string `json:"deposit_address,omitempty"`

	CopyDetailsClicks    int        `json:"copy_details_click_count"`
	TransactionTimeoutAt *time.Time `json:"transaction_timeout_at,omitempty"`
	RescanAttempts       int        `json:"rescan_attempts"`
	Confirmations        int        `json:"confirmations"`
	PayoutTxHash         string     `json:"payout_tx_hash,omitempty"`

	PrivacySelections map[string]PrivacyPreference `json:"privacy_selections,omitempty"`

	FundsReleased    bool       `json:"funds_released"`
	CloseScheduledAt *time.Time `json:"close_scheduled_at,omitempty"`

	Messages Transcript `json:"messages"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  string     `json:"closed_by,omitempty"`
}

// NewTicket creates an open ticket with the creator as an accepted
// participant and, optionally, a second user invited by identifier.
func NewTicket(ticketID string, currency Currency, creator, invitedUserID string, now time.Time) *Ticket {
	t := &Ticket{
		TicketID:  ticketID,
		Currency:  currency,
		Creator:   creator,
		Status:    StatusOpen,
		Phase:     PhaseRoleSelection,
		FeeOption: FeeOptionNoneYet,
		CreatedAt: now,
		UpdatedAt: now,
		Participants: []Participant{
			{UserID: creator, Status: ParticipantAccepted, AddedAt: now},
		},
	}
	if invitedUserID != "" && invitedUserID != creator {
		t.Participants = append(t.Participants, Participant{
			UserID: invitedUserID, Status: ParticipantInvited, AddedAt: now,
		})
	}
	t.Messages.AppendBot(EmbedData{
		Title:       "Trade ticket created",
		Description: fmt.Sprintf("Escrow trade for %s. Waiting for both parties to pick a role.", currency),
		Footer:      t.TicketID,
	}, now)
	return t
}

// ============================================================================
// PARTICIPANT HELPERS
// ============================================================================

func (t *Ticket) participant(userID string) *Participant {
	for i := range t.Participants {
		if t.Participants[i].UserID == userID {
			return &t.Participants[i]
		}
	}
	return nil
}

// CanView reports whether userID may read the ticket: any non-declined
// participant, including one still deciding on an invitation.
func (t *Ticket) CanView(userID string) bool {
	p := t.participant(userID)
	return p != nil && p.Status != ParticipantDeclined
}

// IsAccepted reports whether userID is an accepted participant.
func (t *Ticket) IsAccepted(userID string) bool {
	p := t.participant(userID)
	return p != nil && p.Status == ParticipantAccepted
}

// ParticipantIDs returns the ids of all non-declined participants.
func (t *Ticket) ParticipantIDs() []string {
	ids := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.Status != ParticipantDeclined {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (t *Ticket) acceptedIDs() []string {
	ids := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.Status == ParticipantAccepted {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (t *Ticket) roleHolder(role Role) *Participant {
	for i := range t.Participants {
		p := &t.Participants[i]
		if p.Status == ParticipantAccepted && p.Role == role {
			return p
		}
	}
	return nil
}

// SenderID returns the user bound to the sender role, or "".
func (t *Ticket) SenderID() string {
	if p := t.roleHolder(RoleSender); p != nil {
		return p.UserID
	}
	return ""
}

// ReceiverID returns the user bound to the receiver role, or "".
func (t *Ticket) ReceiverID() string {
	if p := t.roleHolder(RoleReceiver); p != nil {
		return p.UserID
	}
	return ""
}

func (t *Ticket) ensureMutable() error {
	if t.Status.IsTerminal() {
		return xerrors.ErrTicketClosed
	}
	return nil
}

func (t *Ticket) requireAccepted(userID string) error {
	if !t.IsAccepted(userID) {
		return xerrors.ErrNotParticipant
	}
	return nil
}

func (t *Ticket) touch(now time.Time) { t.UpdatedAt = now }

// ============================================================================
// INVITATION
// ============================================================================

// RespondToInvitation accepts or declines a pending invitation. A declined
// invitation is never re-offered.
func (t *Ticket) RespondToInvitation(userID string, accept bool, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	p := t.participant(userID)
	if p == nil || p.Status != ParticipantInvited {
		return xerrors.ErrNotInvited
	}

	if !accept {
		p.Status = ParticipantDeclined
		t.Messages.AppendBot(EmbedData{
			Title: "Invitation declined",
			Color: "red",
		}, now)
		t.touch(now)
		return nil
	}

	p.Status = ParticipantAccepted
	if t.Phase == PhaseRoleSelection && !t.RoleSelectionShown {
		t.promptRoleSelection(now)
	} else {
		t.Messages.AppendBot(EmbedData{
			Title: "Second party joined the ticket",
		}, now)
	}
	t.touch(now)
	return nil
}

// ============================================================================
// ROLE SELECTION / CONFIRMATION
// ============================================================================

func (t *Ticket) promptRoleSelection(now time.Time) {
	t.RoleSelectionShown = true
	t.Messages.AppendBot(EmbedData{
		Title:          "Pick your role",
		Description:    "Are you sending crypto or receiving the payout?",
		RequiresAction: true,
		ActionType:     ActionRoleSelection,
	}, now)
}

// SelectRole binds an exclusive role to an accepted participant. Claiming a
// role already bound to a different participant fails with role_taken and
// does not mutate state.
func (t *Ticket) SelectRole(userID string, role Role, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if err := t.requireAccepted(userID); err != nil {
		return err
	}
	if role != RoleSender && role != RoleReceiver {
		return xerrors.ErrInvalidRole
	}
	if t.Phase != PhaseRoleSelection {
		return xerrors.ErrWrongPhase
	}
	if held := t.roleHolder(role); held != nil && held.UserID != userID {
		return xerrors.ErrRoleTaken
	}

	p := t.participant(userID)
	p.Role = role
	if userID == t.Creator && t.roleHolder(oppositeRole(role)) == nil {
		// Early pin: creator picked before the counterparty was bound.
		t.CreatorRole = role
	}

	t.Messages.AppendBot(EmbedData{
		Title: fmt.Sprintf("Role selected: %s", role),
	}, now)

	sender, receiver := t.SenderID(), t.ReceiverID()
	if sender != "" && receiver != "" {
		t.Phase = PhaseRoleConfirmation
		t.RoleConfirm = NewConfirmation(sender, receiver)
		t.Messages.AppendBot(EmbedData{
			Title:          "Confirm roles",
			Description:    "Please confirm who is sending and who is receiving. If this is wrong, roles will be re-picked.",
			RequiresAction: true,
			ActionType:     ActionRoleConfirmation,
		}, now)
	}
	t.touch(now)
	return nil
}

// ConfirmRole records a role-confirmation vote. A "this is wrong" vote from
// either party clears both role bindings and returns the ticket to role
// selection — a hard reset, forcing full re-negotiation.
func (t *Ticket) ConfirmRole(userID string, confirmed bool, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Phase != PhaseRoleConfirmation || t.RoleConfirm == nil {
		return xerrors.ErrWrongPhase
	}
	res, err := t.RoleConfirm.RecordVote(userID, confirmed)
	if err != nil {
		return err
	}

	switch {
	case res.AnyRejected:
		for i := range t.Participants {
			t.Participants[i].Role = RoleUnset
		}
		t.CreatorRole = RoleUnset
		t.RoleConfirm = nil
		t.RolesConfirmed = false
		t.Phase = PhaseRoleSelection
		t.Messages.AppendBot(EmbedData{
			Title:          "Roles reset",
			Description:    "A party flagged the roles as wrong. Both parties, pick again.",
			RequiresAction: true,
			ActionType:     ActionRoleSelection,
		}, now)
	case res.Unanimous:
		t.RolesConfirmed = true
		t.Status = StatusInProgress
		t.Phase = PhaseAmountEntry
		t.Messages.AppendBot(EmbedData{
			Title:       "Roles confirmed",
			Description: "Type the USD amount for this trade in chat.",
		}, now)
	}
	t.touch(now)
	return nil
}

func oppositeRole(r Role) Role {
	if r == RoleSender {
		return RoleReceiver
	}
	return RoleSender
}

// ============================================================================
// AMOUNT
// ============================================================================

// DetectAmount parses a USD amount out of free-text chat input during the
// amount-entry phase. The parse is optimistic and cheap to reverse: the
// confirmation round that follows is the real safety net.
func (t *Ticket) DetectAmount(userID, message string, now time.Time) (float64, error) {
	if err := t.ensureMutable(); err != nil {
		return 0, err
	}
	if err := t.requireAccepted(userID); err != nil {
		return 0, err
	}
	if t.Phase != PhaseAmountEntry {
		return 0, xerrors.ErrWrongPhase
	}
	amount, ok := utils.DetectAmount(message)
	if !ok {
		return 0, xerrors.ErrInvalidAmount
	}

	t.Messages.AppendUser(userID, message, now)
	t.ExpectedAmount = amount
	t.Phase = PhaseAmountConfirmation
	t.AmountConfirm = NewConfirmation(t.SenderID(), t.ReceiverID())
	t.Messages.AppendBot(EmbedData{
		Title:          fmt.Sprintf("Trade amount: $%.2f", amount),
		Description:    "Both parties, confirm the amount.",
		RequiresAction: true,
		ActionType:     ActionAmountConfirmation,
		Metadata:       &EmbedMetadata{AmountUSD: amount, Currency: t.Currency.String()},
	}, now)
	t.touch(now)
	return amount, nil
}

// ConfirmAmount records an amount-confirmation vote. A rejection returns the
// ticket to amount entry with the detected amount cleared.
func (t *Ticket) ConfirmAmount(userID string, confirmed bool, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Phase != PhaseAmountConfirmation || t.AmountConfirm == nil {
		return xerrors.ErrWrongPhase
	}
	res, err := t.AmountConfirm.RecordVote(userID, confirmed)
	if err != nil {
		return err
	}

	switch {
	case res.AnyRejected:
		t.ExpectedAmount = 0
		t.AmountConfirm = nil
		t.Phase = PhaseAmountEntry
		t.Messages.AppendBot(EmbedData{
			Title:       "Amount rejected",
			Description: "Type the correct USD amount in chat.",
		}, now)
	case res.Unanimous:
		t.DealAmountConfirmed = true
		t.Phase = PhaseFeeSelection
		t.FeeOption = FeeOptionNoneYet
		preview := ComputeFee(t.ExpectedAmount, t.Currency)
		t.Messages.AppendBot(EmbedData{
			Title:          "Choose how to cover the fee",
			Description:    fmt.Sprintf("Standard fee for this trade is $%.2f, or redeem a pass to waive it.", preview.Total),
			RequiresAction: true,
			ActionType:     ActionFeeSelection,
			Metadata:       &EmbedMetadata{AmountUSD: t.ExpectedAmount, FeeUSD: preview.Total},
		}, now)
	}
	t.touch(now)
	return nil
}

// ============================================================================
// FEES AND PASSES
// ============================================================================

// SelectFeeOption picks the fee path. Choosing use-pass with a zero pass
// balance falls back to the standard-fee path rather than erroring.
func (t *Ticket) SelectFeeOption(userID string, option FeeOption, passBalance int, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if err := t.requireAccepted(userID); err != nil {
		return err
	}
	if t.Phase != PhaseFeeSelection {
		return xerrors.ErrWrongPhase
	}

	switch option {
	case FeeOptionUsePass:
		if passBalance < 1 {
			t.Messages.AppendBot(EmbedData{
				Title:       "No passes available",
				Description: "You have no passes to redeem. Continuing with standard fees.",
				Color:       "orange",
			}, now)
			t.enterFeeConfirmation(userID, now)
			break
		}
		t.FeeOption = FeeOptionUsePass
		t.FeeChosenBy = userID
		t.Phase = PhasePassConfirmation
		quote := ComputeFee(t.ExpectedAmount, t.Currency)
		t.FeeQuote = &quote
		t.Messages.AppendBot(EmbedData{
			Title:          "Redeem a pass?",
			Description:    fmt.Sprintf("Redeeming one pass waives the $%.2f fee for this ticket. This cannot be undone.", quote.Total),
			RequiresAction: true,
			ActionType:     ActionPassConfirmation,
			Metadata:       &EmbedMetadata{FeeUSD: quote.Total},
		}, now)
	case FeeOptionWithFees:
		t.enterFeeConfirmation(userID, now)
	default:
		return xerrors.ErrInvalidFeeOption
	}
	t.touch(now)
	return nil
}

func (t *Ticket) enterFeeConfirmation(chosenBy string, now time.Time) {
	t.FeeOption = FeeOptionWithFees
	t.FeeChosenBy = chosenBy
	quote := ComputeFee(t.ExpectedAmount, t.Currency)
	t.FeeQuote = &quote
	t.Phase = PhaseFeeConfirmation
	t.FeeConfirm = NewConfirmation(t.SenderID(), t.ReceiverID())
	t.Messages.AppendBot(EmbedData{
		Title:          fmt.Sprintf("Fee: $%.2f", quote.Total),
		Description:    "Both parties, confirm the fee to continue.",
		RequiresAction: true,
		ActionType:     ActionFeeConfirmation,
		Metadata:       &EmbedMetadata{AmountUSD: t.ExpectedAmount, FeeUSD: quote.Total},
	}, now)
}

// ConfirmPassUse finalizes pass redemption for the party who chose use-pass.
// The ledger decrement is atomic and happens in the orchestrator before this
// transition; redemption is irreversible for the ticket.
func (t *Ticket) ConfirmPassUse(userID string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Phase != PhasePassConfirmation {
		return xerrors.ErrWrongPhase
	}
	if userID != t.FeeChosenBy {
		return xerrors.ErrPassNotOffered
	}

	waived := t.FeeQuote.Waive()
	t.FeeQuote = &waived
	t.PassRedeemedBy = userID
	t.FeesConfirmed = true
	t.Messages.AppendBot(EmbedData{
		Title: "Pass redeemed — fee waived",
		Color: "green",
	}, now)
	t.enterAddressCollection(now)
	t.touch(now)
	return nil
}

// ConfirmFees records a fee-confirmation vote. A rejection returns the ticket
// to fee selection.
func (t *Ticket) ConfirmFees(userID string, confirmed bool, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Phase != PhaseFeeConfirmation || t.FeeConfirm == nil {
		return xerrors.ErrWrongPhase
	}
	res, err := t.FeeConfirm.RecordVote(userID, confirmed)
	if err != nil {
		return err
	}

	switch {
	case res.AnyRejected:
		t.FeeOption = FeeOptionNoneYet
		t.FeeChosenBy = ""
		t.FeeQuote = nil
		t.FeeConfirm = nil
		t.Phase = PhaseFeeSelection
		t.Messages.AppendBot(EmbedData{
			Title:          "Fee rejected",
			Description:    "Pick a fee option again.",
			RequiresAction: true,
			ActionType:     ActionFeeSelection,
		}, now)
	case res.Unanimous:
		t.FeesConfirmed = true
		t.enterAddressCollection(now)
	}
	t.touch(now)
	return nil
}

func (t *Ticket) enterAddressCollection(now time.Time) {
	t.Phase = PhaseAddressCollection
	t.AwaitingPayoutAddress = true
	t.Messages.AppendBot(EmbedData{
		Title:       "Payout address needed",
		Description: fmt.Sprintf("Receiver: paste your %s payout address in chat.", t.Currency),
	}, now)
}

// ============================================================================
// PAYOUT ADDRESS
// ============================================================================

// SubmitPayoutAddress stores the receiver's payout address after a
// currency-specific format check. Only the bound receiver may submit.
func (t *Ticket) SubmitPayoutAddress(userID, address string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if userID != t.ReceiverID() {
		return xerrors.ErrNotReceiver
	}
	if t.Phase != PhaseAddressCollection || !t.AwaitingPayoutAddress {
		return xerrors.ErrWrongPhase
	}
	if !utils.ValidatePayoutAddress(t.Currency.String(), address) {
		return xerrors.ErrInvalidAddress
	}

	t.PayoutAddress = address
	t.AwaitingPayoutAddress = false
	t.Phase = PhaseAddressConfirmation
	// Single-party round: only the receiver can know the address is theirs.
	t.AddressConfirm = NewConfirmation(userID)
	t.Messages.AppendBot(EmbedData{
		Title:          "Confirm payout address",
		Description:    address,
		RequiresAction: true,
		ActionType:     ActionAddressConfirmation,
		Metadata:       &EmbedMetadata{PayoutAddress: address, Currency: t.Currency.String()},
	}, now)
	t.touch(now)
	return nil
}

// ConfirmPayoutAddress is the receiver-only vote on the stored address. On
// confirmation the ticket starts waiting for the on-chain deposit, with a
// durable detection deadline.
func (t *Ticket) ConfirmPayoutAddress(userID string, confirmed bool, txTimeout time.Duration, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if userID != t.ReceiverID() {
		return xerrors.ErrNotReceiver
	}
	if t.Phase != PhaseAddressConfirmation || t.AddressConfirm == nil {
		return xerrors.ErrWrongPhase
	}
	res, err := t.AddressConfirm.RecordVote(userID, confirmed)
	if err != nil {
		return err
	}

	switch {
	case res.AnyRejected:
		t.PayoutAddress = ""
		t.AddressConfirm = nil
		t.enterAddressCollection(now)
	case res.Unanimous:
		t.Phase = PhaseAwaitingTransaction
		deadline := now.Add(txTimeout)
		t.TransactionTimeoutAt = &deadline
		t.appendTransactionDetails(now)
	}
	t.touch(now)
	return nil
}

func (t *Ticket) appendTransactionDetails(now time.Time) {
	t.Messages.AppendBot(EmbedData{
		Title:          "Send the crypto",
		Description:    "Sender: transfer the agreed amount to the escrow address below.",
		RequiresAction: true,
		ActionType:     ActionTransactionSend,
		Metadata: &EmbedMetadata{
			Currency:      t.Currency.String(),
			AmountUSD:     t.ExpectedAmount,
			WalletAddress: t.DepositAddress,
		},
	}, now)
}

// CopyTransactionDetails re-posts the escrow transfer details, capped at
// MaxCopyDetailsClicks. At the cap the call is a safe no-op reported as
// limit-reached, not an error that loses state.
func (t *Ticket) CopyTransactionDetails(userID string, now time.Time) (int, error) {
	if err := t.ensureMutable(); err != nil {
		return t.CopyDetailsClicks, err
	}
	if err := t.requireAccepted(userID); err != nil {
		return t.CopyDetailsClicks, err
	}
	switch t.Phase {
	case PhaseAwaitingTransaction, PhaseConfirming, PhaseTransactionTimeout:
	default:
		return t.CopyDetailsClicks, xerrors.ErrWrongPhase
	}
	if t.CopyDetailsClicks >= MaxCopyDetailsClicks {
		return t.CopyDetailsClicks, xerrors.ErrCopyLimitReached
	}

	t.CopyDetailsClicks++
	t.appendTransactionDetails(now)
	t.touch(now)
	return t.CopyDetailsClicks, nil
}

// ============================================================================
// CHAIN MONITORING
// ============================================================================

// OnAddressAssigned records the bot-controlled escrow deposit address and
// re-posts the transfer details with it filled in. Idempotent for repeats of
// the same address.
func (t *Ticket) OnAddressAssigned(address string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if address == "" || address == t.DepositAddress {
		return nil
	}
	t.DepositAddress = address
	switch t.Phase {
	case PhaseAwaitingTransaction, PhaseTransactionTimeout:
		t.appendTransactionDetails(now)
	}
	t.touch(now)
	return nil
}

// OnTransactionSeen moves monitoring from awaiting-transaction (or the
// timeout sub-state, if the deposit showed up late) into confirming.
func (t *Ticket) OnTransactionSeen(confirmations int, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	switch t.Phase {
	case PhaseAwaitingTransaction, PhaseTransactionTimeout:
	case PhaseConfirming:
		// Duplicate delivery; treat as a confirmation update.
		return t.OnConfirmationsUpdated(confirmations, now)
	default:
		return xerrors.ErrWrongPhase
	}

	t.Phase = PhaseConfirming
	t.Confirmations = confirmations
	t.TransactionTimeoutAt = nil
	t.Messages.AppendBot(EmbedData{
		Title:       "Transaction detected",
		Description: fmt.Sprintf("Deposit seen on-chain with %d confirmation(s).", confirmations),
		ActionType:  ActionTransactionConfirm,
		Metadata:    &EmbedMetadata{Confirmations: confirmations, Currency: t.Currency.String()},
	}, now)
	t.touch(now)
	return nil
}

// OnConfirmationsUpdated refreshes the confirmation count for the deposit.
func (t *Ticket) OnConfirmationsUpdated(confirmations int, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Phase != PhaseConfirming {
		return xerrors.ErrWrongPhase
	}
	if confirmations <= t.Confirmations {
		return nil
	}
	t.Confirmations = confirmations
	t.Messages.AppendBot(EmbedData{
		Title:      fmt.Sprintf("%d confirmation(s)", confirmations),
		ActionType: ActionTransactionConfirm,
		Metadata:   &EmbedMetadata{Confirmations: confirmations},
	}, now)
	t.touch(now)
	return nil
}

// OnPayoutBroadcast records the payout transaction after funds release. The
// event is advisory: it updates the transcript while the parties pick
// privacy, without gating any player action.
func (t *Ticket) OnPayoutBroadcast(txHash string, confirmations int, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if !t.FundsReleased {
		return xerrors.ErrWrongPhase
	}
	t.PayoutTxHash = txHash
	t.Messages.AppendBot(EmbedData{
		Title:       "Payout broadcast",
		Description: fmt.Sprintf("Payout sent to the receiver (%d confirmation(s)).", confirmations),
		ActionType:  ActionPayoutConfirm,
		Metadata: &EmbedMetadata{
			TxHash:        txHash,
			Confirmations: confirmations,
			PayoutAddress: t.PayoutAddress,
		},
	}, now)
	t.touch(now)
	return nil
}

// CheckTransactionTimeout applies the durable detection deadline: if the
// deposit was never seen and the stored deadline elapsed, monitoring enters
// the timeout sub-state. Returns true when a transition happened.
func (t *Ticket) CheckTransactionTimeout(now time.Time) bool {
	if t.Phase != PhaseAwaitingTransaction || t.TransactionTimeoutAt == nil {
		return false
	}
	if now.Before(*t.TransactionTimeoutAt) {
		return false
	}
	t.Phase = PhaseTransactionTimeout
	t.Messages.AppendBot(EmbedData{
		Title:          "No transaction detected",
		Description:    "The detection window elapsed. Rescan the chain or cancel the transfer.",
		Color:          "red",
		RequiresAction: true,
		ActionType:     ActionTransactionTimeout,
	}, now)
	t.touch(now)
	return true
}

// RescanTransaction re-arms deposit detection from the timeout sub-state,
// capped at MaxRescanAttempts. At the cap the watcher is not re-armed.
func (t *Ticket) RescanTransaction(userID string, txTimeout time.Duration, now time.Time) (int, error) {
	if err := t.ensureMutable(); err != nil {
		return t.RescanAttempts, err
	}
	if err := t.requireAccepted(userID); err != nil {
		return t.RescanAttempts, err
	}
	if t.Phase != PhaseTransactionTimeout {
		return t.RescanAttempts, xerrors.ErrWrongPhase
	}
	if t.RescanAttempts >= MaxRescanAttempts {
		return t.RescanAttempts, xerrors.ErrRescanLimitReached
	}

	t.RescanAttempts++
	t.Phase = PhaseAwaitingTransaction
	deadline := now.Add(txTimeout)
	t.TransactionTimeoutAt = &deadline
	t.Messages.AppendBot(EmbedData{
		Title:      fmt.Sprintf("Rescanning the chain (attempt %d of %d)", t.RescanAttempts, MaxRescanAttempts),
		ActionType: ActionTransactionSend,
		Metadata:   &EmbedMetadata{Attempt: t.RescanAttempts, WalletAddress: t.DepositAddress},
	}, now)
	t.touch(now)
	return t.RescanAttempts, nil
}

// CancelTransactionMonitoring aborts deposit watching and drops the ticket
// back to the fee-confirmation re-entry point; the parties must re-confirm
// fees to re-initiate the payment flow.
func (t *Ticket) CancelTransactionMonitoring(userID string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if err := t.requireAccepted(userID); err != nil {
		return err
	}
	switch t.Phase {
	case PhaseAwaitingTransaction, PhaseTransactionTimeout:
	default:
		return xerrors.ErrWrongPhase
	}

	t.Phase = PhaseFeeConfirmation
	t.FeesConfirmed = false
	t.FeeConfirm = NewConfirmation(t.SenderID(), t.ReceiverID())
	t.TransactionTimeoutAt = nil
	t.DepositAddress = ""
	t.RescanAttempts = 0
	t.Messages.AppendBot(EmbedData{
		Title:          "Transfer cancelled",
		Description:    "Monitoring aborted. Re-confirm the fee to restart the payment flow.",
		RequiresAction: true,
		ActionType:     ActionFeeConfirmation,
	}, now)
	t.touch(now)
	return nil
}

// ============================================================================
// RELEASE, PRIVACY, CLOSE
// ============================================================================

// ReleaseFunds is the sender-only, one-way release trigger. It requires the
// deposit to be confirming on-chain; no compensating transition exists.
func (t *Ticket) ReleaseFunds(userID string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if userID != t.SenderID() {
		return xerrors.ErrNotSender
	}
	if t.FundsReleased {
		return xerrors.ErrFundsAlreadyReleased
	}
	if t.Phase != PhaseConfirming || t.Confirmations < 1 {
		return xerrors.ErrWrongPhase
	}

	t.FundsReleased = true
	t.Phase = PhasePrivacySelection
	if t.PrivacySelections == nil {
		t.PrivacySelections = make(map[string]PrivacyPreference)
	}
	t.Messages.AppendBot(EmbedData{
		Title:      "Funds released",
		Color:      "green",
		ActionType: ActionReleaseFunds,
		Metadata:   &EmbedMetadata{PayoutAddress: t.PayoutAddress, AmountUSD: t.ExpectedAmount},
	}, now)
	t.Messages.AppendBot(EmbedData{
		Title:          "How should this trade appear?",
		Description:    "Each party picks anonymous or global visibility. The ticket closes once everyone has chosen.",
		RequiresAction: true,
		ActionType:     ActionPrivacySelection,
	}, now)
	t.touch(now)
	return nil
}

// SelectPrivacy records a party's visibility preference. Unanimity across all
// accepted participants makes the ticket eligible for finalize.
func (t *Ticket) SelectPrivacy(userID string, pref PrivacyPreference, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if err := t.requireAccepted(userID); err != nil {
		return err
	}
	if t.Phase != PhasePrivacySelection {
		return xerrors.ErrWrongPhase
	}
	if pref != PrivacyAnonymous && pref != PrivacyGlobal {
		return xerrors.ErrInvalidPrivacy
	}

	if t.PrivacySelections == nil {
		t.PrivacySelections = make(map[string]PrivacyPreference)
	}
	t.PrivacySelections[userID] = pref
	if t.PrivacyComplete() {
		t.Messages.AppendBot(EmbedData{
			Title:       "All parties selected privacy",
			Description: "The ticket can now be finalized.",
		}, now)
	}
	t.touch(now)
	return nil
}

// PrivacyComplete reports whether every currently-accepted participant has a
// privacy selection.
func (t *Ticket) PrivacyComplete() bool {
	accepted := t.acceptedIDs()
	if len(accepted) == 0 {
		return false
	}
	for _, id := range accepted {
		if _, ok := t.PrivacySelections[id]; !ok {
			return false
		}
	}
	return true
}

// Finalize schedules the auto-close once privacy unanimity holds. The
// deadline is a stored timestamp, not an in-process timer.
func (t *Ticket) Finalize(closeDelay time.Duration, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if t.Status == StatusAwaitingClose || t.Status == StatusClosing {
		return xerrors.ErrWrongPhase
	}
	if t.Phase != PhasePrivacySelection {
		return xerrors.ErrWrongPhase
	}
	if !t.PrivacyComplete() {
		return xerrors.ErrPrivacyIncomplete
	}

	t.Status = StatusAwaitingClose
	deadline := now.Add(closeDelay)
	t.CloseScheduledAt = &deadline
	t.Messages.AppendBot(EmbedData{
		Title:       "Trade complete",
		Description: fmt.Sprintf("This ticket will close in %s.", closeDelay),
		Color:       "green",
		ActionType:  ActionTicketClosing,
	}, now)
	t.touch(now)
	return nil
}

// CheckAutoClose completes the ticket once the scheduled close deadline has
// elapsed, regardless of other activity. Returns true when a transition
// happened.
func (t *Ticket) CheckAutoClose(now time.Time) bool {
	if t.Status != StatusAwaitingClose && t.Status != StatusClosing {
		return false
	}
	if t.CloseScheduledAt == nil || now.Before(*t.CloseScheduledAt) {
		return false
	}
	t.Status = StatusCompleted
	t.Phase = PhaseClosed
	closed := now
	t.ClosedAt = &closed
	t.touch(now)
	return true
}

// Cancel terminates the ticket. Rejected once fees are locked in, funds are
// released, or closing has begun.
func (t *Ticket) Cancel(userID string, now time.Time) error {
	if err := t.ensureMutable(); err != nil {
		return err
	}
	if err := t.requireAccepted(userID); err != nil {
		return err
	}
	if t.FeesConfirmed || t.FundsReleased {
		return xerrors.ErrCancelNotAllowed
	}
	if t.Status == StatusAwaitingClose || t.Status == StatusClosing {
		return xerrors.ErrCancelNotAllowed
	}

	t.Status = StatusCancelled
	t.Phase = PhaseClosed
	closed := now
	t.ClosedAt = &closed
	t.ClosedBy = userID
	t.Messages.AppendBot(EmbedData{
		Title:      "Ticket cancelled",
		Color:      "red",
		ActionType: ActionTicketCancelled,
	}, now)
	t.touch(now)
	return nil
}
