package domain

import (
	"time"

	"trade-service/internal/pkg/id"
)

// ActionType tags a bot embed with the state-machine decision point it
// narrates; the client renders the matching interactive widget.
type ActionType string

const (
	ActionRoleSelection       ActionType = "role-selection"
	ActionRoleConfirmation    ActionType = "role-confirmation"
	ActionAmountConfirmation  ActionType = "amount-confirmation"
	ActionFeeSelection        ActionType = "fee-selection"
	ActionPassConfirmation    ActionType = "pass-confirmation"
	ActionFeeConfirmation     ActionType = "fee-confirmation"
	ActionAddressConfirmation ActionType = "payout-address-confirmation"
	ActionTransactionSend     ActionType = "transaction-send"
	ActionTransactionConfirm  ActionType = "transaction-confirming"
	ActionPayoutConfirm       ActionType = "payout-confirming"
	ActionTransactionTimeout  ActionType = "transaction-timeout"
	ActionReleaseFunds        ActionType = "release-funds"
	ActionPrivacySelection    ActionType = "privacy-selection"
	ActionTicketCancelled     ActionType = "ticket-cancelled"
	ActionTicketClosing       ActionType = "ticket-closing"
)

// EmbedMetadata carries exactly the structured fields the embed's widget
// needs; unused fields stay zero and are omitted on the wire.
type EmbedMetadata struct {
	Currency      string  `json:"currency,omitempty"`
	AmountUSD     float64 `json:"amount_usd,omitempty"`
	FeeUSD        float64 `json:"fee_usd,omitempty"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	PayoutAddress string  `json:"payout_address,omitempty"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Confirmations int     `json:"confirmations,omitempty"`
	Attempt       int     `json:"attempt,omitempty"`
}

// EmbedData is the structured bot message variant.
type EmbedData struct {
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Color          string         `json:"color,omitempty"`
	Footer         string         `json:"footer,omitempty"`
	RequiresAction bool           `json:"requires_action"`
	ActionType     ActionType     `json:"action_type,omitempty"`
	Metadata       *EmbedMetadata `json:"metadata,omitempty"`
}

// TranscriptEntry is one chat line: either a plain user message (Sender +
// Content) or a bot embed (IsBot + Embed). The two variants never mix.
type TranscriptEntry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	IsBot     bool       `json:"is_bot"`
	Sender    string     `json:"sender,omitempty"`
	Content   string     `json:"content,omitempty"`
	Embed     *EmbedData `json:"embed_data,omitempty"`
}

// Transcript is the append-only ordered chat log attached to a ticket. It
// doubles as the audit trail: every state transition appends at least one
// entry.
type Transcript []TranscriptEntry

func (t *Transcript) AppendUser(sender, content string, at time.Time) {
	*t = append(*t, TranscriptEntry{
		ID:        id.GenerateEntryID(),
		Timestamp: at,
		Sender:    sender,
		Content:   content,
	})
}

func (t *Transcript) AppendBot(embed EmbedData, at time.Time) {
	*t = append(*t, TranscriptEntry{
		ID:        id.GenerateEntryID(),
		Timestamp: at,
		IsBot:     true,
		Embed:     &embed,
	})
}

// Last returns the most recent entry, or nil for an empty transcript.
func (t Transcript) Last() *TranscriptEntry {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}
