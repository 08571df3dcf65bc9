// internal/usecase/chain_bridge.go
package usecase

import (
	"context"

	"trade-service/internal/domain"
	xerrors "trade-service/internal/pkg/xerrors"

	"go.uber.org/zap"
)

// Chain Watcher event types as delivered on the webhook.
const (
	ChainEventAddressAssigned      = "address-assigned"
	ChainEventTransactionSeen      = "transaction-seen"
	ChainEventConfirmationsUpdated = "confirmations-updated"
	ChainEventPayoutBroadcast      = "payout-broadcast"
)

// ChainEvent is one blockchain observation delivered against a ticket. No
// player action is involved; each event drives a monitoring transition.
type ChainEvent struct {
	TicketID      string `json:"ticket_id"`
	Type          string `json:"type"`
	Address       string `json:"address,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Confirmations int    `json:"confirmations"`
}

// ChainBridge translates Chain Watcher events into ticket transitions.
type ChainBridge struct {
	tickets *TicketUsecase
	logger  *zap.Logger
}

func NewChainBridge(tickets *TicketUsecase, logger *zap.Logger) *ChainBridge {
	return &ChainBridge{
		tickets: tickets,
		logger:  logger,
	}
}

// HandleEvent applies one watcher event. Events arriving for a ticket in the
// wrong phase (duplicates, stale deliveries after a monitoring cancel) are
// dropped with a warning rather than failing the webhook.
func (b *ChainBridge) HandleEvent(ctx context.Context, ev ChainEvent) (*domain.Ticket, error) {
	if ev.TicketID == "" {
		return nil, xerrors.ErrInvalidRequest
	}

	uc := b.tickets
	t, err := uc.mutate(ctx, ev.TicketID, func(t *domain.Ticket) error {
		now := uc.now()
		switch ev.Type {
		case ChainEventAddressAssigned:
			return t.OnAddressAssigned(ev.Address, now)
		case ChainEventTransactionSeen:
			return t.OnTransactionSeen(ev.Confirmations, now)
		case ChainEventConfirmationsUpdated:
			return t.OnConfirmationsUpdated(ev.Confirmations, now)
		case ChainEventPayoutBroadcast:
			return t.OnPayoutBroadcast(ev.TxHash, ev.Confirmations, now)
		default:
			return xerrors.ErrInvalidRequest
		}
	})
	if err != nil {
		b.logger.Warn("Chain event not applied",
			zap.String("ticket_id", ev.TicketID),
			zap.String("type", ev.Type),
			zap.Error(err))
		return t, err
	}

	b.logger.Info("Chain event applied",
		zap.String("ticket_id", ev.TicketID),
		zap.String("type", ev.Type),
		zap.Int("confirmations", ev.Confirmations))
	return t, nil
}
