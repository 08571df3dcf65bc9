// internal/repository/ticket_repository.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trade-service/internal/domain"
	xerrors "trade-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TicketRepository persists the ticket aggregate as a jsonb snapshot plus
// scalar columns for the fields queries filter on. Writes are guarded by a
// version column: concurrent mutations race on the conditional update and
// the loser gets ErrConflict, never partial state.
type TicketRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewTicketRepository(pool *pgxpool.Pool, logger *zap.Logger) *TicketRepository {
	return &TicketRepository{
		pool:   pool,
		logger: logger,
	}
}

const ticketSchema = `
	CREATE TABLE IF NOT EXISTS trade_tickets (
		ticket_id              TEXT PRIMARY KEY,
		status                 TEXT NOT NULL,
		phase                  TEXT NOT NULL,
		currency               TEXT NOT NULL,
		creator                TEXT NOT NULL,
		participant_ids        TEXT[] NOT NULL,
		version                BIGINT NOT NULL,
		close_scheduled_at     TIMESTAMPTZ,
		transaction_timeout_at TIMESTAMPTZ,
		data                   JSONB NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_tickets_participants ON trade_tickets USING GIN (participant_ids);
	CREATE INDEX IF NOT EXISTS idx_trade_tickets_close_due ON trade_tickets (close_scheduled_at) WHERE close_scheduled_at IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_trade_tickets_tx_timeout ON trade_tickets (transaction_timeout_at) WHERE transaction_timeout_at IS NOT NULL;
`

// EnsureSchema creates the tickets table and indexes if missing.
func (r *TicketRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, ticketSchema); err != nil {
		return fmt.Errorf("failed to ensure ticket schema: %w", err)
	}
	return nil
}

// Create inserts a fresh ticket at version 1.
func (r *TicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	t.Version = 1
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	query := `
		INSERT INTO trade_tickets (
			ticket_id, status, phase, currency, creator, participant_ids,
			version, close_scheduled_at, transaction_timeout_at, data,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.pool.Exec(ctx, query,
		t.TicketID, string(t.Status), string(t.Phase), t.Currency.String(),
		t.Creator, t.ParticipantIDs(), t.Version,
		t.CloseScheduledAt, t.TransactionTimeoutAt, data,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create ticket",
			zap.String("ticket_id", t.TicketID),
			zap.Error(err))
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	r.logger.Info("Ticket created",
		zap.String("ticket_id", t.TicketID),
		zap.String("currency", t.Currency.String()))
	return nil
}

// Get loads a ticket snapshot. The version column is authoritative over the
// one inside the jsonb document.
func (r *TicketRepository) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	query := `SELECT data, version FROM trade_tickets WHERE ticket_id = $1`

	var data []byte
	var version int64
	err := r.pool.QueryRow(ctx, query, ticketID).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	t := &domain.Ticket{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", ticketID, err)
	}
	t.Version = version
	return t, nil
}

// Update writes the mutated aggregate iff nobody else has written since it
// was loaded ("update iff version == expected"). Zero rows affected means a
// concurrent writer won; the caller reloads and retries.
func (r *TicketRepository) Update(ctx context.Context, t *domain.Ticket) error {
	expected := t.Version
	t.Version = expected + 1

	data, err := json.Marshal(t)
	if err != nil {
		t.Version = expected
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	query := `
		UPDATE trade_tickets SET
			status = $2, phase = $3, participant_ids = $4, version = $5,
			close_scheduled_at = $6, transaction_timeout_at = $7,
			data = $8, updated_at = $9
		WHERE ticket_id = $1 AND version = $10
	`
	tag, err := r.pool.Exec(ctx, query,
		t.TicketID, string(t.Status), string(t.Phase), t.ParticipantIDs(),
		t.Version, t.CloseScheduledAt, t.TransactionTimeoutAt,
		data, t.UpdatedAt, expected,
	)
	if err != nil {
		t.Version = expected
		r.logger.Error("Failed to update ticket",
			zap.String("ticket_id", t.TicketID),
			zap.Error(err))
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		t.Version = expected
		return xerrors.ErrConflict
	}
	return nil
}

// ListByParticipant returns a participant's tickets, optionally filtered by
// status, newest first.
func (r *TicketRepository) ListByParticipant(ctx context.Context, userID, status string, limit, offset int) ([]*domain.Ticket, error) {
	query := `
		SELECT data, version FROM trade_tickets
		WHERE $1 = ANY(participant_ids)
	`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

// ListDueForClose returns tickets whose scheduled close deadline elapsed.
func (r *TicketRepository) ListDueForClose(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error) {
	query := `
		SELECT data, version FROM trade_tickets
		WHERE status IN ('awaiting-close', 'closing') AND close_scheduled_at <= $1
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets due for close: %w", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

// ListMonitoringExpired returns tickets still awaiting a deposit whose
// detection deadline elapsed.
func (r *TicketRepository) ListMonitoringExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error) {
	query := `
		SELECT data, version FROM trade_tickets
		WHERE phase = 'awaiting-transaction' AND transaction_timeout_at <= $1
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired monitoring tickets: %w", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]*domain.Ticket, error) {
	var tickets []*domain.Ticket
	for rows.Next() {
		var data []byte
		var version int64
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		t := &domain.Ticket{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
		}
		t.Version = version
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
