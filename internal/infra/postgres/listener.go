package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/fetcher"
	"github.com/karpovdv/folio/pkg/logger"
)

// notifyChannel is the Postgres channel the transactions trigger
// notifies on
const notifyChannel = "transaction_created"

// Listener subscribes to transaction_created notifications and feeds
// them to a handler. The connection is hijacked from the pool for the
// subscription's lifetime; on any connection failure the listener
// reconnects and subscribes again. Missed notifications are acceptable
// here: the durable backfill queue and the dedup table make redelivery
// and replay safe, and a fresh LISTEN picks up everything after it.
type Listener struct {
	pool           *pgxpool.Pool
	log            *logger.Logger
	reconnectDelay time.Duration
}

// NewListener creates a notification listener over the pool
func NewListener(pool *pgxpool.Pool, log *logger.Logger) *Listener {
	return &Listener{
		pool:           pool,
		log:            log.WithField("component", "pg-listener"),
		reconnectDelay: 5 * time.Second,
	}
}

// Run listens until the context ends, reconnecting on failures. The
// handler runs synchronously per notification; a slow handler delays
// later notifications rather than dropping them.
func (l *Listener) Run(ctx context.Context, handle func(context.Context, fetcher.TransactionEvent)) error {
	for {
		err := l.listen(ctx, handle)
		if ctx.Err() != nil {
			l.log.Info("notification listener stopped")
			return nil
		}
		if err != nil {
			l.log.WithError(err).Error("notification stream broken, reconnecting",
				"retry_in", l.reconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			l.log.Info("notification listener stopped")
			return nil
		case <-time.After(l.reconnectDelay):
		}
	}
}

// listen holds one dedicated connection and dispatches notifications
// until the connection or the context breaks
func (l *Listener) listen(ctx context.Context, handle func(context.Context, fetcher.TransactionEvent)) error {
	poolConn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}

	// hijack the connection: LISTEN state must never leak back into
	// the pool, and the pool replaces the slot on its own
	conn := poolConn.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("failed to LISTEN on %s: %w", notifyChannel, err)
	}
	l.log.Info("listening for transaction notifications", "channel", notifyChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to wait for notification: %w", err)
		}

		evt, err := parseTransactionEvent(notification.Payload)
		if err != nil {
			l.log.WithError(err).Warn("discarding malformed notification payload",
				"payload", notification.Payload)
			continue
		}

		handle(ctx, evt)
	}
}

// parseTransactionEvent decodes a notification payload
func parseTransactionEvent(payload string) (fetcher.TransactionEvent, error) {
	var evt fetcher.TransactionEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return evt, fmt.Errorf("failed to decode payload: %w", err)
	}
	if evt.TransactionID == 0 || evt.AssetID == 0 {
		return evt, fmt.Errorf("payload missing transaction_id or asset_id")
	}
	return evt, nil
}

// EventRepository is the durable notification dedup guard. Claiming is
// a single conflict-ignoring insert, so exactly one delivery of a
// transaction wins no matter how often Postgres replays it.
type EventRepository struct {
	pool *pgxpool.Pool
}

var _ fetcher.EventStore = (*EventRepository)(nil)

// NewEventRepository creates a new PostgreSQL event dedup store
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// MarkProcessed claims a transaction ID. Returns false when an earlier
// delivery already claimed it.
func (r *EventRepository) MarkProcessed(ctx context.Context, transactionID int64) (bool, error) {
	query := `
		INSERT INTO fetcher_events (transaction_id, processed_at)
		VALUES ($1, now())
		ON CONFLICT (transaction_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction event %d: %w", transactionID, err)
	}
	return tag.RowsAffected() > 0, nil
}
