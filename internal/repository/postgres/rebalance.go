package postgres

import (
	"context"
	"database/sql"

	"poseidon/internal/domain/position"
	"poseidon/internal/domain/rebalance"
	"poseidon/internal/metrics"
	"poseidon/pkg/errors"
)

// Compile-time check
var _ rebalance.Repository = (*RebalanceRepository)(nil)

// RebalanceRepository implements rebalance.Repository using sqlx
type RebalanceRepository struct {
	db DBTX
}

// NewRebalanceRepository creates a new rebalance journal repository
func NewRebalanceRepository(db DBTX) *RebalanceRepository {
	return &RebalanceRepository{db: db}
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (r *RebalanceRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS rebalance_events (
			id              UUID PRIMARY KEY,
			position_id     TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			severity        TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			new_position_id TEXT NOT NULL DEFAULT '',
			side            TEXT NOT NULL DEFAULT '',
			lower_price     NUMERIC NOT NULL DEFAULT 0,
			upper_price     NUMERIC NOT NULL DEFAULT 0,
			base_amount     NUMERIC NOT NULL DEFAULT 0,
			quote_amount    NUMERIC NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_events_position
			ON rebalance_events (position_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS position_snapshots (
			id            TEXT NOT NULL,
			connector     TEXT NOT NULL DEFAULT '',
			pool_address  TEXT NOT NULL DEFAULT '',
			trading_pair  TEXT NOT NULL DEFAULT '',
			side          TEXT NOT NULL DEFAULT '',
			lower_price   NUMERIC NOT NULL DEFAULT 0,
			upper_price   NUMERIC NOT NULL DEFAULT 0,
			current_price NUMERIC NOT NULL DEFAULT 0,
			base_amount   NUMERIC NOT NULL DEFAULT 0,
			quote_amount  NUMERIC NOT NULL DEFAULT 0,
			base_fee      NUMERIC NOT NULL DEFAULT 0,
			quote_fee     NUMERIC NOT NULL DEFAULT 0,
			state         TEXT NOT NULL DEFAULT '',
			fetched_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (id, fetched_at)
		);`

	_, err := r.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "failed to ensure journal schema")
}

// CreateEvent appends one lifecycle event to the journal
func (r *RebalanceRepository) CreateEvent(ctx context.Context, e *rebalance.Event) error {
	query := `
		INSERT INTO rebalance_events (
			id, position_id, event_type, severity, reason,
			new_position_id, side,
			lower_price, upper_price, base_amount, quote_amount,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.PositionID, e.Type, e.Severity, e.Reason,
		e.NewPositionID, e.Side,
		e.LowerPrice, e.UpperPrice, e.BaseAmount, e.QuoteAmount,
		e.CreatedAt,
	)

	recordWrite("event", err)
	return err
}

// ListEventsByPosition retrieves the newest events for one position
func (r *RebalanceRepository) ListEventsByPosition(ctx context.Context, positionID string, limit int) ([]*rebalance.Event, error) {
	var events []*rebalance.Event

	query := `
		SELECT * FROM rebalance_events
		WHERE position_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &events, query, positionID, limit); err != nil {
		return nil, err
	}

	return events, nil
}

// ListRecentEvents retrieves the newest events across all positions
func (r *RebalanceRepository) ListRecentEvents(ctx context.Context, limit int) ([]*rebalance.Event, error) {
	var events []*rebalance.Event

	query := `
		SELECT * FROM rebalance_events
		ORDER BY created_at DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, err
	}

	return events, nil
}

// SaveSnapshot appends one polled position snapshot
func (r *RebalanceRepository) SaveSnapshot(ctx context.Context, p *position.Position) error {
	query := `
		INSERT INTO position_snapshots (
			id, connector, pool_address, trading_pair, side,
			lower_price, upper_price, current_price,
			base_amount, quote_amount, base_fee, quote_fee,
			state, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id, fetched_at) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Connector, p.PoolAddress, p.TradingPair, p.Side,
		p.LowerPrice, p.UpperPrice, p.CurrentPrice,
		p.BaseAmount, p.QuoteAmount, p.BaseFee, p.QuoteFee,
		p.State, p.FetchedAt,
	)

	recordWrite("snapshot", err)
	return err
}

// LatestSnapshot retrieves the newest stored snapshot for a position
func (r *RebalanceRepository) LatestSnapshot(ctx context.Context, positionID string) (*position.Position, error) {
	var p position.Position

	query := `
		SELECT * FROM position_snapshots
		WHERE id = $1
		ORDER BY fetched_at DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &p, query, positionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "no snapshot for %s", positionID)
		}
		return nil, err
	}

	return &p, nil
}

func recordWrite(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.JournalWrites.WithLabelValues(kind, status).Inc()
}
