package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/store"
)

const uniqueViolation = "23505"

// Store implements store.Store on a pgx connection pool.
type Store struct {
	client *Client
	pool   *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// NewStore creates a Store backed by the client's pool.
func NewStore(client *Client) *Store {
	return &Store{client: client, pool: client.Pool()}
}

// Open connects, applies migrations and returns a ready Store.
func Open(ctx context.Context, cfg ClientConfig) (*Store, error) {
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.RunMigrations(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return NewStore(client), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// --- traders ---

// SaveTrader upserts a trader configuration.
func (s *Store) SaveTrader(ctx context.Context, t *models.Trader) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	cfg, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: encode trader %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO traders (id, name, active, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			active     = EXCLUDED.active,
			config     = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, t.ID, t.Name, t.Active, string(cfg), t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save trader %s: %w", t.ID, err)
	}
	return nil
}

// GetTrader returns a trader by ID.
func (s *Store) GetTrader(ctx context.Context, id string) (*models.Trader, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM traders WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("trader", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get trader %s: %w", id, err)
	}

	var t models.Trader
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("postgres: decode trader %s: %w", id, err)
	}
	return &t, nil
}

// ListTraders returns traders ordered by ID.
func (s *Store) ListTraders(ctx context.Context, activeOnly bool) ([]models.Trader, error) {
	query := `SELECT config FROM traders`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list traders: %w", err)
	}
	defer rows.Close()

	var traders []models.Trader
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan trader: %w", err)
		}
		var t models.Trader
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("postgres: decode trader: %w", err)
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// --- positions ---

const positionSelectCols = `id, trader_id, symbol, side, status, entry_price, current_price, leverage,
	quantity, position_size, margin, liquidation_price, open_fee, close_fee, unrealized_pnl,
	realized_pnl, stop_loss, take_profit, close_price, close_reason, heartbeat_id, version,
	opened_at, updated_at, closed_at`

func scanPositionRow(row pgx.Row) (*models.Position, error) {
	var p models.Position
	var side, status, reason string

	err := row.Scan(
		&p.ID, &p.TraderID, &p.Symbol, &side, &status,
		&p.EntryPrice, &p.CurrentPrice, &p.Leverage,
		&p.Quantity, &p.PositionSize, &p.Margin, &p.LiquidationPrice,
		&p.OpenFee, &p.CloseFee, &p.UnrealizedPnL, &p.RealizedPnL,
		&p.StopLoss, &p.TakeProfit, &p.ClosePrice, &reason, &p.HeartbeatID, &p.Version,
		&p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Side = models.Side(side)
	p.Status = models.PositionStatus(status)
	p.CloseReason = models.CloseReason(reason)
	return &p, nil
}

// CreatePosition inserts a position and its opening history entry.
func (s *Store) CreatePosition(ctx context.Context, p *models.Position, entry *models.PositionHistory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create position: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO positions (` + positionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err = tx.Exec(ctx, query,
		p.ID, p.TraderID, p.Symbol, string(p.Side), string(p.Status),
		p.EntryPrice, p.CurrentPrice, p.Leverage,
		p.Quantity, p.PositionSize, p.Margin, p.LiquidationPrice,
		p.OpenFee, p.CloseFee, p.UnrealizedPnL, p.RealizedPnL,
		p.StopLoss, p.TakeProfit, p.ClosePrice, string(p.CloseReason), p.HeartbeatID, p.Version,
		p.OpenedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit position %s: %w", p.ID, err)
	}
	return nil
}

// GetPosition returns a position by ID.
func (s *Store) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPositionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("position", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListPositions returns positions matching the filter, oldest first.
func (s *Store) ListPositions(ctx context.Context, filter store.PositionFilter) ([]models.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	var args []any

	if filter.TraderID != "" {
		args = append(args, filter.TraderID)
		query += fmt.Sprintf(" AND trader_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	query += " ORDER BY opened_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// UpdatePosition performs an optimistic, version-checked update.
func (s *Store) UpdatePosition(ctx context.Context, p *models.Position, expectedVersion int64, entry *models.PositionHistory) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update position: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE positions SET
			status            = $3,
			current_price     = $4,
			quantity          = $5,
			position_size     = $6,
			margin            = $7,
			liquidation_price = $8,
			open_fee          = $9,
			close_fee         = $10,
			unrealized_pnl    = $11,
			realized_pnl      = $12,
			stop_loss         = $13,
			take_profit       = $14,
			close_price       = $15,
			close_reason      = $16,
			updated_at        = $17,
			closed_at         = $18,
			version           = version + 1
		WHERE id = $1 AND version = $2 AND status = 'open'`

	tag, err := tx.Exec(ctx, query,
		p.ID, expectedVersion, string(p.Status), p.CurrentPrice, p.Quantity, p.PositionSize, p.Margin,
		p.LiquidationPrice, p.OpenFee, p.CloseFee, p.UnrealizedPnL, p.RealizedPnL,
		p.StopLoss, p.TakeProfit, p.ClosePrice, string(p.CloseReason), p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}

	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, p.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFoundError("position", p.ID)
		}
		if err != nil {
			return fmt.Errorf("postgres: check position %s: %w", p.ID, err)
		}
		return apperrors.NewConflictError("position", p.ID, fmt.Sprintf("position changed concurrently (status %s)", status))
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit position %s: %w", p.ID, err)
	}
	p.Version = expectedVersion + 1
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, h *models.PositionHistory) error {
	var details any
	if len(h.Details) > 0 {
		details = string(h.Details)
	}
	const query = `
		INSERT INTO position_history (id, position_id, trader_id, action, price, quantity, fee, pnl, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		h.ID, h.PositionID, h.TraderID, string(h.Action), h.Price, h.Quantity, h.Fee, h.PnL, details, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert history for %s: %w", h.PositionID, err)
	}
	return nil
}

// ListPositionHistory returns a position's history, oldest first.
func (s *Store) ListPositionHistory(ctx context.Context, positionID string) ([]models.PositionHistory, error) {
	const query = `
		SELECT id, position_id, trader_id, action, price, quantity, fee, pnl, details, created_at
		FROM position_history WHERE position_id = $1
		ORDER BY created_at, seq`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history %s: %w", positionID, err)
	}
	defer rows.Close()

	var history []models.PositionHistory
	for rows.Next() {
		var h models.PositionHistory
		var action string
		var details []byte
		if err := rows.Scan(&h.ID, &h.PositionID, &h.TraderID, &action, &h.Price, &h.Quantity, &h.Fee, &h.PnL, &details, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		h.Action = models.HistoryAction(action)
		if len(details) > 0 {
			h.Details = json.RawMessage(details)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// DailyRealizedPnL sums PnL booked on the UTC day containing day.
func (s *Store) DailyRealizedPnL(ctx context.Context, traderID string, day time.Time) (float64, error) {
	start, end := store.DayBounds(day)

	const query = `
		SELECT COALESCE(SUM(pnl), 0) FROM position_history
		WHERE trader_id = $1 AND created_at >= $2 AND created_at < $3 AND action = ANY($4)`

	var total float64
	if err := s.pool.QueryRow(ctx, query, traderID, start, end, store.RealizedActions()).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: daily pnl %s: %w", traderID, err)
	}
	return total, nil
}

// ConsecutiveLosses counts the trailing run of losing finished positions.
func (s *Store) ConsecutiveLosses(ctx context.Context, traderID string) (int, error) {
	const query = `
		SELECT realized_pnl FROM positions
		WHERE trader_id = $1 AND status <> 'open'
		ORDER BY closed_at DESC NULLS LAST LIMIT 100`

	rows, err := s.pool.Query(ctx, query, traderID)
	if err != nil {
		return 0, fmt.Errorf("postgres: consecutive losses %s: %w", traderID, err)
	}
	defer rows.Close()

	losses := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, fmt.Errorf("postgres: scan pnl: %w", err)
		}
		if pnl >= 0 {
			break
		}
		losses++
	}
	return losses, rows.Err()
}

// --- heartbeats ---

const heartbeatSelectCols = `id, trader_id, status, triggered_by, triggered_at, started_at, completed_at,
	duration_ms, within_active_hours, micro_decisions, comprehensive_decision, execution,
	reader_executions, error`

type heartbeatJSON struct {
	micro, comprehensive, execution, readers string
}

func encodeHeartbeat(r *models.HeartbeatRecord) (heartbeatJSON, error) {
	var out heartbeatJSON
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&out.micro, r.MicroDecisions},
		{&out.comprehensive, r.ComprehensiveDecision},
		{&out.execution, r.Execution},
		{&out.readers, r.ReaderExecutions},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, fmt.Errorf("postgres: encode heartbeat %s: %w", r.ID, err)
		}
		*f.dst = string(b)
	}
	return out, nil
}

func scanHeartbeatRow(row pgx.Row) (*models.HeartbeatRecord, error) {
	var r models.HeartbeatRecord
	var status, triggeredBy string
	var micro, comprehensive, execution, readers []byte

	err := row.Scan(
		&r.ID, &r.TraderID, &status, &triggeredBy, &r.TriggeredAt, &r.StartedAt, &r.CompletedAt,
		&r.DurationMs, &r.WithinActiveHours, &micro, &comprehensive, &execution, &readers, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	r.Status = models.HeartbeatStatus(status)
	r.TriggeredBy = models.TriggerSource(triggeredBy)

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{micro, &r.MicroDecisions},
		{comprehensive, &r.ComprehensiveDecision},
		{execution, &r.Execution},
		{readers, &r.ReaderExecutions},
	} {
		if len(f.raw) == 0 || string(f.raw) == "null" {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("postgres: decode heartbeat %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// BeginHeartbeat inserts an in_progress record; the partial unique index
// rejects a second one for the same trader.
func (s *Store) BeginHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	if r.Status != models.HeartbeatInProgress {
		return apperrors.NewValidationError("status", r.Status, "heartbeat must begin in_progress")
	}
	err := s.insertHeartbeat(ctx, r)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperrors.NewHeartbeatRunningError(r.TraderID)
	}
	return err
}

// InsertHeartbeat appends a heartbeat record.
func (s *Store) InsertHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	return s.insertHeartbeat(ctx, r)
}

func (s *Store) insertHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	enc, err := encodeHeartbeat(r)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO heartbeat_records (` + heartbeatSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.TraderID, string(r.Status), string(r.TriggeredBy), r.TriggeredAt, r.StartedAt, r.CompletedAt,
		r.DurationMs, r.WithinActiveHours, enc.micro, enc.comprehensive, enc.execution, enc.readers, r.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert heartbeat %s: %w", r.ID, err)
	}
	return nil
}

// UpdateHeartbeat rewrites the mutable fields of a heartbeat record.
func (s *Store) UpdateHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	enc, err := encodeHeartbeat(r)
	if err != nil {
		return err
	}

	const query = `
		UPDATE heartbeat_records SET
			status                 = $2,
			started_at             = $3,
			completed_at           = $4,
			duration_ms            = $5,
			within_active_hours    = $6,
			micro_decisions        = $7,
			comprehensive_decision = $8,
			execution              = $9,
			reader_executions      = $10,
			error                  = $11
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Status), r.StartedAt, r.CompletedAt, r.DurationMs, r.WithinActiveHours,
		enc.micro, enc.comprehensive, enc.execution, enc.readers, r.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: update heartbeat %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("heartbeat", r.ID)
	}
	return nil
}

// GetHeartbeat returns a heartbeat record by ID.
func (s *Store) GetHeartbeat(ctx context.Context, id string) (*models.HeartbeatRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+heartbeatSelectCols+` FROM heartbeat_records WHERE id = $1`, id)
	r, err := scanHeartbeatRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("heartbeat", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get heartbeat %s: %w", id, err)
	}
	return r, nil
}

// ListHeartbeats returns heartbeat records, newest first.
func (s *Store) ListHeartbeats(ctx context.Context, filter store.HeartbeatFilter) ([]models.HeartbeatRecord, error) {
	query := `SELECT ` + heartbeatSelectCols + ` FROM heartbeat_records WHERE 1=1`
	var args []any

	if filter.TraderID != "" {
		args = append(args, filter.TraderID)
		query += fmt.Sprintf(" AND trader_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND triggered_at >= $%d", len(args))
	}
	query += " ORDER BY triggered_at DESC, seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list heartbeats: %w", err)
	}
	defer rows.Close()

	var records []models.HeartbeatRecord
	for rows.Next() {
		r, err := scanHeartbeatRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan heartbeat: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// HasRunningHeartbeat reports whether the trader has an in_progress heartbeat.
func (s *Store) HasRunningHeartbeat(ctx context.Context, traderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM heartbeat_records WHERE trader_id = $1 AND status = 'in_progress')`,
		traderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: running heartbeat %s: %w", traderID, err)
	}
	return exists, nil
}

// FailStaleHeartbeats fails in_progress heartbeats triggered before olderThan.
func (s *Store) FailStaleHeartbeats(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		UPDATE heartbeat_records SET status = $1, completed_at = NOW(), error = $2
		WHERE status = 'in_progress' AND triggered_at < $3`

	tag, err := s.pool.Exec(ctx, query, string(models.HeartbeatFailed), store.AbandonedHeartbeatError, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: fail stale heartbeats: %w", err)
	}
	return tag.RowsAffected(), nil
}
