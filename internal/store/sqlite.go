package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes write transactions; SQLite allows a single writer.
	mu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trader configurations, stored as JSON with indexed key columns
	CREATE TABLE IF NOT EXISTS traders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		config TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Leveraged positions
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_price REAL NOT NULL,
		current_price REAL NOT NULL,
		leverage REAL NOT NULL,
		quantity REAL NOT NULL,
		position_size REAL NOT NULL,
		margin REAL NOT NULL,
		liquidation_price REAL NOT NULL,
		open_fee REAL NOT NULL DEFAULT 0,
		close_fee REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		stop_loss REAL,
		take_profit REAL,
		close_price REAL NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT '',
		heartbeat_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		opened_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		closed_at DATETIME
	);

	-- Append-only position audit trail
	CREATE TABLE IF NOT EXISTS position_history (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		trader_id TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		details TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (position_id) REFERENCES positions(id)
	);

	-- Append-only heartbeat audit log
	CREATE TABLE IF NOT EXISTS heartbeat_records (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL,
		status TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		triggered_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		within_active_hours INTEGER NOT NULL DEFAULT 0,
		micro_decisions TEXT,
		comprehensive_decision TEXT,
		execution TEXT,
		reader_executions TEXT,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_positions_trader_status ON positions(trader_id, status);
	CREATE INDEX IF NOT EXISTS idx_position_history_position ON position_history(position_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_position_history_trader ON position_history(trader_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_heartbeat_trader ON heartbeat_records(trader_id, triggered_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_heartbeat_running ON heartbeat_records(trader_id) WHERE status = 'in_progress';
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Trader Methods
// ============================================================================

// SaveTrader inserts or replaces a trader configuration.
func (s *SQLiteStore) SaveTrader(ctx context.Context, trader *models.Trader) error {
	now := time.Now().UTC()
	if trader.CreatedAt.IsZero() {
		trader.CreatedAt = now
	}
	trader.UpdatedAt = now

	cfg, err := json.Marshal(trader)
	if err != nil {
		return fmt.Errorf("failed to encode trader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traders (id, name, active, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active,
			config = excluded.config, updated_at = excluded.updated_at
	`, trader.ID, trader.Name, boolToInt(trader.Active), string(cfg), trader.CreatedAt.UTC(), trader.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trader: %w", err)
	}
	return nil
}

// GetTrader retrieves a trader by ID.
func (s *SQLiteStore) GetTrader(ctx context.Context, id string) (*models.Trader, error) {
	var cfg string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM traders WHERE id = ?`, id).Scan(&cfg)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("trader", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trader: %w", err)
	}

	var t models.Trader
	if err := json.Unmarshal([]byte(cfg), &t); err != nil {
		return nil, fmt.Errorf("failed to decode trader %s: %w", id, err)
	}
	return &t, nil
}

// ListTraders returns traders ordered by ID.
func (s *SQLiteStore) ListTraders(ctx context.Context, activeOnly bool) ([]models.Trader, error) {
	query := "SELECT config FROM traders"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query traders: %w", err)
	}
	defer rows.Close()

	var traders []models.Trader
	for rows.Next() {
		var cfg string
		if err := rows.Scan(&cfg); err != nil {
			return nil, fmt.Errorf("failed to scan trader: %w", err)
		}
		var t models.Trader
		if err := json.Unmarshal([]byte(cfg), &t); err != nil {
			return nil, fmt.Errorf("failed to decode trader: %w", err)
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// ============================================================================
// Position Methods
// ============================================================================

const positionColumns = `id, trader_id, symbol, side, status, entry_price, current_price, leverage,
	quantity, position_size, margin, liquidation_price, open_fee, close_fee, unrealized_pnl,
	realized_pnl, stop_loss, take_profit, close_price, close_reason, heartbeat_id, version,
	opened_at, updated_at, closed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var sl, tp sql.NullFloat64
	var closedAt sql.NullTime

	if err := row.Scan(&p.ID, &p.TraderID, &p.Symbol, &p.Side, &p.Status, &p.EntryPrice, &p.CurrentPrice,
		&p.Leverage, &p.Quantity, &p.PositionSize, &p.Margin, &p.LiquidationPrice, &p.OpenFee, &p.CloseFee,
		&p.UnrealizedPnL, &p.RealizedPnL, &sl, &tp, &p.ClosePrice, &p.CloseReason, &p.HeartbeatID, &p.Version,
		&p.OpenedAt, &p.UpdatedAt, &closedAt); err != nil {
		return nil, err
	}
	if sl.Valid {
		p.StopLoss = models.Float(sl.Float64)
	}
	if tp.Valid {
		p.TakeProfit = models.Float(tp.Float64)
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

// CreatePosition inserts a position together with its opening history entry.
func (s *SQLiteStore) CreatePosition(ctx context.Context, p *models.Position, entry *models.PositionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TraderID, p.Symbol, p.Side, p.Status, p.EntryPrice, p.CurrentPrice, p.Leverage,
		p.Quantity, p.PositionSize, p.Margin, p.LiquidationPrice, p.OpenFee, p.CloseFee, p.UnrealizedPnL,
		p.RealizedPnL, nullFloat(p.StopLoss), nullFloat(p.TakeProfit), p.ClosePrice, p.CloseReason, p.HeartbeatID,
		p.Version, p.OpenedAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.ClosedAt))
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPosition retrieves a position by ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("position", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// ListPositions retrieves positions matching the filter, oldest first.
func (s *SQLiteStore) ListPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE 1=1"
	args := []interface{}{}

	if filter.TraderID != "" {
		query += " AND trader_id = ?"
		args = append(args, filter.TraderID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}

	query += " ORDER BY opened_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// UpdatePosition performs an optimistic, version-checked update.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *models.Position, expectedVersion int64, entry *models.PositionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE positions SET
			status = ?, current_price = ?, quantity = ?, position_size = ?, margin = ?,
			liquidation_price = ?, open_fee = ?, close_fee = ?, unrealized_pnl = ?, realized_pnl = ?,
			stop_loss = ?, take_profit = ?, close_price = ?, close_reason = ?,
			version = version + 1, updated_at = ?, closed_at = ?
		WHERE id = ? AND version = ? AND status = 'open'
	`, p.Status, p.CurrentPrice, p.Quantity, p.PositionSize, p.Margin,
		p.LiquidationPrice, p.OpenFee, p.CloseFee, p.UnrealizedPnL, p.RealizedPnL,
		nullFloat(p.StopLoss), nullFloat(p.TakeProfit), p.ClosePrice, p.CloseReason,
		p.UpdatedAt.UTC(), nullTime(p.ClosedAt), p.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, p.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("position", p.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check position: %w", err)
		}
		return apperrors.NewConflictError("position", p.ID, fmt.Sprintf("position changed concurrently (status %s)", status))
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	p.Version = expectedVersion + 1
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, h *models.PositionHistory) error {
	var details interface{}
	if len(h.Details) > 0 {
		details = string(h.Details)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO position_history (id, position_id, trader_id, action, price, quantity, fee, pnl, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.PositionID, h.TraderID, h.Action, h.Price, h.Quantity, h.Fee, h.PnL, details, h.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert position history: %w", err)
	}
	return nil
}

// ListPositionHistory returns a position's history, oldest first.
func (s *SQLiteStore) ListPositionHistory(ctx context.Context, positionID string) ([]models.PositionHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, trader_id, action, price, quantity, fee, pnl, COALESCE(details, ''), created_at
		FROM position_history WHERE position_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	defer rows.Close()

	var history []models.PositionHistory
	for rows.Next() {
		var h models.PositionHistory
		var details string
		if err := rows.Scan(&h.ID, &h.PositionID, &h.TraderID, &h.Action, &h.Price, &h.Quantity, &h.Fee, &h.PnL, &details, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position history: %w", err)
		}
		if details != "" {
			h.Details = json.RawMessage(details)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// DailyRealizedPnL sums PnL booked on the UTC day containing day.
func (s *SQLiteStore) DailyRealizedPnL(ctx context.Context, traderID string, day time.Time) (float64, error) {
	start, end := DayBounds(day)
	actions := RealizedActions()

	query := `SELECT COALESCE(SUM(pnl), 0) FROM position_history
		WHERE trader_id = ? AND created_at >= ? AND created_at < ? AND action IN (` + placeholders(len(actions)) + `)`
	args := []interface{}{traderID, start, end}
	for _, a := range actions {
		args = append(args, a)
	}

	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum daily pnl: %w", err)
	}
	return total, nil
}

// ConsecutiveLosses counts the trailing run of losing finished positions.
func (s *SQLiteStore) ConsecutiveLosses(ctx context.Context, traderID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT realized_pnl FROM positions
		WHERE trader_id = ? AND status != 'open'
		ORDER BY closed_at DESC LIMIT 100
	`, traderID)
	if err != nil {
		return 0, fmt.Errorf("failed to query closed positions: %w", err)
	}
	defer rows.Close()

	losses := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, fmt.Errorf("failed to scan pnl: %w", err)
		}
		if pnl >= 0 {
			break
		}
		losses++
	}
	return losses, rows.Err()
}

// ============================================================================
// Heartbeat Methods
// ============================================================================

const heartbeatColumns = `id, trader_id, status, triggered_by, triggered_at, started_at, completed_at,
	duration_ms, within_active_hours, micro_decisions, comprehensive_decision, execution,
	reader_executions, error`

func heartbeatArgs(r *models.HeartbeatRecord) ([]interface{}, error) {
	micro, err := json.Marshal(r.MicroDecisions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode micro decisions: %w", err)
	}
	comprehensive, err := json.Marshal(r.ComprehensiveDecision)
	if err != nil {
		return nil, fmt.Errorf("failed to encode comprehensive decision: %w", err)
	}
	execution, err := json.Marshal(r.Execution)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution: %w", err)
	}
	readers, err := json.Marshal(r.ReaderExecutions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reader executions: %w", err)
	}
	return []interface{}{
		r.ID, r.TraderID, r.Status, r.TriggeredBy, r.TriggeredAt.UTC(), nullTime(r.StartedAt), nullTime(r.CompletedAt),
		r.DurationMs, boolToInt(r.WithinActiveHours), string(micro), string(comprehensive), string(execution),
		string(readers), r.Error,
	}, nil
}

func scanHeartbeat(row rowScanner) (*models.HeartbeatRecord, error) {
	var r models.HeartbeatRecord
	var startedAt, completedAt sql.NullTime
	var within int
	var micro, comprehensive, execution, readers sql.NullString

	if err := row.Scan(&r.ID, &r.TraderID, &r.Status, &r.TriggeredBy, &r.TriggeredAt, &startedAt, &completedAt,
		&r.DurationMs, &within, &micro, &comprehensive, &execution, &readers, &r.Error); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.WithinActiveHours = within == 1

	if err := decodeJSON(micro, &r.MicroDecisions); err != nil {
		return nil, err
	}
	if err := decodeJSON(comprehensive, &r.ComprehensiveDecision); err != nil {
		return nil, err
	}
	if err := decodeJSON(execution, &r.Execution); err != nil {
		return nil, err
	}
	if err := decodeJSON(readers, &r.ReaderExecutions); err != nil {
		return nil, err
	}
	return &r, nil
}

// BeginHeartbeat inserts an in_progress record, refusing a second one per trader.
func (s *SQLiteStore) BeginHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	if r.Status != models.HeartbeatInProgress {
		return apperrors.NewValidationError("status", r.Status, "heartbeat must begin in_progress")
	}
	err := s.insertHeartbeat(ctx, r)
	if isUniqueViolation(err) {
		return apperrors.NewHeartbeatRunningError(r.TraderID)
	}
	return err
}

// InsertHeartbeat appends a heartbeat record.
func (s *SQLiteStore) InsertHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	return s.insertHeartbeat(ctx, r)
}

func (s *SQLiteStore) insertHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	args, err := heartbeatArgs(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_records (`+heartbeatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}
	return nil
}

// UpdateHeartbeat rewrites a heartbeat record.
func (s *SQLiteStore) UpdateHeartbeat(ctx context.Context, r *models.HeartbeatRecord) error {
	args, err := heartbeatArgs(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE heartbeat_records SET
			status = ?, started_at = ?, completed_at = ?, duration_ms = ?, within_active_hours = ?,
			micro_decisions = ?, comprehensive_decision = ?, execution = ?, reader_executions = ?, error = ?
		WHERE id = ?
	`, args[2], args[5], args[6], args[7], args[8], args[9], args[10], args[11], args[12], args[13], r.ID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NewNotFoundError("heartbeat", r.ID)
	}
	return nil
}

// GetHeartbeat retrieves a heartbeat record by ID.
func (s *SQLiteStore) GetHeartbeat(ctx context.Context, id string) (*models.HeartbeatRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+heartbeatColumns+` FROM heartbeat_records WHERE id = ?`, id)
	r, err := scanHeartbeat(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("heartbeat", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return r, nil
}

// ListHeartbeats retrieves heartbeat records, newest first.
func (s *SQLiteStore) ListHeartbeats(ctx context.Context, filter HeartbeatFilter) ([]models.HeartbeatRecord, error) {
	query := "SELECT " + heartbeatColumns + " FROM heartbeat_records WHERE 1=1"
	args := []interface{}{}

	if filter.TraderID != "" {
		query += " AND trader_id = ?"
		args = append(args, filter.TraderID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND triggered_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY triggered_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer rows.Close()

	var records []models.HeartbeatRecord
	for rows.Next() {
		r, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// HasRunningHeartbeat reports whether the trader has an in_progress heartbeat.
func (s *SQLiteStore) HasRunningHeartbeat(ctx context.Context, traderID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM heartbeat_records WHERE trader_id = ? AND status = 'in_progress')
	`, traderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check running heartbeat: %w", err)
	}
	return exists == 1, nil
}

// FailStaleHeartbeats fails in_progress heartbeats triggered before olderThan.
func (s *SQLiteStore) FailStaleHeartbeats(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE heartbeat_records SET status = ?, completed_at = ?, error = ?
		WHERE status = 'in_progress' AND triggered_at < ?
	`, models.HeartbeatFailed, now, AbandonedHeartbeatError, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale heartbeats: %w", err)
	}
	return result.RowsAffected()
}

// ============================================================================
// Helpers
// ============================================================================

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func decodeJSON(s sql.NullString, target interface{}) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), target); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
