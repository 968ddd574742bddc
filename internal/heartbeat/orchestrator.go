// Package heartbeat runs one trader's decision pipeline per trigger: eligibility
// guards, reader fan-out per timeframe, micro and comprehensive decisions from
// the oracle, and dispatch to the position engine.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/market"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/oracle"
	"heartbeat-trader/internal/position"
	"heartbeat-trader/internal/reader"
	"heartbeat-trader/internal/security"
	"heartbeat-trader/internal/store"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetTrader(ctx context.Context, id string) (*models.Trader, error)
	store.HeartbeatStore
}

// Readers executes data readers by id.
type Readers interface {
	Execute(ctx context.Context, id string, rc reader.Context) (*reader.Result, error)
}

// Oracle is the decision collaborator.
type Oracle interface {
	RequestMicroDecision(ctx context.Context, req oracle.MicroRequest) (*models.MicroDecision, error)
	RequestComprehensiveDecision(ctx context.Context, req oracle.ComprehensiveRequest) (*models.ComprehensiveDecision, error)
}

// Gateway executes position operations. *position.Engine satisfies it.
type Gateway interface {
	Open(ctx context.Context, req position.OpenRequest) (*models.Position, error)
	Close(ctx context.Context, req position.CloseRequest) (*position.CloseResult, error)
	ModifyStops(ctx context.Context, positionID string, stopLoss, takeProfit *float64) (*models.Position, error)
	OpenPositions(ctx context.Context, traderID string) ([]models.Position, error)
}

// Locker is an optional cross-process mutex.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Deps groups the orchestrator's collaborators. Prices and Locker are optional.
type Deps struct {
	Store   Store
	Readers Readers
	Oracle  Oracle
	Gateway Gateway
	Prices  market.PriceSource
	Locker  Locker
}

// Config holds orchestrator settings.
type Config struct {
	// MandatoryReaders run for every trader in addition to its own readers.
	MandatoryReaders []string
	// ReaderConcurrency bounds parallel reader calls within one timeframe (0 = unbounded).
	ReaderConcurrency int
	// LockTTL is the cross-process lock lifetime.
	LockTTL time.Duration
	// Location is the zone active hours are evaluated in (nil = time.Local).
	Location *time.Location
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{ReaderConcurrency: 8, LockTTL: 10 * time.Minute}
}

// Orchestrator is the HeartbeatOrchestrator.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "heartbeat").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Trigger adapts Run to the scheduler's handler signature.
func (o *Orchestrator) Trigger(ctx context.Context, traderID string, at time.Time) {
	if _, err := o.Run(ctx, traderID, models.TriggeredByScheduler, at); err != nil {
		logger := logging.WithTrader(o.logger, traderID)
		if apperrors.Is(err, apperrors.ErrHeartbeatRunning) {
			logger.Warn().Msg("Heartbeat already running, trigger dropped")
			return
		}
		logger.Error().Err(err).Msg("Heartbeat failed")
	}
}

// RecoverStale fails in_progress heartbeats left by a previous process.
func (o *Orchestrator) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := o.deps.Store.FailStaleHeartbeats(ctx, o.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warn().Int64("count", n).Msg("Marked abandoned heartbeats as failed")
	}
	return n, nil
}

// Run executes one heartbeat for traderID triggered at `at`. The returned
// record is persisted in its terminal state. For a failed heartbeat both the
// record and the causing error are returned. When a heartbeat for the trader
// is already in progress no record is written and the error wraps
// ErrHeartbeatRunning.
func (o *Orchestrator) Run(ctx context.Context, traderID string, source models.TriggerSource, at time.Time) (*models.HeartbeatRecord, error) {
	trader, err := o.deps.Store.GetTrader(ctx, traderID)
	if err != nil {
		return nil, err
	}

	record := &models.HeartbeatRecord{
		ID:          o.newID(),
		TraderID:    trader.ID,
		Status:      models.HeartbeatTriggered,
		TriggeredBy: source,
		TriggeredAt: at,
	}
	logger := logging.WithHeartbeat(logging.WithTrader(o.logger, trader.ID), record.ID)

	p := &plan{
		trader:      trader,
		readers:     reader.Union(trader.ReaderIDs, o.cfg.MandatoryReaders),
		withinHours: trader.ActiveHours.Contains(at.In(o.cfg.Location)),
	}
	record.WithinActiveHours = p.withinHours

	// Skips go straight from triggered to terminal and bypass the in_progress guard.
	if g, skipped := firstMatch(p); skipped {
		record.Finish(g.status, o.now(), nil)
		logger.Info().Str("status", string(g.status)).Str("reason", g.reason).Msg("Heartbeat skipped")
		if err := o.deps.Store.InsertHeartbeat(ctx, record); err != nil {
			return record, fmt.Errorf("persist skipped heartbeat: %w", err)
		}
		return record, nil
	}

	if o.deps.Locker != nil {
		release, err := o.deps.Locker.Acquire(ctx, "heartbeat:"+trader.ID, o.cfg.LockTTL)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrConcurrencyConflict) {
				return nil, apperrors.NewHeartbeatRunningError(trader.ID)
			}
			return nil, fmt.Errorf("acquire heartbeat lock: %w", err)
		}
		defer release()
	}

	started := o.now()
	record.Status = models.HeartbeatInProgress
	record.StartedAt = &started
	if err := o.deps.Store.BeginHeartbeat(ctx, record); err != nil {
		return nil, err
	}
	logger.Info().Int("timeframes", len(trader.Timeframes)).Int("readers", len(p.readers)).Msg("Heartbeat started")

	runErr := o.execute(logging.WithLogger(ctx, logger), p, record)

	status := models.HeartbeatCompleted
	if runErr != nil {
		status = models.HeartbeatFailed
	}
	record.Finish(status, o.now(), runErr)
	record.Error = security.MaskString(record.Error)
	logging.LogHeartbeat(logger, string(status), time.Duration(record.DurationMs)*time.Millisecond, record.Error)

	if err := o.deps.Store.UpdateHeartbeat(context.WithoutCancel(ctx), record); err != nil {
		logger.Error().Err(err).Msg("Failed to persist heartbeat result")
		if runErr == nil {
			runErr = fmt.Errorf("persist heartbeat: %w", err)
		}
	}
	return record, runErr
}

// execute gathers reader data per timeframe, asks the oracle and dispatches.
func (o *Orchestrator) execute(ctx context.Context, p *plan, record *models.HeartbeatRecord) error {
	logger := logging.FromContext(ctx)
	trader := p.trader

	positions, err := o.deps.Gateway.OpenPositions(ctx, trader.ID)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	for _, tf := range trader.Timeframes {
		outputs := o.gather(ctx, p, tf, record)

		micro, err := o.deps.Oracle.RequestMicroDecision(ctx, oracle.MicroRequest{
			Symbol:        trader.Symbol,
			Timeframe:     tf,
			ReaderOutputs: outputs,
			OpenPositions: positions,
			Trader:        trader,
		})
		if err != nil {
			return fmt.Errorf("micro decision for %s: %w", tf, err)
		}
		if micro.Timeframe == "" {
			micro.Timeframe = tf
		}
		record.MicroDecisions = append(record.MicroDecisions, *micro)
		logging.LogDecision(logger, "micro:"+tf, string(micro.Action), micro.Confidence, micro.Reasoning)
		o.checkpoint(ctx, record)
	}

	decision, err := o.deps.Oracle.RequestComprehensiveDecision(ctx, oracle.ComprehensiveRequest{
		Symbol:         trader.Symbol,
		MicroDecisions: record.MicroDecisions,
		OpenPositions:  positions,
		Trader:         trader,
	})
	if err != nil {
		return fmt.Errorf("comprehensive decision: %w", err)
	}
	record.ComprehensiveDecision = decision
	logging.LogDecision(logger, "comprehensive", string(decision.Action), decision.Confidence, decision.Reasoning)

	result, err := o.dispatch(ctx, trader, decision, positions, record.ID)
	record.Execution = result
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", decision.Action, err)
	}
	return nil
}

// checkpoint persists the record mid-pipeline. Failures are logged only.
func (o *Orchestrator) checkpoint(ctx context.Context, record *models.HeartbeatRecord) {
	if err := o.deps.Store.UpdateHeartbeat(ctx, record); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("Heartbeat checkpoint failed")
	}
}
