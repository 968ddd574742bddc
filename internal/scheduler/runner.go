package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"heartbeat-trader/internal/models"
)

// TraderSource lists the traders to schedule.
type TraderSource interface {
	ListTraders(ctx context.Context, activeOnly bool) ([]models.Trader, error)
}

// TriggerFunc handles one trigger of one trader.
type TriggerFunc func(ctx context.Context, traderID string, at time.Time)

// Slot is the schedule of one trader.
type Slot struct {
	TraderID string        `json:"trader_id"`
	Interval time.Duration `json:"interval"`
	Offset   time.Duration `json:"offset"`
}

// Trigger is a single planned heartbeat.
type Trigger struct {
	TraderID string    `json:"trader_id"`
	At       time.Time `json:"at"`
}

// RunnerConfig holds runner settings.
type RunnerConfig struct {
	// MaxConcurrent bounds simultaneous heartbeats across traders (0 = unlimited).
	MaxConcurrent int
}

// Runner drives one timeline per active trader and invokes the trigger
// handler at every planned instant.
type Runner struct {
	traders TraderSource
	handler TriggerFunc
	config  RunnerConfig
	logger  zerolog.Logger
	now     func() time.Time
	sem     chan struct{}
}

// NewRunner creates a new scheduler runner.
func NewRunner(traders TraderSource, handler TriggerFunc, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	r := &Runner{
		traders: traders,
		handler: handler,
		config:  cfg,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
	}
	if cfg.MaxConcurrent > 0 {
		r.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return r
}

// Plan computes the stagger slots of the given traders. Traders are ordered
// by id so the ordinal index, and therefore the offset, is stable.
func Plan(traders []models.Trader) []Slot {
	sorted := make([]models.Trader, len(traders))
	copy(sorted, traders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	inputs := make([]TraderInterval, 0, len(sorted))
	for _, t := range sorted {
		inputs = append(inputs, TraderInterval{ID: t.ID, IntervalSeconds: t.HeartbeatInterval})
	}
	offsets := ComputeOffsets(inputs)

	slots := make([]Slot, 0, len(sorted))
	for _, t := range sorted {
		slots = append(slots, Slot{
			TraderID: t.ID,
			Interval: t.Interval(),
			Offset:   time.Duration(offsets[t.ID]) * time.Second,
		})
	}
	return slots
}

// Timeline returns every planned trigger in [from, to] for the active
// traders, ordered by time then trader id.
func (r *Runner) Timeline(ctx context.Context, from, to time.Time) ([]Trigger, error) {
	traders, err := r.traders.ListTraders(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing traders: %w", err)
	}
	return TimelineFor(Plan(traders), from, to)
}

// TimelineFor expands slots into triggers in [from, to].
func TimelineFor(slots []Slot, from, to time.Time) ([]Trigger, error) {
	var out []Trigger
	for _, s := range slots {
		if s.Interval <= 0 {
			continue
		}
		instants, err := GenerateTriggers(AlignedBase(from, s.Interval), to, s.Interval, s.Offset)
		if err != nil {
			return nil, fmt.Errorf("trader %s: %w", s.TraderID, err)
		}
		for _, at := range instants {
			if at.Before(from) {
				continue
			}
			out = append(out, Trigger{TraderID: s.TraderID, At: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].TraderID < out[j].TraderID
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

// Run schedules all active traders until ctx is cancelled. In-flight
// heartbeats are waited for before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	traders, err := r.traders.ListTraders(ctx, true)
	if err != nil {
		return fmt.Errorf("listing traders: %w", err)
	}
	slots := Plan(traders)

	r.logger.Info().Int("traders", len(slots)).Msg("Scheduler started")

	var inflight conc.WaitGroup
	defer inflight.Wait()

	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range slots {
		if slot.Interval <= 0 {
			r.logger.Warn().Str("trader_id", slot.TraderID).Msg("Skipping trader with non-positive interval")
			continue
		}
		slot := slot
		g.Go(func() error {
			r.runTimeline(gctx, slot, &inflight)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (r *Runner) runTimeline(ctx context.Context, slot Slot, inflight *conc.WaitGroup) {
	logger := r.logger.With().Str("trader_id", slot.TraderID).Logger()
	next := NextTriggerAfter(r.now(), slot.Interval, slot.Offset)
	logger.Debug().Time("first_trigger", next).Dur("offset", slot.Offset).Msg("Timeline planned")

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		at := next
		if r.acquire(ctx) {
			inflight.Go(func() {
				defer r.release()
				r.handler(ctx, slot.TraderID, at)
			})
		}

		next = NextTrigger(next, slot.Interval)
		if now := r.now(); next.Before(now) {
			logger.Warn().Time("missed", next).Msg("Timeline fell behind, skipping missed triggers")
			next = NextTriggerAfter(now, slot.Interval, slot.Offset)
		}
	}
}

func (r *Runner) acquire(ctx context.Context) bool {
	if r.sem == nil {
		return true
	}
	select {
	case r.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) release() {
	if r.sem != nil {
		<-r.sem
	}
}
