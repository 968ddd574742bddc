package heartbeat

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/models"
	"heartbeat-trader/internal/oracle"
	"heartbeat-trader/internal/reader"
	"heartbeat-trader/internal/security"
)

// gather runs every reader for one timeframe in parallel and waits for all of
// them. Each call is recorded; failed readers contribute no data.
func (o *Orchestrator) gather(ctx context.Context, p *plan, timeframe string, record *models.HeartbeatRecord) []oracle.ReaderData {
	logger := logging.FromContext(ctx)
	rc := reader.Context{
		RequestID:   record.ID,
		TriggeredBy: string(record.TriggeredBy),
		Timestamp:   record.TriggeredAt,
		TraderID:    p.trader.ID,
		Symbol:      p.trader.Symbol,
		Timeframe:   timeframe,
	}

	executions := make([]models.ReaderExecution, len(p.readers))
	results := make([]*reader.Result, len(p.readers))

	wp := pool.New()
	if o.cfg.ReaderConcurrency > 0 {
		wp = wp.WithMaxGoroutines(o.cfg.ReaderConcurrency)
	}
	for i, id := range p.readers {
		i, id := i, id
		wp.Go(func() {
			started := o.now()
			res, err := o.deps.Readers.Execute(ctx, id, rc)
			elapsed := time.Duration(0)
			if res != nil {
				elapsed = res.Metadata.ExecutionTime
			}
			exec := models.ReaderExecution{
				ReaderID:   id,
				Timeframe:  timeframe,
				Success:    err == nil,
				StartedAt:  started,
				DurationMs: elapsed.Milliseconds(),
			}
			if err != nil {
				exec.Error = security.MaskString(err.Error())
				exec.TimedOut = apperrors.Is(err, apperrors.ErrCollaboratorTimeout)
			} else {
				results[i] = res
			}
			executions[i] = exec
			logging.LogReaderCall(logger, id, timeframe, elapsed, err)
		})
	}
	wp.Wait()

	record.ReaderExecutions = append(record.ReaderExecutions, executions...)

	var outputs []oracle.ReaderData
	for i, res := range results {
		if res == nil {
			continue
		}
		outputs = append(outputs, oracle.ReaderData{ReaderID: p.readers[i], Data: res.Data})
	}
	return outputs
}
