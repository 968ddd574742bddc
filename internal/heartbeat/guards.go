package heartbeat

import "heartbeat-trader/internal/models"

// plan is what the guards evaluate.
type plan struct {
	trader      *models.Trader
	readers     []string
	withinHours bool
}

type guard struct {
	status models.HeartbeatStatus
	reason string
	match  func(p *plan) bool
}

// guards are evaluated in order; the first match ends the heartbeat.
var guards = []guard{
	{
		status: models.HeartbeatSkippedOutsideHours,
		reason: "outside active hours",
		match:  func(p *plan) bool { return !p.withinHours },
	},
	{
		status: models.HeartbeatSkippedNoIntervals,
		reason: "no timeframes configured",
		match:  func(p *plan) bool { return len(p.trader.Timeframes) == 0 },
	},
	{
		status: models.HeartbeatSkippedNoReaders,
		reason: "no readers configured",
		match:  func(p *plan) bool { return len(p.readers) == 0 },
	},
}

func firstMatch(p *plan) (guard, bool) {
	for _, g := range guards {
		if g.match(p) {
			return g, true
		}
	}
	return guard{}, false
}
