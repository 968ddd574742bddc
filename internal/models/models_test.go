package models

import (
	"errors"
	"testing"
	"time"

	apperrors "heartbeat-trader/internal/errors"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestActiveHoursOvernightWindow(t *testing.T) {
	start, _ := ParseTimeOfDay("22:00")
	end, _ := ParseTimeOfDay("06:00")
	window := ActiveHours{Start: start, End: end}

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"late evening", at(23, 30), true},
		{"at start", at(22, 0), true},
		{"just after midnight", at(0, 15), true},
		{"before end", at(5, 59), true},
		{"at end", at(6, 0), false},
		{"mid morning", at(10, 0), false},
		{"just before start", at(21, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := window.Contains(tt.ts); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.ts.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestActiveHoursSameDayAndUnset(t *testing.T) {
	start, _ := ParseTimeOfDay("09:30")
	end, _ := ParseTimeOfDay("16:00")
	window := ActiveHours{Start: start, End: end}

	if !window.Contains(at(12, 0)) {
		t.Errorf("noon should be inside 09:30-16:00")
	}
	if window.Contains(at(16, 30)) {
		t.Errorf("16:30 should be outside 09:30-16:00")
	}
	if !(ActiveHours{}).Contains(at(3, 0)) {
		t.Errorf("unset window should always be active")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("07:05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "07:05" {
		t.Errorf("String() = %s", got)
	}
	for _, bad := range []string{"", "7", "25:00", "12:60", "24:01", "ab:cd"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseActionRejectsUnknown(t *testing.T) {
	a, err := ParseAction(" OPEN_LONG ")
	if err != nil || a != ActionOpenLong {
		t.Fatalf("ParseAction = %q, %v", a, err)
	}
	if _, err := ParseAction("buy_the_dip"); !errors.Is(err, apperrors.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
	if side, ok := ActionOpenShort.Side(); !ok || side != SideShort {
		t.Errorf("open_short side = %q, %v", side, ok)
	}
	if _, ok := ActionHold.Side(); ok {
		t.Errorf("hold should not imply a side")
	}
}

func TestComprehensiveDecisionValidate(t *testing.T) {
	d := ComprehensiveDecision{Action: ActionOpenLong, Confidence: 0.8, Leverage: Float(5)}
	if err := d.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Leverage = Float(-1)
	if err := d.Validate(); err == nil {
		t.Errorf("negative leverage should be rejected")
	}

	d = ComprehensiveDecision{Action: "yolo", Confidence: 0.5}
	if err := d.Validate(); !errors.Is(err, apperrors.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}

	d = ComprehensiveDecision{Action: ActionHold, Confidence: 1.5}
	if err := d.Validate(); err == nil {
		t.Errorf("confidence above 1 should be rejected")
	}
}

func TestTraderValidate(t *testing.T) {
	tr := Trader{
		ID:                "t1",
		Aggressiveness:    5,
		MinLeverage:       2,
		MaxLeverage:       20,
		MaxPositionSize:   1000,
		HeartbeatInterval: 300,
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := tr
	bad.MinLeverage = 30
	if err := bad.Validate(); err == nil {
		t.Errorf("min > max leverage should be rejected")
	}

	bad = tr
	bad.MaxLeverage = 200
	if err := bad.Validate(); err == nil {
		t.Errorf("leverage above 125 should be rejected")
	}

	bad = tr
	bad.DailyMaxLoss = -5
	if err := bad.Validate(); err == nil {
		t.Errorf("negative percentages should be rejected")
	}

	for name, mutate := range map[string]func(*Trader){
		"missing id":      func(x *Trader) { x.ID = "" },
		"aggressiveness":  func(x *Trader) { x.Aggressiveness = 11 },
		"size bounds":     func(x *Trader) { x.MinPositionSize = 2000 },
		"drawdown":        func(x *Trader) { x.MaxDrawdownPct = -1 },
		"loss streak":     func(x *Trader) { x.MaxConsecutiveLosses = -1 },
		"interval":        func(x *Trader) { x.HeartbeatInterval = 0 },
		"leverage bounds": func(x *Trader) { x.MinLeverage = 0 },
	} {
		bad = tr
		mutate(&bad)
		err := bad.Validate()
		if !errors.Is(err, apperrors.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
		var ve *apperrors.ValidationError
		if !errors.As(err, &ve) || ve.Field == "" {
			t.Errorf("%s: expected a ValidationError naming the field, got %v", name, err)
		}
	}
}

func TestHeartbeatRecordFinish(t *testing.T) {
	triggered := at(10, 0)
	started := triggered.Add(time.Second)
	r := HeartbeatRecord{TriggeredAt: triggered, StartedAt: &started, Status: HeartbeatInProgress}

	r.Finish(HeartbeatFailed, started.Add(1500*time.Millisecond), errors.New("oracle down"))

	if r.Status != HeartbeatFailed || !r.Status.IsTerminal() {
		t.Errorf("status = %s", r.Status)
	}
	if r.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", r.DurationMs)
	}
	if r.Error != "oracle down" {
		t.Errorf("Error = %q", r.Error)
	}
	if HeartbeatInProgress.IsTerminal() {
		t.Errorf("in_progress must not be terminal")
	}
}
