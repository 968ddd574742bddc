package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartbeat-trader/internal/errors"
	"heartbeat-trader/internal/models"
)

func TestParseMicroDecision(t *testing.T) {
	d, err := ParseMicroDecision("```json\n{\"action\":\"OPEN_LONG\",\"confidence\":0.72,\"reasoning\":\"breakout\",\"stop_loss\":95}\n```", "4h")
	require.NoError(t, err)
	assert.Equal(t, "4h", d.Timeframe)
	assert.Equal(t, models.ActionOpenLong, d.Action)
	assert.Equal(t, 0.72, d.Confidence)
	require.NotNil(t, d.StopLoss)
	assert.Equal(t, 95.0, *d.StopLoss)
}

func TestParseMicroDecisionRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I think you should buy"},
		{"unknown action", `{"action":"buy_the_dip","confidence":0.5}`},
		{"missing confidence", `{"action":"hold"}`},
		{"confidence out of range", `{"action":"hold","confidence":1.4}`},
		{"negative stop", `{"action":"open_long","confidence":0.5,"stop_loss":-1}`},
		{"unknown field", `{"action":"hold","confidence":0.4,"reasoning":"x","bogus_field":1}`},
		{"trailing content", `{"action":"hold","confidence":0.4,"reasoning":"x"} trailing garbage {"action":"open_long"}`},
		{"second object", `{"action":"hold","confidence":0.4} {"action":"hold","confidence":0.4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMicroDecision(tt.content, "1h")
			assert.Error(t, err)
		})
	}

	_, err := ParseMicroDecision(`{"action":"buy_the_dip","confidence":0.5}`, "1h")
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestParseComprehensiveDecision(t *testing.T) {
	d, err := ParseComprehensiveDecision(`{
		"action": "open_short", "confidence": 0.8, "reasoning": "trend down",
		"breakdown": [{"timeframe":"1h","weight":0.6,"action":"open_short","confidence":0.7}],
		"leverage": 200, "position_size": 500,
		"risk_assessment": {"level":"medium","risk_reward_ratio":2.1,"position_size_percent":5}
	}`)
	require.NoError(t, err)
	assert.Equal(t, models.ActionOpenShort, d.Action)
	require.Len(t, d.Breakdown, 1)
	assert.Equal(t, 200.0, *d.Leverage)
	assert.Equal(t, "medium", d.Risk.Level)

	_, err = ParseComprehensiveDecision(`{"action":"hold","confidence":0.5,"breakdown":[{"timeframe":"1h","action":"moon"}]}`)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestParseComprehensiveDecisionRejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"misspelled leverage", `{"action":"open_long","confidence":0.9,"levrage":200}`},
		{"unknown nested field", `{"action":"hold","confidence":0.5,"risk_assessment":{"level":"low","stop":1}}`},
		{"trailing content", `{"action":"hold","confidence":0.5} ok`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseComprehensiveDecision(tt.content)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.Contains(t, err.Error(), "malformed decision")
		})
	}
}

func TestOpenAIOracleUnknownFieldIsCollaboratorError(t *testing.T) {
	srv := fakeCompletionServer(t, `{"action":"open_long","confidence":0.9,"levrage":200}`, 0)
	defer srv.Close()

	o := NewOpenAIOracle(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, zerolog.Nop())
	_, err := o.RequestComprehensiveDecision(context.Background(), ComprehensiveRequest{Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorFailed)
}

func TestBuildMicroPromptIncludesContext(t *testing.T) {
	prompt := BuildMicroPrompt(MicroRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "15m",
		Trader:    &models.Trader{TradingStrategy: "momentum", Aggressiveness: 7, MinLeverage: 2, MaxLeverage: 20},
		OpenPositions: []models.Position{
			{ID: "p1", Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100, StopLoss: models.Float(95)},
		},
		ReaderOutputs: []ReaderData{{ReaderID: "klines", Data: json.RawMessage(`{"close":101}`)}},
	})

	assert.Contains(t, prompt, "15m timeframe")
	assert.Contains(t, prompt, "momentum")
	assert.Contains(t, prompt, "id=p1")
	assert.Contains(t, prompt, "sl=95")
	assert.Contains(t, prompt, `{"close":101}`)
	assert.NotContains(t, prompt, "Max drawdown")
}

func TestBuildComprehensivePromptIncludesRiskLimits(t *testing.T) {
	prompt := BuildComprehensivePrompt(ComprehensiveRequest{
		Symbol: "ETHUSDT",
		Trader: &models.Trader{
			Aggressiveness:       4,
			MinLeverage:          1,
			MaxLeverage:          10,
			MaxDrawdownPct:       15,
			StopLossThresholdPct: 8,
			DailyMaxLoss:         250,
			MaxConsecutiveLosses: 3,
		},
	})

	assert.Contains(t, prompt, "Max drawdown: 15%")
	assert.Contains(t, prompt, "Stop trading after a 8% loss")
	assert.Contains(t, prompt, "Daily max loss: 250")
	assert.Contains(t, prompt, "Max consecutive losses: 3")
}

func fakeCompletionServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
}

func TestOpenAIOracleRequestsDecisions(t *testing.T) {
	srv := fakeCompletionServer(t, `{"action":"hold","confidence":0.4,"reasoning":"range"}`, 0)
	defer srv.Close()

	o := NewOpenAIOracle(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, zerolog.Nop())

	micro, err := o.RequestMicroDecision(context.Background(), MicroRequest{Symbol: "BTCUSDT", Timeframe: "1h"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, micro.Action)
	assert.Equal(t, "1h", micro.Timeframe)

	comp, err := o.RequestComprehensiveDecision(context.Background(), ComprehensiveRequest{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, comp.Action)
}

func TestOpenAIOracleMalformedOutputIsCollaboratorError(t *testing.T) {
	srv := fakeCompletionServer(t, `{"action":"yolo","confidence":0.4}`, 0)
	defer srv.Close()

	o := NewOpenAIOracle(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, zerolog.Nop())
	_, err := o.RequestMicroDecision(context.Background(), MicroRequest{Timeframe: "1h"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorFailed)
}

func TestOpenAIOracleTimeout(t *testing.T) {
	srv := fakeCompletionServer(t, `{"action":"hold","confidence":0.4}`, 300*time.Millisecond)
	defer srv.Close()

	o := NewOpenAIOracle(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond}, zerolog.Nop())
	_, err := o.RequestComprehensiveDecision(context.Background(), ComprehensiveRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCollaboratorTimeout)
}
