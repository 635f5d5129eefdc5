package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/models"
)

func fullSynthesisContent(t *testing.T) string {
	t.Helper()

	predictions := make([]map[string]any, 0, models.HorizonCount)
	for _, h := range models.Horizons() {
		predictions = append(predictions, map[string]any{
			"timeline": h,
			"scenarios": []map[string]any{
				{"title": "Up", "summary": "growth", "confidenceScore": 40, "predictedValue": 70000},
				{"title": "Flat", "summary": "stagnation", "confidenceScore": 35},
				{"title": "Down", "summary": "decline", "confidenceScore": 25},
			},
		})
	}

	payload := map[string]any{
		"valueLabel": "USD",
		"present": map[string]any{
			"date": "2026-08-28", "value": 64000, "summary": "holding steady",
			"sources": []string{"https://example.com/now"},
		},
		"events": []map[string]any{
			{"date": "2024-03-10", "value": 73000, "summary": "new all-time high after surge", "eventType": "pump"},
			{"date": "2022-11-09", "value": 16000, "summary": "exchange collapse triggers crash", "eventType": "dump"},
		},
		"predictions": predictions,
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func newTestSynthesizer(client llm.LLMClient) *Synthesizer {
	return NewSynthesizer(client, SynthesizerConfig{Temperature: 0.7}, zap.NewNop())
}

func TestSynthesize_FastPath(t *testing.T) {
	mock := llm.NewMockLLMClient()
	content := fullSynthesisContent(t)
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: content}, nil
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	assert.Equal(t, 1, mock.GenerateResponseCalls, "fast path should need exactly one call")
	assert.Equal(t, "USD", result.ValueLabel)
	assert.Equal(t, 64000.0, result.PresentEntry.Value)
	assert.Len(t, result.Predictions, models.HorizonCount)
	assert.Empty(t, result.MissingHorizons())
	require.Len(t, result.PastEntries, 2)
	assert.Equal(t, "[Dump] exchange collapse triggers crash", result.PastEntries[0].Summary)
	assert.Equal(t, "[Pump] new all-time high after surge", result.PastEntries[1].Summary)
}

func TestSynthesize_FastPathAssignsUniqueScenarioIDs(t *testing.T) {
	mock := llm.NewMockLLMClient()
	content := fullSynthesisContent(t)
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: content}, nil
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, p := range result.Predictions {
		for _, sc := range p.Scenarios {
			require.NotEmpty(t, sc.ID)
			assert.False(t, seen[sc.ID], "duplicate scenario ID %s", sc.ID)
			seen[sc.ID] = true
		}
	}
}

func TestSynthesize_FallsBackToStaged(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		switch schema.Name {
		case "timeline_synthesis":
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "server error", true, errors.New("503"))
		case "value_label":
			return &llm.GenerateResponseResult{Content: `{"valueLabel": "USD"}`}, nil
		case "metric_research":
			return &llm.GenerateResponseResult{Content: `{
				"valueLabel": "USD",
				"present": {"date": "2026-08-28", "value": 64000, "summary": "steady"},
				"events": [{"date": "2023-01-15", "value": 21000, "summary": "recovery rally begins", "eventType": "bull_market_start"}]
			}`}, nil
		case "horizon_predictions":
			return &llm.GenerateResponseResult{Content: batchPredictionsContent(t)}, nil
		default:
			return nil, fmt.Errorf("unexpected schema %s", schema.Name)
		}
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	assert.Equal(t, "USD", result.ValueLabel)
	assert.Len(t, result.Predictions, models.HorizonCount)
	require.Len(t, result.PastEntries, 1)
	assert.Equal(t, "[Bull Market Start] recovery rally begins", result.PastEntries[0].Summary)
}

func batchPredictionsContent(t *testing.T) string {
	t.Helper()
	predictions := make([]map[string]any, 0, models.HorizonCount)
	for _, h := range models.Horizons() {
		predictions = append(predictions, map[string]any{
			"timeline": h,
			"scenarios": []map[string]any{
				{"title": "Up", "summary": "growth", "confidenceScore": 40},
				{"title": "Flat", "summary": "stagnation", "confidenceScore": 35},
				{"title": "Down", "summary": "decline", "confidenceScore": 25},
			},
		})
	}
	raw, err := json.Marshal(map[string]any{"predictions": predictions})
	require.NoError(t, err)
	return string(raw)
}

func TestSynthesize_PerHorizonLadder(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		switch schema.Name {
		case "timeline_synthesis":
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "connection failed", true, nil)
		case "value_label":
			return &llm.GenerateResponseResult{Content: `{"valueLabel": "USD"}`}, nil
		case "metric_research":
			return &llm.GenerateResponseResult{Content: `{
				"valueLabel": "USD",
				"present": {"date": "2026-08-28", "value": 64000, "summary": "steady"},
				"events": []
			}`}, nil
		case "horizon_predictions":
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "request timeout", true, nil)
		case "horizon_prediction":
			return &llm.GenerateResponseResult{Content: `{"scenarios": [
				{"title": "Up", "summary": "growth", "confidenceScore": 40},
				{"title": "Flat", "summary": "stagnation", "confidenceScore": 35},
				{"title": "Down", "summary": "decline", "confidenceScore": 25}
			]}`}, nil
		default:
			return nil, fmt.Errorf("unexpected schema %s", schema.Name)
		}
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)
	assert.Len(t, result.Predictions, models.HorizonCount)
	assert.Empty(t, result.MissingHorizons())

	// fast path + label + research + batch + 11 horizons
	assert.Equal(t, 15, mock.GenerateResponseCalls)
}

func TestSynthesize_FailedHorizonsOmitted(t *testing.T) {
	mock := llm.NewMockLLMClient()
	horizonCalls := 0
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		switch schema.Name {
		case "timeline_synthesis", "horizon_predictions":
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		case "value_label":
			return &llm.GenerateResponseResult{Content: `{"valueLabel": "USD"}`}, nil
		case "metric_research":
			return &llm.GenerateResponseResult{Content: `{
				"valueLabel": "USD",
				"present": {"date": "2026-08-28", "value": 64000, "summary": "steady"},
				"events": []
			}`}, nil
		case "horizon_prediction":
			horizonCalls++
			if horizonCalls%2 == 0 {
				return nil, llm.NewError(llm.ErrorTypeEndpoint, "request timeout", true, nil)
			}
			return &llm.GenerateResponseResult{Content: `{"scenarios": [
				{"title": "Up", "summary": "growth", "confidenceScore": 40},
				{"title": "Flat", "summary": "stagnation", "confidenceScore": 35},
				{"title": "Down", "summary": "decline", "confidenceScore": 25}
			]}`}, nil
		default:
			return nil, fmt.Errorf("unexpected schema %s", schema.Name)
		}
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	// 6 of 11 horizon calls succeed (odd-numbered); the rest are gaps.
	assert.Len(t, result.Predictions, 6)
	assert.Len(t, result.MissingHorizons(), 5)
}

func TestSynthesize_AllTiersFail(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return nil, llm.NewError(llm.ErrorTypeEndpoint, "connection failed", true, nil)
	}

	_, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
}

func TestSynthesize_GarbageContentFallsThrough(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: "I am unable to produce JSON for this request."}, nil
	}

	_, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
}

func TestSynthesize_CurationAppliedToDenseYears(t *testing.T) {
	events := make([]map[string]any, 0, 8)
	for month := 1; month <= 8; month++ {
		events = append(events, map[string]any{
			"date":    fmt.Sprintf("2023-%02d-01", month),
			"value":   20000 + month*100,
			"summary": fmt.Sprintf("routine observation number %d", month),
		})
	}
	payload := map[string]any{
		"valueLabel":  "USD",
		"present":     map[string]any{"date": "2026-08-28", "value": 64000, "summary": "steady"},
		"events":      events,
		"predictions": []map[string]any{},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: string(raw)}, nil
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)
	assert.Len(t, result.PastEntries, MaxEventsPerYear)
}

func TestSynthesize_ScenarioTruncationAndClamping(t *testing.T) {
	scenarios := make([]map[string]any, 0, 7)
	for i := 0; i < 7; i++ {
		scenarios = append(scenarios, map[string]any{
			"title": fmt.Sprintf("Scenario %d", i), "summary": "s", "confidenceScore": 150,
		})
	}
	predictions := []map[string]any{{"timeline": "1 month", "scenarios": scenarios}}
	payload := map[string]any{
		"valueLabel":  "USD",
		"present":     map[string]any{"date": "2026-08-28", "value": 64000, "summary": "steady"},
		"events":      []map[string]any{},
		"predictions": predictions,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: string(raw)}, nil
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	require.Len(t, result.Predictions, 1)
	assert.Len(t, result.Predictions[0].Scenarios, 5)
	for _, sc := range result.Predictions[0].Scenarios {
		assert.Equal(t, 100.0, sc.ConfidenceScore)
	}
}

func TestSynthesize_ContractViolatingReplyFailsFastPath(t *testing.T) {
	// The reply parses, but one scenario lacks the required summary. The fast
	// path must reject it instead of trusting it into the final result.
	predictions := make([]map[string]any, 0, models.HorizonCount)
	for _, h := range models.Horizons() {
		predictions = append(predictions, map[string]any{
			"timeline": h,
			"scenarios": []map[string]any{
				{"title": "Up", "summary": "growth", "confidenceScore": 40},
				{"title": "Flat", "summary": "stagnation", "confidenceScore": 35},
				{"title": "Down", "confidenceScore": 25},
			},
		})
	}
	payload := map[string]any{
		"valueLabel":  "USD",
		"present":     map[string]any{"date": "2026-08-28", "value": 64000, "summary": "steady"},
		"events":      []map[string]any{},
		"predictions": predictions,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		if schema.Name == "timeline_synthesis" {
			return &llm.GenerateResponseResult{Content: string(raw)}, nil
		}
		return nil, llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
	}

	_, err = newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
	assert.Greater(t, mock.GenerateResponseCalls, 1,
		"a contract-violating reply must not satisfy the fast path")
}

func TestSynthesize_UnderfilledScenarioListsKept(t *testing.T) {
	// One scenario per horizon deviates from the 3..5 bound but is still
	// usable data: kept with a warning, never a reason to run the next tier.
	predictions := make([]map[string]any, 0, models.HorizonCount)
	for _, h := range models.Horizons() {
		predictions = append(predictions, map[string]any{
			"timeline": h,
			"scenarios": []map[string]any{
				{"title": "Only path", "summary": "single outcome", "confidenceScore": 80},
			},
		})
	}
	payload := map[string]any{
		"valueLabel":  "USD",
		"present":     map[string]any{"date": "2026-08-28", "value": 64000, "summary": "steady"},
		"events":      []map[string]any{},
		"predictions": predictions,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: string(raw)}, nil
	}

	result, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.NoError(t, err)

	assert.Equal(t, 1, mock.GenerateResponseCalls)
	require.Len(t, result.Predictions, models.HorizonCount)
	for _, p := range result.Predictions {
		assert.Len(t, p.Scenarios, 1)
	}
}

func TestSynthesize_MissingPresentValueFailsTier(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64, schema *llm.Schema) (*llm.GenerateResponseResult, error) {
		switch schema.Name {
		case "timeline_synthesis":
			// Structurally valid JSON but the essential present value is null.
			return &llm.GenerateResponseResult{Content: `{
				"valueLabel": "USD",
				"present": {"date": "2026-08-28", "value": null, "summary": "unknown"},
				"events": [],
				"predictions": []
			}`}, nil
		default:
			return nil, llm.NewError(llm.ErrorTypeEndpoint, "server error", true, nil)
		}
	}

	_, err := newTestSynthesizer(mock).Synthesize(context.Background(), "bitcoin price")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
}
