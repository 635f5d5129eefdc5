package timeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/models"
	"github.com/foresight-inc/foresight-engine/pkg/prompts"
)

// ReprocessInput carries the prior version's state into reprocessing.
type ReprocessInput struct {
	Slug                string
	Topic               string
	ValueLabel          string
	PastEntries         []models.TimelineEntry
	PreviousPresent     models.TimelineEntry
	PreviousPredictions []models.Prediction
}

// ReprocessResult is a candidate new present/prediction pair. Reprocessing
// never persists: the caller decides whether to commit it as a new version.
type ReprocessResult struct {
	PresentEntry models.TimelineEntry
	Predictions  []models.Prediction
	DeltaAbs     float64
	DeltaPct     float64
}

// Reprocessor re-observes the present value and regenerates predictions
// using the prior version's scenarios as adjustment context.
type Reprocessor struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
	now         func() time.Time
}

// NewReprocessor creates a new reprocessor.
func NewReprocessor(client llm.LLMClient, temperature float64, logger *zap.Logger) *Reprocessor {
	return &Reprocessor{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("reprocessor"),
		now:         time.Now,
	}
}

// Reprocess runs the two ordered steps: re-observe the present value, then
// regenerate all horizon predictions with delta context. The batch call falls
// back to per-horizon context-aware calls on failure; an interrupted ladder
// yields fewer than 11 predictions rather than rolling back.
func (r *Reprocessor) Reprocess(ctx context.Context, in ReprocessInput) (*ReprocessResult, error) {
	present, err := r.observePresent(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrGenerationFailed, err)
	}

	deltaAbs := present.Value - in.PreviousPresent.Value
	deltaPct := 0.0
	if in.PreviousPresent.Value != 0 {
		deltaPct = deltaAbs / in.PreviousPresent.Value * 100
	}

	r.logger.Info("Present value re-observed",
		zap.String("slug", in.Slug),
		zap.Float64("previous", in.PreviousPresent.Value),
		zap.Float64("current", present.Value),
		zap.Float64("delta_abs", deltaAbs),
		zap.Float64("delta_pct", deltaPct))

	previous := condenseScenarios(in.PreviousPredictions)
	presentCtx := prompts.PresentContext{
		Date:  present.Date.Format("2006-01-02"),
		Value: present.Value,
		Label: in.ValueLabel,
	}

	predictions := r.regenerate(ctx, in, presentCtx, deltaAbs, deltaPct, previous)
	if len(predictions) < models.HorizonCount {
		r.logger.Warn("Reprocessing returned partial horizon coverage",
			zap.String("slug", in.Slug),
			zap.Int("horizons", len(predictions)))
	}

	return &ReprocessResult{
		PresentEntry: present,
		Predictions:  predictions,
		DeltaAbs:     deltaAbs,
		DeltaPct:     deltaPct,
	}, nil
}

// observePresent re-runs the present-value research call, without any
// historical or prediction context.
func (r *Reprocessor) observePresent(ctx context.Context, in ReprocessInput) (models.TimelineEntry, error) {
	prompt := prompts.BuildPresentObservationPrompt(in.Topic, in.ValueLabel, r.now())
	resp, err := r.client.GenerateResponse(ctx, prompt, prompts.ResearchSystemMessage, r.temperature, PresentObservationSchema())
	if err != nil {
		return models.TimelineEntry{}, fmt.Errorf("present observation call: %w", err)
	}
	if err := checkContract(resp.Content, r.logger, PresentObservationSchema(), barePresentContract()); err != nil {
		return models.TimelineEntry{}, fmt.Errorf("present observation contract: %w", err)
	}

	payload, err := ParsePresent(resp.Content)
	if err != nil {
		return models.TimelineEntry{}, fmt.Errorf("present observation parse: %w", err)
	}

	return convertPresent(payload, in.ValueLabel, r.now())
}

// regenerate runs the batch context-aware prediction call, walking the
// per-horizon ladder when the batch call throws.
func (r *Reprocessor) regenerate(
	ctx context.Context,
	in ReprocessInput,
	present prompts.PresentContext,
	deltaAbs, deltaPct float64,
	previous []prompts.PreviousScenario,
) []models.Prediction {
	prompt := prompts.BuildReprocessPredictionsPrompt(
		in.Topic, present, in.PreviousPresent.Value, deltaAbs, deltaPct, previous, models.Horizons())

	resp, err := r.client.GenerateResponse(ctx, prompt, prompts.PredictionSystemMessage, r.temperature, PredictionsSchema())
	if err == nil {
		err = checkContract(resp.Content, r.logger, PredictionsSchema(), bareHorizonListContract())
	}
	if err == nil {
		if payloads, parseErr := ParsePredictions(resp.Content); parseErr == nil {
			return convertHorizons(payloads, r.logger)
		} else {
			err = parseErr
		}
	}

	r.logger.Warn("Batch reprocess prediction call failed, falling back to per-horizon calls",
		zap.String("slug", in.Slug),
		zap.Error(err))

	predictions := make([]models.Prediction, 0, models.HorizonCount)
	for _, horizon := range models.Horizons() {
		if ctx.Err() != nil {
			break
		}

		prompt := prompts.BuildReprocessHorizonPrompt(
			in.Topic, present, in.PreviousPresent.Value, deltaAbs, deltaPct, previous, horizon)
		resp, err := r.client.GenerateResponse(ctx, prompt, prompts.PredictionSystemMessage, r.temperature, HorizonSchema())
		if err != nil {
			r.logger.Warn("Reprocess horizon call failed, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		if err := checkContract(resp.Content, r.logger, HorizonSchema(), bareHorizonContract(), bareScenarioListContract()); err != nil {
			r.logger.Warn("Reprocess horizon reply violated contract, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		payload, err := ParseHorizon(resp.Content, horizon)
		if err != nil {
			r.logger.Warn("Reprocess horizon parse failed, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		if prediction, ok := convertHorizon(payload, r.logger); ok {
			predictions = append(predictions, prediction)
		}
	}
	return predictions
}

// condenseScenarios flattens prior predictions into the compact form carried
// in the adjustment prompt.
func condenseScenarios(predictions []models.Prediction) []prompts.PreviousScenario {
	var condensed []prompts.PreviousScenario
	for _, p := range predictions {
		for _, sc := range p.Scenarios {
			condensed = append(condensed, prompts.PreviousScenario{
				Horizon:    p.Timeline,
				Title:      sc.Title,
				Confidence: sc.ConfidenceScore,
			})
		}
	}
	return condensed
}
