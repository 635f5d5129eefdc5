package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/models"
	"github.com/foresight-inc/foresight-engine/pkg/prompts"
)

// DefaultYearsBack is the historical lookback window for event research.
const DefaultYearsBack = 10

// TimelineResult is an assembled, validated synthesis: curated past events,
// the present observation, and per-horizon predictions. Fewer than 11
// predictions means partial coverage; callers inspect MissingHorizons.
type TimelineResult struct {
	Topic        string
	ValueLabel   string
	PastEntries  []models.TimelineEntry
	PresentEntry models.TimelineEntry
	Predictions  []models.Prediction
}

// MissingHorizons returns the canonical horizons absent from the result.
func (r *TimelineResult) MissingHorizons() []string {
	covered := make(map[string]bool, len(r.Predictions))
	for _, p := range r.Predictions {
		covered[p.Timeline] = true
	}
	var missing []string
	for _, h := range models.Horizons() {
		if !covered[h] {
			missing = append(missing, h)
		}
	}
	return missing
}

// SynthesizerConfig tunes the synthesis pipeline.
type SynthesizerConfig struct {
	Temperature float64 // sampling temperature for all calls
	YearsBack   int     // historical lookback; defaults to DefaultYearsBack
}

// Synthesizer drives the multi-stage generation pipeline with a single-call
// fast path and layered fallbacks down to per-horizon calls. The completion
// client is injected at construction so tests can substitute a mock.
type Synthesizer struct {
	client      llm.LLMClient
	temperature float64
	yearsBack   int
	logger      *zap.Logger
	now         func() time.Time
}

// NewSynthesizer creates a new synthesizer.
func NewSynthesizer(client llm.LLMClient, cfg SynthesizerConfig, logger *zap.Logger) *Synthesizer {
	yearsBack := cfg.YearsBack
	if yearsBack <= 0 {
		yearsBack = DefaultYearsBack
	}
	return &Synthesizer{
		client:      client,
		temperature: cfg.Temperature,
		yearsBack:   yearsBack,
		logger:      logger.Named("synthesizer"),
		now:         time.Now,
	}
}

// synthesisStrategy is one rung of the fallback ladder. Strategies run in
// order with early return on first success; a strategy fails only on
// transport or parse errors, never on incomplete-but-usable data.
type synthesisStrategy struct {
	name string
	run  func(ctx context.Context, topic string) (*TimelineResult, error)
}

// Synthesize turns a free-text topic into a validated timeline result.
// Failure of every strategy surfaces as ErrGenerationFailed.
func (s *Synthesizer) Synthesize(ctx context.Context, topic string) (*TimelineResult, error) {
	strategies := []synthesisStrategy{
		{name: "full_synthesis", run: s.fullSynthesis},
		{name: "staged_synthesis", run: s.stagedSynthesis},
	}

	var lastErr error
	for _, strategy := range strategies {
		result, err := strategy.run(ctx, topic)
		if err == nil {
			if missing := result.MissingHorizons(); len(missing) > 0 {
				s.logger.Warn("Synthesis returned partial horizon coverage",
					zap.String("topic", topic),
					zap.String("strategy", strategy.name),
					zap.Strings("missing_horizons", missing))
			}
			return result, nil
		}
		lastErr = err
		s.logger.Warn("Synthesis strategy failed",
			zap.String("topic", topic),
			zap.String("strategy", strategy.name),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", apperrors.ErrGenerationFailed, lastErr)
}

// fullSynthesis is the single-call fast path: one request for label, present,
// events, and all horizon predictions.
func (s *Synthesizer) fullSynthesis(ctx context.Context, topic string) (*TimelineResult, error) {
	prompt := prompts.BuildFullSynthesisPrompt(topic, s.yearsBack, models.Horizons(), s.now())

	resp, err := s.client.GenerateResponse(ctx, prompt, prompts.ResearchSystemMessage, s.temperature, FullSynthesisSchema())
	if err != nil {
		return nil, fmt.Errorf("full synthesis call: %w", err)
	}
	if err := checkContract(resp.Content, s.logger, FullSynthesisSchema()); err != nil {
		return nil, fmt.Errorf("full synthesis contract: %w", err)
	}

	payload, err := ParseFullSynthesis(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("full synthesis parse: %w", err)
	}

	return s.assemble(topic, payload.ValueLabel, &payload.Present, payload.Events, payload.Predictions)
}

// stagedSynthesis is the multi-call fallback: detect label, run combined
// research, then generate predictions in one batch call with a per-horizon
// ladder underneath it.
func (s *Synthesizer) stagedSynthesis(ctx context.Context, topic string) (*TimelineResult, error) {
	label, err := s.detectLabel(ctx, topic)
	if err != nil {
		return nil, err
	}

	research, err := s.research(ctx, topic, label)
	if err != nil {
		return nil, err
	}
	if research.ValueLabel != "" {
		label = research.ValueLabel
	}

	present, err := convertPresent(&research.Present, label, s.now())
	if err != nil {
		return nil, fmt.Errorf("present observation: %w", err)
	}

	presentCtx := prompts.PresentContext{
		Date:  present.Date.Format("2006-01-02"),
		Value: present.Value,
		Label: label,
	}
	predictions := s.generatePredictions(ctx, topic, presentCtx)

	events := convertEvents(research.Events, label, s.logger)
	return &TimelineResult{
		Topic:        topic,
		ValueLabel:   label,
		PastEntries:  LimitEventsPerYear(events, MaxEventsPerYear),
		PresentEntry: present,
		Predictions:  predictions,
	}, nil
}

func (s *Synthesizer) detectLabel(ctx context.Context, topic string) (string, error) {
	prompt := prompts.BuildLabelDetectionPrompt(topic)
	resp, err := s.client.GenerateResponse(ctx, prompt, prompts.ResearchSystemMessage, s.temperature, LabelSchema())
	if err != nil {
		return "", fmt.Errorf("label detection call: %w", err)
	}
	if err := checkContract(resp.Content, s.logger, LabelSchema()); err != nil {
		return "", fmt.Errorf("label detection contract: %w", err)
	}
	label, err := ParseLabel(resp.Content)
	if err != nil {
		return "", fmt.Errorf("label detection parse: %w", err)
	}
	return label, nil
}

func (s *Synthesizer) research(ctx context.Context, topic, label string) (*ResearchPayload, error) {
	prompt := prompts.BuildResearchPrompt(topic, label, s.yearsBack, s.now())
	resp, err := s.client.GenerateResponse(ctx, prompt, prompts.ResearchSystemMessage, s.temperature, ResearchSchema())
	if err != nil {
		return nil, fmt.Errorf("research call: %w", err)
	}
	if err := checkContract(resp.Content, s.logger, ResearchSchema()); err != nil {
		return nil, fmt.Errorf("research contract: %w", err)
	}
	payload, err := ParseResearch(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("research parse: %w", err)
	}
	return payload, nil
}

// generatePredictions runs the batch prediction call and, only when that call
// throws, walks the per-horizon ladder. Horizons that fail at the narrowest
// tier are omitted rather than filled with fabricated scenarios.
func (s *Synthesizer) generatePredictions(ctx context.Context, topic string, present prompts.PresentContext) []models.Prediction {
	prompt := prompts.BuildPredictionsPrompt(topic, present, models.Horizons())
	resp, err := s.client.GenerateResponse(ctx, prompt, prompts.PredictionSystemMessage, s.temperature, PredictionsSchema())
	if err == nil {
		err = checkContract(resp.Content, s.logger, PredictionsSchema(), bareHorizonListContract())
	}
	if err == nil {
		if payloads, parseErr := ParsePredictions(resp.Content); parseErr == nil {
			return convertHorizons(payloads, s.logger)
		} else {
			err = parseErr
		}
	}

	s.logger.Warn("Batch prediction call failed, falling back to per-horizon calls",
		zap.String("topic", topic),
		zap.Error(err))

	return s.perHorizonPredictions(ctx, topic, present)
}

// perHorizonPredictions is the narrowest fallback tier: one sequential call
// per horizon. A failed horizon is logged and omitted; callers see the gap.
func (s *Synthesizer) perHorizonPredictions(ctx context.Context, topic string, present prompts.PresentContext) []models.Prediction {
	predictions := make([]models.Prediction, 0, models.HorizonCount)
	for _, horizon := range models.Horizons() {
		if ctx.Err() != nil {
			break
		}

		prompt := prompts.BuildHorizonPrompt(topic, present, horizon)
		resp, err := s.client.GenerateResponse(ctx, prompt, prompts.PredictionSystemMessage, s.temperature, HorizonSchema())
		if err != nil {
			s.logger.Warn("Horizon prediction call failed, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		if err := checkContract(resp.Content, s.logger, HorizonSchema(), bareHorizonContract(), bareScenarioListContract()); err != nil {
			s.logger.Warn("Horizon prediction reply violated contract, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		payload, err := ParseHorizon(resp.Content, horizon)
		if err != nil {
			s.logger.Warn("Horizon prediction parse failed, omitting horizon",
				zap.String("horizon", horizon),
				zap.Error(err))
			continue
		}

		if prediction, ok := convertHorizon(payload, s.logger); ok {
			predictions = append(predictions, prediction)
		}
	}
	return predictions
}

// assemble converts raw payloads into a validated result. The present
// observation is essential: an unusable one fails the strategy so the next
// tier can run.
func (s *Synthesizer) assemble(
	topic string,
	label string,
	present *PresentPayload,
	events []EventPayload,
	horizons []HorizonPayload,
) (*TimelineResult, error) {
	if label == "" {
		return nil, llm.NewShapeError("missing valueLabel", nil)
	}

	presentEntry, err := convertPresent(present, label, s.now())
	if err != nil {
		return nil, fmt.Errorf("present observation: %w", err)
	}

	pastEntries := convertEvents(events, label, s.logger)
	return &TimelineResult{
		Topic:        topic,
		ValueLabel:   label,
		PastEntries:  LimitEventsPerYear(pastEntries, MaxEventsPerYear),
		PresentEntry: presentEntry,
		Predictions:  convertHorizons(horizons, s.logger),
	}, nil
}

// convertPresent builds the present-day entry. A missing value is a shape
// violation; a missing or unparseable date degrades to today.
func convertPresent(p *PresentPayload, label string, now time.Time) (models.TimelineEntry, error) {
	if p == nil || p.Value.Value == nil {
		return models.TimelineEntry{}, llm.NewShapeError("present value is missing", nil)
	}

	date, err := ParseEntryDate(p.Date)
	if err != nil {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	return models.TimelineEntry{
		Date:       date,
		Value:      *p.Value.Value,
		ValueLabel: label,
		Summary:    p.Summary,
		Sources:    ValidateSources(p.Sources),
	}, nil
}

// convertEvents converts usable events and drops the rest. Dropping is safe
// here: events are supplementary and fabricating replacements is worse than
// a thinner history.
func convertEvents(events []EventPayload, label string, logger *zap.Logger) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(events))
	for _, e := range events {
		if e.Value.Value == nil {
			logger.Warn("Dropping event without numeric value", zap.String("date", e.Date))
			continue
		}
		date, err := ParseEntryDate(e.Date)
		if err != nil {
			logger.Warn("Dropping event with unparseable date", zap.String("date", e.Date))
			continue
		}

		summary := e.Summary
		if e.EventType != "" {
			summary = models.EventType(e.EventType).DisplayTag() + " " + summary
		}

		entries = append(entries, models.TimelineEntry{
			Date:       date,
			Value:      *e.Value.Value,
			ValueLabel: label,
			Summary:    summary,
			Sources:    ValidateSources(e.Sources),
		})
	}
	return entries
}

// convertHorizons converts batch prediction payloads, omitting horizons that
// fail validation and deduplicating on the canonical label. Output follows
// canonical horizon order.
func convertHorizons(payloads []HorizonPayload, logger *zap.Logger) []models.Prediction {
	byHorizon := make(map[string]models.Prediction, len(payloads))
	for i := range payloads {
		prediction, ok := convertHorizon(&payloads[i], logger)
		if !ok {
			continue
		}
		if _, dup := byHorizon[prediction.Timeline]; dup {
			continue
		}
		byHorizon[prediction.Timeline] = prediction
	}

	ordered := make([]models.Prediction, 0, len(byHorizon))
	for _, h := range models.Horizons() {
		if p, ok := byHorizon[h]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// convertHorizon validates and converts one horizon payload. Scenario lists
// are truncated to 5; fewer than 3 is partial coverage, logged but kept.
func convertHorizon(payload *HorizonPayload, logger *zap.Logger) (models.Prediction, bool) {
	horizon, ok := NormalizeHorizon(payload.Timeline)
	if !ok {
		logger.Warn("Omitting prediction with unknown horizon label",
			zap.String("timeline", payload.Timeline))
		return models.Prediction{}, false
	}

	scenarios := make([]models.PredictionScenario, 0, len(payload.Scenarios))
	for _, sc := range payload.Scenarios {
		if sc.Title == "" {
			continue
		}
		scenario := models.PredictionScenario{
			ID:              uuid.NewString(),
			Title:           sc.Title,
			Summary:         sc.Summary,
			Sources:         ValidateSources(sc.Sources),
			ConfidenceScore: ClampConfidence(sc.ConfidenceScore.Float()),
		}
		if sc.PredictedValue != nil && sc.PredictedValue.Value != nil {
			v := *sc.PredictedValue.Value
			scenario.PredictedValue = &v
		}
		scenarios = append(scenarios, scenario)
		if len(scenarios) == 5 {
			break
		}
	}

	if len(scenarios) == 0 {
		logger.Warn("Omitting horizon with no usable scenarios",
			zap.String("horizon", horizon))
		return models.Prediction{}, false
	}
	if len(scenarios) < 3 {
		logger.Warn("Horizon has fewer than 3 scenarios",
			zap.String("horizon", horizon),
			zap.Int("count", len(scenarios)))
	}

	return models.Prediction{Timeline: horizon, Scenarios: scenarios}, true
}
