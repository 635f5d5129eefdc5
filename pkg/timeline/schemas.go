package timeline

import (
	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/models"
)

// Shape contracts for each completion call, kept as declarative data. They
// are sent with the request as structured-output hints and used to validate
// parsed output before it is trusted.

func scenarioProperty() llm.Property {
	return llm.Property{
		Kind: llm.KindObject,
		Properties: map[string]llm.Property{
			"title":           {Kind: llm.KindString},
			"summary":         {Kind: llm.KindString},
			"confidenceScore": {Kind: llm.KindNumber, Description: "0-100"},
			"predictedValue":  {Kind: llm.KindNumber},
			"sources":         {Kind: llm.KindArray, Items: &llm.Property{Kind: llm.KindString}},
		},
		Required: []string{"title", "summary", "confidenceScore"},
	}
}

func horizonProperty() llm.Property {
	scenario := scenarioProperty()
	return llm.Property{
		Kind: llm.KindObject,
		Properties: map[string]llm.Property{
			"timeline": {Kind: llm.KindString, Enum: models.Horizons()},
			"scenarios": {
				Kind:     llm.KindArray,
				MinItems: 3,
				MaxItems: 5,
				Items:    &scenario,
			},
		},
		Required: []string{"timeline", "scenarios"},
	}
}

func presentProperty() llm.Property {
	return llm.Property{
		Kind: llm.KindObject,
		Properties: map[string]llm.Property{
			"date":    {Kind: llm.KindString, Description: "YYYY-MM-DD"},
			"value":   {Kind: llm.KindNumber},
			"summary": {Kind: llm.KindString},
			"sources": {Kind: llm.KindArray, Items: &llm.Property{Kind: llm.KindString}},
		},
		Required: []string{"date", "value", "summary"},
	}
}

func eventProperty() llm.Property {
	p := presentProperty()
	p.Properties["eventType"] = llm.Property{
		Kind: llm.KindString,
		Enum: []string{
			string(models.EventTypePump),
			string(models.EventTypeDump),
			string(models.EventTypeBullMarketStart),
			string(models.EventTypeBullMarketEnd),
			string(models.EventTypeBearMarketStart),
			string(models.EventTypeBearMarketEnd),
			string(models.EventTypeMajorEvent),
		},
	}
	return p
}

// FullSynthesisSchema is the single-call fast path contract.
func FullSynthesisSchema() *llm.Schema {
	present := presentProperty()
	event := eventProperty()
	horizon := horizonProperty()
	return &llm.Schema{
		Name: "timeline_synthesis",
		Root: llm.Property{
			Kind: llm.KindObject,
			Properties: map[string]llm.Property{
				"valueLabel": {Kind: llm.KindString},
				"present":    present,
				"events":     {Kind: llm.KindArray, MaxItems: 40, Items: &event},
				"predictions": {
					Kind:     llm.KindArray,
					MinItems: models.HorizonCount,
					MaxItems: models.HorizonCount,
					Items:    &horizon,
				},
			},
			Required: []string{"valueLabel", "present", "events", "predictions"},
		},
	}
}

// LabelSchema is the value-label detection contract.
func LabelSchema() *llm.Schema {
	return &llm.Schema{
		Name: "value_label",
		Root: llm.Property{
			Kind: llm.KindObject,
			Properties: map[string]llm.Property{
				"valueLabel": {Kind: llm.KindString},
			},
			Required: []string{"valueLabel"},
		},
	}
}

// ResearchSchema is the combined present + historical research contract.
func ResearchSchema() *llm.Schema {
	present := presentProperty()
	event := eventProperty()
	return &llm.Schema{
		Name: "metric_research",
		Root: llm.Property{
			Kind: llm.KindObject,
			Properties: map[string]llm.Property{
				"valueLabel": {Kind: llm.KindString},
				"present":    present,
				"events":     {Kind: llm.KindArray, MaxItems: 40, Items: &event},
			},
			Required: []string{"valueLabel", "present"},
		},
	}
}

// PresentObservationSchema is the present-only research contract used by
// reprocessing.
func PresentObservationSchema() *llm.Schema {
	present := presentProperty()
	return &llm.Schema{
		Name: "present_observation",
		Root: llm.Property{
			Kind: llm.KindObject,
			Properties: map[string]llm.Property{
				"valueLabel": {Kind: llm.KindString},
				"present":    present,
			},
			Required: []string{"present"},
		},
	}
}

// PredictionsSchema is the batch prediction contract across all horizons.
func PredictionsSchema() *llm.Schema {
	horizon := horizonProperty()
	return &llm.Schema{
		Name: "horizon_predictions",
		Root: llm.Property{
			Kind: llm.KindObject,
			Properties: map[string]llm.Property{
				"predictions": {
					Kind:     llm.KindArray,
					MinItems: models.HorizonCount,
					MaxItems: models.HorizonCount,
					Items:    &horizon,
				},
			},
			Required: []string{"predictions"},
		},
	}
}

// HorizonSchema is the single-horizon prediction contract.
func HorizonSchema() *llm.Schema {
	return &llm.Schema{
		Name: "horizon_prediction",
		Root: horizonProperty(),
	}
}

// bareHorizonContract accepts a single-horizon reply without the timeline
// field; the caller fills it from the requested horizon.
func bareHorizonContract() *llm.Schema {
	horizon := horizonProperty()
	horizon.Required = []string{"scenarios"}
	return &llm.Schema{Name: "horizon_prediction_bare", Root: horizon}
}

// bareScenarioListContract accepts a reply that is just the scenario array.
func bareScenarioListContract() *llm.Schema {
	scenario := scenarioProperty()
	return &llm.Schema{
		Name: "scenario_list",
		Root: llm.Property{Kind: llm.KindArray, MinItems: 3, MaxItems: 5, Items: &scenario},
	}
}

// bareHorizonListContract accepts a batch reply that is just the horizon
// array, without the predictions envelope.
func bareHorizonListContract() *llm.Schema {
	horizon := horizonProperty()
	return &llm.Schema{
		Name: "horizon_predictions_bare",
		Root: llm.Property{
			Kind:     llm.KindArray,
			MinItems: models.HorizonCount,
			MaxItems: models.HorizonCount,
			Items:    &horizon,
		},
	}
}

// barePresentContract accepts a reply that is just the present object.
func barePresentContract() *llm.Schema {
	return &llm.Schema{Name: "present_observation_bare", Root: presentProperty()}
}

// checkContract validates a reply against the acceptable contracts for its
// call, mirroring the parsers' tolerance for bare payload forms. The first
// contract that accepts the reply wins; its advisories (array bound
// deviations) describe incomplete-but-usable data and are logged, never
// failed. A reply no contract accepts is a shape violation.
func checkContract(content string, logger *zap.Logger, contracts ...*llm.Schema) error {
	doc, err := llm.ExtractJSON(content)
	if err != nil {
		return llm.NewShapeError("no JSON document in response", err)
	}

	var lastErr error
	for _, contract := range contracts {
		advisories, err := contract.Validate([]byte(doc))
		if err == nil {
			for _, advisory := range advisories {
				logger.Warn("Reply deviates from contract bounds",
					zap.String("contract", contract.Name),
					zap.String("deviation", advisory))
			}
			return nil
		}
		lastErr = err
	}
	return lastErr
}
