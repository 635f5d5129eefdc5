package timeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foresight-inc/foresight-engine/pkg/llm"
	"github.com/foresight-inc/foresight-engine/pkg/models"
)

// FlexibleFloat unmarshals a value that a model may emit as a JSON number,
// a numeric string ("42000", "3.5%"), or null. Nil means absent.
type FlexibleFloat struct {
	Value *float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Value = nil
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.Value = &num
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		str = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(str), "%"))
		str = strings.ReplaceAll(str, ",", "")
		if parsed, err := strconv.ParseFloat(str, 64); err == nil {
			f.Value = &parsed
			return nil
		}
		return fmt.Errorf("non-numeric string %q", str)
	}

	return fmt.Errorf("cannot parse %s as number", s)
}

// Float returns the value or zero when absent.
func (f FlexibleFloat) Float() float64 {
	if f.Value == nil {
		return 0
	}
	return *f.Value
}

// PresentPayload is the raw present-value observation from the model.
type PresentPayload struct {
	Date    string        `json:"date"`
	Value   FlexibleFloat `json:"value"`
	Summary string        `json:"summary"`
	Sources []string      `json:"sources"`
}

// EventPayload is one raw historical event from the model.
type EventPayload struct {
	Date      string        `json:"date"`
	Value     FlexibleFloat `json:"value"`
	Summary   string        `json:"summary"`
	EventType string        `json:"eventType"`
	Sources   []string      `json:"sources"`
}

// ScenarioPayload is one raw prediction scenario from the model.
type ScenarioPayload struct {
	Title           string         `json:"title"`
	Summary         string         `json:"summary"`
	ConfidenceScore FlexibleFloat  `json:"confidenceScore"`
	PredictedValue  *FlexibleFloat `json:"predictedValue"`
	Sources         []string       `json:"sources"`
}

// HorizonPayload is the raw scenario set for one horizon.
type HorizonPayload struct {
	Timeline  string            `json:"timeline"`
	Scenarios []ScenarioPayload `json:"scenarios"`
}

// ResearchPayload is the combined present + historical research output.
type ResearchPayload struct {
	ValueLabel string         `json:"valueLabel"`
	Present    PresentPayload `json:"present"`
	Events     []EventPayload `json:"events"`
}

// FullSynthesisPayload is the single-call fast path output: label detection,
// present-value research, historical events, and all horizon predictions.
type FullSynthesisPayload struct {
	ValueLabel  string           `json:"valueLabel"`
	Present     PresentPayload   `json:"present"`
	Events      []EventPayload   `json:"events"`
	Predictions []HorizonPayload `json:"predictions"`
}

// LabelPayload is the value-label detection output.
type LabelPayload struct {
	ValueLabel string `json:"valueLabel"`
}

// PredictionsPayload is the batch prediction output across horizons.
type PredictionsPayload struct {
	Predictions []HorizonPayload `json:"predictions"`
}

// ParseFullSynthesis parses the single-call fast path response. Preference
// order: strict JSON, JSON embedded in prose, failure.
func ParseFullSynthesis(content string) (*FullSynthesisPayload, error) {
	return parseResponse[FullSynthesisPayload](content)
}

// ParseLabel parses the value-label detection response.
func ParseLabel(content string) (string, error) {
	payload, err := parseResponse[LabelPayload](content)
	if err != nil {
		return "", err
	}
	label := strings.TrimSpace(payload.ValueLabel)
	if label == "" {
		return "", llm.NewShapeError("empty valueLabel", nil)
	}
	return label, nil
}

// ParseResearch parses the combined present + historical research response.
func ParseResearch(content string) (*ResearchPayload, error) {
	return parseResponse[ResearchPayload](content)
}

// PresentOnlyPayload is the present-only research output used by reprocessing.
type PresentOnlyPayload struct {
	ValueLabel string         `json:"valueLabel"`
	Present    PresentPayload `json:"present"`
}

// ParsePresent parses a present-only observation response. Accepts both the
// documented envelope and a bare present object.
func ParsePresent(content string) (*PresentPayload, error) {
	if payload, err := parseResponse[PresentOnlyPayload](content); err == nil && payload.Present.Value.Value != nil {
		return &payload.Present, nil
	}
	bare, err := parseResponse[PresentPayload](content)
	if err != nil {
		return nil, err
	}
	return bare, nil
}

// ParsePredictions parses the batch prediction response. It tolerates both
// the documented {"predictions": [...]} envelope and a bare array.
func ParsePredictions(content string) ([]HorizonPayload, error) {
	if payload, err := parseResponse[PredictionsPayload](content); err == nil && len(payload.Predictions) > 0 {
		return payload.Predictions, nil
	}
	bare, err := parseResponse[[]HorizonPayload](content)
	if err != nil {
		return nil, err
	}
	return *bare, nil
}

// ParseHorizon parses a single-horizon prediction response. Accepts either a
// HorizonPayload object or a bare scenario array.
func ParseHorizon(content string, horizon string) (*HorizonPayload, error) {
	if payload, err := parseResponse[HorizonPayload](content); err == nil && len(payload.Scenarios) > 0 {
		if payload.Timeline == "" {
			payload.Timeline = horizon
		}
		return payload, nil
	}
	scenarios, err := parseResponse[[]ScenarioPayload](content)
	if err != nil {
		return nil, err
	}
	return &HorizonPayload{Timeline: horizon, Scenarios: *scenarios}, nil
}

// parseResponse tries strict unmarshalling first, then the embedded-JSON
// rescue. Both failing is a parse failure that feeds the fallback ladder.
func parseResponse[T any](content string) (*T, error) {
	var strict T
	if err := json.Unmarshal([]byte(content), &strict); err == nil {
		return &strict, nil
	}

	rescued, err := llm.ParseJSONResponse[T](content)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &rescued, nil
}

// entryDateFormats are accepted in order. Day precision is canonical; the
// looser forms cover models that return months or timestamps.
var entryDateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01",
	"2006",
}

// ParseEntryDate normalizes a model-supplied date string to a day-precision
// instant in UTC.
func ParseEntryDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range entryDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ClampConfidence bounds a confidence score to [0,100].
func ClampConfidence(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// NormalizeHorizon maps a model-supplied horizon label onto the canonical
// set, or returns false when it matches none of the 11 fixed labels.
func NormalizeHorizon(label string) (string, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	for _, h := range models.Horizons() {
		if cleaned == h {
			return h, true
		}
	}
	return "", false
}
