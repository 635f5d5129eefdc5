// Package prompts builds the completion-service prompts for timeline
// synthesis and reprocessing. Builders are pure string assembly; every
// prompt ends with the exact JSON format block the parser expects.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// ResearchSystemMessage frames the model as a metric researcher.
const ResearchSystemMessage = "You are a meticulous research analyst. You identify a single tracked metric " +
	"for a topic, report dated observations with reputable source URLs, and respond with JSON only."

// PredictionSystemMessage frames the model as a forecaster.
const PredictionSystemMessage = "You are a careful forecaster. You produce distinct, plausible future scenarios " +
	"with calibrated confidence scores and respond with JSON only."

// PresentContext carries the present observation into prediction prompts.
type PresentContext struct {
	Date  string
	Value float64
	Label string
}

// PreviousScenario is a condensed prior scenario for reprocess prompts.
type PreviousScenario struct {
	Horizon    string
	Title      string
	Confidence float64
}

// eventTypeList is the tag vocabulary the research prompts offer the model.
const eventTypeList = "pump, dump, bull_market_start, bull_market_end, bear_market_start, bear_market_end, major_event"

// BuildFullSynthesisPrompt creates the single-call fast path prompt: value
// label detection, present-value research, bounded historical events, and
// predictions for every horizon in one response.
func BuildFullSynthesisPrompt(topic string, yearsBack int, horizons []string, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Timeline Synthesis\n\n")
	fmt.Fprintf(&b, "Topic: %s\nToday's date: %s\n\n", topic, now.Format("2006-01-02"))

	b.WriteString("Produce, in a single JSON response:\n\n")
	b.WriteString("1. A short value label naming the tracked metric and its unit (e.g. \"Price in USD\").\n")
	fmt.Fprintf(&b, "2. The present-day observation of that metric, dated %s or the most recent known date.\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "3. Up to 40 significant historical events from the past %d years, at most 4 per calendar year. ", yearsBack)
	fmt.Fprintf(&b, "Tag each event with one eventType from: %s.\n", eventTypeList)
	fmt.Fprintf(&b, "4. Prediction scenarios for every one of these horizons: %s. ", strings.Join(horizons, ", "))
	b.WriteString("Provide 3 to 5 distinct scenarios per horizon.\n\n")

	writeSharedRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\n")
	b.WriteString("  \"valueLabel\": \"<metric and unit>\",\n")
	b.WriteString("  \"present\": " + presentFormat + ",\n")
	b.WriteString("  \"events\": [" + eventFormat + "],\n")
	b.WriteString("  \"predictions\": [" + horizonFormat + "]\n")
	b.WriteString("}\n```\n")

	return b.String()
}

// BuildLabelDetectionPrompt creates the first stage of the multi-call
// fallback: derive the tracked metric from the free-text topic.
func BuildLabelDetectionPrompt(topic string) string {
	var b strings.Builder

	b.WriteString("# Metric Detection\n\n")
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("Name the single most natural numeric metric to track for this topic, ")
	b.WriteString("as a short label including the unit (e.g. \"Price in USD\", \"Global average temperature in °C\").\n\n")
	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\"valueLabel\": \"<metric and unit>\"}\n```\n")

	return b.String()
}

// BuildResearchPrompt creates the combined present + historical research
// call of the multi-call fallback.
func BuildResearchPrompt(topic string, valueLabel string, yearsBack int, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Metric Research\n\n")
	fmt.Fprintf(&b, "Topic: %s\nTracked metric: %s\nToday's date: %s\n\n", topic, valueLabel, now.Format("2006-01-02"))

	b.WriteString("Report:\n\n")
	b.WriteString("1. The present-day observation of the metric.\n")
	fmt.Fprintf(&b, "2. Up to 40 significant historical events from the past %d years, at most 4 per calendar year, ", yearsBack)
	fmt.Fprintf(&b, "each tagged with one eventType from: %s.\n\n", eventTypeList)

	writeSharedRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\n")
	fmt.Fprintf(&b, "  \"valueLabel\": %q,\n", valueLabel)
	b.WriteString("  \"present\": " + presentFormat + ",\n")
	b.WriteString("  \"events\": [" + eventFormat + "]\n")
	b.WriteString("}\n```\n")

	return b.String()
}

// BuildPresentObservationPrompt creates the present-only research call used
// by reprocessing: the same present-value ask as synthesis, without the
// historical or prediction context.
func BuildPresentObservationPrompt(topic string, valueLabel string, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Present Observation\n\n")
	fmt.Fprintf(&b, "Topic: %s\nTracked metric: %s\nToday's date: %s\n\n", topic, valueLabel, now.Format("2006-01-02"))
	b.WriteString("Report the present-day observation of the metric with a short summary and source URLs.\n\n")

	writeSharedRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\n")
	fmt.Fprintf(&b, "  \"valueLabel\": %q,\n", valueLabel)
	b.WriteString("  \"present\": " + presentFormat + "\n")
	b.WriteString("}\n```\n")

	return b.String()
}

// BuildPredictionsPrompt creates the batch prediction call covering every
// horizon in one response.
func BuildPredictionsPrompt(topic string, present PresentContext, horizons []string) string {
	var b strings.Builder

	b.WriteString("# Future Predictions\n\n")
	writePredictionContext(&b, topic, present)
	fmt.Fprintf(&b, "Produce 3 to 5 distinct scenarios for every one of these horizons: %s.\n\n", strings.Join(horizons, ", "))

	writeScenarioRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\"predictions\": [" + horizonFormat + "]}\n```\n")

	return b.String()
}

// BuildHorizonPrompt creates a single-horizon prediction call, the narrowest
// fallback tier.
func BuildHorizonPrompt(topic string, present PresentContext, horizon string) string {
	var b strings.Builder

	b.WriteString("# Future Prediction\n\n")
	writePredictionContext(&b, topic, present)
	fmt.Fprintf(&b, "Produce 3 to 5 distinct scenarios for the value at horizon %q.\n\n", horizon)

	writeScenarioRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	fmt.Fprintf(&b, "```json\n{\"timeline\": %q, \"scenarios\": [%s]}\n```\n", horizon, scenarioFormat)

	return b.String()
}

// BuildReprocessPredictionsPrompt creates the batch regeneration call used by
// reprocessing. It carries the prior present value, the observed delta, and a
// condensed summary of the previous scenarios so the model adjusts them
// rather than redrawing independently.
func BuildReprocessPredictionsPrompt(
	topic string,
	present PresentContext,
	previousValue float64,
	deltaAbs float64,
	deltaPct float64,
	previous []PreviousScenario,
	horizons []string,
) string {
	var b strings.Builder

	b.WriteString("# Prediction Adjustment\n\n")
	writePredictionContext(&b, topic, present)
	fmt.Fprintf(&b, "Previous observation: %g\n", previousValue)
	fmt.Fprintf(&b, "Observed change since last analysis: %+g (%+.2f%%)\n\n", deltaAbs, deltaPct)

	if len(previous) > 0 {
		b.WriteString("Previous prediction scenarios:\n")
		for _, p := range previous {
			fmt.Fprintf(&b, "- [%s] %s (confidence %.0f)\n", p.Horizon, p.Title, p.Confidence)
		}
		b.WriteString("\n")
	}

	b.WriteString("Update the outlook in light of the observed change. Scenarios must be logically consistent ")
	b.WriteString("adjustments of the previous ones where those remain plausible, not independent redraws. ")
	fmt.Fprintf(&b, "Produce 3 to 5 scenarios for every one of these horizons: %s.\n\n", strings.Join(horizons, ", "))

	writeScenarioRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	b.WriteString("```json\n{\"predictions\": [" + horizonFormat + "]}\n```\n")

	return b.String()
}

// BuildReprocessHorizonPrompt mirrors BuildHorizonPrompt with the adjustment
// context, for the per-horizon fallback of reprocessing.
func BuildReprocessHorizonPrompt(
	topic string,
	present PresentContext,
	previousValue float64,
	deltaAbs float64,
	deltaPct float64,
	previous []PreviousScenario,
	horizon string,
) string {
	var b strings.Builder

	b.WriteString("# Prediction Adjustment\n\n")
	writePredictionContext(&b, topic, present)
	fmt.Fprintf(&b, "Previous observation: %g\n", previousValue)
	fmt.Fprintf(&b, "Observed change since last analysis: %+g (%+.2f%%)\n\n", deltaAbs, deltaPct)

	for _, p := range previous {
		if p.Horizon == horizon {
			fmt.Fprintf(&b, "Previous scenario: %s (confidence %.0f)\n", p.Title, p.Confidence)
		}
	}
	b.WriteString("\n")

	b.WriteString("Update the outlook in light of the observed change, adjusting the previous scenarios ")
	fmt.Fprintf(&b, "rather than redrawing them. Produce 3 to 5 scenarios for horizon %q.\n\n", horizon)

	writeScenarioRules(&b)

	b.WriteString("Respond with JSON exactly in this format:\n\n")
	fmt.Fprintf(&b, "```json\n{\"timeline\": %q, \"scenarios\": [%s]}\n```\n", horizon, scenarioFormat)

	return b.String()
}

const presentFormat = `{"date": "YYYY-MM-DD", "value": <number>, "summary": "<prose>", "sources": ["<url>"]}`

const eventFormat = `{"date": "YYYY-MM-DD", "value": <number>, "summary": "<prose>", "eventType": "<tag>", "sources": ["<url>"]}`

const scenarioFormat = `{"title": "<short title>", "summary": "<prose>", "confidenceScore": <0-100>, "predictedValue": <number or null>, "sources": ["<url>"]}`

const horizonFormat = `{"timeline": "<horizon>", "scenarios": [` + scenarioFormat + `]}`

func writeSharedRules(b *strings.Builder) {
	b.WriteString("Rules:\n")
	b.WriteString("- Every value must be numeric, never null.\n")
	b.WriteString("- Dates use YYYY-MM-DD.\n")
	b.WriteString("- Sources must be absolute http(s) URLs to reputable references.\n")
	b.WriteString("- Do not invent events; omit what you cannot substantiate.\n\n")
}

func writeScenarioRules(b *strings.Builder) {
	b.WriteString("Rules:\n")
	b.WriteString("- Scenarios within a horizon must be materially distinct.\n")
	b.WriteString("- confidenceScore is an integer from 0 to 100.\n")
	b.WriteString("- predictedValue is the scenario's expected metric value, or null if genuinely unknowable.\n")
	b.WriteString("- Sources must be absolute http(s) URLs.\n\n")
}

func writePredictionContext(b *strings.Builder, topic string, present PresentContext) {
	fmt.Fprintf(b, "Topic: %s\nTracked metric: %s\n", topic, present.Label)
	fmt.Fprintf(b, "Present observation (%s): %g\n\n", present.Date, present.Value)
}
