package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can see a timeline. It is a property of the logical
// timeline (slug), not of an individual version.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityPremium Visibility = "premium"
)

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityPremium:
		return true
	}
	return false
}

// EventType classifies a historical event. The research prompt asks the model
// to tag events with one of these; the tag is rendered as a summary prefix.
type EventType string

const (
	EventTypePump           EventType = "pump"
	EventTypeDump           EventType = "dump"
	EventTypeBullMarketStart EventType = "bull_market_start"
	EventTypeBullMarketEnd   EventType = "bull_market_end"
	EventTypeBearMarketStart EventType = "bear_market_start"
	EventTypeBearMarketEnd   EventType = "bear_market_end"
	EventTypeMajorEvent      EventType = "major_event"
)

// DisplayTag returns the human-readable tag prefixed to event summaries,
// e.g. "[Bull Market Start]". Unknown types map to the generic major-event tag.
func (e EventType) DisplayTag() string {
	switch e {
	case EventTypePump:
		return "[Pump]"
	case EventTypeDump:
		return "[Dump]"
	case EventTypeBullMarketStart:
		return "[Bull Market Start]"
	case EventTypeBullMarketEnd:
		return "[Bull Market End]"
	case EventTypeBearMarketStart:
		return "[Bear Market Start]"
	case EventTypeBearMarketEnd:
		return "[Bear Market End]"
	default:
		return "[Major Event]"
	}
}

// Horizons returns the fixed set of prediction horizons, in canonical order.
// Every synthesis targets all 11; a shorter list in a persisted version means
// partial coverage, which callers detect by comparing against this set.
func Horizons() []string {
	return []string{
		"1 month",
		"1 year",
		"2 years",
		"3 years",
		"4 years",
		"5 years",
		"6 years",
		"7 years",
		"8 years",
		"9 years",
		"10 years",
	}
}

// HorizonCount is the number of fixed prediction horizons.
const HorizonCount = 11

// TimelineEntry is a single dated observation on a timeline.
type TimelineEntry struct {
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	ValueLabel string    `json:"valueLabel"`
	Summary    string    `json:"summary"`
	Sources    []string  `json:"sources,omitempty"`
}

// PredictionScenario is one hypothesis for a future value at a given horizon.
type PredictionScenario struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Sources         []string `json:"sources,omitempty"`
	ConfidenceScore float64  `json:"confidenceScore"`
	PredictedValue  *float64 `json:"predictedValue,omitempty"`
}

// Prediction holds the scenario set for one horizon.
type Prediction struct {
	Timeline  string               `json:"timeline"`
	Scenarios []PredictionScenario `json:"scenarios"`
}

// TimelineVersion is the persisted unit: one immutable snapshot of a logical
// timeline. Versions per slug start at 1 and only ever grow; CreatedAt is
// fixed at version 1 and propagated unchanged, UpdatedAt is per-version.
type TimelineVersion struct {
	ID           uuid.UUID       `json:"id"`
	Slug         string          `json:"slug"`
	Version      int             `json:"version"`
	Topic        string          `json:"topic"`
	ValueLabel   string          `json:"valueLabel"`
	PastEntries  []TimelineEntry `json:"pastEntries"`
	PresentEntry TimelineEntry   `json:"presentEntry"`
	Predictions  []Prediction    `json:"predictions"`
	UserID       *uuid.UUID      `json:"userId,omitempty"`
	Visibility   Visibility      `json:"visibility"`
	ViewCount    int64           `json:"viewCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// OwnedBy reports whether userID is the owner of this version. Anonymous
// timelines (nil owner) are owned by no one and always return false.
func (t *TimelineVersion) OwnedBy(userID *uuid.UUID) bool {
	if t.UserID == nil || userID == nil {
		return false
	}
	return *t.UserID == *userID
}

// VersionSummary is a compact per-version row for the version history listing.
type VersionSummary struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	PresentValue float64   `json:"presentValue"`
}

// Validate checks the structural invariants a version must satisfy before it
// is handed to the store.
func (t *TimelineVersion) Validate() error {
	if t.Slug == "" {
		return fmt.Errorf("slug is required")
	}
	if t.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if !t.Visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", t.Visibility)
	}
	if len(t.Predictions) > HorizonCount {
		return fmt.Errorf("too many predictions: %d", len(t.Predictions))
	}
	return nil
}
