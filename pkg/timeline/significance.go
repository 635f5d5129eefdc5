package timeline

import (
	"sort"
	"strings"

	"github.com/foresight-inc/foresight-engine/pkg/models"
)

// MaxEventsPerYear bounds historical event density after curation.
const MaxEventsPerYear = 4

// significanceBonuses are the lexical markers that boost an event's score.
// Each bonus applies at most once per summary.
var significanceBonuses = []struct {
	terms []string
	bonus int
}{
	{terms: []string{"surge", "rally", "pump"}, bonus: 100},
	{terms: []string{"crash", "plunge", "dump"}, bonus: 100},
	{terms: []string{"bull market", "bull run"}, bonus: 150},
	{terms: []string{"bear market", "bear run"}, bonus: 150},
	{terms: []string{"%"}, bonus: 50},
}

// SignificanceScore ranks an event summary for curation. The base score is
// the summary length; keyword groups add fixed bonuses. Deliberately a dumb,
// auditable lexical heuristic kept as a standalone pure function.
func SignificanceScore(summary string) int {
	score := len(summary)
	lower := strings.ToLower(summary)
	for _, group := range significanceBonuses {
		for _, term := range group.terms {
			if strings.Contains(lower, term) {
				score += group.bonus
				break
			}
		}
	}
	return score
}

// LimitEventsPerYear caps entries at maxPerYear per calendar year, keeping the
// highest-significance events within each year (insertion order breaks ties),
// and returns the union re-sorted ascending by date. Idempotent: applying it
// to its own output is a no-op.
func LimitEventsPerYear(entries []models.TimelineEntry, maxPerYear int) []models.TimelineEntry {
	if maxPerYear <= 0 {
		maxPerYear = MaxEventsPerYear
	}

	byYear := make(map[int][]models.TimelineEntry)
	years := make([]int, 0)
	for _, e := range entries {
		year := e.Date.Year()
		if _, seen := byYear[year]; !seen {
			years = append(years, year)
		}
		byYear[year] = append(byYear[year], e)
	}

	kept := make([]models.TimelineEntry, 0, len(entries))
	for _, year := range years {
		group := byYear[year]
		sort.SliceStable(group, func(i, j int) bool {
			return SignificanceScore(group[i].Summary) > SignificanceScore(group[j].Summary)
		})
		if len(group) > maxPerYear {
			group = group[:maxPerYear]
		}
		kept = append(kept, group...)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Date.Before(kept[j].Date)
	})
	return kept
}
