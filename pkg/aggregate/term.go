package aggregate

import (
	"regexp"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
)

// Season buckets for the current-term view.
const (
	SeasonSpring = "spring"
	SeasonSummer = "summer"
	SeasonFall   = "fall"
	SeasonOther  = "other"
)

var seasonPatterns = map[string]*regexp.Regexp{
	SeasonSpring: regexp.MustCompile(`(?i)spring`),
	SeasonSummer: regexp.MustCompile(`(?i)summer`),
	SeasonFall:   regexp.MustCompile(`(?i)fall`),
}

// SeasonFor maps a calendar month to its season: January to May is
// spring, June and July summer, August to December fall.
func SeasonFor(month time.Month) string {
	switch {
	case month <= time.May:
		return SeasonSpring
	case month <= time.July:
		return SeasonSummer
	default:
		return SeasonFall
	}
}

// TermBucket classifies a term name into a season, or SeasonOther.
func TermBucket(termName string) string {
	for _, season := range []string{SeasonSpring, SeasonSummer, SeasonFall} {
		if seasonPatterns[season].MatchString(termName) {
			return season
		}
	}
	return SeasonOther
}

// InSeason reports whether termName matches the season pattern.
func InSeason(termName, season string) bool {
	re, ok := seasonPatterns[season]
	return ok && re.MatchString(termName)
}

func termName(course lms.Item) string {
	term, ok := course["term"].(map[string]any)
	if !ok {
		return ""
	}
	return lms.String(term, "name")
}
