package coherence

import (
	"regexp"
	"strconv"
	"strings"
)

var doseRe = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*(mcg|mg|g|ml)\b`)

// ParseDoseMg extracts a single numeric dose in milligrams from a
// free-form dose string (e.g. "500mg", "0.5 g", "twice 250mg tablets").
// It returns ok=false when no recognizable unit/number pair is found
// (spec §4.E detectors 7/8: "if parsing fails skip").
func ParseDoseMg(dose string) (float64, bool) {
	m := doseRe.FindStringSubmatch(dose)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "mg":
		return value, true
	case "mcg":
		return value / 1000.0, true
	case "g":
		return value * 1000.0, true
	default:
		return 0, false // ml: volume, not a resolvable mass dose
	}
}

var (
	timesPerDayRe = regexp.MustCompile(`(?i)\b(once|one time|1x|twice|two times|2x|three times|3x|four times|4x)\b.*\b(daily|a day|per day)\b`)
	everyHoursRe  = regexp.MustCompile(`(?i)every\s+([0-9]+)\s*hours?`)
	asNeededRe   = regexp.MustCompile(`(?i)\bas\s+needed\b|\bprn\b`)
)

var timesWords = map[string]int{
	"once": 1, "one time": 1, "1x": 1,
	"twice": 2, "two times": 2, "2x": 2,
	"three times": 3, "3x": 3,
	"four times": 4, "4x": 4,
}

// ParseDailyMultiplier extracts how many times per day a medication is
// taken from its frequency string (spec §4.E detector 8). "As needed" and
// anything it cannot resolve returns ok=false, matching the spec's
// "unparseable/skip" rule.
func ParseDailyMultiplier(frequency string) (int, bool) {
	if asNeededRe.MatchString(frequency) {
		return 0, false
	}
	if m := timesPerDayRe.FindStringSubmatch(frequency); m != nil {
		if n, ok := timesWords[strings.ToLower(m[1])]; ok {
			return n, true
		}
	}
	if m := everyHoursRe.FindStringSubmatch(frequency); m != nil {
		hours, err := strconv.Atoi(m[1])
		if err == nil && hours > 0 {
			return 24 / hours, true
		}
	}
	return 0, false
}
