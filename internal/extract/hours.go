package extract

import (
	"strings"

	"github.com/dkoval/servicecenter-crawler/internal/catalog"
)

// weekdayNames is the fixed ordinal table for schedule tokens, Mon=1..Sun=7.
var weekdayNames = []string{"ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ", "ВС"}

const (
	allHoursToken = "Круглосуточно"
	closedToken   = "Выходной"
)

// ParseOpeningHour parses a compact "weekday-range - time-range" token into a
// schedule entry. "ПН-ПТ - 09:00 18:00" covers Monday through Friday;
// the all-hours token yields 00:00-00:00 and the closed token yields nil
// times. Returns ok=false when the token does not follow the grammar.
func ParseOpeningHour(text string) (catalog.OpeningHour, bool) {
	text = strings.TrimSpace(text)

	// The weekday part may itself contain "-", so split on the last " - ".
	sep := strings.LastIndex(text, " - ")
	if sep < 0 {
		return catalog.OpeningHour{}, false
	}
	days, times := text[:sep], text[sep+len(" - "):]

	ordinals := make([]int, 0, 2)
	for _, name := range strings.Split(days, "-") {
		ord := weekdayOrdinal(strings.TrimSpace(name))
		if ord == 0 {
			return catalog.OpeningHour{}, false
		}
		ordinals = append(ordinals, ord)
	}

	hour := catalog.OpeningHour{
		WeekdayFrom: ordinals[0],
		WeekdayTo:   ordinals[len(ordinals)-1],
	}

	switch {
	case strings.Contains(times, allHoursToken):
		midnight := "00:00"
		hour.TimeFrom, hour.TimeTo = &midnight, &midnight
	case strings.Contains(times, closedToken):
		// nil times mean closed on that weekday range.
	default:
		clock := clockTokens(times)
		if len(clock) == 0 {
			return catalog.OpeningHour{}, false
		}
		hour.TimeFrom = &clock[0]
		hour.TimeTo = &clock[len(clock)-1]
	}
	return hour, true
}

func weekdayOrdinal(name string) int {
	for i, candidate := range weekdayNames {
		if strings.EqualFold(name, candidate) {
			return i + 1
		}
	}
	return 0
}

func clockTokens(times string) []string {
	var out []string
	for _, token := range strings.Fields(times) {
		if strings.Contains(token, ":") {
			out = append(out, token)
		}
	}
	return out
}
