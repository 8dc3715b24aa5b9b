package normalize

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "urconnect/internal/log"
	"urconnect/internal/model"
)

const (
	defaultMaxOccurrencesPerEntry = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEntry is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEntry is used.
	MaxOccurrencesPerEntry int
}

// ExpandResult wraps the expanded entries and the titles of recurring
// entries that hit the cap.
type ExpandResult struct {
	Entries   []model.TimetableEntry
	Truncated []string
}

// Expand replaces every recurring entry by its occurrences within the
// configured window. Entries without an RRULE are passed through unchanged;
// an entry whose rule cannot be parsed is kept as a single entry.
//
// Occurrences are computed in the time zone of the entry's start, so weekly
// lectures keep their wall-clock time across DST changes. EXDATEs are honored.
// The result is deduplicated and sorted.
func Expand(entries []model.TimetableEntry, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEntry <= 0 {
		cfg.MaxOccurrencesPerEntry = defaultMaxOccurrencesPerEntry
	}

	out := make([]model.TimetableEntry, 0, len(entries))
	for _, e := range entries {
		if e.RRule == "" {
			out = append(out, e)
			continue
		}

		occ, hitCap, err := expandEntry(e, cfg)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "title", e.Title, "rrule", e.RRule)
			out = append(out, e)
			continue
		}
		if hitCap {
			result.Truncated = append(result.Truncated, e.Title)
			appLog.Warn("expand: truncated occurrences due to cap",
				"title", e.Title,
				"cap", cfg.MaxOccurrencesPerEntry,
			)
		}
		out = append(out, occ...)
	}

	result.Entries = Finalize(out)
	return result, nil
}

func expandEntry(e model.TimetableEntry, cfg ExpandConfig) ([]model.TimetableEntry, bool, error) {
	r, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		return nil, false, err
	}

	// Ensure Dtstart is set to the entry's start.
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(e.Start.Location())
	rangeEnd := cfg.RangeEnd.In(e.Start.Location())

	times := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEntry {
		times = times[:cfg.MaxOccurrencesPerEntry]
		hitCap = true
	}

	dur := e.Duration()
	days := calendarDays(e.Start, e.End)
	out := make([]model.TimetableEntry, 0, len(times))
	for _, start := range times {
		occ := e
		occ.Start = start
		if e.AllDay {
			occ.End = start.AddDate(0, 0, days)
		} else {
			occ.End = start.Add(dur)
		}
		// Occurrences are concrete; only the display frequency is kept.
		occ.RRule = ""
		occ.ExDates = nil
		out = append(out, occ)
	}
	return out, hitCap, nil
}

// calendarDays is the number of calendar days an all-day entry spans,
// counted in the zone of its start and never less than one.
func calendarDays(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.In(start.Location()).Date()
	days := int(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC).Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}
