// Package normalize turns raw calendar events and HTML timetable rows into
// validated model.TimetableEntry values.
package normalize

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"urconnect/internal/ics"
	appLog "urconnect/internal/log"
	"urconnect/internal/model"
)

// ErrMalformedEntry marks a single record that could not be turned into an
// entry. Such records are skipped; they never fail a whole batch.
var ErrMalformedEntry = errors.New("malformed entry")

// DefaultSlotDuration is the length of a lecture slot, assumed when a source
// omits the end time.
const DefaultSlotDuration = 90 * time.Minute

// Date-time layouts, tried in order.
var (
	utcLayouts   = []string{"20060102T150405Z", "20060102T1504Z"}
	localLayouts = []string{"20060102T150405", "20060102T1504"}
)

const dateLayout = "20060102"

// Normalizer converts raw records using the institution's time zone for
// floating timestamps and unknown TZIDs.
type Normalizer struct {
	Location     *time.Location
	SlotDuration time.Duration

	zonesMu sync.Mutex
	zones   map[string]*time.Location
}

// New returns a Normalizer. A nil location means UTC; a non-positive slot
// means DefaultSlotDuration.
func New(loc *time.Location, slot time.Duration) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if slot <= 0 {
		slot = DefaultSlotDuration
	}
	return &Normalizer{Location: loc, SlotDuration: slot}
}

// FromEvent converts a single VEVENT.
func (n *Normalizer) FromEvent(ev ics.RawEvent) (model.TimetableEntry, error) {
	var out model.TimetableEntry

	out.Title = CleanText(ev.Value(ics.PropertySummary))
	if out.Title == "" {
		return out, malformed(ev.Line, "missing title")
	}

	startProp, ok := ev.Get(ics.PropertyDtStart)
	if !ok {
		return out, malformed(ev.Line, "missing DTSTART")
	}
	start, allDay, err := n.ParseDateTime(startProp)
	if err != nil {
		return out, wrapLine(ev.Line, err)
	}

	var end time.Time
	if endProp, ok := ev.Get(ics.PropertyDtEnd); ok && strings.TrimSpace(endProp.Value) != "" {
		end, _, err = n.ParseDateTime(endProp)
		if err != nil {
			return out, wrapLine(ev.Line, err)
		}
	} else if durProp, ok := ev.Get("DURATION"); ok {
		d, err := ParseDuration(durProp.Value)
		if err != nil {
			return out, wrapLine(ev.Line, err)
		}
		end = start.Add(d)
	} else if allDay {
		end = start.AddDate(0, 0, 1)
	} else {
		end = start.Add(n.SlotDuration)
	}

	if !end.After(start) {
		return out, malformed(ev.Line, fmt.Sprintf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}

	out.Start = start.In(n.Location)
	out.End = end.In(n.Location)
	out.AllDay = allDay
	out.Location = CleanText(ev.Value(ics.PropertyLocation))
	out.Description = CleanText(ev.Value(ics.PropertyDescription))

	if rule := strings.TrimSpace(ev.Value(ics.PropertyRRule)); rule != "" {
		out.RRule = rule
		out.Recurrence = model.RecurrenceFromRule(rule)
	}

	for _, p := range ev.ExDates {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := n.ParseDateTime(ics.Property{Name: p.Name, Params: p.Params, Value: part})
			if err != nil {
				appLog.Debug("ignoring unparseable EXDATE", "line", ev.Line, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t.In(n.Location))
		}
	}

	return out, nil
}

// ParseDateTime parses a DTSTART/DTEND style property. Formats are tried in
// priority order: UTC, local time with TZID, floating local time, and
// finally a bare date, which reports allDay.
func (n *Normalizer) ParseDateTime(p ics.Property) (t time.Time, allDay bool, err error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty %s", ErrMalformedEntry, p.Name)
	}

	if strings.HasSuffix(v, "Z") {
		for _, layout := range utcLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, false, nil
			}
		}
	}

	loc := n.Location
	if tzid := p.TZID(); tzid != "" {
		loc = n.zone(tzid)
	}

	if !p.IsDate() {
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return t, false, nil
			}
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, false, nil
		}
	}

	if t, err := time.ParseInLocation(dateLayout, v, loc); err == nil {
		return t, true, nil
	}

	return time.Time{}, false, fmt.Errorf("%w: unparseable %s %q", ErrMalformedEntry, p.Name, v)
}

// zone resolves a TZID, falling back to the institution's zone for names
// the tz database does not know (e.g. Windows zone names).
func (n *Normalizer) zone(tzid string) *time.Location {
	n.zonesMu.Lock()
	defer n.zonesMu.Unlock()

	if loc, ok := n.zones[tzid]; ok {
		return loc
	}
	if n.zones == nil {
		n.zones = make(map[string]*time.Location)
	}

	loc, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Debug("unknown TZID, using institutional time zone", "tzid", tzid, "fallback", n.Location.String())
		loc = n.Location
	}
	n.zones[tzid] = loc
	return loc
}

// CleanText decodes HTML entities and collapses all runs of whitespace
// (including non-breaking spaces) into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func malformed(line int, msg string) error {
	return wrapLine(line, fmt.Errorf("%w: %s", ErrMalformedEntry, msg))
}

func wrapLine(line int, err error) error {
	if line <= 0 {
		return err
	}
	return fmt.Errorf("record at line %d: %w", line, err)
}
