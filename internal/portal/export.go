package portal

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"urconnect/internal/model"
)

const productID = "-//urconnect//timetable//EN"

// ExportICS serializes entries as a VCALENDAR. UIDs are derived from
// title, start and end so that re-exports of the same timetable keep them.
func (c *Client) ExportICS(entries []model.TimetableEntry) (string, error) {
	return ExportICS(entries, c.now())
}

// ExportICS serializes entries with DTSTAMP set to stamp.
func ExportICS(entries []model.TimetableEntry, stamp time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for i, e := range entries {
		if e.Title == "" || !e.End.After(e.Start) {
			return "", fmt.Errorf("export: entry %d (%q) has no title or no positive duration", i, e.Title)
		}
		ev := cal.AddEvent(EntryUID(e))
		ev.SetDtStampTime(stamp)
		ev.SetSummary(e.Title)
		if e.AllDay {
			ev.SetAllDayStartAt(e.Start)
			ev.SetAllDayEndAt(e.End)
		} else {
			ev.SetStartAt(e.Start)
			ev.SetEndAt(e.End)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.RRule != "" {
			ev.AddRrule(e.RRule)
			for _, ex := range e.ExDates {
				ev.AddExdate(ex.UTC().Format("20060102T150405Z"))
			}
		}
	}
	return cal.Serialize(), nil
}

// EntryUID is the stable identifier of an entry in exports.
func EntryUID(e model.TimetableEntry) string {
	name := e.Title + "\x00" + strconv.FormatInt(e.Start.Unix(), 10) + "\x00" + strconv.FormatInt(e.End.Unix(), 10)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + "@urconnect"
}
