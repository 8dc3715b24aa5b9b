package portal

import (
	"strings"

	"urconnect/internal/model"
)

const noEntries = "No timetable entries found."

// FormatEntries renders one line per entry in the given order:
//
//	2024-01-15 09:00 - 10:30 Algorithms @ H 24 • Weekly
//
// All-day entries omit the time range; location and recurrence are omitted
// when absent.
func FormatEntries(entries []model.TimetableEntry) string {
	if len(entries) == 0 {
		return noEntries
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatEntry(e))
	}
	return strings.Join(lines, "\n")
}

func formatEntry(e model.TimetableEntry) string {
	var b strings.Builder
	b.WriteString(e.Start.Format("2006-01-02"))
	if !e.AllDay {
		b.WriteString(" ")
		b.WriteString(e.Start.Format("15:04"))
		b.WriteString(" - ")
		b.WriteString(e.End.Format("15:04"))
	}
	b.WriteString(" ")
	b.WriteString(e.Title)
	if e.Location != "" {
		b.WriteString(" @ ")
		b.WriteString(e.Location)
	}
	if e.Recurrence != nil {
		b.WriteString(" • ")
		b.WriteString(e.Recurrence.String())
	}
	return b.String()
}
