package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urconnect/internal/ics"
	"urconnect/internal/model"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func parseEvents(t *testing.T, input string) []ics.RawEvent {
	t.Helper()
	events, _, err := ics.ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	return events
}

func TestFromEventUTC(t *testing.T) {
	n := New(berlin(t), 0)
	events := parseEvents(t, "BEGIN:VEVENT\nSUMMARY:Algorithms\nDTSTART:20240115T090000Z\nDTEND:20240115T103000Z\nEND:VEVENT")

	e, err := n.FromEvent(events[0])
	require.NoError(t, err)
	require.Equal(t, "Algorithms", e.Title)
	require.True(t, e.Start.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))
	require.True(t, e.End.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.Equal(t, "Europe/Berlin", e.Start.Location().String())
	require.False(t, e.AllDay)
	require.Nil(t, e.Recurrence)
}

func TestParseDateTimePriority(t *testing.T) {
	loc := berlin(t)
	n := New(loc, 0)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name   string
		prop   ics.Property
		want   time.Time
		allDay bool
	}{
		{"utc", ics.Property{Name: "DTSTART", Value: "20240115T090000Z"}, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), false},
		{"utc without seconds", ics.Property{Name: "DTSTART", Value: "20240115T0900Z"}, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), false},
		{"tzid", ics.Property{Name: "DTSTART", Params: map[string]string{"TZID": "America/New_York"}, Value: "20240115T090000"}, time.Date(2024, 1, 15, 9, 0, 0, 0, ny), false},
		{"unknown tzid", ics.Property{Name: "DTSTART", Params: map[string]string{"TZID": "W. Europe Standard Time"}, Value: "20240115T090000"}, time.Date(2024, 1, 15, 9, 0, 0, 0, loc), false},
		{"floating", ics.Property{Name: "DTSTART", Value: "20240701T081500"}, time.Date(2024, 7, 1, 8, 15, 0, 0, loc), false},
		{"date", ics.Property{Name: "DTSTART", Params: map[string]string{"VALUE": "DATE"}, Value: "20240115"}, time.Date(2024, 1, 15, 0, 0, 0, 0, loc), true},
		{"rfc3339", ics.Property{Name: "DTSTART", Value: "2024-01-15T09:00:00+01:00"}, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, allDay, err := n.ParseDateTime(tt.prop)
			require.NoError(t, err)
			require.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			require.Equal(t, tt.allDay, allDay)
		})
	}

	for _, bad := range []string{"", "tomorrow", "20241301T090000Z", "2024011"} {
		_, _, err := n.ParseDateTime(ics.Property{Name: "DTSTART", Value: bad})
		require.ErrorIs(t, err, ErrMalformedEntry, bad)
	}
}

func TestFromEventDefaults(t *testing.T) {
	n := New(berlin(t), 90*time.Minute)
	events := parseEvents(t, strings.Join([]string{
		"BEGIN:VEVENT",
		"SUMMARY:No end",
		"DTSTART:20240115T090000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:With duration",
		"DTSTART:20240115T090000Z",
		"DURATION:PT45M",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20240115",
		"END:VEVENT",
	}, "\n"))
	require.Len(t, events, 3)

	e, err := n.FromEvent(events[0])
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, e.Duration())

	e, err = n.FromEvent(events[1])
	require.NoError(t, err)
	require.Equal(t, 45*time.Minute, e.Duration())

	e, err = n.FromEvent(events[2])
	require.NoError(t, err)
	require.True(t, e.AllDay)
	require.Equal(t, 24*time.Hour, e.Duration())
}

func TestFromEventMalformed(t *testing.T) {
	n := New(time.UTC, 0)
	tests := []struct {
		name  string
		props map[string]ics.Property
		want  string
	}{
		{"blank title", map[string]ics.Property{
			"SUMMARY": {Name: "SUMMARY", Value: "  &nbsp; "},
			"DTSTART": {Name: "DTSTART", Value: "20240115T090000Z"},
		}, "missing title"},
		{"missing start", map[string]ics.Property{
			"SUMMARY": {Name: "SUMMARY", Value: "X"},
		}, "missing DTSTART"},
		{"bad start", map[string]ics.Property{
			"SUMMARY": {Name: "SUMMARY", Value: "X"},
			"DTSTART": {Name: "DTSTART", Value: "soon"},
		}, "unparseable DTSTART"},
		{"bad end", map[string]ics.Property{
			"SUMMARY": {Name: "SUMMARY", Value: "X"},
			"DTSTART": {Name: "DTSTART", Value: "20240115T090000Z"},
			"DTEND":   {Name: "DTEND", Value: "later"},
		}, "unparseable DTEND"},
		{"end before start", map[string]ics.Property{
			"SUMMARY": {Name: "SUMMARY", Value: "X"},
			"DTSTART": {Name: "DTSTART", Value: "20240115T090000Z"},
			"DTEND":   {Name: "DTEND", Value: "20240115T080000Z"},
		}, "is not after start"},
		{"bad duration", map[string]ics.Property{
			"SUMMARY":  {Name: "SUMMARY", Value: "X"},
			"DTSTART":  {Name: "DTSTART", Value: "20240115T090000Z"},
			"DURATION": {Name: "DURATION", Value: "1 hour"},
		}, "invalid DURATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.FromEvent(ics.RawEvent{Line: 7, Props: tt.props})
			require.ErrorIs(t, err, ErrMalformedEntry)
			require.Contains(t, err.Error(), tt.want)
			require.Contains(t, err.Error(), "line 7")
		})
	}
}

func TestFromEventTextIsDecodedAndCollapsed(t *testing.T) {
	n := New(time.UTC, 0)
	events := parseEvents(t, strings.Join([]string{
		"BEGIN:VEVENT",
		"SUMMARY:  Algorithms &amp;   Data\\nStructures ",
		"LOCATION:H&nbsp;24\\, Building &quot;Central&quot;",
		"DESCRIPTION:Bring\\n\\n  your notes &lt;3",
		"DTSTART:20240115T090000Z",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"EXDATE:20240122T090000Z,20240129T090000Z",
		"EXDATE:garbage",
		"END:VEVENT",
	}, "\n"))

	e, err := n.FromEvent(events[0])
	require.NoError(t, err)
	require.Equal(t, "Algorithms & Data Structures", e.Title)
	require.Equal(t, `H 24, Building "Central"`, e.Location)
	require.Equal(t, "Bring your notes <3", e.Description)
	require.Equal(t, &model.Recurrence{Kind: model.Weekly}, e.Recurrence)
	require.Equal(t, "FREQ=WEEKLY;BYDAY=MO", e.RRule)
	require.Len(t, e.ExDates, 2)
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b c", CleanText(" a\t\n b  c "))
	require.Equal(t, "Tom & Jerry", CleanText("Tom &amp; Jerry"))
	require.Equal(t, "", CleanText(" \n "))
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"PT1H30M": 90 * time.Minute,
		"P1D":     24 * time.Hour,
		"P2W":     14 * 24 * time.Hour,
		"P1DT2H":  26 * time.Hour,
		"+PT15S":  15 * time.Second,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "P", "PT", "-PT1H", "PT1D", "P1H", "PTH", "P1", "PT1H2"} {
		_, err := ParseDuration(bad)
		require.ErrorIs(t, err, ErrMalformedEntry, bad)
	}
}
