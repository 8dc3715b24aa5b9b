package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/require"
)

func TestEventsBasic(t *testing.T) {
	input := "BEGIN:VEVENT\nSUMMARY:Algorithms\nDTSTART:20240115T090000Z\nDTEND:20240115T103000Z\nEND:VEVENT"

	events, problems, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, problems)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, 1, ev.Line)
	require.Equal(t, "Algorithms", ev.Value(PropertySummary))
	require.Equal(t, "20240115T090000Z", ev.Value("dtstart"))
	require.Equal(t, "20240115T103000Z", ev.Value(PropertyDtEnd))
	_, ok := ev.Get(PropertyLocation)
	require.False(t, ok)
}

func TestEventsUnfoldsContinuationLines(t *testing.T) {
	unfolded := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nSUMMARY:Introduction to Theoretical Computer Science\r\nDTSTART:20240115T090000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	folded := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nSUMMARY:Introduction to Theo\r\n retical Computer\r\n\t Science\r\nDTSTART:20240115T090000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	want, _, err := ParseAll(strings.NewReader(unfolded))
	require.NoError(t, err)
	got, _, err := ParseAll(strings.NewReader(folded))
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Equal(t, want[0].Value(PropertySummary), got[0].Value(PropertySummary))
	require.Equal(t, "Introduction to Theoretical Computer Science", got[0].Value(PropertySummary))
}

func TestEventsUnfoldsParameters(t *testing.T) {
	input := "BEGIN:VEVENT\nSUMMARY:Lab\nDTSTART;TZID=Europe/\n Berlin:20241001T080000\nEND:VEVENT\n"
	events, _, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)

	p, ok := events[0].Get(PropertyDtStart)
	require.True(t, ok)
	require.Equal(t, "Europe/Berlin", p.TZID())
	require.Equal(t, "20241001T080000", p.Value)
}

func TestEventsUnescapesText(t *testing.T) {
	input := strings.Join([]string{
		"BEGIN:VEVENT",
		`SUMMARY:Seminar\, Part 1\; Intro`,
		`DESCRIPTION:Line one\nLine two\NLine three with \\backslash`,
		`LOCATION:Room 1\,2`,
		"DTSTART:20240115T090000Z",
		"END:VEVENT",
	}, "\n")

	events, _, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Seminar, Part 1; Intro", events[0].Value(PropertySummary))
	require.Equal(t, "Line one\nLine two\nLine three with \\backslash", events[0].Value(PropertyDescription))
	require.Equal(t, "Room 1,2", events[0].Value(PropertyLocation))
}

func TestEventsQuotedParameters(t *testing.T) {
	input := "BEGIN:VEVENT\nSUMMARY;LANGUAGE=de:Vorlesung\nLOCATION;ALTREP=\"http://example.edu/map;room=1\":H 24\nDTSTART;VALUE=DATE:20240115\nEND:VEVENT\n"
	events, _, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)

	loc, _ := events[0].Get(PropertyLocation)
	require.Equal(t, "H 24", loc.Value)
	require.Equal(t, "http://example.edu/map;room=1", loc.Param("altrep"))

	start, _ := events[0].Get(PropertyDtStart)
	require.True(t, start.IsDate())
	require.Equal(t, "", start.TZID())

	summary, _ := events[0].Get(PropertySummary)
	require.Equal(t, "de", summary.Param("LANGUAGE"))
}

func TestEventsSkipsBlockMissingRequiredProperty(t *testing.T) {
	input := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"SUMMARY:Algorithms",
		"DTSTART:20240115T090000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART:20240116T090000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Databases",
		"DTSTART:20240117T090000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	events, problems, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "Databases", events[1].Value(PropertySummary))
	require.Len(t, problems, 2)

	var be *BlockError
	require.True(t, errors.As(problems[0], &be))
	require.Equal(t, 6, be.Line)
	require.ErrorIs(t, problems[0], ErrMalformedCalendar)
	require.Contains(t, problems[0].Error(), "missing DTSTART")
	require.Contains(t, problems[1].Error(), "missing SUMMARY")
}

func TestEventsStructuralErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		keep  int
	}{
		{
			name:  "unclosed",
			input: "BEGIN:VEVENT\nSUMMARY:A\nDTSTART:20240115T090000Z\nEND:VEVENT\nBEGIN:VEVENT\nSUMMARY:B\nDTSTART:20240115T090000Z\n",
			keep:  1,
		},
		{
			name:  "nested",
			input: "BEGIN:VEVENT\nSUMMARY:A\nBEGIN:VEVENT\nEND:VEVENT\nEND:VEVENT\n",
		},
		{
			name:  "end without begin",
			input: "BEGIN:VCALENDAR\nEND:VEVENT\nEND:VCALENDAR\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, _, err := ParseAll(strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrMalformedCalendar)
			var be *BlockError
			require.False(t, errors.As(err, &be))
			require.Len(t, events, tt.keep)
		})
	}
}

func TestEventsIgnoresNestedComponents(t *testing.T) {
	input := strings.Join([]string{
		"BEGIN:VEVENT",
		"SUMMARY:Exam",
		"DTSTART:20240115T090000Z",
		"BEGIN:VALARM",
		"DESCRIPTION:Reminder",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"DESCRIPTION:Bring ID",
		"EXDATE:20240122T090000Z",
		"EXDATE:20240129T090000Z,20240205T090000Z",
		"SUMMARY:Ignored duplicate",
		"END:VEVENT",
	}, "\n")

	events, _, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Bring ID", events[0].Value(PropertyDescription))
	require.Equal(t, "Exam", events[0].Value(PropertySummary))
	require.Empty(t, events[0].Value("TRIGGER"))
	require.Len(t, events[0].ExDates, 2)
}

func TestEventsIsLazyAndSinglePass(t *testing.T) {
	input := "BEGIN:VEVENT\nSUMMARY:A\nDTSTART:20240115T090000Z\nEND:VEVENT\nBEGIN:VEVENT\nSUMMARY:B\nDTSTART:20240115T090000Z\nEND:VEVENT\n"
	seq := Events(strings.NewReader(input))

	var seen []string
	for ev, err := range seq {
		require.NoError(t, err)
		seen = append(seen, ev.Value(PropertySummary))
		break
	}
	require.Equal(t, []string{"A"}, seen)

	// the underlying reader is drained; the sequence cannot be restarted
	count := 0
	for range seq {
		count++
	}
	require.Zero(t, count)
}

func TestEventsGeneratedCalendarRoundTrip(t *testing.T) {
	title := "Advanced Topics in Distributed Systems, Consensus; Replication and Fault Tolerance (Lecture + Exercise)"
	start := time.Date(2024, 4, 16, 8, 15, 0, 0, time.UTC)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	ev := cal.AddEvent("rt-1@example.edu")
	ev.SetSummary(title)
	ev.SetLocation("Building A, Room 101")
	ev.SetStartAt(start)
	ev.SetEndAt(start.Add(90 * time.Minute))

	events, problems, err := ParseAll(strings.NewReader(cal.Serialize()))
	require.NoError(t, err)
	require.Empty(t, problems)
	require.Len(t, events, 1)
	require.Equal(t, title, events[0].Value(PropertySummary))
	require.Equal(t, "Building A, Room 101", events[0].Value(PropertyLocation))
	require.Equal(t, "20240416T081500Z", events[0].Value(PropertyDtStart))
}

func TestEventsFoldedEscapedSummaryAndQuotedTZID(t *testing.T) {
	input := "\ufeffBEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nSUMMARY:Algo\r\n rithms\\, I\r\nDTSTART;TZID=\"Europe/Berlin\":20240115T090000\r\nEND:VEVENT\r\nEND:VCALENDAR"

	events, problems, err := ParseAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, problems)
	require.Len(t, events, 1)
	require.Equal(t, 2, events[0].Line)
	require.Equal(t, "Algorithms, I", events[0].Value(PropertySummary))

	start, ok := events[0].Get(PropertyDtStart)
	require.True(t, ok)
	require.Equal(t, "Europe/Berlin", start.TZID())
	require.Equal(t, "20240115T090000", start.Value)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestEventsReadErrorIsFatal(t *testing.T) {
	events, problems, err := ParseAll(failingReader{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.Empty(t, events)
	require.Empty(t, problems)
}

func TestParseLine(t *testing.T) {
	p, ok := parseLine(`dtstart;tzid="America/New_York":20240101T090000`, false)
	require.True(t, ok)
	require.Equal(t, "DTSTART", p.Name)
	require.Equal(t, "America/New_York", p.TZID())
	require.Equal(t, "20240101T090000", p.Value)

	p, ok = parseLine(`CATEGORIES;X-TAGS=a,b:Lecture`, false)
	require.True(t, ok)
	require.Equal(t, "a,b", p.Param("x-tags"))

	for _, bad := range []string{"garbage without separator", `X;P="unterminated:value`, ":value", "   "} {
		_, ok = parseLine(ical.ContentLine(bad), false)
		require.False(t, ok, bad)
	}
}
