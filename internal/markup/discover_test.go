package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsCalendarHint(t *testing.T) {
	require.True(t, ContainsCalendarHint("individualTimetableCalendarExport"))
	require.True(t, ContainsCalendarHint("schedule.ics"))
	require.True(t, ContainsCalendarHint("webcal iCal link"))
	require.False(t, ContainsCalendarHint("/qisserver/pages/start.faces"))
}

func TestDiscoverCalendarURL(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "textarea with export link",
			html: `<textarea id="form:cal_add">https://portal.example.edu/qisserver/pages/cm/exa/timetable/individualTimetableCalendarExport.faces?user=abc&amp;hash=1</textarea>`,
			want: "https://portal.example.edu/qisserver/pages/cm/exa/timetable/individualTimetableCalendarExport.faces?user=abc&hash=1",
		},
		{
			name: "input value",
			html: `<input type="text" readonly value="/export/calendar.ics?t=9">`,
			want: "https://portal.example.edu/export/calendar.ics?t=9",
		},
		{
			name: "anchor href",
			html: `<a href="/start">Start</a><a href="feeds/me.ics">Subscribe</a>`,
			want: "https://portal.example.edu/qisserver/pages/feeds/me.ics",
		},
		{
			name: "raw markup fallback",
			html: `<script>var link = "https://portal.example.edu/ical/feed?id=7";</script>`,
			want: "https://portal.example.edu/ical/feed?id=7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.html)
			u, ok := DiscoverCalendarURL(doc)
			require.True(t, ok)
			require.Equal(t, tt.want, u.String())
		})
	}
}

func TestDiscoverCalendarURLMissing(t *testing.T) {
	doc := mustParse(t, `<textarea>Add to calendar</textarea><a href="/home">Home</a>`)
	_, ok := DiscoverCalendarURL(doc)
	require.False(t, ok)
}
