package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"urconnect/internal/markup"
	"urconnect/internal/model"
)

// Columns maps timetable fields to cell indexes of an HTML row. A negative
// index means the listing has no such column.
type Columns struct {
	Date     int
	Time     int
	Title    int
	Location int
	Note     int
}

// DefaultColumns is the layout "date | time | title | location | note".
var DefaultColumns = Columns{Date: 0, Time: 1, Title: 2, Location: 3, Note: 4}

var (
	isoDateRegex    = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	dottedDateRegex = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4}|\d{2})\b`)
	timeRangeRegex  = regexp.MustCompile(`(\d{1,2})[:.](\d{2})(?:\s*(?:-|–|—|bis|to)\s*(\d{1,2})[:.](\d{2}))?`)
)

// FromRow converts a single HTML timetable row. The date is taken from the
// date column, then from the time column, then from the row's day header.
// A row without any time becomes an all-day entry.
func (n *Normalizer) FromRow(row markup.Row, cols Columns) (model.TimetableEntry, error) {
	var out model.TimetableEntry

	out.Title = CleanText(row.Cell(cols.Title))
	if out.Title == "" {
		return out, rowMalformed(row, "missing title")
	}

	timeText := CleanText(row.Cell(cols.Time))

	y, m, d, ok := findDate(CleanText(row.Cell(cols.Date)))
	if !ok {
		y, m, d, ok = findDate(timeText)
	}
	if !ok {
		y, m, d, ok = findDate(CleanText(row.DateHint))
	}
	if !ok {
		return out, rowMalformed(row, "no date in row or day header")
	}
	day := time.Date(y, time.Month(m), d, 0, 0, 0, 0, n.Location)
	if day.Day() != d || int(day.Month()) != m {
		return out, rowMalformed(row, fmt.Sprintf("invalid date %04d-%02d-%02d", y, m, d))
	}

	// Strip the date so its digits are not mistaken for a time.
	timeText = dottedDateRegex.ReplaceAllString(isoDateRegex.ReplaceAllString(timeText, ""), "")

	switch match := timeRangeRegex.FindStringSubmatch(timeText); {
	case strings.TrimSpace(timeText) == "":
		out.Start = day
		out.End = day.AddDate(0, 0, 1)
		out.AllDay = true
	case match == nil:
		return out, rowMalformed(row, fmt.Sprintf("unparseable time %q", timeText))
	default:
		start, err := clock(day, match[1], match[2])
		if err != nil {
			return out, rowMalformed(row, err.Error())
		}
		end := start.Add(n.SlotDuration)
		if match[3] != "" {
			if end, err = clock(day, match[3], match[4]); err != nil {
				return out, rowMalformed(row, err.Error())
			}
		}
		if !end.After(start) {
			return out, rowMalformed(row, fmt.Sprintf("end %s is not after start %s", end.Format("15:04"), start.Format("15:04")))
		}
		out.Start = start
		out.End = end
	}

	out.Location = CleanText(row.Cell(cols.Location))
	out.Description = CleanText(row.Cell(cols.Note))
	return out, nil
}

func findDate(s string) (y, m, d int, ok bool) {
	if match := isoDateRegex.FindStringSubmatch(s); match != nil {
		y, _ = strconv.Atoi(match[1])
		m, _ = strconv.Atoi(match[2])
		d, _ = strconv.Atoi(match[3])
		return y, m, d, true
	}
	if match := dottedDateRegex.FindStringSubmatch(s); match != nil {
		d, _ = strconv.Atoi(match[1])
		m, _ = strconv.Atoi(match[2])
		y, _ = strconv.Atoi(match[3])
		if len(match[3]) == 2 {
			y += 2000
		}
		return y, m, d, true
	}
	return 0, 0, 0, false
}

func clock(day time.Time, hh, mm string) (time.Time, error) {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 23 || m > 59 {
		return time.Time{}, fmt.Errorf("invalid time %s:%s", hh, mm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

func rowMalformed(row markup.Row, msg string) error {
	return fmt.Errorf("row %d: %w: %s", row.Index, ErrMalformedEntry, msg)
}
