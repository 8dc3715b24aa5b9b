package model

import (
	"sort"
	"strings"
	"time"
)

// TimetableEntry is a single normalized schedule item, regardless of whether
// it was read from the HTML listing or from the ICS feed.
//
// Entries are values: the normalizer creates them and nothing mutates them
// afterwards.
type TimetableEntry struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string

	// AllDay is set for date-only calendar events.
	AllDay bool

	// Recurrence is the coarse frequency of a recurring event, nil otherwise.
	Recurrence *Recurrence
	// RRule keeps the raw rule so that occurrences can be expanded later.
	RRule string
	// ExDates are the excluded instance starts of a recurring event.
	ExDates []time.Time
}

// Key identifies an entry for deduplication: two entries with the same
// title, start and end describe the same physical event.
type Key struct {
	Title string
	Start int64
	End   int64
}

func (e TimetableEntry) Key() Key {
	return Key{Title: e.Title, Start: e.Start.UnixNano(), End: e.End.UnixNano()}
}

// Duration is End - Start.
func (e TimetableEntry) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Less orders entries by start instant, then by title.
func Less(a, b TimetableEntry) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Title < b.Title
}

// Sort orders entries in place by start instant, then by title.
func Sort(entries []TimetableEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
}

// RecurrenceKind enumerates the frequencies an RRULE FREQ can take.
type RecurrenceKind string

const (
	Daily   RecurrenceKind = "Daily"
	Weekly  RecurrenceKind = "Weekly"
	Monthly RecurrenceKind = "Monthly"
	Yearly  RecurrenceKind = "Yearly"
	Custom  RecurrenceKind = "Custom"
)

// Recurrence describes how often an entry repeats.
type Recurrence struct {
	Kind RecurrenceKind
	// Value holds the raw FREQ for Custom recurrences (e.g. "HOURLY").
	Value string
}

// RecurrenceFromFreq maps an RRULE FREQ value to a Recurrence. Empty input
// yields nil.
func RecurrenceFromFreq(freq string) *Recurrence {
	freq = strings.ToUpper(strings.TrimSpace(freq))
	switch freq {
	case "":
		return nil
	case "DAILY":
		return &Recurrence{Kind: Daily}
	case "WEEKLY":
		return &Recurrence{Kind: Weekly}
	case "MONTHLY":
		return &Recurrence{Kind: Monthly}
	case "YEARLY":
		return &Recurrence{Kind: Yearly}
	default:
		return &Recurrence{Kind: Custom, Value: freq}
	}
}

// RecurrenceFromRule extracts the FREQ part of a raw RRULE value.
func RecurrenceFromRule(rule string) *Recurrence {
	for _, part := range strings.Split(rule, ";") {
		key, value, _ := strings.Cut(part, "=")
		if strings.EqualFold(strings.TrimSpace(key), "FREQ") {
			return RecurrenceFromFreq(value)
		}
	}
	return nil
}

func (r Recurrence) String() string {
	if r.Kind == Custom {
		return r.Value
	}
	return string(r.Kind)
}
