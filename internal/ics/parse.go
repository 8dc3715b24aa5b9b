package ics

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ErrMalformedCalendar marks structurally broken calendar input.
var ErrMalformedCalendar = errors.New("ics: malformed calendar")

// BlockError reports a single VEVENT that cannot be used. Iteration goes on
// after a BlockError; every other error ends it.
type BlockError struct {
	// Line is the content line of the BEGIN:VEVENT that opened the block.
	Line int
	Err  error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("VEVENT at line %d: %v", e.Line, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// Property is one content line of a VEVENT, already unfolded and unescaped.
type Property struct {
	Name   string
	Params map[string]string
	Value  string
}

// Param returns the named parameter value, or "".
func (p Property) Param(name string) string {
	return p.Params[strings.ToUpper(name)]
}

// TZID returns the TZID parameter, or "" for UTC and floating values.
func (p Property) TZID() string {
	return p.Param("TZID")
}

// IsDate reports whether the property holds a date without a time.
func (p Property) IsDate() bool {
	if strings.EqualFold(p.Param("VALUE"), "DATE") {
		return true
	}
	v := strings.TrimSpace(p.Value)
	return len(v) == 8 && !strings.ContainsRune(v, 'T')
}

// RawEvent holds the properties of a single VEVENT as found in the feed.
// Values are not interpreted; timezone resolution happens in the normalizer.
type RawEvent struct {
	// Line is the content line of the BEGIN:VEVENT, counted after unfolding.
	Line int
	// Props maps upper-case property names to the first occurrence of the
	// property in the block.
	Props map[string]Property
	// ExDates collects every EXDATE property of the block.
	ExDates []Property
}

// Get returns the named property.
func (e RawEvent) Get(name string) (Property, bool) {
	p, ok := e.Props[strings.ToUpper(name)]
	return p, ok
}

// Value returns the value of the named property, or "".
func (e RawEvent) Value(name string) string {
	p, _ := e.Get(name)
	return p.Value
}

// Properties that every VEVENT must carry to be usable.
var requiredProperties = []string{PropertyDtStart, PropertySummary}

const (
	PropertySummary     = "SUMMARY"
	PropertyDtStart     = "DTSTART"
	PropertyDtEnd       = "DTEND"
	PropertyLocation    = "LOCATION"
	PropertyDescription = "DESCRIPTION"
	PropertyRRule       = "RRULE"
	PropertyExDate      = "EXDATE"
	PropertyUID         = "UID"
)

// Events returns a single-pass sequence over the VEVENT blocks of r.
//
// Continuation lines are unfolded and escaped text is decoded before a
// property is recorded. A block missing DTSTART or SUMMARY is reported as a
// *BlockError and skipped. An unclosed, nested or unopened VEVENT, or a read
// error, is reported once and ends the sequence.
func Events(r io.Reader) iter.Seq2[RawEvent, error] {
	return func(yield func(RawEvent, error) bool) {
		stream := ical.NewCalendarStream(r)

		var cur *RawEvent
		// depth counts components nested inside the current VEVENT (VALARM).
		depth := 0
		n := 0

		for {
			// ReadLine hands back the last line together with io.EOF and
			// a nil line on the call after that.
			cl, err := stream.ReadLine()
			if err != nil && !errors.Is(err, io.EOF) {
				yield(RawEvent{}, fmt.Errorf("ics: read line %d: %w", n+1, err))
				return
			}
			if cl == nil {
				break
			}
			n++

			prop, ok := parseLine(*cl, n == 1)
			if !ok {
				continue
			}
			name, value := prop.Name, prop.Value

			switch {
			case name == "BEGIN" && strings.EqualFold(value, "VEVENT"):
				if cur != nil {
					yield(RawEvent{}, fmt.Errorf("%w: BEGIN:VEVENT at line %d inside VEVENT opened at line %d", ErrMalformedCalendar, n, cur.Line))
					return
				}
				cur = &RawEvent{Line: n, Props: make(map[string]Property)}
				depth = 0

			case name == "BEGIN" && cur != nil:
				depth++

			case name == "END" && strings.EqualFold(value, "VEVENT"):
				if cur == nil {
					yield(RawEvent{}, fmt.Errorf("%w: END:VEVENT at line %d without BEGIN", ErrMalformedCalendar, n))
					return
				}
				if depth > 0 {
					yield(RawEvent{}, fmt.Errorf("%w: END:VEVENT at line %d inside an unclosed sub-component", ErrMalformedCalendar, n))
					return
				}
				ev := *cur
				cur = nil
				if err := validate(ev); err != nil {
					if !yield(RawEvent{}, err) {
						return
					}
					continue
				}
				if !yield(ev, nil) {
					return
				}

			case name == "END" && cur != nil:
				if depth > 0 {
					depth--
				}

			case cur != nil && depth == 0:
				if name == PropertyExDate {
					cur.ExDates = append(cur.ExDates, prop)
				} else if _, exists := cur.Props[name]; !exists {
					cur.Props[name] = prop
				}
			}
		}

		if cur != nil {
			yield(RawEvent{}, fmt.Errorf("%w: VEVENT opened at line %d is never closed", ErrMalformedCalendar, cur.Line))
		}
	}
}

// ParseAll drains Events. Skipped blocks are returned in problems; a fatal
// error is returned together with the events read before it.
func ParseAll(r io.Reader) (events []RawEvent, problems []error, err error) {
	for ev, e := range Events(r) {
		if e != nil {
			var be *BlockError
			if errors.As(e, &be) {
				problems = append(problems, e)
				continue
			}
			return events, problems, e
		}
		events = append(events, ev)
	}
	return events, problems, nil
}

func validate(ev RawEvent) error {
	for _, name := range requiredProperties {
		if _, ok := ev.Props[name]; !ok {
			return &BlockError{Line: ev.Line, Err: fmt.Errorf("%w: missing %s", ErrMalformedCalendar, name)}
		}
	}
	return nil
}

// parseLine turns one unfolded content line into a Property. TEXT values
// come back unescaped from ical.ParseProperty. Lines that are not
// properties are reported as !ok and ignored by the caller.
func parseLine(cl ical.ContentLine, first bool) (Property, bool) {
	if first {
		cl = ical.ContentLine(strings.TrimPrefix(string(cl), "\ufeff"))
	}
	if strings.TrimSpace(string(cl)) == "" || strings.IndexAny(string(cl), ";:") <= 0 {
		return Property{}, false
	}
	bp, err := ical.ParseProperty(cl)
	if err != nil || bp == nil {
		return Property{}, false
	}

	p := Property{Name: strings.ToUpper(bp.IANAToken), Value: bp.Value}
	for k, vs := range bp.ICalParameters {
		if p.Params == nil {
			p.Params = make(map[string]string, len(bp.ICalParameters))
		}
		p.Params[strings.ToUpper(k)] = strings.Join(vs, ",")
	}
	return p, true
}
