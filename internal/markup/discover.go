package markup

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var absoluteURLRegex = regexp.MustCompile(`https?://[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+`)

var calendarHints = []string{
	"calendarexport",
	"timetablecalendar",
	"calendar",
	".ics",
	"ical",
}

// ContainsCalendarHint reports whether value looks like it refers to a
// calendar export.
func ContainsCalendarHint(value string) bool {
	lower := strings.ToLower(value)
	for _, h := range calendarHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// DiscoverCalendarURL looks for the ICS export link on a timetable page.
//
// Portals tend to expose the subscription link in a read-only textarea or
// input ("copy this link into your calendar"), sometimes as a plain anchor.
// Candidates are tried in that order; as a last resort every absolute URL in
// the raw markup is considered.
func DiscoverCalendarURL(d *Document) (*url.URL, bool) {
	base := d.URL()

	fieldSelectors := []string{
		"textarea[id*='cal_add']",
		"textarea[id*='ical']",
		"textarea[id*='calendar']",
		"textarea[data-page-permalink]",
		"textarea[data-url]",
		"textarea",
		"input",
	}
	fieldAttrs := []string{"data-page-permalink", "data-url", "value"}

	for _, selector := range fieldSelectors {
		els, _ := d.Select(selector)
		for _, el := range els {
			values := append([]string{collapse(el.Text())}, attrValues(el, fieldAttrs)...)
			if u, ok := firstCalendarURL(values, base); ok {
				return u, true
			}
		}
	}

	anchors, _ := d.Select("a[href]")
	for _, a := range anchors {
		values := append(attrValues(a, []string{"href"}), collapse(a.Text()))
		if u, ok := firstCalendarURL(values, base); ok {
			return u, true
		}
	}

	for _, m := range absoluteURLRegex.FindAllString(d.Raw(), -1) {
		candidate := strings.TrimSpace(html.UnescapeString(m))
		if !ContainsCalendarHint(candidate) {
			continue
		}
		if u, ok := Resolve(base, candidate); ok {
			return u, true
		}
	}

	return nil, false
}

func attrValues(el Element, names []string) []string {
	var out []string
	for _, name := range names {
		v, err := el.Attr(name)
		if err != nil {
			continue
		}
		if v = strings.TrimSpace(html.UnescapeString(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstCalendarURL(values []string, base *url.URL) (*url.URL, bool) {
	for _, v := range values {
		if v == "" || strings.ContainsAny(v, " \t\n") || !ContainsCalendarHint(v) {
			continue
		}
		if u, ok := Resolve(base, v); ok {
			return u, true
		}
	}
	return nil, false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
