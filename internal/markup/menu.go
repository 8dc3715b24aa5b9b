package markup

import (
	"net/url"
	"strings"
)

var timetableKeywords = []string{"stundenplan", "timetable"}

// FindTimetableLink picks the menu link that leads to the personal
// timetable. Links carrying the timetable's web-flow id win over links to
// an individualTimetable page, which win over links merely labelled
// "Stundenplan" or "timetable". The first link of the best kind is returned.
func FindTimetableLink(d *Document, flowID string) (*url.URL, bool) {
	flowParam := ""
	if flowID != "" {
		flowParam = "_flowid=" + strings.ToLower(flowID)
	}

	var (
		best      *url.URL
		bestScore int
	)
	anchors, _ := d.Select("a[href]")
	for _, a := range anchors {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			continue
		}
		hrefLower := strings.ToLower(href)
		textLower := strings.ToLower(collapse(a.Text()))

		score := 0
		switch {
		case flowParam != "" && strings.Contains(hrefLower, flowParam):
			score = 3
		case strings.Contains(hrefLower, "individualtimetable"):
			score = 2
		case containsAny(textLower, timetableKeywords):
			score = 1
		}
		if score <= bestScore {
			continue
		}
		if u, ok := Resolve(d.URL(), href); ok {
			best, bestScore = u, score
		}
	}
	return best, best != nil
}

// FlowKeyFromURL returns the flow execution key carried in the query of u.
func FlowKeyFromURL(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	key := strings.TrimSpace(u.Query().Get(FlowKeyParam))
	return key, key != ""
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
