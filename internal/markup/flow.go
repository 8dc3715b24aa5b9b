package markup

import (
	"net/url"
	"regexp"
	"strings"
)

// FlowKeyParam is the query parameter that carries a web-flow execution key.
const FlowKeyParam = "_flowExecutionKey"

var flowKeyRegex = regexp.MustCompile(FlowKeyParam + `=([A-Za-z0-9]+)`)

// FlowExecutionKey finds the execution key of a multi-page web flow: from a
// hidden input, a link, a meta refresh or finally anywhere in the markup.
func FlowExecutionKey(d *Document) (string, bool) {
	for _, selector := range []string{"input[name='" + FlowKeyParam + "']", "input#" + FlowKeyParam} {
		els, _ := d.Select(selector)
		for _, el := range els {
			if v := strings.TrimSpace(el.AttrOr("value", "")); v != "" {
				return v, true
			}
		}
	}

	links, _ := d.Select("a[href*='" + FlowKeyParam + "=']")
	for _, a := range links {
		if key, ok := flowKeyFrom(a.AttrOr("href", "")); ok {
			return key, true
		}
	}

	metas, _ := d.Select("meta[http-equiv]")
	for _, m := range metas {
		if !strings.EqualFold(m.AttrOr("http-equiv", ""), "refresh") {
			continue
		}
		content := m.AttrOr("content", "")
		if i := strings.Index(strings.ToLower(content), "url="); i >= 0 {
			if key, ok := flowKeyFrom(content[i+len("url="):]); ok {
				return key, true
			}
		}
	}

	if m := flowKeyRegex.FindStringSubmatch(d.Raw()); m != nil {
		return m[1], true
	}
	return "", false
}

func flowKeyFrom(s string) (string, bool) {
	if u, err := url.Parse(strings.TrimSpace(s)); err == nil {
		if v := u.Query().Get(FlowKeyParam); v != "" {
			return v, true
		}
	}
	if m := flowKeyRegex.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}
