// Package markup queries loosely structured portal HTML.
//
// Parsing is lenient (goquery on top of golang.org/x/net/html follows the
// browser recovery rules), so unclosed or misnested tags never fail a parse.
// Selectors are compiled up front so that a typo in a configured selector
// surfaces as ErrInvalidSelector instead of silently matching nothing.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

var (
	// ErrNotFound is returned when exactly one match, or an attribute, was
	// required and nothing was found.
	ErrNotFound = errors.New("markup: not found")
	// ErrAmbiguous is returned when exactly one match was required and
	// several were found.
	ErrAmbiguous = errors.New("markup: ambiguous match")
	// ErrInvalidSelector is returned for selectors that do not compile.
	ErrInvalidSelector = errors.New("markup: invalid selector")
)

// Document is a parsed HTML page together with the URL it was loaded from.
type Document struct {
	doc *goquery.Document
	raw []byte
	url *url.URL
}

// Element is a handle to a single node of a Document.
type Element struct {
	sel *goquery.Selection
}

// Parse reads and leniently parses an HTML document. pageURL may be nil; it
// is used to resolve relative links and form actions.
func Parse(r io.Reader, pageURL *url.URL) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("markup: read document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("markup: parse document: %w", err)
	}
	return &Document{doc: doc, raw: raw, url: pageURL}, nil
}

// ParseString parses an in-memory HTML string.
func ParseString(html string, pageURL *url.URL) (*Document, error) {
	return Parse(strings.NewReader(html), pageURL)
}

// URL returns the URL the document was loaded from, or nil.
func (d *Document) URL() *url.URL {
	return d.url
}

// Raw returns the unparsed markup.
func (d *Document) Raw() string {
	return string(d.raw)
}

// Select returns all elements matching selector in document order. No match
// is not an error.
func (d *Document) Select(selector string) ([]Element, error) {
	return selectIn(d.doc.Selection, selector)
}

// One returns the single element matching selector.
func (d *Document) One(selector string) (Element, error) {
	return oneIn(d.doc.Selection, selector)
}

// Has reports whether selector matches at least one element. Invalid
// selectors never match.
func (d *Document) Has(selector string) bool {
	els, err := d.Select(selector)
	return err == nil && len(els) > 0
}

// Text returns the trimmed text content of the whole document.
func (d *Document) Text() string {
	return strings.TrimSpace(d.doc.Text())
}

// Select returns the descendants of e matching selector.
func (e Element) Select(selector string) ([]Element, error) {
	return selectIn(e.sel, selector)
}

// One returns the single descendant of e matching selector.
func (e Element) One(selector string) (Element, error) {
	return oneIn(e.sel, selector)
}

// Is reports whether e itself matches selector.
func (e Element) Is(selector string) (bool, error) {
	m, err := compile(selector)
	if err != nil {
		return false, err
	}
	return e.sel.IsMatcher(m), nil
}

// Tag returns the lower-case element name.
func (e Element) Tag() string {
	return goquery.NodeName(e.sel)
}

// Text returns the trimmed text content of e and its descendants.
func (e Element) Text() string {
	return strings.TrimSpace(e.sel.Text())
}

// Attr returns the value of the named attribute, or ErrNotFound.
func (e Element) Attr(name string) (string, error) {
	v, ok := e.sel.Attr(name)
	if !ok {
		return "", fmt.Errorf("%w: attribute %q on <%s>", ErrNotFound, name, e.Tag())
	}
	return v, nil
}

// AttrOr returns the value of the named attribute or def when absent.
func (e Element) AttrOr(name, def string) string {
	return e.sel.AttrOr(name, def)
}

// Children returns the direct element children of e.
func (e Element) Children() []Element {
	return wrap(e.sel.Children())
}

func selectIn(sel *goquery.Selection, selector string) ([]Element, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return wrap(sel.FindMatcher(m)), nil
}

func oneIn(sel *goquery.Selection, selector string) (Element, error) {
	els, err := selectIn(sel, selector)
	if err != nil {
		return Element{}, err
	}
	switch len(els) {
	case 0:
		return Element{}, fmt.Errorf("%w: %q", ErrNotFound, selector)
	case 1:
		return els[0], nil
	default:
		return Element{}, fmt.Errorf("%w: %q matched %d elements", ErrAmbiguous, selector, len(els))
	}
}

func compile(selector string) (goquery.Matcher, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, selector, err)
	}
	return m, nil
}

func wrap(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Element{sel: s})
	})
	return out
}

// Resolve resolves ref against base and accepts only http(s) results.
func Resolve(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if !u.IsAbs() {
		if base == nil {
			return nil, false
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}
