package portal

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"urconnect/internal/auth"
	"urconnect/internal/config"
	"urconnect/internal/ics"
	appLog "urconnect/internal/log"
	"urconnect/internal/markup"
	"urconnect/internal/model"
	"urconnect/internal/normalize"
)

// ErrNoCalendarURL is returned when the timetable page links no calendar
// export.
var ErrNoCalendarURL = errors.New("portal: no calendar URL on timetable page")

// Timetable is the outcome of one retrieval.
type Timetable struct {
	// Entries are deduplicated and sorted by start, then title.
	Entries []model.TimetableEntry
	// Skipped counts records that could not be turned into entries.
	Skipped  int
	Problems []error
	// Source is "ics" or "html".
	Source    string
	FromCache bool
	FetchedAt time.Time
}

// GetTimetable fetches and normalizes the personal timetable. The session
// must be authenticated.
func (c *Client) GetTimetable(ctx context.Context) (*Timetable, error) {
	if c.session.State() != auth.Authenticated {
		return nil, errors.Wrap(auth.ErrNotAuthenticated, "[Client.GetTimetable]")
	}

	var (
		tt  *Timetable
		err error
	)
	switch c.cfg.Timetable.Source {
	case config.SourceHTML:
		tt, err = c.fromHTML(ctx)
	default:
		tt, err = c.fromICS(ctx)
	}
	if err != nil {
		return nil, err
	}

	if c.cfg.ExpandDays > 0 {
		start := c.now()
		res, err := normalize.Expand(tt.Entries, normalize.ExpandConfig{
			RangeStart: start,
			RangeEnd:   start.AddDate(0, 0, c.cfg.ExpandDays),
		})
		if err != nil {
			return nil, errors.Wrap(err, "[Client.GetTimetable] expand")
		}
		tt.Entries = res.Entries
	}

	tt.FetchedAt = c.now()
	c.logSkipped(tt)
	appLog.Info("timetable fetched",
		"source", tt.Source,
		"entries", len(tt.Entries),
		"skipped", tt.Skipped,
		"from_cache", tt.FromCache,
	)
	return tt, nil
}

func (c *Client) fromICS(ctx context.Context) (*Timetable, error) {
	feed, err := c.calendarURL(ctx)
	if err != nil {
		return nil, err
	}

	page, err := c.session.Do(ctx, auth.Request{
		Method: http.MethodGet,
		URL:    feed.String(),
		Header: c.cache.Headers(feed.String()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] fetch calendar")
	}
	if !page.OK() && page.Status != http.StatusNotModified {
		return nil, errors.Wrap(&auth.FetchError{URL: feed.String(), Status: page.Status}, "[Client.GetTimetable] fetch calendar")
	}
	res, err := c.cache.Update(feed.String(), page.Status, page.Header, page.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] calendar cache")
	}

	tt, err := c.parseCalendar(res.Body)
	if err != nil {
		return nil, err
	}
	tt.FromCache = res.FromCache
	return tt, nil
}

func (c *Client) parseCalendar(body []byte) (*Timetable, error) {
	events, problems, err := ics.ParseAll(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] parse calendar")
	}

	var batch normalize.Batch
	for _, p := range problems {
		batch.Skip(p)
	}
	for _, ev := range events {
		batch.Add(c.normalizer.FromEvent(ev))
	}
	return &Timetable{
		Entries:  batch.Entries(),
		Skipped:  batch.Skipped(),
		Problems: batch.Problems(),
		Source:   config.SourceICS,
	}, nil
}

// calendarURL returns the configured feed URL or discovers it. Discovery
// starts at timetable.discover_from; when that is unset or shows no export
// link, the timetable page is looked up in the landing page menu.
func (c *Client) calendarURL(ctx context.Context) (*url.URL, error) {
	if c.cfg.Timetable.URL != "" {
		u, err := c.cfg.ResolveURL(c.cfg.Timetable.URL)
		return u, errors.Wrap(err, "[Client.GetTimetable] timetable.url")
	}

	var tried *url.URL
	if c.cfg.Timetable.DiscoverFrom != "" {
		pageURL, err := c.cfg.ResolveURL(c.cfg.Timetable.DiscoverFrom)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.GetTimetable] timetable.discover_from")
		}
		u, err := c.discoverFrom(ctx, pageURL)
		if !errors.Is(err, ErrNoCalendarURL) {
			return u, err
		}
		tried = pageURL
	}

	entry, err := c.timetableEntry(ctx)
	if err != nil {
		return nil, err
	}
	if tried != nil && entry.String() == tried.String() {
		return nil, errors.Wrap(ErrNoCalendarURL, "[Client.GetTimetable]")
	}
	return c.discoverFrom(ctx, entry)
}

// timetableEntry finds the timetable page in the landing page menu.
func (c *Client) timetableEntry(ctx context.Context) (*url.URL, error) {
	ref := c.cfg.Timetable.Landing
	if ref == "" {
		ref = c.cfg.Login.Page
	}
	landing, err := c.cfg.ResolveURL(ref)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] timetable.landing")
	}
	doc, err := c.fetchDocument(ctx, landing)
	if err != nil {
		return nil, err
	}
	u, ok := markup.FindTimetableLink(doc, c.cfg.Timetable.FlowID)
	if !ok {
		return nil, errors.Wrap(ErrNoCalendarURL, "[Client.GetTimetable] no timetable link in landing page menu")
	}
	appLog.Debug("timetable page found in menu", "url", appLog.RedactURL(u.String()))
	return u, nil
}

// discoverFrom looks for the export link on pageURL. Web-flow pages may
// need a second visit carrying the flow execution key, taken from the page
// itself, from the URL it redirected to, or from pageURL.
func (c *Client) discoverFrom(ctx context.Context, pageURL *url.URL) (*url.URL, error) {
	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if u, ok := markup.DiscoverCalendarURL(doc); ok {
		appLog.Debug("calendar URL discovered", "url", appLog.RedactURL(u.String()))
		return u, nil
	}

	key, ok := markup.FlowExecutionKey(doc)
	if !ok {
		key, ok = markup.FlowKeyFromURL(doc.URL())
	}
	if !ok {
		key, ok = markup.FlowKeyFromURL(pageURL)
	}
	if !ok || pageURL.Query().Get(markup.FlowKeyParam) == key {
		return nil, errors.Wrap(ErrNoCalendarURL, "[Client.GetTimetable]")
	}

	next := *pageURL
	q := next.Query()
	if q.Get("_flowId") == "" && c.cfg.Timetable.FlowID != "" {
		q.Set("_flowId", c.cfg.Timetable.FlowID)
	}
	q.Set(markup.FlowKeyParam, key)
	next.RawQuery = q.Encode()

	doc, err = c.fetchDocument(ctx, &next)
	if err != nil {
		return nil, err
	}
	if u, ok := markup.DiscoverCalendarURL(doc); ok {
		appLog.Debug("calendar URL discovered", "url", appLog.RedactURL(u.String()), "flow", true)
		return u, nil
	}
	return nil, errors.Wrap(ErrNoCalendarURL, "[Client.GetTimetable]")
}

func (c *Client) fromHTML(ctx context.Context) (*Timetable, error) {
	pageURL, err := c.cfg.ResolveURL(c.cfg.Timetable.URL)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] timetable.url")
	}
	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	rows, err := doc.Rows(c.cfg.Timetable.RowSelector, c.cfg.Timetable.DayHeaderSelector)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] rows")
	}

	cols := normalize.Columns(c.cfg.Timetable.Columns)
	var batch normalize.Batch
	for _, row := range rows {
		batch.Add(c.normalizer.FromRow(row, cols))
	}
	return &Timetable{
		Entries:  batch.Entries(),
		Skipped:  batch.Skipped(),
		Problems: batch.Problems(),
		Source:   config.SourceHTML,
	}, nil
}

func (c *Client) fetchDocument(ctx context.Context, u *url.URL) (*markup.Document, error) {
	page, err := c.session.Do(ctx, auth.Request{Method: http.MethodGet, URL: u.String()})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] fetch page")
	}
	if !page.OK() {
		return nil, errors.Wrap(&auth.FetchError{URL: u.String(), Status: page.Status}, "[Client.GetTimetable] fetch page")
	}
	doc, err := markup.Parse(bytes.NewReader(page.Body), page.URL)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.GetTimetable] parse page")
	}
	return doc, nil
}
