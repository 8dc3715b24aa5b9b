// Package transport performs portal requests over resty with a
// session-owned cookie jar.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"urconnect/internal/auth"
	appLog "urconnect/internal/log"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxRedirects = 10
)

type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
}

// Client implements auth.Transport.
type Client struct {
	rc *resty.Client
}

var _ auth.Transport = (*Client)(nil)

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects)).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/calendar;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetLogger(restyLogger{})
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Client{rc: rc}
}

func (c *Client) SetCookieJar(jar http.CookieJar) {
	c.rc.SetCookieJar(jar)
}

// Do sends req and returns the final page after redirects, whatever its
// status.
func (c *Client) Do(ctx context.Context, req auth.Request) (*auth.Page, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := c.rc.R().SetContext(ctx)
	for name, values := range req.Header {
		r.SetHeaderMultiValues(map[string][]string{name: values})
	}
	if req.Form != nil {
		r.SetFormDataFromValues(req.Form)
	}

	start := time.Now()
	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, bare(err)
	}

	var final *url.URL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL
	} else if final, err = url.Parse(req.URL); err != nil {
		return nil, err
	}
	appLog.Debug("portal request",
		"method", method,
		"url", appLog.RedactURL(req.URL),
		"status", resp.StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &auth.Page{
		URL:    final,
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   resp.Body(),
	}, nil
}

// bare strips the *url.Error wrapper so that feed tokens in the request
// URL do not end up in error messages.
func bare(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	appLog.Error("resty", errors.New(strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (restyLogger) Warnf(format string, v ...any) {
	appLog.Warn("resty", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (restyLogger) Debugf(format string, v ...any) {
	appLog.Debug("resty", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
