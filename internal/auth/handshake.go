package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	appLog "urconnect/internal/log"
	"urconnect/internal/markup"
)

type step int

const (
	stepFetchLogin step = iota
	stepExtractForm
	stepSubmit
	stepValidate
	stepDone
)

func (s step) String() string {
	switch s {
	case stepFetchLogin:
		return "fetch-login"
	case stepExtractForm:
		return "extract-form"
	case stepSubmit:
		return "submit"
	case stepValidate:
		return "validate"
	case stepDone:
		return "done"
	default:
		return "unknown"
	}
}

// flow is the in-flight state of one login attempt.
type flow struct {
	step step
	page *Page
	form *LoginForm
}

// Handshake performs the portal login: load the login page, pick up its
// hidden anti-forgery inputs, post the credentials with them and check
// the answer.
type Handshake struct {
	LoginURL *url.URL
	Form     FormSpec
	Check    ResponseCheck
}

// Run logs s in. Every call starts from an empty cookie jar. On failure the
// session is left in the Failed state and the returned error is also
// available from s.Err.
func (h *Handshake) Run(ctx context.Context, s *Session, user, pass string) error {
	s.begin()

	if user == "" || pass == "" {
		return s.fail(fmt.Errorf("%w: username and password are required", ErrInvalidCredentials))
	}

	f := &flow{step: stepFetchLogin}
	for f.step != stepDone {
		if err := ctx.Err(); err != nil {
			return s.fail(&FetchError{URL: h.LoginURL.String(), Err: err})
		}

		var err error
		switch f.step {
		case stepFetchLogin:
			err = h.fetchLogin(ctx, s, f)
		case stepExtractForm:
			err = h.extractForm(f)
		case stepSubmit:
			err = h.submit(ctx, s, f, user, pass)
		case stepValidate:
			err = h.validate(f)
		}
		if err != nil {
			appLog.Error("login failed", err, "step", f.step.String())
			return s.fail(err)
		}
	}

	s.succeed()
	appLog.Info("login succeeded", "url", appLog.RedactURL(h.LoginURL.String()))
	return nil
}

func (h *Handshake) fetchLogin(ctx context.Context, s *Session, f *flow) error {
	appLog.Info("login start", "url", appLog.RedactURL(h.LoginURL.String()))
	page, err := s.do(ctx, Request{Method: http.MethodGet, URL: h.LoginURL.String()})
	if err != nil {
		return err
	}
	if !page.OK() {
		return fmt.Errorf("%w: login page status %d", ErrUnexpectedResponse, page.Status)
	}
	f.page = page
	f.step = stepExtractForm
	return nil
}

func (h *Handshake) extractForm(f *flow) error {
	doc, err := markup.Parse(bytes.NewReader(f.page.Body), f.page.URL)
	if err != nil {
		return err
	}
	form, err := ExtractLoginForm(doc, h.Form)
	if err != nil {
		return err
	}
	appLog.Debug("login form found",
		"action", appLog.RedactURL(form.Action.String()),
		"hidden_fields", len(form.Hidden),
	)
	f.form = form
	f.step = stepSubmit
	return nil
}

func (h *Handshake) submit(ctx context.Context, s *Session, f *flow, user, pass string) error {
	header := http.Header{}
	if f.page.URL != nil {
		header.Set("Referer", f.page.URL.String())
	}
	header.Set("Origin", f.form.Action.Scheme+"://"+f.form.Action.Host)

	page, err := s.do(ctx, Request{
		Method: http.MethodPost,
		URL:    f.form.Action.String(),
		Form:   f.form.Values(h.Form.Extra, user, pass),
		Header: header,
	})
	if err != nil {
		return err
	}
	f.page = page
	f.form = nil
	f.step = stepValidate
	return nil
}

func (h *Handshake) validate(f *flow) error {
	doc, err := markup.Parse(bytes.NewReader(f.page.Body), f.page.URL)
	if err != nil {
		return err
	}
	if err := h.Check.Validate(f.page, doc); err != nil {
		return err
	}
	f.step = stepDone
	return nil
}
