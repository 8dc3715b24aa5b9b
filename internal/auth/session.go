package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// Request is a single portal request.
type Request struct {
	Method string
	URL    string
	// Form, when set, is sent urlencoded as the request body.
	Form   url.Values
	Header http.Header
}

// Page is a response after redirects.
type Page struct {
	// URL is the final URL after redirects.
	URL    *url.URL
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (p *Page) OK() bool {
	return p.Status >= 200 && p.Status < 300
}

// Transport performs requests on behalf of a Session. Implementations
// return a Page for every HTTP response regardless of status and an error
// only when no response was received.
type Transport interface {
	Do(ctx context.Context, req Request) (*Page, error)
	SetCookieJar(jar http.CookieJar)
}

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session owns the cookie jar of one portal login. It is not safe for
// concurrent use.
type Session struct {
	transport Transport
	jar       http.CookieJar
	state     State
	reason    error
}

// NewSession creates an unauthenticated session with an empty cookie jar.
func NewSession(t Transport) *Session {
	s := &Session{transport: t}
	s.resetJar()
	return s
}

func (s *Session) State() State { return s.state }

// Err is the reason of the last failure, nil unless the state is Failed.
func (s *Session) Err() error { return s.reason }

func (s *Session) cookieJar() http.CookieJar { return s.jar }

// Do performs req with the session cookies. Only authenticated sessions
// may be used.
func (s *Session) Do(ctx context.Context, req Request) (*Page, error) {
	if s.state != Authenticated {
		return nil, ErrNotAuthenticated
	}
	return s.do(ctx, req)
}

func (s *Session) do(ctx context.Context, req Request) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}
	page, err := s.transport.Do(ctx, req)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}
	return page, nil
}

// begin starts a fresh login attempt on an empty jar.
func (s *Session) begin() {
	s.resetJar()
	s.state = Authenticating
	s.reason = nil
}

func (s *Session) fail(err error) error {
	s.state = Failed
	s.reason = err
	return err
}

func (s *Session) succeed() {
	s.state = Authenticated
	s.reason = nil
}

func (s *Session) resetJar() {
	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	s.jar = jar
	s.transport.SetCookieJar(jar)
}
