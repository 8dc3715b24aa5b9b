// Package portal is the entry point of the client: log in once, then fetch
// the personal timetable as normalized entries.
package portal

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"urconnect/internal/auth"
	"urconnect/internal/config"
	"urconnect/internal/feedcache"
	appLog "urconnect/internal/log"
	"urconnect/internal/normalize"
	"urconnect/internal/transport"
)

// Client holds one portal session. Methods must be called sequentially.
type Client struct {
	cfg        *config.Config
	transport  auth.Transport
	session    *auth.Session
	handshake  *auth.Handshake
	normalizer *normalize.Normalizer
	cache      *feedcache.Cache
	now        func() time.Time
}

type Option func(*Client)

// WithTransport replaces the resty transport, e.g. with a test double.
func WithTransport(t auth.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithClock sets the time source used for the expansion window and export
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client from cfg. The configuration is validated here so
// that mistakes surface before any network traffic.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("[portal.New] config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[portal.New] invalid config")
	}

	c := &Client{
		cfg:        cfg,
		normalizer: normalize.New(cfg.Location(), cfg.SlotDuration()),
		cache:      feedcache.New(cfg.CacheDir),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.New(transport.Options{
			Timeout:   cfg.Timeout(),
			UserAgent: cfg.UserAgent,
		})
	}

	hs, err := newHandshake(cfg)
	if err != nil {
		return nil, err
	}
	c.handshake = hs
	c.session = auth.NewSession(c.transport)
	if c.cache != nil {
		appLog.Debug("calendar feed cache enabled", "dir", c.cache.Dir())
	}
	return c, nil
}

func newHandshake(cfg *config.Config) (*auth.Handshake, error) {
	loginURL, err := cfg.ResolveURL(cfg.Login.Page)
	if err != nil {
		return nil, errors.Wrap(err, "[portal.New] login.page")
	}

	spec := auth.FormSpec{
		Selector:      cfg.Login.FormSelector,
		UsernameField: cfg.Login.UsernameField,
		PasswordField: cfg.Login.PasswordField,
		Required:      cfg.Login.RequiredFields,
		Extra:         cfg.Login.ExtraFields,
	}
	if cfg.Login.Action != "" {
		if spec.Action, err = cfg.ResolveURL(cfg.Login.Action); err != nil {
			return nil, errors.Wrap(err, "[portal.New] login.action")
		}
	}

	check := auth.ResponseCheck{
		FailureSelector: cfg.Login.FailureSelector,
		FailureText:     cfg.Login.FailureText,
		SuccessSelector: cfg.Login.SuccessSelector,
	}
	if cfg.Login.SuccessURL != "" {
		if check.SuccessURL, err = regexp.Compile(cfg.Login.SuccessURL); err != nil {
			return nil, errors.Wrap(err, "[portal.New] login.success_url")
		}
	}

	return &auth.Handshake{LoginURL: loginURL, Form: spec, Check: check}, nil
}

// Login authenticates the session. Calling it again starts over with an
// empty cookie jar.
func (c *Client) Login(ctx context.Context, user, pass string) error {
	if err := c.handshake.Run(ctx, c.session, user, pass); err != nil {
		return errors.Wrap(err, "[Client.Login] handshake")
	}
	return nil
}

// State is the current session state.
func (c *Client) State() auth.State {
	return c.session.State()
}

func (c *Client) logSkipped(tt *Timetable) {
	if tt.Skipped == 0 {
		return
	}
	appLog.Warn("skipped malformed timetable records",
		"count", tt.Skipped,
		"source", tt.Source,
	)
	for _, p := range tt.Problems {
		appLog.Debug("skipped record", "reason", p.Error())
	}
}
