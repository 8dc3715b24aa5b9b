package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"regexp"
	"time"
	_ "time/tzdata"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Credentials are never part of the file.

const (
	SourceICS  = "ics"
	SourceHTML = "html"

	defaultBaseURL   = "https://campusportal.ur.de"
	defaultTimezone  = "Europe/Berlin"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	defaultListen    = "127.0.0.1:8080"
	defaultRefresh   = "0 */2 * * *"
	defaultFlowID    = "individualTimetableSchedule-flow"
)

// LoginConfig describes the portal's login form and how to recognize the
// outcome of a submission.
type LoginConfig struct {
	// Page is the page carrying the login form, relative to BaseURL or absolute.
	Page string `yaml:"page" json:"page"`
	// Action overrides the form's action attribute as submission URL.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`
	// FormSelector selects the login form. It must match exactly one form.
	FormSelector string `yaml:"form_selector" json:"form_selector"`

	// UsernameField / PasswordField override credential field discovery.
	UsernameField string `yaml:"username_field,omitempty" json:"username_field,omitempty"`
	PasswordField string `yaml:"password_field,omitempty" json:"password_field,omitempty"`

	// RequiredFields are hidden inputs (anti-forgery tokens) that must be
	// present and non-empty on the login page.
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
	// ExtraFields are sent with every submission in addition to the form's
	// own hidden inputs.
	ExtraFields map[string]string `yaml:"extra_fields" json:"extra_fields"`

	// FailureSelector / FailureText mark a response as rejected credentials.
	FailureSelector string `yaml:"failure_selector" json:"failure_selector"`
	FailureText     string `yaml:"failure_text,omitempty" json:"failure_text,omitempty"`
	// SuccessSelector / SuccessURL recognize the authenticated landing
	// page. At least one of them must be set.
	SuccessSelector string `yaml:"success_selector,omitempty" json:"success_selector,omitempty"`
	SuccessURL      string `yaml:"success_url,omitempty" json:"success_url,omitempty"`
}

// ColumnsConfig maps HTML timetable fields to cell indexes. Negative
// indexes mark absent columns.
type ColumnsConfig struct {
	Date     int `yaml:"date" json:"date"`
	Time     int `yaml:"time" json:"time"`
	Title    int `yaml:"title" json:"title"`
	Location int `yaml:"location" json:"location"`
	Note     int `yaml:"note" json:"note"`
}

// TimetableConfig says where the personal schedule is published.
type TimetableConfig struct {
	// Source is "ics" (calendar feed) or "html" (table listing).
	Source string `yaml:"source" json:"source"`
	// URL is the feed or listing URL. For "ics" it may be left empty, in
	// which case it is discovered from DiscoverFrom.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// DiscoverFrom is the timetable page that links the ICS export.
	DiscoverFrom string `yaml:"discover_from,omitempty" json:"discover_from,omitempty"`
	// Landing is the page whose menu links the timetable, used when
	// DiscoverFrom is empty or shows no export link. Defaults to Login.Page.
	Landing string `yaml:"landing,omitempty" json:"landing,omitempty"`
	// FlowID is the web-flow id of the timetable page, preferred when
	// picking the timetable link from the landing page menu.
	FlowID string `yaml:"flow_id" json:"flow_id"`

	RowSelector       string        `yaml:"row_selector" json:"row_selector"`
	DayHeaderSelector string        `yaml:"day_header_selector,omitempty" json:"day_header_selector,omitempty"`
	Columns           ColumnsConfig `yaml:"columns" json:"columns"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP view.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the portal origin; relative page paths resolve against it.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timezone is the institutional IANA zone used for floating times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// SlotMinutes is the assumed length of an entry without an end.
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`

	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`

	// CacheDir enables the on-disk ETag cache for the ICS feed.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// RefreshCron is the cron schedule used by "serve".
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// Listen is the HTTP listen address used by "serve".
	Listen string `yaml:"listen" json:"listen"`

	// ExpandDays > 0 expands recurring entries over that many days from now.
	ExpandDays int `yaml:"expand_days" json:"expand_days"`

	Login     LoginConfig     `yaml:"login" json:"login"`
	Timetable TimetableConfig `yaml:"timetable" json:"timetable"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        defaultBaseURL,
		Timezone:       defaultTimezone,
		SlotMinutes:    90,
		TimeoutSeconds: 60,
		UserAgent:      defaultUserAgent,
		RefreshCron:    defaultRefresh,
		Listen:         defaultListen,
		Login: LoginConfig{
			Page:            "/qisserver/pages/cs/sys/portal/hisinoneStartPage.faces",
			Action:          "/qisserver/rds?state=user&type=1&category=auth.login",
			FormSelector:    "form:has(input[type=password])",
			RequiredFields:  []string{"ajax-token"},
			ExtraFields:     map[string]string{"userInfo": "", "submit": ""},
			FailureSelector: "input[type=password]",
			SuccessSelector: "a[href*='logout'], [id*='logout']",
		},
		Timetable: TimetableConfig{
			Source:       SourceICS,
			DiscoverFrom: "/qisserver/pages/plan/individualTimetable.xhtml?_flowId=" + defaultFlowID,
			FlowID:       defaultFlowID,
			RowSelector:  "table.timetable tr",
			Columns:      ColumnsConfig{Date: 0, Time: 1, Title: 2, Location: 3, Note: 4},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.SlotMinutes <= 0 {
		c.SlotMinutes = def.SlotMinutes
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.ExpandDays < 0 {
		c.ExpandDays = 0
	}

	if c.Login.Page == "" {
		c.Login.Page = def.Login.Page
	}
	if c.Login.FormSelector == "" {
		c.Login.FormSelector = def.Login.FormSelector
	}
	if c.Login.RequiredFields == nil {
		c.Login.RequiredFields = []string{}
	}
	if c.Login.ExtraFields == nil {
		c.Login.ExtraFields = map[string]string{}
	}
	if c.Login.FailureSelector == "" && c.Login.FailureText == "" {
		c.Login.FailureSelector = def.Login.FailureSelector
	}
	if c.Login.SuccessSelector == "" && c.Login.SuccessURL == "" {
		c.Login.SuccessSelector = def.Login.SuccessSelector
	}

	c.Timetable.Source = strings.ToLower(strings.TrimSpace(c.Timetable.Source))
	switch c.Timetable.Source {
	case SourceICS, SourceHTML:
		// ok
	default:
		// Unknown value; the feed is what the portal publishes by default.
		c.Timetable.Source = SourceICS
	}
	if c.Timetable.FlowID == "" {
		c.Timetable.FlowID = def.Timetable.FlowID
	}
	if c.Timetable.RowSelector == "" {
		c.Timetable.RowSelector = def.Timetable.RowSelector
	}
	if c.Timetable.Columns == (ColumnsConfig{}) {
		c.Timetable.Columns = def.Timetable.Columns
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute http(s) URL", c.BaseURL)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.Timetable.Source == SourceHTML && c.Timetable.URL == "" {
		return errors.New("timetable: source html needs url")
	}
	if c.Login.SuccessSelector == "" && c.Login.SuccessURL == "" {
		return errors.New("login: success_selector or success_url is required")
	}
	if c.Login.SuccessURL != "" {
		if _, err := regexp.Compile(c.Login.SuccessURL); err != nil {
			return fmt.Errorf("login.success_url: %w", err)
		}
	}

	selectors := []struct{ name, value string }{
		{"login.form_selector", c.Login.FormSelector},
		{"login.failure_selector", c.Login.FailureSelector},
		{"login.success_selector", c.Login.SuccessSelector},
		{"timetable.row_selector", c.Timetable.RowSelector},
		{"timetable.day_header_selector", c.Timetable.DayHeaderSelector},
	}
	for _, sel := range selectors {
		if sel.value == "" {
			continue
		}
		if _, err := cascadia.Compile(sel.value); err != nil {
			return fmt.Errorf("%s %q: %w", sel.name, sel.value, err)
		}
	}
	return nil
}

// Location returns the institutional time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) SlotDuration() time.Duration {
	return time.Duration(c.SlotMinutes) * time.Minute
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveURL resolves a page reference against BaseURL.
func (c *Config) ResolveURL(ref string) (*url.URL, error) {
	base, err := url.Parse(c.BaseURL + "/")
	if err != nil {
		return nil, err
	}
	u, err := base.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return u, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - unmarshal the YAML over DefaultConfig, so keys missing from the file
//     keep their default value
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	// yaml merges into existing maps; extra_fields from the file replace
	// the defaults instead.
	defExtra := cfg.Login.ExtraFields
	cfg.Login.ExtraFields = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Login.ExtraFields == nil {
		cfg.Login.ExtraFields = defExtra
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".urconnect-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
