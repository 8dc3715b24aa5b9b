package auth

import (
	"fmt"
	"regexp"
	"strings"

	appLog "urconnect/internal/log"
	"urconnect/internal/markup"
)

// ResponseCheck classifies the page returned by a login submission.
type ResponseCheck struct {
	// FailureSelector / FailureText identify a rejected login.
	FailureSelector string
	FailureText     string
	// SuccessSelector / SuccessURL identify the authenticated landing page.
	// A login is only accepted when one of them matches.
	SuccessSelector string
	SuccessURL      *regexp.Regexp
}

// Validate returns nil for a successful login, ErrInvalidCredentials when
// the portal rejected the credentials and ErrUnexpectedResponse otherwise.
// Selectors that do not compile never match.
func (c ResponseCheck) Validate(page *Page, doc *markup.Document) error {
	if !page.OK() {
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, page.Status)
	}

	if c.FailureSelector != "" && doc.Has(c.FailureSelector) {
		return ErrInvalidCredentials
	}
	if c.FailureText != "" && strings.Contains(strings.ToLower(doc.Text()), strings.ToLower(c.FailureText)) {
		return ErrInvalidCredentials
	}

	if c.SuccessSelector != "" && doc.Has(c.SuccessSelector) {
		return nil
	}
	if c.SuccessURL != nil && page.URL != nil && c.SuccessURL.MatchString(page.URL.String()) {
		return nil
	}
	where := ""
	if page.URL != nil {
		where = page.URL.String()
	}
	return fmt.Errorf("%w: no login confirmation on %s", ErrUnexpectedResponse, appLog.RedactURL(where))
}
