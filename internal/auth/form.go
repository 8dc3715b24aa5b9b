package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"urconnect/internal/markup"
)

// FormSpec describes how to find and fill the login form.
type FormSpec struct {
	// Selector must match exactly one form.
	Selector string
	// Action overrides the form's action attribute.
	Action *url.URL
	// UsernameField / PasswordField override field discovery.
	UsernameField string
	PasswordField string
	// Required lists hidden inputs that must be present and non-empty.
	Required []string
	// Extra is merged into the submission, overriding hidden inputs.
	Extra map[string]string
}

// LoginForm is what a login page yields: where to post, the hidden inputs
// to echo back, and which fields take the credentials.
type LoginForm struct {
	Action        *url.URL
	Hidden        map[string]string
	UsernameField string
	PasswordField string
}

// Values builds the submission body. Credentials only live in the
// returned values.
func (f *LoginForm) Values(extra map[string]string, user, pass string) url.Values {
	v := url.Values{}
	for name, value := range f.Hidden {
		v.Set(name, value)
	}
	for name, value := range extra {
		v.Set(name, value)
	}
	v.Set(f.UsernameField, user)
	v.Set(f.PasswordField, pass)
	return v
}

// ExtractLoginForm locates the login form on doc and collects its hidden
// inputs. Missing pieces are reported as *ExtractionError.
func ExtractLoginForm(doc *markup.Document, spec FormSpec) (*LoginForm, error) {
	form, err := doc.One(spec.Selector)
	if err != nil {
		if errors.Is(err, markup.ErrInvalidSelector) {
			return nil, err
		}
		return nil, &ExtractionError{Field: "form", Err: err}
	}

	out := &LoginForm{Hidden: map[string]string{}}

	inputs, err := form.Select("input")
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		name := in.AttrOr("name", "")
		if name == "" {
			continue
		}
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "hidden":
			if _, seen := out.Hidden[name]; !seen {
				out.Hidden[name] = in.AttrOr("value", "")
			}
		case "password":
			if out.PasswordField == "" {
				out.PasswordField = name
			}
		case "text", "email":
			if out.UsernameField == "" {
				out.UsernameField = name
			}
		}
	}

	if spec.UsernameField != "" {
		out.UsernameField = spec.UsernameField
	}
	if spec.PasswordField != "" {
		out.PasswordField = spec.PasswordField
	}
	if out.UsernameField == "" {
		return nil, &ExtractionError{Field: "username input", Err: markup.ErrNotFound}
	}
	if out.PasswordField == "" {
		return nil, &ExtractionError{Field: "password input", Err: markup.ErrNotFound}
	}

	for _, name := range spec.Required {
		if out.Hidden[name] != "" {
			continue
		}
		// Some portals render the token outside the form element.
		value, err := pageInput(doc, name)
		if err != nil {
			return nil, &ExtractionError{Field: fmt.Sprintf("hidden input %q", name), Err: err}
		}
		out.Hidden[name] = value
	}

	out.Action = spec.Action
	if out.Action == nil {
		action, ok := markup.Resolve(doc.URL(), form.AttrOr("action", ""))
		if !ok {
			// An absent action posts back to the page itself.
			action = doc.URL()
		}
		if action == nil {
			return nil, &ExtractionError{Field: "form action", Err: markup.ErrNotFound}
		}
		out.Action = action
	}
	return out, nil
}

func pageInput(doc *markup.Document, name string) (string, error) {
	els, err := doc.Select(fmt.Sprintf("input[name=%q]", name))
	if err != nil {
		return "", err
	}
	for _, el := range els {
		if v := strings.TrimSpace(el.AttrOr("value", "")); v != "" {
			return v, nil
		}
	}
	return "", markup.ErrNotFound
}
