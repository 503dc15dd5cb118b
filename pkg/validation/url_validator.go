package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URLValidator checks remote locations that model weights are fetched from
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator creates a new URL validator with default settings
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateBaseURL checks that rawURL can serve as a directory prefix for
// weight downloads. Query strings and fragments are rejected since file
// names are appended to the path.
func (v *URLValidator) ValidateBaseURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return fmt.Errorf("URL scheme %q not allowed", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return errors.New("URL must have a valid host")
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return fmt.Errorf("URL host %q not allowed", parsedURL.Hostname())
	}

	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return errors.New("URL must not carry a query or fragment")
	}

	return nil
}

func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isHostAllowed returns true if no host restrictions are set
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
