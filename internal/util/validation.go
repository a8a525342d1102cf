package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// headerNameRegex validates HTTP header names according to RFC 7230.
var headerNameRegex = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// ValidateHeaderName validates an HTTP header name.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name cannot be empty")
	}

	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid header name: %s", name)
	}

	return nil
}

// ValidatePort validates a port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", port)
	}
	return nil
}

// ValidatePositiveDuration validates a duration is strictly positive.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %v", d)
	}
	return nil
}

// ValidateHTTPMethod validates an HTTP method.
func ValidateHTTPMethod(method string) error {
	validMethods := map[string]bool{
		"GET":     true,
		"POST":    true,
		"PUT":     true,
		"DELETE":  true,
		"PATCH":   true,
		"HEAD":    true,
		"OPTIONS": true,
		"TRACE":   true,
		"CONNECT": true,
		"*":       true, // Wildcard
	}

	method = strings.ToUpper(method)
	if !validMethods[method] {
		return fmt.Errorf("invalid HTTP method: %s", method)
	}

	return nil
}

// ValidateWeight validates a weight value (0-100).
func ValidateWeight(weight int) error {
	if weight < 0 || weight > 100 {
		return fmt.Errorf("weight must be between 0 and 100, got: %d", weight)
	}
	return nil
}

// ValidateNonEmpty validates that a string is not empty.
func ValidateNonEmpty(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

