// Package steperr classifies action-step failures as transient or
// permanent. Transient failures are worth retrying with backoff; permanent
// failures (invalid recipient, rejected payload) will not be fixed by a
// retry and fail the step immediately.
package steperr

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the retryability class of a step failure
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// ClassifiedError wraps a step failure with its retryability class
type ClassifiedError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// Transient marks an error as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Matches patterns like "status code: 429", "status_code 500", "HTTP 503", "(429)"
var (
	httpStatusRegex  = regexp.MustCompile(`(?i)status[_\s]code[:\s]*(\d{3})`)
	httpPrefixRegex  = regexp.MustCompile(`(?i)http[/\d.]*\s*(\d{3})`)
	bracketStatusReg = regexp.MustCompile(`[\[(](\d{3})[\])]`)
)

// Permanent-failure markers commonly found in provider error messages
var permanentMarkers = []string{
	"invalid recipient",
	"invalid email",
	"address rejected",
	"unknown recipient",
	"mailbox unavailable",
	"suppressed",
	"unsubscribed",
	"blocklisted",
}

// Classify determines the retryability class of an error. Explicit
// classification via Permanent/Transient wins; otherwise HTTP status codes
// and known provider markers are consulted. Unknown errors default to
// transient so external blips are retried rather than surfaced as final.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(errStr, marker) {
			return KindPermanent
		}
	}

	if status := extractHTTPStatus(err.Error()); status != 0 {
		// 429 and 5xx are worth retrying; other 4xx are caller errors
		if status == 429 || status >= 500 {
			return KindTransient
		}
		if status >= 400 {
			return KindPermanent
		}
	}

	return KindTransient
}

// IsPermanent reports whether the error should not be retried
func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}

// extractHTTPStatus attempts to pull an HTTP status code out of an error message
func extractHTTPStatus(errStr string) int {
	for _, re := range []*regexp.Regexp{httpStatusRegex, httpPrefixRegex, bracketStatusReg} {
		if matches := re.FindStringSubmatch(errStr); len(matches) >= 2 {
			if status, err := strconv.Atoi(matches[1]); err == nil {
				return status
			}
		}
	}
	return 0
}
