package paypal

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderAlreadyCaptured is returned by CaptureOrder when PayPal answers
	// 422 with the ORDER_ALREADY_CAPTURED issue.
	ErrOrderAlreadyCaptured = errors.New("paypal: order already captured")
	ErrAuthentication       = errors.New("paypal: authentication failed")
	ErrNotConfigured        = errors.New("paypal: credentials not configured")
)

const IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

type IssueDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

// APIError is a non-2xx PayPal response.
type APIError struct {
	StatusCode int           `json:"-"`
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id"`
	Details    []IssueDetail `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Name == "" && e.Message == "" {
		return fmt.Sprintf("paypal: http %d", e.StatusCode)
	}
	return fmt.Sprintf("paypal: http %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// HasIssue reports whether any detail carries the given issue code.
func (e *APIError) HasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// Issue is the first issue code, or the error name when there are no details.
func (e *APIError) Issue() string {
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		return e.Details[0].Issue
	}
	return e.Name
}
