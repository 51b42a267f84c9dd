package vaultapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// BillingURL is the plan-upgrade page referenced by quota and resource-limit
// error messages.
const BillingURL = "https://hazina.dev/billing"

// KindResourceLimitExceeded is the upstream error-envelope type reported when
// an account-level resource limit (vaults, secrets, shares) is hit.
const KindResourceLimitExceeded = "resource_limit_exceeded"

// paymentRequiredDetail replaces the upstream detail on every 402 response,
// regardless of what the envelope said.
const paymentRequiredDetail = "Your Hazina plan has run out of credits. Upgrade your plan at " + BillingURL + " to continue."

// TransportError is a network-level failure (DNS, connection refused,
// timeout) that occurred before any HTTP status was received. It is never
// retried by the client.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "request failed: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx upstream response. StatusCode is preserved verbatim
// so callers can branch on it (404, 410) even when Detail has been rewritten
// by the billing-guidance remapping. Kind carries the error-envelope "type"
// field when the upstream sent one.
type APIError struct {
	StatusCode int
	Detail     string
	Kind       string
}

func (e *APIError) Error() string { return e.Detail }

// AuthError marks a failure of the agent-token exchange, as opposed to the
// primary request. It wraps the underlying *APIError or *TransportError, so
// errors.As still reaches the inner error.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// IsStatus reports whether err carries an upstream response with the given
// HTTP status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// errorFromResponse turns a non-2xx response into an *APIError. The body is
// decoded as an RFC 7807-style envelope on a best-effort basis; when it is
// not valid JSON (HTML error pages, empty bodies) the detail falls back to
// "HTTP <status>". Billing guidance is substituted for quota (402) and
// resource-limit (403) conditions.
func errorFromResponse(status int, body []byte) *APIError {
	detail := fmt.Sprintf("HTTP %d", status)

	env, ok := decodeProblem(body)
	if ok && env.Detail != "" {
		detail = env.Detail
	}

	switch {
	case status == http.StatusPaymentRequired:
		detail = paymentRequiredDetail
	case status == http.StatusForbidden && env.Type == KindResourceLimitExceeded:
		detail = fmt.Sprintf("Resource limit reached: %s. Upgrade your plan at %s to raise this limit.", detail, BillingURL)
	}

	return &APIError{StatusCode: status, Detail: detail, Kind: env.Type}
}

// decodeProblem attempts to decode the body as an error envelope, reporting
// whether it held one. A partial decode counts as no envelope.
func decodeProblem(body []byte) (problemEnvelope, bool) {
	var env problemEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return problemEnvelope{}, false
	}
	return env, true
}

// --- upstream error envelope (unexported) ---

type problemEnvelope struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}
