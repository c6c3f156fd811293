package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Reason names why a downstream system refused an event. Label printers
// and the FHIR gateway both report through it.
type Reason string

const (
	ReasonInvalidEvent Reason = "invalid_event"
	ReasonUnreachable  Reason = "unreachable"
	ReasonRejected     Reason = "rejected"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonNoEndpoint   Reason = "no_endpoint"
	ReasonBusy         Reason = "busy"
	ReasonThrottled    Reason = "throttled"
	ReasonUnavailable  Reason = "unavailable"
)

// Retryable reports whether the same event may succeed on a later attempt.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonUnreachable, ReasonBusy, ReasonThrottled, ReasonUnavailable:
		return true
	default:
		return false
	}
}

// fhirRetryableIssues are the OperationOutcome issue codes a FHIR server
// uses for conditions that clear on their own.
var fhirRetryableIssues = map[string]Reason{
	"transient":  ReasonUnavailable,
	"timeout":    ReasonUnavailable,
	"exception":  ReasonUnavailable,
	"no-store":   ReasonUnavailable,
	"incomplete": ReasonUnavailable,
	"lock-error": ReasonBusy,
	"throttled":  ReasonThrottled,
}

// DeliveryError is a failed hand-off to a collaborator.
type DeliveryError struct {
	Reason     Reason
	StatusCode int
	// Issue is the FHIR OperationOutcome issue code, when the body carried one.
	Issue      string
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("delivery ")
	b.WriteString(string(e.Reason))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.Issue != "" {
			fmt.Fprintf(&b, ", issue %s", e.Issue)
		}
		b.WriteString(")")
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Reason.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// StatusCode extracts the HTTP status from a delivery error, if any.
func StatusCode(err error) (int, bool) {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.StatusCode > 0 {
		return deliveryErr.StatusCode, true
	}
	return 0, false
}

// RetryAfter returns the back-off the collaborator asked for, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.RetryAfter > 0 {
		return deliveryErr.RetryAfter, true
	}
	return 0, false
}

type operationOutcome struct {
	ResourceType string `json:"resourceType"`
	Issue        []struct {
		Severity    string `json:"severity"`
		Code        string `json:"code"`
		Diagnostics string `json:"diagnostics"`
	} `json:"issue"`
}

// outcomeIssue returns the first error-level issue of a FHIR
// OperationOutcome body. Plain-text bodies from printers yield nothing.
func outcomeIssue(body string) (code, diagnostics string) {
	if !strings.HasPrefix(body, "{") {
		return "", ""
	}

	var outcome operationOutcome
	if err := json.Unmarshal([]byte(body), &outcome); err != nil || outcome.ResourceType != "OperationOutcome" {
		return "", ""
	}
	for _, issue := range outcome.Issue {
		if issue.Severity == "error" || issue.Severity == "fatal" {
			return issue.Code, issue.Diagnostics
		}
	}
	return "", ""
}

// isDuplicate reports a 409 whose outcome says the event id was already
// accepted. The FHIR gateway answers a redelivery that way.
func isDuplicate(statusCode int, body string) bool {
	if statusCode != http.StatusConflict {
		return false
	}
	code, _ := outcomeIssue(body)
	return code == "duplicate"
}

// classifyStatus turns a non-2xx response into a DeliveryError.
func classifyStatus(statusCode int, header http.Header, body string, now time.Time) *DeliveryError {
	issue, diagnostics := outcomeIssue(body)
	message := body
	if diagnostics != "" {
		message = diagnostics
	}

	err := &DeliveryError{
		Reason:     reasonForStatus(statusCode),
		StatusCode: statusCode,
		Issue:      issue,
		Message:    message,
	}
	if reason, ok := fhirRetryableIssues[issue]; ok {
		err.Reason = reason
	} else if issue != "" && statusCode < http.StatusInternalServerError {
		err.Reason = ReasonRejected
	}
	if err.Reason.Retryable() {
		err.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
	}
	return err
}

func reasonForStatus(statusCode int) Reason {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ReasonUnauthorized
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ReasonNoEndpoint
	case statusCode == http.StatusTooManyRequests:
		return ReasonThrottled
	case statusCode == http.StatusLocked || statusCode == http.StatusTooEarly:
		// Printers answer 423 while a job is already on the spool.
		return ReasonBusy
	case statusCode == http.StatusRequestTimeout || statusCode >= http.StatusInternalServerError:
		return ReasonUnavailable
	default:
		return ReasonRejected
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
