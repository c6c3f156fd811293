package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/milkbank/internal/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxStoredBodyLength   = 2048
)

// envelope is the JSON body posted for each event.
type envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Priority      string          `json:"priority"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Attempt       int             `json:"attempt"`
	Payload       json.RawMessage `json:"payload"`
}

// Webhook posts events to a single HTTP endpoint.
type Webhook struct {
	client   *resty.Client
	endpoint string
}

var _ Collaborator = (*Webhook)(nil)

func NewWebhook(endpoint string) (*Webhook, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookWithClient(endpoint, client)
}

func NewWebhookWithClient(endpoint string, client *resty.Client) (*Webhook, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &Webhook{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (w *Webhook) Deliver(ctx context.Context, event domain.Event) (*Response, error) {
	if w == nil || w.client == nil {
		return nil, fmt.Errorf("webhook is not initialized")
	}
	if strings.TrimSpace(event.ID) == "" || !event.Type.IsValid() {
		return nil, &DeliveryError{Reason: ReasonInvalidEvent, Message: "event id and type are required"}
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	body := envelope{
		ID:            event.ID,
		Type:          event.Type.String(),
		AggregateType: event.AggregateType.String(),
		AggregateID:   event.AggregateID,
		Priority:      event.Priority.String(),
		OccurredAt:    event.CreatedAt.UTC(),
		Attempt:       event.Attempts + 1,
		Payload:       payload,
	}

	response, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-ID", event.ID).
		SetHeader("X-Event-Type", event.Type.String()).
		SetBody(body).
		Post(w.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("webhook request canceled: %w", err)
		}
		return nil, &DeliveryError{Reason: ReasonUnreachable, Cause: err}
	}
	if response == nil {
		return nil, &DeliveryError{Reason: ReasonUnreachable, Message: "empty response"}
	}

	statusCode := response.StatusCode()
	responseBody := truncate(strings.TrimSpace(response.String()), maxStoredBodyLength)

	success := statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
	if success || isDuplicate(statusCode, responseBody) {
		return &Response{
			StatusCode: statusCode,
			Body:       responseBody,
			RequestID:  responseRequestID(response),
		}, nil
	}

	return nil, classifyStatus(statusCode, response.Header(), responseBody, time.Now())
}

func responseRequestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
