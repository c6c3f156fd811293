package domain

import "time"

// DeliveryAttempt records a single collaborator call for an event.
type DeliveryAttempt struct {
	ID            string
	EventID       string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
