package collaborator

import (
	"context"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

// Collaborator receives lifecycle events on behalf of the systems that sit
// outside the core: label printing, the FHIR gateway and manifest export.
type Collaborator interface {
	Deliver(ctx context.Context, event domain.Event) (*Response, error)
}

// Response stores collaborator call metadata for the delivery attempt log.
type Response struct {
	StatusCode int
	Body       string
	RequestID  string
}
