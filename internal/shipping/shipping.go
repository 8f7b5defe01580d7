package shipping

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// ErrNoDefaultRate is returned when no default rate is configured.
var ErrNoDefaultRate = errors.New("shipping: no default rate configured")

// Rate is a flat shipping price. Rate management belongs to the
// surrounding system; orders only reference a rate by id.
type Rate struct {
	ID        uuid.UUID
	Name      string
	Price     pricing.Money
	IsDefault bool
}

// Rates is the lookup surface the order assembler needs.
type Rates interface {
	DefaultRate(ctx context.Context) (Rate, error)
	GetRate(ctx context.Context, id uuid.UUID) (Rate, error)
}
