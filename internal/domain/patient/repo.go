package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no patient matches the id.
var ErrNotFound = errors.New("patient not found")

// Repository is the persistence contract for patient records.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error

	// ListByClinic returns the clinic's patients, optionally filtered by a
	// case-insensitive name prefix.
	ListByClinic(ctx context.Context, clinicID uuid.UUID, nameQuery string, limit, offset int) ([]*Patient, int, error)
}
