package patientcase

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

// Repository is the persistence contract for patient cases. Not-found
// conditions surface as caseflow.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, pc *PatientCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientCase, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)

	// List returns the clinic's cases oldest first; an empty status means no
	// status filter.
	List(ctx context.Context, clinicID uuid.UUID, status caseflow.Status) ([]*SummaryRow, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status caseflow.Status) error

	// UpsertVitals merges the set fields of v into the case's vitals row and
	// returns the merged result.
	UpsertVitals(ctx context.Context, caseID uuid.UUID, v caseflow.Vitals) (*caseflow.Vitals, error)
	UpsertReport(ctx context.Context, caseID uuid.UUID, diagnosis, therapy string) error
}
