package patientcase

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

// PatientCase is one visit of a patient at a clinic. Status moves strictly
// forward through the visit workflow until the case is Finished.
type PatientCase struct {
	ID        uuid.UUID       `json:"id"`
	ClinicID  uuid.UUID       `json:"clinicId"`
	PatientID uuid.UUID       `json:"patientId"`
	Status    caseflow.Status `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// VitalsRecord is the single vitals row kept per case. New submissions merge
// into it field by field.
type VitalsRecord struct {
	CaseID    uuid.UUID       `json:"caseId"`
	Vitals    caseflow.Vitals `json:"vitals"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ReportRecord is the single medical report row kept per case.
type ReportRecord struct {
	CaseID    uuid.UUID `json:"caseId"`
	Diagnosis string    `json:"diagnosis"`
	Therapy   string    `json:"therapy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SummaryRow is a case joined with the patient name columns the case list
// needs.
type SummaryRow struct {
	Case             PatientCase
	PatientFirstName string
	PatientLastName  string
}

// ToDTO maps the row to the wire shape.
func (r *SummaryRow) ToDTO() caseflow.CaseSummary {
	return caseflow.CaseSummary{
		ID:               r.Case.ID.String(),
		PatientID:        r.Case.PatientID.String(),
		PatientFirstName: r.PatientFirstName,
		PatientLastName:  r.PatientLastName,
		Status:           r.Case.Status,
		CreatedAt:        r.Case.CreatedAt,
	}
}

// Detail is the full view of one case: the case row, its patient, and the
// latest vitals and report rows when present.
type Detail struct {
	Case             PatientCase
	PatientFirstName string
	PatientLastName  string
	PatientGender    string
	PatientPhone     string
	PatientDOB       *time.Time
	Vitals           *VitalsRecord
	Report           *ReportRecord
}

// ToDTO maps the detail to the wire shape.
func (d *Detail) ToDTO() *caseflow.CaseDetail {
	detail := &caseflow.CaseDetail{
		ID:     d.Case.ID.String(),
		Status: d.Case.Status,
		Patient: caseflow.Patient{
			ID:          d.Case.PatientID.String(),
			FirstName:   d.PatientFirstName,
			LastName:    d.PatientLastName,
			Gender:      d.PatientGender,
			Phone:       d.PatientPhone,
			DateOfBirth: d.PatientDOB,
		},
		CreatedAt: d.Case.CreatedAt,
		UpdatedAt: d.Case.UpdatedAt,
	}
	if d.Vitals != nil {
		v := d.Vitals.Vitals
		detail.LatestVitals = &v
	}
	if d.Report != nil {
		detail.MedicalReport = &caseflow.Report{
			Diagnosis: d.Report.Diagnosis,
			Therapy:   d.Report.Therapy,
		}
	}
	return detail
}
