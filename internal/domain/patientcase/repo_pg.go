package patientcase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	db querier
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{db: pool}
}

const caseCols = `id, clinic_id, patient_id, status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, pc *PatientCase) error {
	pc.ID = uuid.New()
	now := time.Now().UTC()
	pc.CreatedAt = now
	pc.UpdatedAt = now
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_case (id, clinic_id, patient_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pc.ID, pc.ClinicID, pc.PatientID, pc.Status, pc.CreatedAt, pc.UpdatedAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientCase, error) {
	pc := &PatientCase{}
	err := r.db.QueryRow(ctx, `SELECT `+caseCols+` FROM patient_case WHERE id = $1`, id).
		Scan(&pc.ID, &pc.ClinicID, &pc.PatientID, &pc.Status, &pc.CreatedAt, &pc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, caseflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (r *repoPG) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	d := &Detail{}
	var (
		gender, phone      *string
		vUpdated, rUpdated *time.Time
		vitals             caseflow.Vitals
		diagnosis, therapy *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT pc.id, pc.clinic_id, pc.patient_id, pc.status, pc.created_at, pc.updated_at,
			p.first_name, p.last_name, p.gender, p.phone, p.date_of_birth,
			v.weight_kg, v.systolic_pressure, v.diastolic_pressure, v.temperature_c, v.heart_rate, v.updated_at,
			rep.diagnosis, rep.therapy, rep.updated_at
		FROM patient_case pc
		JOIN patients p ON p.id = pc.patient_id
		LEFT JOIN case_vitals v ON v.case_id = pc.id
		LEFT JOIN case_report rep ON rep.case_id = pc.id
		WHERE pc.id = $1`, id).
		Scan(
			&d.Case.ID, &d.Case.ClinicID, &d.Case.PatientID, &d.Case.Status, &d.Case.CreatedAt, &d.Case.UpdatedAt,
			&d.PatientFirstName, &d.PatientLastName, &gender, &phone, &d.PatientDOB,
			&vitals.WeightKg, &vitals.SystolicPressure, &vitals.DiastolicPressure, &vitals.TemperatureC, &vitals.HeartRate, &vUpdated,
			&diagnosis, &therapy, &rUpdated,
		)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, caseflow.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if gender != nil {
		d.PatientGender = *gender
	}
	if phone != nil {
		d.PatientPhone = *phone
	}
	if vUpdated != nil {
		d.Vitals = &VitalsRecord{CaseID: d.Case.ID, Vitals: vitals, UpdatedAt: *vUpdated}
	}
	if rUpdated != nil && diagnosis != nil && therapy != nil {
		d.Report = &ReportRecord{CaseID: d.Case.ID, Diagnosis: *diagnosis, Therapy: *therapy, UpdatedAt: *rUpdated}
	}
	return d, nil
}

func (r *repoPG) List(ctx context.Context, clinicID uuid.UUID, status caseflow.Status) ([]*SummaryRow, error) {
	query := `
		SELECT pc.id, pc.clinic_id, pc.patient_id, pc.status, pc.created_at, pc.updated_at,
			p.first_name, p.last_name
		FROM patient_case pc
		JOIN patients p ON p.id = pc.patient_id
		WHERE pc.clinic_id = $1`
	args := []interface{}{clinicID}
	if status != "" {
		query += ` AND pc.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY pc.created_at ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SummaryRow
	for rows.Next() {
		row := &SummaryRow{}
		if err := rows.Scan(
			&row.Case.ID, &row.Case.ClinicID, &row.Case.PatientID, &row.Case.Status,
			&row.Case.CreatedAt, &row.Case.UpdatedAt,
			&row.PatientFirstName, &row.PatientLastName,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status caseflow.Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE patient_case SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return caseflow.ErrNotFound
	}
	return nil
}

func (r *repoPG) UpsertVitals(ctx context.Context, caseID uuid.UUID, v caseflow.Vitals) (*caseflow.Vitals, error) {
	merged := &caseflow.Vitals{}
	err := r.db.QueryRow(ctx, `
		INSERT INTO case_vitals (case_id, weight_kg, systolic_pressure, diastolic_pressure, temperature_c, heart_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (case_id) DO UPDATE SET
			weight_kg          = COALESCE(EXCLUDED.weight_kg, case_vitals.weight_kg),
			systolic_pressure  = COALESCE(EXCLUDED.systolic_pressure, case_vitals.systolic_pressure),
			diastolic_pressure = COALESCE(EXCLUDED.diastolic_pressure, case_vitals.diastolic_pressure),
			temperature_c      = COALESCE(EXCLUDED.temperature_c, case_vitals.temperature_c),
			heart_rate         = COALESCE(EXCLUDED.heart_rate, case_vitals.heart_rate),
			updated_at         = NOW()
		RETURNING weight_kg, systolic_pressure, diastolic_pressure, temperature_c, heart_rate`,
		caseID, v.WeightKg, v.SystolicPressure, v.DiastolicPressure, v.TemperatureC, v.HeartRate).
		Scan(&merged.WeightKg, &merged.SystolicPressure, &merged.DiastolicPressure, &merged.TemperatureC, &merged.HeartRate)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *repoPG) UpsertReport(ctx context.Context, caseID uuid.UUID, diagnosis, therapy string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO case_report (case_id, diagnosis, therapy, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (case_id) DO UPDATE SET
			diagnosis  = EXCLUDED.diagnosis,
			therapy    = EXCLUDED.therapy,
			updated_at = NOW()`,
		caseID, diagnosis, therapy)
	return err
}
