package patientcase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/hub"
	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

// Service owns the visit workflow rules: the forward-only status machine,
// the terminal-case write lock, and submission validation. Every accepted
// mutation is pushed to the clinic and case rooms so open dashboards
// converge without polling.
type Service struct {
	repo Repository
	pub  hub.Publisher
	log  zerolog.Logger
}

func NewService(repo Repository, pub hub.Publisher, log zerolog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log}
}

// CreateCase opens a new visit for a patient. Cases always start Waiting.
func (s *Service) CreateCase(ctx context.Context, clinicID, patientID uuid.UUID) (*caseflow.CaseDetail, error) {
	pc := &PatientCase{
		ClinicID:  clinicID,
		PatientID: patientID,
		Status:    caseflow.StatusWaiting,
	}
	if err := s.repo.Create(ctx, pc); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	detail, err := s.repo.GetDetail(ctx, pc.ID)
	if err != nil {
		return nil, err
	}
	return detail.ToDTO(), nil
}

// ListCases returns the clinic's cases, oldest first. An empty status means
// no filter.
func (s *Service) ListCases(ctx context.Context, clinicID uuid.UUID, status caseflow.Status) ([]caseflow.CaseSummary, error) {
	if status != "" && !status.Valid() {
		return nil, &caseflow.ValidationError{Field: "status", Reason: "unknown status"}
	}
	rows, err := s.repo.List(ctx, clinicID, status)
	if err != nil {
		return nil, err
	}
	out := make([]caseflow.CaseSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToDTO())
	}
	return out, nil
}

// GetCase returns the full detail view of one case. Cases outside the
// caller's clinic are indistinguishable from missing ones.
func (s *Service) GetCase(ctx context.Context, clinicID, id uuid.UUID) (*caseflow.CaseDetail, error) {
	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Case.ClinicID != clinicID {
		return nil, caseflow.ErrNotFound
	}
	return detail.ToDTO(), nil
}

// getScoped loads a case and hides it behind ErrNotFound when it belongs to
// another clinic.
func (s *Service) getScoped(ctx context.Context, clinicID, caseID uuid.UUID) (*PatientCase, error) {
	pc, err := s.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if pc.ClinicID != clinicID {
		return nil, caseflow.ErrNotFound
	}
	return pc, nil
}

// SubmitVitals merges a vitals snapshot into the case and returns the merged
// row. Finished cases reject the write.
func (s *Service) SubmitVitals(ctx context.Context, clinicID, caseID uuid.UUID, v caseflow.Vitals) (*caseflow.Vitals, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.IsEmpty() {
		return nil, &caseflow.ValidationError{Field: "vitals", Reason: "at least one measurement is required"}
	}

	pc, err := s.getScoped(ctx, clinicID, caseID)
	if err != nil {
		return nil, err
	}
	if pc.Status.Terminal() {
		return nil, caseflow.ErrCaseFinished
	}

	merged, err := s.repo.UpsertVitals(ctx, caseID, v)
	if err != nil {
		return nil, fmt.Errorf("upsert vitals: %w", err)
	}

	s.publish(ctx, pc, hub.EventVitalsUpdated, merged)
	return merged, nil
}

// SubmitReport replaces the case's medical report. Finished cases reject the
// write.
func (s *Service) SubmitReport(ctx context.Context, clinicID, caseID uuid.UUID, report caseflow.Report) (*caseflow.Report, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	report = report.Trimmed()

	pc, err := s.getScoped(ctx, clinicID, caseID)
	if err != nil {
		return nil, err
	}
	if pc.Status.Terminal() {
		return nil, caseflow.ErrCaseFinished
	}

	if err := s.repo.UpsertReport(ctx, caseID, report.Diagnosis, report.Therapy); err != nil {
		return nil, fmt.Errorf("upsert report: %w", err)
	}

	s.publish(ctx, pc, hub.EventReportUpdated, report)
	return &report, nil
}

// AdvanceStatus moves the case to target, which must be exactly the next
// status in the workflow.
func (s *Service) AdvanceStatus(ctx context.Context, clinicID, caseID uuid.UUID, target caseflow.Status) (caseflow.Status, error) {
	if !target.Valid() {
		return "", &caseflow.ValidationError{Field: "status", Reason: "unknown status"}
	}

	pc, err := s.getScoped(ctx, clinicID, caseID)
	if err != nil {
		return "", err
	}
	if !pc.Status.CanAdvanceTo(target) {
		return "", &caseflow.TransitionError{From: pc.Status, To: target}
	}

	if err := s.repo.UpdateStatus(ctx, caseID, target); err != nil {
		return "", fmt.Errorf("update status: %w", err)
	}

	s.publish(ctx, pc, hub.EventCaseStatusChanged, string(target))
	return target, nil
}

// publish pushes an event to the case room and the clinic room. Fan-out
// failures are logged, never surfaced: the mutation already committed.
func (s *Service) publish(ctx context.Context, pc *PatientCase, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", name).Msg("marshal event payload")
		return
	}
	event := hub.Event{Event: name, CaseID: pc.ID.String(), Data: data}
	for _, room := range []string{hub.CaseRoom(pc.ID.String()), hub.ClinicRoom(pc.ClinicID.String())} {
		if err := s.pub.Publish(ctx, room, event); err != nil {
			s.log.Error().Err(err).Str("room", room).Str("event", name).Msg("publish event")
		}
	}
}
