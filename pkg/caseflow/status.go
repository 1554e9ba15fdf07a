// Package caseflow defines the shared vocabulary of the patient-case visit
// workflow: the case status state machine, the role/capability model, the
// canonical DTO shapes exchanged with the backend, and the error taxonomy.
// Both the dashboard-side packages (caseclient, realtime, workflow) and the
// server-side patientcase domain build on this package so the transition
// table and permission rules live in exactly one place.
package caseflow

import "fmt"

// Status is the visit status of a patient case.
type Status string

const (
	StatusWaiting        Status = "Waiting"
	StatusInProgress     Status = "InProgress"
	StatusInConsultation Status = "InConsultation"
	StatusCompleted      Status = "Completed"
	StatusFinished       Status = "Finished"
)

// statusFlow is the strict forward transition table. Each status has at most
// one allowed successor; Finished has none and is terminal.
var statusFlow = map[Status]Status{
	StatusWaiting:        StatusInProgress,
	StatusInProgress:     StatusInConsultation,
	StatusInConsultation: StatusCompleted,
	StatusCompleted:      StatusFinished,
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusWaiting, StatusInProgress, StatusInConsultation, StatusCompleted, StatusFinished:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown case status %q", s)
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Next returns the single allowed successor status. ok is false when s is
// terminal (or unknown).
func (s Status) Next() (next Status, ok bool) {
	next, ok = statusFlow[s]
	return next, ok
}

// Terminal reports whether the case is in its final state. A terminal case
// is read-only for vitals and report submission.
func (s Status) Terminal() bool {
	return s == StatusFinished
}

// CanAdvanceTo reports whether target is exactly the single allowed next
// status from s. Transitions never skip steps and never regress.
func (s Status) CanAdvanceTo(target Status) bool {
	next, ok := statusFlow[s]
	return ok && next == target
}
