package caseflow

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// The backend emits DTO field names in two casing conventions for the same
// logical field (weightKg on some paths, WeightKg on others). Every DTO in
// this file normalizes to canonical camelCase at unmarshal time so nothing
// above the repository-client boundary ever sees the dual shape. When both
// casings are present the camelCase value wins.

// Vitals is a point-in-time measurement snapshot. Every field is optional;
// a submission may update any subset of fields.
type Vitals struct {
	WeightKg          *float64 `json:"weightKg,omitempty"`
	SystolicPressure  *int     `json:"systolicPressure,omitempty"`
	DiastolicPressure *int     `json:"diastolicPressure,omitempty"`
	TemperatureC      *float64 `json:"temperatureC,omitempty"`
	HeartRate         *int     `json:"heartRate,omitempty"`
}

// Validate rejects out-of-range measurements. Temperature has no lower bound
// check because the Celsius scale is signed.
func (v *Vitals) Validate() error {
	if v.WeightKg != nil && *v.WeightKg < 0 {
		return &ValidationError{Field: "weightKg", Reason: "must be non-negative"}
	}
	if v.SystolicPressure != nil && *v.SystolicPressure < 0 {
		return &ValidationError{Field: "systolicPressure", Reason: "must be non-negative"}
	}
	if v.DiastolicPressure != nil && *v.DiastolicPressure < 0 {
		return &ValidationError{Field: "diastolicPressure", Reason: "must be non-negative"}
	}
	if v.HeartRate != nil && *v.HeartRate < 0 {
		return &ValidationError{Field: "heartRate", Reason: "must be non-negative"}
	}
	return nil
}

// IsEmpty reports whether no field is set.
func (v *Vitals) IsEmpty() bool {
	return v.WeightKg == nil && v.SystolicPressure == nil &&
		v.DiastolicPressure == nil && v.TemperatureC == nil && v.HeartRate == nil
}

// Apply overlays the set fields of p onto v. Unset fields of p keep their
// current value in v, matching the partial-overwrite submission semantics.
func (v *Vitals) Apply(p Vitals) {
	if p.WeightKg != nil {
		v.WeightKg = p.WeightKg
	}
	if p.SystolicPressure != nil {
		v.SystolicPressure = p.SystolicPressure
	}
	if p.DiastolicPressure != nil {
		v.DiastolicPressure = p.DiastolicPressure
	}
	if p.TemperatureC != nil {
		v.TemperatureC = p.TemperatureC
	}
	if p.HeartRate != nil {
		v.HeartRate = p.HeartRate
	}
}

func (v *Vitals) UnmarshalJSON(data []byte) error {
	type alias Vitals
	var a alias
	if err := unmarshalNormalized(data, &a); err != nil {
		return err
	}
	*v = Vitals(a)
	return nil
}

// Report is the diagnosis/therapy record a doctor authors for a case.
type Report struct {
	Diagnosis string `json:"diagnosis"`
	Therapy   string `json:"therapy"`
}

// Validate requires both fields non-empty after trimming.
func (r *Report) Validate() error {
	if strings.TrimSpace(r.Diagnosis) == "" {
		return &ValidationError{Field: "diagnosis", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.Therapy) == "" {
		return &ValidationError{Field: "therapy", Reason: "must not be empty"}
	}
	return nil
}

// Trimmed returns a copy with surrounding whitespace removed from both
// fields, the shape actually submitted to the backend.
func (r Report) Trimmed() Report {
	return Report{
		Diagnosis: strings.TrimSpace(r.Diagnosis),
		Therapy:   strings.TrimSpace(r.Therapy),
	}
}

func (r *Report) UnmarshalJSON(data []byte) error {
	type alias Report
	var a alias
	if err := unmarshalNormalized(data, &a); err != nil {
		return err
	}
	*r = Report(a)
	return nil
}

// Patient is the patient reference embedded in a case detail.
type Patient struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Gender      string     `json:"gender,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
}

func (p *Patient) UnmarshalJSON(data []byte) error {
	type alias Patient
	var a alias
	if err := unmarshalNormalized(data, &a); err != nil {
		return err
	}
	*p = Patient(a)
	return nil
}

// CaseSummary is one row of the case list.
type CaseSummary struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patientId"`
	PatientFirstName string    `json:"patientFirstName"`
	PatientLastName  string    `json:"patientLastName"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (c *CaseSummary) UnmarshalJSON(data []byte) error {
	type alias CaseSummary
	var a alias
	if err := unmarshalNormalized(data, &a); err != nil {
		return err
	}
	*c = CaseSummary(a)
	return nil
}

// CaseDetail is the full view of a single visit: the case row plus its
// patient, latest vitals snapshot and active medical report.
type CaseDetail struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Patient       Patient   `json:"patient"`
	LatestVitals  *Vitals   `json:"latestVitals,omitempty"`
	MedicalReport *Report   `json:"medicalReport,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c *CaseDetail) UnmarshalJSON(data []byte) error {
	type alias CaseDetail
	var a alias
	if err := unmarshalNormalized(data, &a); err != nil {
		return err
	}
	*c = CaseDetail(a)
	return nil
}

// unmarshalNormalized decodes data after folding PascalCase keys down to
// camelCase. Keys that already start lowercase win over their PascalCase
// twin. Nested objects are handled by the nested types' own unmarshalers.
func unmarshalNormalized(data []byte, out interface{}) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	norm := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if k != "" && !startsUpper(k) {
			norm[k] = v
		}
	}
	for k, v := range raw {
		if k == "" || !startsUpper(k) {
			continue
		}
		folded := lowerFirst(k)
		if _, ok := norm[folded]; !ok {
			norm[folded] = v
		}
	}

	buf, err := json.Marshal(norm)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
