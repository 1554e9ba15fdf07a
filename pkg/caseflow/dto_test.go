package caseflow

import (
	"encoding/json"
	"testing"
)

func TestVitalsUnmarshal_CamelCase(t *testing.T) {
	data := []byte(`{"weightKg": 70.5, "systolicPressure": 120, "diastolicPressure": 80, "temperatureC": 36.6, "heartRate": 72}`)

	var v Vitals
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.WeightKg == nil || *v.WeightKg != 70.5 {
		t.Errorf("weightKg not parsed: %+v", v)
	}
	if v.HeartRate == nil || *v.HeartRate != 72 {
		t.Errorf("heartRate not parsed: %+v", v)
	}
}

func TestVitalsUnmarshal_PascalCase(t *testing.T) {
	data := []byte(`{"WeightKg": 70.5, "SystolicPressure": 120, "DiastolicPressure": 80, "TemperatureC": 36.6, "HeartRate": 72}`)

	var v Vitals
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.WeightKg == nil || *v.WeightKg != 70.5 {
		t.Errorf("WeightKg not normalized: %+v", v)
	}
	if v.SystolicPressure == nil || *v.SystolicPressure != 120 {
		t.Errorf("SystolicPressure not normalized: %+v", v)
	}
}

func TestVitalsUnmarshal_CamelCaseWins(t *testing.T) {
	data := []byte(`{"heartRate": 72, "HeartRate": 99}`)

	var v Vitals
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.HeartRate == nil || *v.HeartRate != 72 {
		t.Errorf("expected camelCase value 72 to win, got %+v", v.HeartRate)
	}
}

func TestVitalsValidate(t *testing.T) {
	neg := -1
	v := Vitals{HeartRate: &neg}
	err := v.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative heart rate")
	}
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	ok := 72
	v = Vitals{HeartRate: &ok}
	if err := v.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Sub-zero temperature is acceptable.
	cold := -2.0
	v = Vitals{TemperatureC: &cold}
	if err := v.Validate(); err != nil {
		t.Fatalf("unexpected error for negative temperature: %v", err)
	}
}

func TestVitalsApply_PartialOverwrite(t *testing.T) {
	w := 70.0
	hr := 80
	base := Vitals{WeightKg: &w, HeartRate: &hr}

	newHR := 90
	base.Apply(Vitals{HeartRate: &newHR})

	if *base.HeartRate != 90 {
		t.Errorf("expected heart rate 90, got %d", *base.HeartRate)
	}
	if base.WeightKg == nil || *base.WeightKg != 70.0 {
		t.Error("unset fields must keep their previous value")
	}
}

func TestReportValidate(t *testing.T) {
	tests := []struct {
		diagnosis string
		therapy   string
		wantErr   bool
	}{
		{"Flu", "Rest and fluids", false},
		{"", "x", true},
		{"x", "", true},
		{"", "", true},
		{"   ", "x", true},
	}

	for _, tt := range tests {
		r := Report{Diagnosis: tt.diagnosis, Therapy: tt.therapy}
		err := r.Validate()
		if tt.wantErr && err == nil {
			t.Errorf("Report{%q, %q}: expected error", tt.diagnosis, tt.therapy)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Report{%q, %q}: unexpected error %v", tt.diagnosis, tt.therapy, err)
		}
		if tt.wantErr && err != nil && !IsValidation(err) {
			t.Errorf("Report{%q, %q}: expected ValidationError, got %T", tt.diagnosis, tt.therapy, err)
		}
	}
}

func TestReportTrimmed(t *testing.T) {
	r := Report{Diagnosis: "  Flu ", Therapy: " Rest\n"}
	got := r.Trimmed()
	if got.Diagnosis != "Flu" || got.Therapy != "Rest" {
		t.Errorf("unexpected trim result: %+v", got)
	}
}

func TestCaseDetailUnmarshal_MixedCasing(t *testing.T) {
	data := []byte(`{
		"Id": "case-1",
		"Status": "InProgress",
		"Patient": {"FirstName": "Ana", "lastName": "Petrov", "Phone": "061234"},
		"LatestVitals": {"WeightKg": 64, "heartRate": 68},
		"medicalReport": {"Diagnosis": "Flu", "Therapy": "Rest"}
	}`)

	var d CaseDetail
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID != "case-1" {
		t.Errorf("expected id case-1, got %q", d.ID)
	}
	if d.Status != StatusInProgress {
		t.Errorf("expected InProgress, got %s", d.Status)
	}
	if d.Patient.FirstName != "Ana" || d.Patient.LastName != "Petrov" {
		t.Errorf("patient not normalized: %+v", d.Patient)
	}
	if d.LatestVitals == nil || d.LatestVitals.WeightKg == nil || *d.LatestVitals.WeightKg != 64 {
		t.Errorf("nested vitals not normalized: %+v", d.LatestVitals)
	}
	if d.MedicalReport == nil || d.MedicalReport.Diagnosis != "Flu" {
		t.Errorf("nested report not normalized: %+v", d.MedicalReport)
	}
}

func TestCaseSummaryUnmarshal(t *testing.T) {
	data := []byte(`{"id": "c1", "PatientFirstName": "Ana", "patientLastName": "Petrov", "Status": "Waiting", "createdAt": "2026-02-11T09:30:00Z"}`)

	var s CaseSummary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PatientFirstName != "Ana" || s.PatientLastName != "Petrov" {
		t.Errorf("names not normalized: %+v", s)
	}
	if s.Status != StatusWaiting {
		t.Errorf("expected Waiting, got %s", s.Status)
	}
	if s.CreatedAt.IsZero() {
		t.Error("createdAt not parsed")
	}
}
