package caseflow

import "strings"

// Role is a staff role as issued in the access token.
type Role string

const (
	RoleNurse       Role = "Nurse"
	RoleDoctor      Role = "Doctor"
	RoleClinicAdmin Role = "ClinicAdmin"
	RoleSuperAdmin  Role = "SuperAdmin"
)

// Capability is a mutation right derived from a role.
type Capability string

const (
	// CapEditVitals allows submitting vitals snapshots for an open case.
	CapEditVitals Capability = "EditVitals"
	// CapEditReport allows submitting the medical report and advancing the
	// case status.
	CapEditReport Capability = "EditReport"
)

// CapabilitySet is the set of capabilities a role grants.
type CapabilitySet map[Capability]struct{}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// ParseRole normalizes a raw role string case-insensitively. The backend has
// been observed emitting both "nurse" and "Nurse"; unknown roles are kept
// verbatim and grant no capabilities.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "nurse":
		return RoleNurse
	case "doctor":
		return RoleDoctor
	case "clinicadmin":
		return RoleClinicAdmin
	case "superadmin":
		return RoleSuperAdmin
	}
	return Role(raw)
}

// Capabilities returns the mutation rights for the role. SuperAdmin holds
// both nurse and doctor capabilities so a single account can exercise the
// full workflow. Every other role, ClinicAdmin included, is read-only.
func (r Role) Capabilities() CapabilitySet {
	switch r {
	case RoleNurse:
		return CapabilitySet{CapEditVitals: {}}
	case RoleDoctor:
		return CapabilitySet{CapEditReport: {}}
	case RoleSuperAdmin:
		return CapabilitySet{CapEditVitals: {}, CapEditReport: {}}
	}
	return CapabilitySet{}
}
