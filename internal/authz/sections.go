package authz

import "carestream.org/internal/records"

// Section is a navigable area of the front-desk dashboard.
type Section string

const (
	SectionOverview     Section = "overview"
	SectionPatients     Section = "patients"
	SectionAppointments Section = "appointments"
	SectionAdmin        Section = "admin-panel"
)

var sectionRoles = []struct {
	section Section
	roles   []records.Role
}{
	{SectionOverview, records.Roles},
	{SectionPatients, []records.Role{records.RoleDoctor, records.RoleReceptionist, records.RoleAdmin}},
	{SectionAppointments, records.Roles},
	{SectionAdmin, []records.Role{records.RoleAdmin}},
}

// Sections returns the dashboard sections visible to role, in menu order.
func Sections(role records.Role) []Section {
	var out []Section
	for _, s := range sectionRoles {
		for _, r := range s.roles {
			if r == role {
				out = append(out, s.section)
				break
			}
		}
	}
	return out
}
