package records

import "strings"

// FilterPatients keeps the patients whose name contains query, ignoring case.
// An empty query returns the input unchanged. Order is preserved.
func FilterPatients(patients []Patient, query string) []Patient {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return patients
	}
	out := make([]Patient, 0, len(patients))
	for _, p := range patients {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}
