package records

// Fields converts a record into the untyped field map written to the store.
// The id is never part of the field map; stores key documents separately.
func Fields(r Record) map[string]any {
	switch v := r.(type) {
	case User:
		return map[string]any{
			"name":  v.Name,
			"email": v.Email,
			"role":  string(v.Role),
		}
	case Patient:
		return map[string]any{
			"name":       v.Name,
			"age":        v.Age,
			"gender":     v.Gender,
			"bloodGroup": v.BloodGroup,
			"phone":      v.Phone,
			"address":    v.Address,
			"history":    v.History,
			"createdAt":  FormatTime(v.CreatedAt),
		}
	case Appointment:
		return map[string]any{
			"patientId":  v.PatientID,
			"doctorName": v.DoctorName,
			"date":       v.Date,
			"time":       v.Time,
			"reason":     v.Reason,
			"status":     string(v.Status),
			"createdAt":  FormatTime(v.CreatedAt),
		}
	case Prescription:
		meds := make([]any, 0, len(v.Medicines))
		for _, m := range v.Medicines {
			meds = append(meds, map[string]any{
				"name":   m.Name,
				"dosage": m.Dosage,
				"notes":  m.Notes,
			})
		}
		return map[string]any{
			"patientId": v.PatientID,
			"medicines": meds,
			"date":      v.Date,
			"createdAt": FormatTime(v.CreatedAt),
		}
	}
	return map[string]any{}
}
