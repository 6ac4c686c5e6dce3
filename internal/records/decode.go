package records

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrMalformed is returned when a stored document cannot be converted to its record type.
var ErrMalformed = errors.New("records: malformed document")

var timeType = reflect.TypeOf(time.Time{})

// Decode converts an untyped store document into the typed record for kind.
// Missing fields take their zero value; an absent or unknown role decodes as
// RolePatient and an absent appointment status decodes as StatusPending.
func Decode(kind Kind, id string, fields map[string]any) (Record, error) {
	switch kind {
	case KindUser:
		var u User
		if err := decodeInto(fields, &u); err != nil {
			return nil, err
		}
		u.ID = id
		if role, ok := ParseRole(string(u.Role)); ok {
			u.Role = role
		} else {
			u.Role = RolePatient
		}
		return u, nil
	case KindPatient:
		var p Patient
		if err := decodeInto(fields, &p); err != nil {
			return nil, err
		}
		p.ID = id
		return p, nil
	case KindAppointment:
		var a Appointment
		if err := decodeInto(fields, &a); err != nil {
			return nil, err
		}
		a.ID = id
		if a.Status == "" {
			a.Status = StatusPending
		}
		if !a.Status.Valid() {
			return nil, fmt.Errorf("%w: appointment %s has status %q", ErrMalformed, id, a.Status)
		}
		return a, nil
	case KindPrescription:
		var p Prescription
		if err := decodeInto(fields, &p); err != nil {
			return nil, err
		}
		p.ID = id
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
}

func decodeInto(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncType(timeHook),
	})
	if err != nil {
		return err
	}
	// The id lives outside the field map; drop a stray copy so it cannot shadow the key.
	in := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		in[k] = v
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func timeHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		return ParseTime(v)
	}
	return data, nil
}

// ParseTime accepts TimeLayout and RFC 3339 timestamps; the empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, s)
	}
	return t.UTC(), nil
}
