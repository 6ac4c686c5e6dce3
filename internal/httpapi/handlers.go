package httpapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"carestream.org/internal/authz"
	"carestream.org/internal/lifecycle"
	"carestream.org/internal/linkage"
	"carestream.org/internal/records"
)

type sessionResponse struct {
	IdentityID string          `json:"identityId"`
	Name       string          `json:"name"`
	Role       records.Role    `json:"role"`
	Degraded   bool            `json:"degraded"`
	Sections   []authz.Section `json:"sections"`
}

func (a *API) Session(c echo.Context) error {
	d := deskFrom(c)
	s, err := d.Session().Require()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{
		IdentityID: s.IdentityID,
		Name:       s.DisplayName(),
		Role:       s.Role,
		Degraded:   s.Degraded(),
		Sections:   authz.Sections(s.Role),
	})
}

type registerRequest struct {
	Name string       `json:"name"`
	Role records.Role `json:"role"`
}

func (a *API) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	claims := claimsFrom(c)
	u, err := deskFrom(c).Register(c.Request().Context(), claims.Subject, req.Name, claims.Email, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (a *API) FindPatients(c echo.Context) error {
	patients, err := deskFrom(c).FindPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"patients": patients})
}

type createPatientRequest struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	BloodGroup string `json:"bloodGroup"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	History    string `json:"history"`
}

func (a *API) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	id, err := deskFrom(c).CreatePatient(c.Request().Context(), records.Patient{
		Name:       req.Name,
		Age:        req.Age,
		Gender:     req.Gender,
		BloodGroup: req.BloodGroup,
		Phone:      req.Phone,
		Address:    req.Address,
		History:    req.History,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (a *API) DeletePatient(c echo.Context) error {
	if err := deskFrom(c).DeletePatient(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type historyEntry struct {
	Prescription records.Prescription `json:"prescription"`
	PatientName  string               `json:"patientName"`
	Resolved     bool                 `json:"resolved"`
}

func (a *API) History(c echo.Context) error {
	entries, err := deskFrom(c).History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		out[i] = historyEntry{Prescription: e.Prescription, PatientName: e.Patient.Name(), Resolved: e.Patient.Resolved}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": out})
}

type bookAppointmentRequest struct {
	PatientID  string `json:"patientId"`
	DoctorName string `json:"doctorName"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Reason     string `json:"reason"`
}

func (a *API) BookAppointment(c echo.Context) error {
	var req bookAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	id, err := deskFrom(c).BookAppointment(c.Request().Context(), records.Appointment{
		PatientID:  req.PatientID,
		DoctorName: req.DoctorName,
		Date:       req.Date,
		Time:       req.Time,
		Reason:     req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (a *API) TransitionAppointment(c echo.Context) error {
	t, err := lifecycle.ParseTransition(c.Param("transition"))
	if err != nil {
		return err
	}
	d := deskFrom(c)
	id := c.Param("id")
	var status records.Status
	switch t {
	case lifecycle.Confirm:
		status, err = d.ConfirmAppointment(c.Request().Context(), id)
	case lifecycle.Cancel:
		status, err = d.CancelAppointment(c.Request().Context(), id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": status})
}

type addPrescriptionRequest struct {
	PatientID string             `json:"patientId"`
	Medicines []records.Medicine `json:"medicines"`
}

func (a *API) AddPrescription(c echo.Context) error {
	var req addPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	id, err := deskFrom(c).AddPrescription(c.Request().Context(), req.PatientID, req.Medicines)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (a *API) ExportPrescription(c echo.Context) error {
	doc, err := deskFrom(c).ExportPrescription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return c.Blob(http.StatusOK, doc.ContentType, doc.Body)
}

type changeRoleRequest struct {
	Role records.Role `json:"role"`
}

func (a *API) ChangeRole(c echo.Context) error {
	var req changeRoleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Role == "" {
		return fmt.Errorf("%w: role is required", linkage.ErrInvalid)
	}
	if err := deskFrom(c).ChangeRole(c.Request().Context(), c.Param("id"), req.Role); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
