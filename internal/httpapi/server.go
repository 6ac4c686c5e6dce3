// Package httpapi exposes the desk over HTTP: REST mutations and exports,
// websocket live views, and health endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"carestream.org/internal/desk"
	"carestream.org/internal/identity"
	"carestream.org/internal/obs"
)

const serviceName = "carestream-api"

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Options tune the HTTP surface.
type Options struct {
	Version       string
	CORSOrigins   []string
	RatePerSecond float64
	RateBurst     int
	BodyLimit     string
}

// API is the HTTP layer.
type API struct {
	e        *echo.Echo
	deps     desk.Deps
	verifier *identity.Verifier
	ready    ReadyProbe
	opts     Options
	log      zerolog.Logger
}

// New builds the router. Each request or websocket connection gets its own desk
// built from deps.
func New(deps desk.Deps, verifier *identity.Verifier, ready ReadyProbe, opts Options, log zerolog.Logger) *API {
	if opts.BodyLimit == "" {
		opts.BodyLimit = "1M"
	}
	a := &API{
		e:        echo.New(),
		deps:     deps,
		verifier: verifier,
		ready:    ready,
		opts:     opts,
		log:      log.With().Str("component", "httpapi").Logger(),
	}
	e := a.e
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(Recovery(a.log))
	e.Use(RequestID())
	e.Use(Logger(a.log))
	e.Use(Metrics())
	e.Use(SecurityHeaders())
	e.Use(echomw.BodyLimit(opts.BodyLimit))
	if len(opts.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		}))
	}

	e.GET("/healthz", a.Healthz)
	e.GET("/readyz", a.Ready)
	e.GET("/v1/info", a.Info)
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))
	e.GET("/v1/ws", a.Live)

	v1 := e.Group("/v1", RateLimit(opts.RatePerSecond, opts.RateBurst), a.authenticate)
	v1.POST("/register", a.Register)
	v1.GET("/session", a.Session)
	v1.GET("/patients", a.FindPatients)
	v1.POST("/patients", a.CreatePatient)
	v1.DELETE("/patients/:id", a.DeletePatient)
	v1.GET("/patients/:id/history", a.History)
	v1.POST("/appointments", a.BookAppointment)
	v1.POST("/appointments/:id/:transition", a.TransitionAppointment)
	v1.POST("/prescriptions", a.AddPrescription)
	v1.GET("/prescriptions/:id/pdf", a.ExportPrescription)
	v1.PUT("/users/:id/role", a.ChangeRole)
	return a
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler { return a.e }

// Shutdown stops the underlying echo server started with Start.
func (a *API) Shutdown(ctx context.Context) error { return a.e.Shutdown(ctx) }

// Start serves on addr until Shutdown.
func (a *API) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a.e.StartServer(srv)
}

func (a *API) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(c echo.Context) error {
	if err := a.ready.Check(c.Request().Context()); err != nil {
		obs.SetReady(false)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
	}
	obs.SetReady(true)
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
