package app

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"carestream.org/internal/audit"
	"carestream.org/internal/authz"
	"carestream.org/internal/config"
	"carestream.org/internal/desk"
	"carestream.org/internal/docstore"
	"carestream.org/internal/export"
)

// ServiceModule provides what every desk is built from.
var ServiceModule = fx.Module("service",
	fx.Provide(ProvideRenderer),
	fx.Provide(ProvideAudit),
	fx.Provide(ProvideDeskDeps),
)

func ProvideRenderer() export.Renderer { return export.NewPDF() }

func ProvideAudit(log zerolog.Logger) *audit.Logger { return audit.New(log) }

func ProvideDeskDeps(
	cfg *config.Config,
	store docstore.Client,
	gate *authz.Gate,
	renderer export.Renderer,
	auditLog *audit.Logger,
	log zerolog.Logger,
) desk.Deps {
	return desk.Deps{
		Store:       store,
		Gate:        gate,
		Renderer:    renderer,
		Audit:       auditLog,
		Log:         log,
		PhoneRegion: cfg.Records.PhoneRegion,
	}
}
