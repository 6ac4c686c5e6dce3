package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"google.golang.org/grpc"

	"carestream.org/internal/config"
	"carestream.org/internal/desk"
	"carestream.org/internal/httpapi"
	"carestream.org/internal/identity"
)

const healthInterval = 10 * time.Second

// HTTPModule serves the REST and websocket API and the gRPC health endpoint.
var HTTPModule = fx.Module("http",
	fx.Provide(ProvideAPI),
	fx.Provide(ProvideGRPC),
)

func ProvideAPI(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	b Build,
	deps desk.Deps,
	verifier *identity.Verifier,
	ready httpapi.ReadyProbe,
	log zerolog.Logger,
) *httpapi.API {
	api := httpapi.New(deps, verifier, ready, httpapi.Options{
		Version:       b.Version,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	}, log)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Str("version", b.Version).Msg("http server listening")
				if err := api.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server failed")
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down http server")
			return api.Shutdown(ctx)
		},
	})
	return api
}

func ProvideGRPC(lc fx.Lifecycle, cfg *config.Config, ready httpapi.ReadyProbe, log zerolog.Logger) *grpc.Server {
	health := httpapi.NewGRPCHealth(ready, log)
	srv := httpapi.NewGRPCServer(health)
	if cfg.Server.GRPCAddr == "" {
		return srv
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				cancel()
				return err
			}
			go health.Run(ctx, healthInterval)
			go func() {
				log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("grpc health listening")
				if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					log.Error().Err(err).Msg("grpc server failed")
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			srv.GracefulStop()
			return nil
		},
	})
	return srv
}
