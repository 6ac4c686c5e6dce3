// Package app assembles the service from its parts with fx.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"carestream.org/internal/authz"
	"carestream.org/internal/config"
	"carestream.org/internal/docstore"
	"carestream.org/internal/httpapi"
	"carestream.org/internal/identity"
	"carestream.org/internal/obs"
	"carestream.org/internal/store/pg"
	"carestream.org/internal/store/redisfeed"
)

// ServiceName identifies the API process in logs, traces and health checks.
const ServiceName = "carestream-api"

// Build carries the version stamped into the binary.
type Build struct {
	Version string
	Commit  string
}

// InfraModule provides logging, tracing, the document store and the identity verifier.
var InfraModule = fx.Module("infra",
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideStore),
	fx.Provide(ProvideGate),
	fx.Provide(ProvideVerifier),
	fx.Invoke(StartTracing),
)

func ProvideLogger(cfg *config.Config, b Build) zerolog.Logger {
	return obs.NewLogger(cfg.Log(), ServiceName, b.Version, cfg.Server.Env)
}

// StoreOut is the store together with the readiness probe that pings it.
type StoreOut struct {
	fx.Out

	Client docstore.Client
	Ready  httpapi.ReadyProbe
}

func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (StoreOut, error) {
	if cfg.Store.Backend == config.BackendMemory {
		if cfg.Feed.Backend != "" {
			log.Warn().Str("feed", cfg.Feed.Backend).Msg("change feed ignored by the in-memory store")
		}
		log.Info().Msg("using in-memory document store")
		return StoreOut{Client: docstore.NewInMemory()}, nil
	}

	st, err := pg.Open(cfg.Store.DSN, log)
	if err != nil {
		return StoreOut{}, fmt.Errorf("open store: %w", err)
	}
	if cfg.Store.MaxOpenConns > 0 {
		st.DB().SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}

	closeFeed, err := attachFeed(context.Background(), cfg, st, log)
	if err != nil {
		_ = st.Close()
		return StoreOut{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := st.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("change feed stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			log.Debug().Msg("closing document store")
			return errors.Join(closeFeed(), st.Close())
		},
	})
	return StoreOut{Client: st, Ready: httpapi.ReadyProbe{Ping: st.Ping}}, nil
}

// attachFeed wires the configured cross-process change feed into st.
func attachFeed(ctx context.Context, cfg *config.Config, st *pg.Store, log zerolog.Logger) (func() error, error) {
	noop := func() error { return nil }
	switch cfg.Feed.Backend {
	case config.BackendPostgres:
		st.WithFeed(pg.NewNotifyFeed(st.DB(), cfg.Store.DSN, cfg.Feed.Channel, log))
		log.Info().Str("channel", cfg.Feed.Channel).Msg("using postgres change feed")
		return noop, nil
	case config.BackendRedis:
		rdb, err := redisfeed.NewClient(ctx, cfg.RedisFeed())
		if err != nil {
			return nil, fmt.Errorf("redis feed: %w", err)
		}
		st.WithFeed(redisfeed.New(rdb, cfg.Feed.Channel, log))
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Feed.Channel).Msg("using redis change feed")
		return rdb.Close, nil
	}
	return noop, nil
}

func ProvideGate() (*authz.Gate, error) {
	return authz.NewGate()
}

// ProvideVerifier returns nil in development when no secret is configured;
// authenticated routes then answer 503.
func ProvideVerifier(cfg *config.Config, log zerolog.Logger) (*identity.Verifier, error) {
	if cfg.Identity.Secret == "" && cfg.IsDev() {
		log.Warn().Msg("identity.secret not set; authenticated routes are disabled")
		return nil, nil
	}
	return identity.NewVerifier(cfg.Identity.Secret, cfg.Identity.Issuer)
}

func StartTracing(lc fx.Lifecycle, cfg *config.Config, b Build, log zerolog.Logger) error {
	shutdown, err := obs.InitTracing(context.Background(), cfg.Trace(), ServiceName, b.Version, cfg.Server.Env)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Debug().Msg("flushing traces")
			return shutdown(ctx)
		},
	})
	return nil
}
