// Package redisfeed carries collection change announcements over Redis pub/sub
// so processes sharing a database see each other's writes.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "carestream:changes"

// Config selects the Redis server.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Channel      string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient dials Redis and verifies it with a ping.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Feed is a docstore.Feed over one pub/sub channel.
type Feed struct {
	rdb     *goredis.Client
	channel string
	log     zerolog.Logger
}

var _ docstore.Feed = (*Feed)(nil)

func New(rdb *goredis.Client, channel string, log zerolog.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{rdb: rdb, channel: channel, log: log.With().Str("component", "redisfeed").Logger()}
}

func (f *Feed) Announce(ctx context.Context, collection string) error {
	return f.rdb.Publish(ctx, f.channel, collection).Err()
}

func (f *Feed) Listen(ctx context.Context, deliver func(string)) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redisfeed: subscribe %s: %w", f.channel, err)
	}
	f.log.Info().Str("channel", f.channel).Msg("listening for changes")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redisfeed: subscription closed")
			}
			deliver(msg.Payload)
		}
	}
}
