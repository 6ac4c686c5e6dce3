package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
)

// DefaultChannel is the NOTIFY channel used for change announcements.
const DefaultChannel = "carestream_changes"

// NotifyFeed announces collection changes with pg_notify and listens on a
// dedicated connection.
type NotifyFeed struct {
	db      *sql.DB
	dsn     string
	channel string
	log     zerolog.Logger
}

var _ docstore.Feed = (*NotifyFeed)(nil)

// NewNotifyFeed announces through db and listens on a fresh connection to dsn.
func NewNotifyFeed(db *sql.DB, dsn, channel string, log zerolog.Logger) *NotifyFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &NotifyFeed{db: db, dsn: dsn, channel: channel, log: log.With().Str("component", "pgfeed").Logger()}
}

func (f *NotifyFeed) Announce(ctx context.Context, collection string) error {
	_, err := f.db.ExecContext(ctx, `select pg_notify($1, $2)`, f.channel, collection)
	return err
}

func (f *NotifyFeed) Listen(ctx context.Context, deliver func(string)) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("pgfeed: connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("pgfeed: listen: %w", err)
	}
	f.log.Info().Str("channel", f.channel).Msg("listening for changes")
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("pgfeed: wait: %w", err)
		}
		deliver(n.Payload)
	}
}
