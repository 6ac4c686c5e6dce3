// Package pg stores documents as jsonb rows in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/ids"
	"carestream.org/internal/records"
	"carestream.org/internal/stream"
)

// Store is a docstore.Client over a single documents table.
type Store struct {
	db      *sql.DB
	ids     *ids.Source
	changes *stream.Stream
	feed    docstore.Feed
	log     zerolog.Logger
}

var _ docstore.Client = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, log), nil
}

// New wraps an open database.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:      db,
		ids:     ids.NewSource(nil),
		changes: stream.New(),
		log:     log.With().Str("component", "pgstore").Logger(),
	}
}

// WithFeed makes s announce its writes on f, and lets Run deliver announcements
// from other processes.
func (s *Store) WithFeed(f docstore.Feed) *Store {
	s.feed = f
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Run relays feed announcements to local live queries until ctx ends.
func (s *Store) Run(ctx context.Context) error {
	if s.feed == nil {
		<-ctx.Done()
		return nil
	}
	return s.feed.Listen(ctx, func(collection string) {
		s.changes.Publish(stream.Change{Collection: collection})
	})
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	stmt, args := selectQuery(q)
	changes := s.changes.Subscribe(ctx, string(q.Kind))
	out := make(chan docstore.Snapshot, 1)
	go func() {
		defer close(out)
		for {
			snap := s.run(ctx, stmt, args)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if snap.Err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// selectQuery builds the statement for q. Field names travel as parameters;
// only the sort direction is spliced in.
func selectQuery(q docstore.Query) (string, []any) {
	var b strings.Builder
	args := []any{string(q.Kind)}
	b.WriteString(`select id, fields from documents where collection = $1`)
	for _, f := range q.Filters {
		if f.Field == docstore.IDField {
			args = append(args, fmt.Sprint(f.Value))
			fmt.Fprintf(&b, ` and id = $%d`, len(args))
			continue
		}
		args = append(args, f.Field, fmt.Sprint(f.Value))
		fmt.Fprintf(&b, ` and fields->>$%d = $%d`, len(args)-1, len(args))
	}
	dir := "asc"
	if q.OrderBy.Desc {
		dir = "desc"
	}
	switch q.OrderBy.Field {
	case "", docstore.IDField:
		fmt.Fprintf(&b, ` order by id collate "C" %s`, dir)
	default:
		args = append(args, q.OrderBy.Field)
		fmt.Fprintf(&b, ` order by (fields->>$%d) collate "C" %s nulls last, id collate "C" %s`, len(args), dir, dir)
	}
	return b.String(), args
}

func (s *Store) run(ctx context.Context, stmt string, args []any) docstore.Snapshot {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return docstore.Snapshot{Err: mapError(err)}
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return docstore.Snapshot{Err: err}
		}
		fields, err := decodeFields(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("doc", id).Msg("skipping undecodable document")
			continue
		}
		docs = append(docs, docstore.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return docstore.Snapshot{Err: mapError(err)}
	}
	return docstore.Snapshot{Docs: docs}
}

func (s *Store) Get(ctx context.Context, kind records.Kind, id string) (docstore.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select fields from documents where collection = $1 and id = $2`, string(kind), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, mapError(err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

func (s *Store) Create(ctx context.Context, kind records.Kind, fields map[string]any) (string, error) {
	raw, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	id := s.ids.Next()
	if _, err := s.db.ExecContext(ctx, `
		insert into documents(collection, id, fields, created_at, updated_at)
		values ($1, $2, $3, now(), now())
	`, string(kind), id, raw); err != nil {
		return "", mapError(err)
	}
	s.changed(ctx, kind, id)
	return id, nil
}

func (s *Store) Set(ctx context.Context, kind records.Kind, id string, fields map[string]any) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into documents(collection, id, fields, created_at, updated_at)
		values ($1, $2, $3, now(), now())
		on conflict (collection, id) do update
		set fields = excluded.fields, updated_at = now()
	`, string(kind), id, raw); err != nil {
		return mapError(err)
	}
	s.changed(ctx, kind, id)
	return nil
}

func (s *Store) Update(ctx context.Context, kind records.Kind, id string, fields map[string]any) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update documents set fields = fields || $3::jsonb, updated_at = now()
		where collection = $1 and id = $2
	`, string(kind), id, raw)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return docstore.ErrNotFound
	}
	s.changed(ctx, kind, id)
	return nil
}

func (s *Store) Delete(ctx context.Context, kind records.Kind, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from documents where collection = $1 and id = $2`, string(kind), id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.changed(ctx, kind, id)
	}
	return nil
}

func (s *Store) changed(ctx context.Context, kind records.Kind, id string) {
	s.changes.Publish(stream.Change{Collection: string(kind), DocID: id})
	if s.feed == nil {
		return
	}
	if err := s.feed.Announce(ctx, string(kind)); err != nil {
		s.log.Warn().Err(err).Str("collection", string(kind)).Msg("change announcement failed")
	}
}

func encodeFields(fields map[string]any) ([]byte, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == docstore.IDField {
			continue
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return raw, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// insufficient_privilege, raised by row-level security policies.
const codeInsufficientPrivilege = "42501"

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeInsufficientPrivilege {
		return fmt.Errorf("%w: %s", docstore.ErrRejected, pgErr.Message)
	}
	return err
}
