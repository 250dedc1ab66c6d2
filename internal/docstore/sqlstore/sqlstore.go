// Package sqlstore is a docstore backend on SQLite or PostgreSQL.
//
// Documents live as JSON text in a single table keyed by collection and id.
// Every committed write also appends a row to a change log, which a tailer
// follows so that subscribers in other processes sharing the database see
// the change too.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/retroboard/internal/apperr"
	"github.com/starford/retroboard/internal/docstore"
)

// Store is a SQL-backed docstore.Store.
type Store struct {
	conn    *sql.DB
	dialect dialect
	feed    *docstore.Feed
	logger  *slog.Logger

	poll      time.Duration
	watchPath string

	// seen holds change log sequences already published, written by local
	// writes and the tailer alike.
	mu   sync.Mutex
	seen map[int64]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type options struct {
	poll      time.Duration
	fileWatch bool
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithPollInterval sets how often the change log is polled. Defaults to one
// second.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithFileWatch toggles fsnotify-driven change detection on the SQLite
// database files. It is on by default and ignored for PostgreSQL.
func WithFileWatch(on bool) Option {
	return func(o *options) { o.fileWatch = on }
}

// WithLogger sets the logger for the change tailer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{poll: time.Second, fileWatch: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OpenSQLite opens (or creates) the SQLite database at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	watchPath := ""
	if o.fileWatch {
		watchPath = path
	}
	return open(sqliteDialect, dsn, watchPath, o)
}

// OpenPostgres connects to the PostgreSQL database at url.
func OpenPostgres(url string, opts ...Option) (*Store, error) {
	return open(postgresDialect, url, "", buildOptions(opts))
}

func open(d dialect, dsn, watchPath string, o options) (*Store, error) {
	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}
	if d.name == "postgres" {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
	}
	ctx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPing()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.name, err)
	}
	for _, stmt := range d.schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
		}
	}

	s := &Store{
		conn:      conn,
		dialect:   d,
		feed:      docstore.NewFeed(),
		logger:    o.logger,
		poll:      o.poll,
		watchPath: watchPath,
		seen:      map[int64]struct{}{},
	}
	last, err := s.maxSeq(ctx)
	if err != nil {
		s.feed.Close()
		conn.Close()
		return nil, err
	}

	// The watcher is registered before Open returns so that no write made
	// after Open goes unnoticed.
	var w *fsnotify.Watcher
	if watchPath != "" {
		if w, err = watchDBFiles(watchPath); err != nil {
			o.logger.Warn("sqlstore: file watch unavailable, polling only",
				slog.String("path", watchPath), slog.String("error", err.Error()))
			w = nil
		}
	}

	tailCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tail(tailCtx, last, w)
	}()
	return s, nil
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: ping: %w", err)
	}
	return nil
}

func (s *Store) q(query string) string { return s.dialect.rebind(query) }

// Now returns the database clock where the dialect has one, else local UTC.
func (s *Store) Now() time.Time {
	return s.now(context.Background())
}

func (s *Store) now(ctx context.Context) time.Time {
	if s.dialect.nowSQL != "" {
		var t time.Time
		if err := s.conn.QueryRowContext(ctx, s.dialect.nowSQL).Scan(&t); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	var (
		version int64
		raw     string
	)
	err := s.conn.QueryRowContext(ctx,
		s.q(`SELECT version, data FROM documents WHERE collection = ? AND id = ?`),
		collection, id).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Snapshot{}, fmt.Errorf("sqlstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("sqlstore: get %s/%s: %w", collection, id, err)
	}
	doc, err := docstore.Decode([]byte(raw))
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{ID: id, Version: version, Data: doc}, nil
}

// Query pushes string equality filters down to SQL and re-checks every
// filter on the decoded documents.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, version, data FROM documents WHERE collection = ?`)
	args := []any{collection}
	for _, f := range filters {
		v, ok := f.Value.(string)
		if !ok {
			continue
		}
		b.WriteString(" AND " + s.dialect.jsonText + " = ?")
		args = append(args, s.dialect.jsonPath(f.Field), v)
	}
	b.WriteString(` ORDER BY id`)

	rows, err := s.conn.QueryContext(ctx, s.q(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", collection, err)
	}
	defer rows.Close()

	out := []docstore.Snapshot{}
	for rows.Next() {
		var (
			id      string
			version int64
			raw     string
		)
		if err := rows.Scan(&id, &version, &raw); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %s: %w", collection, err)
		}
		doc, err := docstore.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if !docstore.Matches(doc, filters) {
			continue
		}
		out = append(out, docstore.Snapshot{ID: id, Version: version, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	raw, err := docstore.Encode(doc, s.now(ctx))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO documents (collection, id, version, data) VALUES (?, ?, 1, ?)`),
			collection, id, string(raw)); err != nil {
			return err
		}
		return s.logChange(ctx, tx, collection, id, docstore.OpInsert)
	})
	if err != nil {
		return "", fmt.Errorf("sqlstore: insert %s: %w", collection, err)
	}
	s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpInsert})
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial docstore.Document, opts ...docstore.WriteOption) error {
	o := docstore.ApplyWriteOptions(opts)
	var err error
	// An unconditional merge only conflicts with a concurrent writer; retry it.
	for attempt := 0; attempt < updateRetries; attempt++ {
		err = s.update(ctx, collection, id, partial, o)
		if o.IfVersion != 0 || !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("sqlstore: update %s/%s: %w", collection, id, err)
	}
	s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpUpdate})
	return nil
}

const updateRetries = 5

func (s *Store) update(ctx context.Context, collection, id string, partial docstore.Document, o docstore.WriteOptions) error {
	now := s.now(ctx)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			version int64
			raw     string
		)
		err := tx.QueryRowContext(ctx,
			s.q(`SELECT version, data FROM documents WHERE collection = ? AND id = ?`),
			collection, id).Scan(&version, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.IfVersion != 0 && o.IfVersion != version {
			return fmt.Errorf("at v%d, stored v%d: %w", o.IfVersion, version, apperr.ErrConflict)
		}
		merged, err := docstore.Merge([]byte(raw), partial, now)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			s.q(`UPDATE documents SET version = ?, data = ? WHERE collection = ? AND id = ? AND version = ?`),
			version+1, string(merged), collection, id, version)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrConflict
		}
		return s.logChange(ctx, tx, collection, id, docstore.OpUpdate)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	deleted := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		deleted = true
		return s.logChange(ctx, tx, collection, id, docstore.OpDelete)
	})
	if err != nil {
		return fmt.Errorf("sqlstore: delete %s/%s: %w", collection, id, err)
	}
	if deleted {
		s.feed.Publish(docstore.Change{Collection: collection, ID: id, Op: docstore.OpDelete})
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, collection string) (<-chan docstore.Change, error) {
	return s.feed.Watch(ctx, collection), nil
}

// Close stops the tailer and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.feed.Close()
		err = s.conn.Close()
	})
	return err
}

// logChange appends to the change log and marks the row seen: the writer
// publishes it itself, so the tailer must not repeat it. A rolled back row
// stays marked, which is harmless since sequences are never reused.
func (s *Store) logChange(ctx context.Context, tx *sql.Tx, collection, id string, op docstore.ChangeOp) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		s.q(`INSERT INTO changes (collection, doc_id, op) VALUES (?, ?, ?) RETURNING seq`),
		collection, id, string(op)).Scan(&seq)
	if err != nil {
		return err
	}
	s.markSeen(seq)
	return nil
}

// markSeen records seq and reports whether it was new.
func (s *Store) markSeen(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[seq]; dup {
		return false
	}
	s.seen[seq] = struct{}{}
	return true
}

// forgetBefore drops marks that fell out of the tail window.
func (s *Store) forgetBefore(floor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for seq := range s.seen {
		if seq <= floor {
			delete(s.seen, seq)
		}
	}
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) maxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlstore: read change log: %w", err)
	}
	return seq.Int64, nil
}

var _ docstore.Store = (*Store)(nil)
