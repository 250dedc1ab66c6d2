package sqlstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/retroboard/internal/docstore"
)

const (
	// tailWindow is how far behind the newest seen sequence the tailer
	// re-reads, so rows committed out of sequence order are not skipped.
	tailWindow = 256
	tailBatch  = 500
	// keepChanges is how many change log rows survive a prune.
	keepChanges   = 10000
	pruneInterval = 5 * time.Minute
)

// tail follows the change log and republishes rows on the local feed until
// ctx is cancelled. It wakes on every poll tick and, for SQLite, whenever
// the database files change on disk.
func (s *Store) tail(ctx context.Context, last int64, w *fsnotify.Watcher) {
	var fileEvents <-chan fsnotify.Event
	var fileErrors <-chan error
	if w != nil {
		defer w.Close()
		fileEvents, fileErrors = w.Events, w.Errors
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	base := filepath.Base(s.watchPath)
	s.prime(ctx, last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case ev, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			s.logger.Warn("sqlstore: file watch error", slog.String("error", err.Error()))
			continue
		case <-prune.C:
			s.prune(ctx)
			continue
		}
		last = s.drain(ctx, last)
	}
}

// drain publishes every unseen change newer than last-tailWindow and returns
// the new high-water mark. Rows this process wrote are already marked seen.
func (s *Store) drain(ctx context.Context, last int64) int64 {
	for {
		from := last - tailWindow
		rows, err := s.conn.QueryContext(ctx,
			s.q(`SELECT seq, collection, doc_id, op FROM changes WHERE seq > ? ORDER BY seq LIMIT ?`),
			from, tailBatch)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("sqlstore: read change log", slog.String("error", err.Error()))
			}
			return last
		}
		n := 0
		for rows.Next() {
			var (
				seq int64
				c   docstore.Change
				op  string
			)
			if err := rows.Scan(&seq, &c.Collection, &c.ID, &op); err != nil {
				s.logger.Warn("sqlstore: scan change", slog.String("error", err.Error()))
				break
			}
			n++
			if seq > last {
				last = seq
			}
			if !s.markSeen(seq) {
				continue
			}
			c.Op = docstore.ChangeOp(op)
			s.feed.Publish(c)
		}
		rows.Close()

		s.forgetBefore(last - tailWindow)
		if n < tailBatch {
			return last
		}
	}
}

// prime marks the rows already inside the window as seen, so opening a
// store does not replay history.
func (s *Store) prime(ctx context.Context, last int64) {
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT seq FROM changes WHERE seq > ? AND seq <= ?`), last-tailWindow, last)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if rows.Scan(&seq) == nil {
			s.markSeen(seq)
		}
	}
}

func (s *Store) prune(ctx context.Context) {
	res, err := s.conn.ExecContext(ctx,
		s.q(`DELETE FROM changes WHERE seq < (SELECT MAX(seq) FROM changes) - ?`), keepChanges)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("sqlstore: prune change log", slog.String("error", err.Error()))
		}
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("sqlstore: pruned change log", slog.Int64("rows", n))
	}
}

// watchDBFiles watches the directory holding the database so the WAL and
// shared-memory files are covered as they come and go.
func watchDBFiles(path string) (*fsnotify.Watcher, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
