// Package sqlite provides a persistent layer backed by an embedded
// SQLite database, the default durable mount for single-process
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

// Layer stores encoded objects in a single SQLite table keyed by
// canonical object path.
type Layer struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (creating if necessary) a SQLite-backed layer at dbPath.
func New(dbPath string, logger *zap.Logger) (*Layer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	l := &Layer{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Layer) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS objects (
    path TEXT PRIMARY KEY,
    kind INTEGER NOT NULL,
    mime TEXT NOT NULL,
    data BLOB NOT NULL,
    modified TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objects_path ON objects(path);
`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

func (l *Layer) Load(ctx context.Context, rel vpath.Path) (*storage.Object, error) {
	var kind int
	var mime string
	var data []byte
	err := l.db.QueryRowContext(ctx,
		"SELECT kind, mime, data FROM objects WHERE path = ?",
		rel.AsObject().String()).Scan(&kind, &mime, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite load %s: %v", storage.ErrStorage, rel, err)
	}
	return storage.DecodeObject(rel, data, storage.Kind(kind), mime)
}

func (l *Layer) Store(ctx context.Context, rel vpath.Path, obj *storage.Object) error {
	data, kind, mime, err := storage.EncodeObject(rel, obj)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO objects (path, kind, mime, data, modified) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET kind = excluded.kind, mime = excluded.mime,
    data = excluded.data, modified = excluded.modified`,
		rel.AsObject().String(), int(kind), mime, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: sqlite store %s: %v", storage.ErrStorage, rel, err)
	}
	return nil
}

func (l *Layer) Remove(ctx context.Context, rel vpath.Path) (bool, error) {
	var res sql.Result
	var err error
	if rel.IsIndex() {
		res, err = l.db.ExecContext(ctx,
			"DELETE FROM objects WHERE path LIKE ? ESCAPE '\\'",
			likePrefix(rel)+"%")
	} else {
		res, err = l.db.ExecContext(ctx,
			"DELETE FROM objects WHERE path = ?", rel.String())
	}
	if err != nil {
		return false, fmt.Errorf("%w: sqlite remove %s: %v", storage.ErrStorage, rel, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (l *Layer) List(ctx context.Context, rel vpath.Path) ([]storage.Entry, error) {
	prefix := rel.AsIndex().String()
	rows, err := l.db.QueryContext(ctx,
		"SELECT path, kind, mime, length(data), modified FROM objects WHERE path LIKE ? ESCAPE '\\'",
		likePrefix(rel)+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list %s: %v", storage.ErrStorage, rel, err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var entries []storage.Entry
	for rows.Next() {
		var p, mime, modified string
		var kind int
		var size int64
		if err := rows.Scan(&p, &kind, &mime, &size, &modified); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan: %v", storage.ErrStorage, err)
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, vpath.Separator); i >= 0 {
			name := rest[:i]
			if !seen[name] {
				seen[name] = true
				entries = append(entries, storage.Entry{Name: name, Index: true})
			}
			continue
		}
		if seen[rest] {
			continue
		}
		seen[rest] = true
		child, err := vpath.Parse(p)
		if err != nil {
			continue
		}
		entries = append(entries, storage.Entry{
			Name: rest,
			Meta: buildMeta(child, storage.Kind(kind), mime, size, modified),
		})
	}
	return entries, rows.Err()
}

func (l *Layer) Stat(ctx context.Context, rel vpath.Path) (*storage.Metadata, error) {
	var mime, modified string
	var kind int
	var size int64
	err := l.db.QueryRowContext(ctx,
		"SELECT kind, mime, length(data), modified FROM objects WHERE path = ?",
		rel.AsObject().String()).Scan(&kind, &mime, &size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite stat %s: %v", storage.ErrStorage, rel, err)
	}
	return buildMeta(rel, storage.Kind(kind), mime, size, modified), nil
}

func (l *Layer) Close() error {
	return l.db.Close()
}

func buildMeta(p vpath.Path, kind storage.Kind, mime string, size int64, modified string) *storage.Metadata {
	md := &storage.Metadata{
		Path:     p,
		MIME:     mime,
		Size:     size,
		Category: storage.CategoryObject,
		Class:    "map[string]interface{}",
	}
	if kind == storage.KindBinary {
		md.Category = storage.CategoryBinary
		md.Class = "[]byte"
	}
	if t, err := time.Parse(time.RFC3339Nano, modified); err == nil {
		md.Modified = t
	}
	return md
}

// likePrefix escapes LIKE wildcards in a path prefix.
func likePrefix(rel vpath.Path) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(rel.AsIndex().String())
}
