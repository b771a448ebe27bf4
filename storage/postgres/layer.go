// Package postgres provides a persistent layer backed by PostgreSQL for
// deployments where several embedding processes share one durable store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Layer stores encoded objects in a PostgreSQL table keyed by canonical
// object path.
type Layer struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a PostgreSQL-backed layer and applies schema migrations.
func New(dsn string, logger *zap.Logger) (*Layer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Layer{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (l *Layer) Load(ctx context.Context, rel vpath.Path) (*storage.Object, error) {
	var kind int
	var mime string
	var data []byte
	err := l.db.QueryRowContext(ctx,
		"SELECT kind, mime, data FROM objects WHERE path = $1",
		rel.AsObject().String()).Scan(&kind, &mime, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres load %s: %v", storage.ErrStorage, rel, err)
	}
	return storage.DecodeObject(rel, data, storage.Kind(kind), mime)
}

func (l *Layer) Store(ctx context.Context, rel vpath.Path, obj *storage.Object) error {
	data, kind, mime, err := storage.EncodeObject(rel, obj)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO objects (path, kind, mime, data, modified) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path) DO UPDATE SET kind = EXCLUDED.kind, mime = EXCLUDED.mime,
    data = EXCLUDED.data, modified = EXCLUDED.modified`,
		rel.AsObject().String(), int(kind), mime, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: postgres store %s: %v", storage.ErrStorage, rel, err)
	}
	return nil
}

func (l *Layer) Remove(ctx context.Context, rel vpath.Path) (bool, error) {
	var res sql.Result
	var err error
	if rel.IsIndex() {
		res, err = l.db.ExecContext(ctx,
			`DELETE FROM objects WHERE path LIKE $1 ESCAPE '\'`,
			likePrefix(rel)+"%")
	} else {
		res, err = l.db.ExecContext(ctx,
			"DELETE FROM objects WHERE path = $1", rel.String())
	}
	if err != nil {
		return false, fmt.Errorf("%w: postgres remove %s: %v", storage.ErrStorage, rel, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (l *Layer) List(ctx context.Context, rel vpath.Path) ([]storage.Entry, error) {
	prefix := rel.AsIndex().String()
	rows, err := l.db.QueryContext(ctx,
		`SELECT path, kind, mime, length(data), modified FROM objects WHERE path LIKE $1 ESCAPE '\'`,
		likePrefix(rel)+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: postgres list %s: %v", storage.ErrStorage, rel, err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var entries []storage.Entry
	for rows.Next() {
		var p, mime string
		var kind int
		var size int64
		var modified time.Time
		if err := rows.Scan(&p, &kind, &mime, &size, &modified); err != nil {
			return nil, fmt.Errorf("%w: postgres scan: %v", storage.ErrStorage, err)
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
	var mime string
	var kind int
	var size int64
	var modified time.Time
	err := l.db.QueryRowContext(ctx,
		"SELECT kind, mime, length(data), modified FROM objects WHERE path = $1",
		rel.AsObject().String()).Scan(&kind, &mime, &size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres stat %s: %v", storage.ErrStorage, rel, err)
	}
	return buildMeta(rel, storage.Kind(kind), mime, size, modified), nil
}

func (l *Layer) Close() error {
	return l.db.Close()
}

func buildMeta(p vpath.Path, kind storage.Kind, mime string, size int64, modified time.Time) *storage.Metadata {
	md := &storage.Metadata{
		Path:     p,
		MIME:     mime,
		Size:     size,
		Modified: modified,
		Category: storage.CategoryObject,
		Class:    "map[string]interface{}",
	}
	if kind == storage.KindBinary {
		md.Category = storage.CategoryBinary
		md.Class = "[]byte"
	}
	return md
}

func likePrefix(rel vpath.Path) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(rel.AsIndex().String())
}
