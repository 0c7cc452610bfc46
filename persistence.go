package dhyana

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// PersistenceOptions configures a database handle for the pipeline's
// stores. DSN is required; everything else has serviceable defaults.
type PersistenceOptions struct {
	DSN            string
	Debug          bool
	MaxOpenConns   int
	PingTimeout    time.Duration
	OtelIdentifier string

	// SkipMigrate leaves schema management to the caller.
	SkipMigrate bool
}

type persistenceConfig struct {
	driver string
	opts   PersistenceOptions
}

func (c persistenceConfig) GetDebug() bool {
	return c.opts.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.opts.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.opts.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.opts.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.opts.OtelIdentifier) == "" {
		return "dhyana"
	}
	return c.opts.OtelIdentifier
}

// NewPostgresPersistence opens a Postgres-backed persistence client
// with the pipeline schema registered, and migrated unless the caller
// opts out.
func NewPostgresPersistence(ctx context.Context, opts PersistenceOptions) (*persistence.Client, error) {
	return newPersistence(ctx, "postgres", pgdialect.New(), opts)
}

// NewSQLitePersistence is the single-node and development variant of
// NewPostgresPersistence.
func NewSQLitePersistence(ctx context.Context, opts PersistenceOptions) (*persistence.Client, error) {
	return newPersistence(ctx, "sqlite3", sqlitedialect.New(), opts)
}

func newPersistence(
	ctx context.Context,
	driver string,
	dialect schema.Dialect,
	opts PersistenceOptions,
) (*persistence.Client, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, goerrors.New("pipeline: persistence dsn is required", goerrors.CategoryBadInput)
	}

	sqlDB, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "pipeline: open database")
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, opts: opts}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	fsys, err := schemaFilesystem(driver)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	client.RegisterSQLMigrations(fsys)

	if !opts.SkipMigrate {
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

// schemaFilesystem picks the dialect tree from the embedded migrations.
// Postgres migrations live at the root, the sqlite alternatives under
// the sqlite subdirectory.
func schemaFilesystem(driver string) (fs.FS, error) {
	base, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "pipeline: resolve migrations")
	}
	if driver != "sqlite3" {
		return base, nil
	}
	sub, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "pipeline: resolve sqlite migrations")
	}
	return sub, nil
}
