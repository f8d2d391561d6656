package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	couriersync "github.com/goliatone/go-courier-sync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const sourceLabel = "go-courier-sync"

// Courier lists the schema steps in apply order. Every step ships paired
// up/down files for both dialects.
var Courier = []string{
	"00001_courier_core_schema",
	"00002_courier_configuration",
	"00003_courier_active_rto",
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*options)

type options struct {
	targets []string
}

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(o *options) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			trimmed := strings.TrimSpace(strings.ToLower(target))
			if trimmed == "" || slices.Contains(next, trimmed) {
				continue
			}
			next = append(next, trimmed)
		}
		if len(next) > 0 {
			o.targets = next
		}
	}
}

// Register hands each targeted dialect's migration directory to registerFn
// after checking the directory carries the full courier set.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	o := options{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	for _, dialect := range o.targets {
		fsys, err := dialectFS(couriersync.GetMigrationsFS(), dialect)
		if err != nil {
			return err
		}
		if err := verify(fsys, dialect); err != nil {
			return err
		}
		if err := registerFn(ctx, dialect, sourceLabel, fsys); err != nil {
			return fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
	}
	return nil
}

func dialectFS(root fs.FS, dialect string) (fs.FS, error) {
	var dir string
	switch dialect {
	case DialectPostgres:
		dir = "data/sql/migrations"
	case DialectSQLite:
		dir = "data/sql/migrations/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	return sub, nil
}

func verify(fsys fs.FS, dialect string) error {
	for _, name := range Courier {
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			content, err := fs.ReadFile(fsys, name+suffix)
			if err != nil {
				return fmt.Errorf("migrations: %s missing %s%s: %w", dialect, name, suffix, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				return fmt.Errorf("migrations: %s %s%s is empty", dialect, name, suffix)
			}
		}
	}
	return nil
}
