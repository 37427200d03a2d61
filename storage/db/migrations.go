package db

import (
	"context"
	"embed"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type Migration struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
}

const noMigrationsTablePqError = "pq: relation \"migration\" does not exist"

//go:embed scheme
var scheme embed.FS

func (s *Storage) executeMigrations(ctx context.Context, db *sqlx.DB) error {
	var rows []Migration
	if err := db.SelectContext(ctx, &rows, "SELECT * FROM migration"); err != nil && err.Error() != noMigrationsTablePqError {
		return err
	}

	appliedMigrations := make(map[string]struct{})
	for _, row := range rows {
		appliedMigrations[row.Name] = struct{}{}
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		tx.Rollback()
	}()

	executedMigrations := []string{}

	if err := fs.WalkDir(scheme, "scheme", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		_, fileName := filepath.Split(path)
		if _, ok := appliedMigrations[fileName]; ok {
			return nil
		}

		fileContent, err := fs.ReadFile(scheme, path)
		if err != nil {
			return err
		}

		if _, err = tx.Exec(string(fileContent)); err != nil {
			return err
		}

		executedMigrations = append(executedMigrations, fileName)
		return nil
	}); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}

	now := time.Now().UnixNano()
	for _, executedMigration := range executedMigrations {
		if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO migration (name, created_at) VALUES(?, ?);"), executedMigration, now); err != nil {
			return errors.Wrapf(err, "failed to insert executed migration %s", executedMigration)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit migrations transaction")
}
