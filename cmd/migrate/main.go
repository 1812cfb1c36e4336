package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bankledger/internal/config"
	"bankledger/internal/db"

	"github.com/jmoiron/sqlx"
)

const downMarker = "-- +migrate Down"

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	down := flag.Bool("down", false, "roll back the most recently applied migration")
	flag.Parse()

	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect database", err)
	}
	defer database.Close()

	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		fatal("failed to ensure schema_migrations", err)
	}

	if *down {
		if err := rollbackLast(ctx, database, *dir); err != nil {
			fatal("rollback failed", err)
		}
		return
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		fatal("failed to read migrations", err)
	}
	sort.Strings(files)

	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			fatal("failed to read migration state", err)
		}
		if exists {
			continue
		}
		up, _, err := readSections(file)
		if err != nil {
			fatal("failed to read "+filename, err)
		}
		err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
			if err := execAll(ctx, tx, up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename)
			return err
		})
		if err != nil {
			fatal("failed to apply "+filename, err)
		}
		slog.Info("applied migration", "file", filename)
	}
}

func rollbackLast(ctx context.Context, database *sqlx.DB, dir string) error {
	var filename string
	err := database.GetContext(ctx, &filename, `SELECT filename FROM schema_migrations ORDER BY filename DESC LIMIT 1`)
	if err != nil {
		return err
	}
	_, downSQL, err := readSections(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		if err := execAll(ctx, tx, downSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE filename = $1`, filename)
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("rolled back migration", "file", filename)
	return nil
}

// readSections splits a migration file into its up and down halves.
func readSections(path string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	up, downSQL, _ := strings.Cut(string(content), downMarker)
	return up, downSQL, nil
}

func execAll(ctx context.Context, tx *sqlx.Tx, sqlText string) error {
	for _, stmt := range splitSQL(sqlText) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
