package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// ValidateDir checks every .sql file in dir and reports all problems at once:
// filename shape, duplicate versions or names, Up before Down, and balanced
// StatementBegin/StatementEnd blocks.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var (
		errs     error
		versions = map[string]string{}
		names    = map[string]string{}
	)
	for _, e := range entries {
		file := e.Name()
		if e.IsDir() || !strings.HasSuffix(file, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(file)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", file))
			continue
		}
		if prev, ok := versions[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, file))
		}
		versions[m[1]] = file
		if prev, ok := names[m[2]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration name %s in %q and %q", m[2], prev, file))
		}
		names[m[2]] = file

		body, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read file %q: %w", file, err))
			continue
		}
		errs = multierr.Append(errs, checkSections(file, string(body)))
	}

	if len(versions) == 0 && errs == nil {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	return errs
}

func checkSections(file, body string) error {
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", file)
	case down < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", file)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", file)
	}
	begins := strings.Count(body, "-- +goose StatementBegin")
	ends := strings.Count(body, "-- +goose StatementEnd")
	if begins != ends {
		return fmt.Errorf("migration %q has %d StatementBegin but %d StatementEnd", file, begins, ends)
	}
	return nil
}
