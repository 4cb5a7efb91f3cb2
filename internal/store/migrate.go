package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/apperr"
)

// Migrate applies every .sql file under dir in filename order. It is not a
// general migration framework: there is no version tracking table, no down
// migrations, and no per-statement transaction boundary beyond what each
// file itself establishes. Suitable for a small, append-only schema folder
// read once at boot.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to read migrations directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return apperr.Wrap(apperr.Internal, "failed to read migration file "+name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to apply migration "+name, err)
		}
		log.WithField("migration", name).Info("applied migration")
	}
	return nil
}
