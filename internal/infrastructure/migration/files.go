package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ListMigrations returns the base names of the up migrations in dir, sorted by version
func ListMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if base, ok := strings.CutSuffix(e.Name(), ".up.sql"); ok && !e.IsDir() {
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateMigration writes an empty up/down pair numbered after the last
// migration in dir, e.g. 000002_add_payment_reference.up.sql.
func CreateMigration(dir, name string) (upPath, downPath string, err error) {
	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", "", fmt.Errorf("migration name %q has no usable characters", name)
	}

	existing, err := ListMigrations(dir)
	if err != nil {
		return "", "", err
	}
	next := 1
	if len(existing) > 0 {
		last, _, _ := strings.Cut(existing[len(existing)-1], "_")
		n, err := strconv.Atoi(last)
		if err != nil {
			return "", "", fmt.Errorf("unexpected migration file name %q", existing[len(existing)-1])
		}
		next = n + 1
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}
	base := filepath.Join(dir, fmt.Sprintf("%06d_%s", next, slug))
	upPath, downPath = base+".up.sql", base+".down.sql"

	if err := os.WriteFile(upPath, []byte("-- "+name+"\n"), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write up migration: %w", err)
	}
	if err := os.WriteFile(downPath, []byte("-- rollback "+name+"\n"), 0o644); err != nil {
		_ = os.Remove(upPath)
		return "", "", fmt.Errorf("failed to write down migration: %w", err)
	}
	return upPath, downPath, nil
}

// FindMigrationsDir walks up from start looking for a migrations directory
func FindMigrationsDir(start string) (string, bool) {
	dir := start
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
