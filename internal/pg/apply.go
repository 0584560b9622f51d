package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"replicator/internal/registry"
)

const migrateTimeout = 2 * time.Minute

// Migrate создаёт целевые таблицы sql-sink'а для schemas. Повторный вызов ничего не меняет.
func Migrate(ctx context.Context, db *sql.DB, schemas []*registry.Schema) (int, error) {
	ddl, err := GenerateDDL(schemas)
	if err != nil {
		return 0, err
	}
	if err := ApplyDDL(ctx, db, ddl); err != nil {
		return 0, err
	}
	return len(ddl), nil
}

// ApplyDDL выполняет ddl (ключ -> statement) по возрастанию ключей.
// Уже существующие объекты пропускаются.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	keys := make([]string, 0, len(ddl))
	for k, stmt := range ddl {
		if strings.TrimSpace(stmt) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	for _, k := range keys {
		_, err := db.ExecContext(ctx, strings.TrimSpace(ddl[k]))
		switch {
		case err == nil:
			slog.Debug("DDL applied", "key", k)
		case alreadyExists(err):
			slog.Info("DDL skipped, object exists", "key", k, "err", err)
		default:
			return fmt.Errorf("DDL %s: %w", k, err)
		}
	}
	return nil
}

// 42710 duplicate_object, 42P07 duplicate_table; у sqlite есть только текст
func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42710" || pgErr.Code == "42P07"
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
