package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Open открывает БД драйвером pgx или sqlite и проверяет соединение.
func Open(driver, url string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q (pgx|sqlite)", driver)
	}
	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if driver == DriverSQLite {
		// in-memory sqlite живёт в пределах одного соединения
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Placeholder: i-й (с 1) параметр запроса в синтаксисе драйвера.
func Placeholder(driver string, i int) string {
	if driver == DriverPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}
