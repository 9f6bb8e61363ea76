package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour behind a connection. Values match the
// database/sql driver names so sqlx rebinding works unchanged.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DialectOf reports the dialect of an open connection or transaction.
func DialectOf(db interface{ DriverName() string }) Dialect {
	return Dialect(db.DriverName())
}

func (d Dialect) DriverName() string {
	return string(d)
}

// ForUpdate returns the row-locking suffix for a SELECT inside a transaction.
// SQLite has no row locks; transactions there start with BEGIN IMMEDIATE instead.
func (d Dialect) ForUpdate() string {
	if d == SQLite {
		return ""
	}
	return " FOR UPDATE"
}

// InsertIgnore builds an INSERT that silently skips rows violating a unique key.
// Placeholders are written as '?' and must be rebound by the caller.
func (d Dialect) InsertIgnore(table string, columns []string) string {
	insert := insertValues(table, columns)
	if d == MySQL {
		return strings.Replace(insert, "INSERT INTO", "INSERT IGNORE INTO", 1)
	}
	return insert + " ON CONFLICT DO NOTHING"
}

// InsertOrLock builds an INSERT that leaves an existing row unchanged but holds
// an exclusive lock on it until the transaction ends. keys must name the
// conflicting unique key. A duplicate INSERT IGNORE only takes a shared lock on
// InnoDB, and two transactions upgrading that lock deadlock each other.
func (d Dialect) InsertOrLock(table string, columns, keys []string) string {
	insert := insertValues(table, columns)
	switch d {
	case MySQL:
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s = %s", insert, keys[0], keys[0])
	case SQLite:
		return insert + " ON CONFLICT DO NOTHING"
	default:
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s",
			insert, strings.Join(keys, ", "), keys[0], keys[0])
	}
}

// InsertOrAdd builds an INSERT that adds the inserted value of counter to the
// existing row on a key conflict.
func (d Dialect) InsertOrAdd(table string, columns, keys []string, counter string) string {
	insert := insertValues(table, columns)
	if d == MySQL {
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s)", insert, counter, counter, counter)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + EXCLUDED.%s",
		insert, strings.Join(keys, ", "), counter, table, counter, counter)
}

func insertValues(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
}

// IsDeadlock reports whether the server aborted the transaction to break a
// deadlock or a serialization conflict. The transaction can be retried.
func IsDeadlock(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40P01" || pqErr.Code == "40001"
	}
	return false
}

// IsUniqueViolation reports whether err was caused by a primary key or unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate entry")
}

// Queryer is implemented by *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
