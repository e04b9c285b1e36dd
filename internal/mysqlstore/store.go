// Package mysqlstore persists change log records in a MySQL table.
package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/models"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Execer is the part of *sql.DB the store needs
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store inserts one row per record; every record field is a column and the
// generated id goes into the id column
type Store struct {
	db     Execer
	table  string
	logger *logrus.Logger
}

// Open connects to MySQL and returns the connection with a store on top
func Open(dsn, table string, logger *logrus.Logger) (*sql.DB, *Store, error) {
	if !identPattern.MatchString(table) {
		return nil, nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)

	return db, NewStore(db, table, logger), nil
}

// NewStore creates a store on an existing connection
func NewStore(db Execer, table string, logger *logrus.Logger) *Store {
	return &Store{db: db, table: table, logger: logger}
}

// CreateRecord inserts the record. The entity name is informational; the
// target table is fixed at construction.
func (s *Store) CreateRecord(ctx context.Context, entityName string, record models.LogRecord) (string, error) {
	columns := make([]string, 0, len(record))
	for k := range record {
		if k == "id" {
			continue
		}
		if !identPattern.MatchString(k) {
			return "", fmt.Errorf("invalid column name %q", k)
		}
		columns = append(columns, k)
	}
	sort.Strings(columns)

	id := uuid.NewString()
	args := make([]any, 0, len(columns)+1)
	args = append(args, id)
	quoted := make([]string, 0, len(columns)+1)
	quoted = append(quoted, "`id`")
	for _, c := range columns {
		quoted = append(quoted, "`"+c+"`")
		args = append(args, record[c])
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		s.table, strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to insert %s: %w", entityName, err)
	}

	s.logger.Debugf("Inserted %s %s into %s", entityName, id, s.table)
	return id, nil
}
