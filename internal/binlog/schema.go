package binlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// Schema resolves and caches column names and types by "database.table"
type Schema struct {
	db          *sql.DB
	columnNames map[string][]string
	columnTypes map[string][]string
	logger      *logrus.Logger
}

// OpenSchema opens a metadata connection from a go-sql-driver DSN
func OpenSchema(dsn string, logger *logrus.Logger) (*Schema, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Schema{
		db:          db,
		columnNames: make(map[string][]string),
		columnTypes: make(map[string][]string),
		logger:      logger,
	}, nil
}

// DB returns the metadata connection
func (s *Schema) DB() *sql.DB {
	return s.db
}

// Close closes the metadata connection
func (s *Schema) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Columns returns column names and COLUMN_TYPEs in ordinal order
func (s *Schema) Columns(ctx context.Context, database, table string) ([]string, []string, error) {
	cacheKey := database + "." + table
	if cols, ok := s.columnNames[cacheKey]; ok {
		return cols, s.columnTypes[cacheKey], nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, database, table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var columns, types []string
	for rows.Next() {
		var name, columnType string
		if err := rows.Scan(&name, &columnType); err != nil {
			return nil, nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
		types = append(types, columnType)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating columns: %w", err)
	}

	s.columnNames[cacheKey] = columns
	s.columnTypes[cacheKey] = types
	s.logger.Debugf("Fetched %d column names and types for %s.%s", len(columns), database, table)

	return columns, types, nil
}

// Forget drops cached columns, e.g. after DDL on the table
func (s *Schema) Forget(database, table string) {
	delete(s.columnNames, database+"."+table)
	delete(s.columnTypes, database+"."+table)
}
