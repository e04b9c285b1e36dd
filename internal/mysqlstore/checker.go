package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"field-change-log/internal/models"
)

// Checker validates the MySQL server before the service starts
type Checker struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewChecker creates a checker on an open connection
func NewChecker(db *sql.DB, logger *logrus.Logger) *Checker {
	return &Checker{db: db, logger: logger}
}

// grants returns all grants of the current user joined by "; "
func (c *Checker) grants(ctx context.Context) (string, error) {
	// SHOW GRANTS can return multiple rows
	rows, err := c.db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// MySQL 5.6
		rows, err = c.db.QueryContext(ctx, "SHOW GRANTS")
		if err != nil {
			return "", fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var all strings.Builder
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return "", fmt.Errorf("failed to scan grant: %w", err)
		}
		if all.Len() > 0 {
			all.WriteString("; ")
		}
		all.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating grants: %w", err)
	}
	return all.String(), nil
}

func missingPrivileges(grants string, required []string) []string {
	upper := strings.ToUpper(grants)
	if strings.Contains(upper, "ALL PRIVILEGES") {
		return nil
	}
	var missing []string
	for _, priv := range required {
		if !strings.Contains(upper, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}

// variable reads a server variable, with the @@ form as fallback.
// name is always one of our constants.
func (c *Checker) variable(ctx context.Context, name string) (string, error) {
	var varName, value string
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("SHOW VARIABLES LIKE '%s'", name)).Scan(&varName, &value)
	if err == nil {
		return value, nil
	}
	if err := c.db.QueryRowContext(ctx, "SELECT @@"+name).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// CheckReplication verifies what the binlog source needs: replication
// privileges, binary logging and (preferably) ROW format
func (c *Checker) CheckReplication(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	grants, err := c.grants(ctx)
	if err != nil {
		return err
	}
	if missing := missingPrivileges(grants, []string{"REPLICATION SLAVE", "REPLICATION CLIENT", "SELECT"}); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), grants)
	}
	c.logger.Info("All required replication permissions verified")

	logBin, err := c.variable(ctx, "log_bin")
	if err != nil {
		c.logger.Warn("Could not verify binlog status")
	} else if logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration", logBin)
	} else {
		c.logger.Info("Binary logging is enabled")
	}

	// UPDATE diffs need full before and after images
	format, err := c.variable(ctx, "binlog_format")
	if err == nil && format != "" && format != "ROW" {
		c.logger.Warnf("binlog_format is set to '%s', but ROW format is required to see field changes", format)
	}
	rowImage, err := c.variable(ctx, "binlog_row_image")
	if err == nil && rowImage != "" && rowImage != "FULL" {
		c.logger.Warnf("binlog_row_image is set to '%s', unchanged columns may be missing from events", rowImage)
	}

	return nil
}

// CheckLogTable verifies the change log table has a column for every
// record field and that the user may insert into it
func (c *Checker) CheckLogTable(ctx context.Context, database, table string) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, database, table)
	if err != nil {
		return fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		columns[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s.%s does not exist", database, table)
	}

	required := []string{"id", models.FieldTitle, models.FieldFieldName, models.FieldNewValue,
		models.FieldRawValue, models.FieldSourceEntity, models.FieldSourceRecordID}
	var missing []string
	for _, col := range required {
		if !columns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s.%s is missing columns: %s", database, table, strings.Join(missing, ", "))
	}

	grants, err := c.grants(ctx)
	if err != nil {
		return err
	}
	if missing := missingPrivileges(grants, []string{"INSERT"}); len(missing) > 0 {
		return fmt.Errorf("missing INSERT permission on %s.%s. Current grants: %s", database, table, grants)
	}

	c.logger.Infof("Change log table %s.%s verified", database, table)
	return nil
}
