// Package binlog turns MySQL row updates into field change notifications.
package binlog

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/config"
	"field-change-log/internal/host"
	"field-change-log/internal/models"
)

// EventReader yields raw binlog events
type EventReader interface {
	ReadEvent(ctx context.Context) (*replication.BinlogEvent, error)
}

// ColumnResolver looks up column names and types of a table
type ColumnResolver interface {
	Columns(ctx context.Context, database, table string) ([]string, []string, error)
}

// columnForgetter is implemented by resolvers that cache columns
type columnForgetter interface {
	Forget(database, table string)
}

// Source emits one execution context per changed monitored column of an
// updated row
type Source struct {
	reader   EventReader
	columns  ColumnResolver
	monitors map[string]config.MonitorConfig // by lower "database.table"
	tables   map[uint64]*replication.TableMapEvent
	pending  []*host.Snapshot
	notifier host.Notifier
	logger   *logrus.Logger
}

// NewSource creates a source over the monitored tables
func NewSource(reader EventReader, columns ColumnResolver, monitors []config.MonitorConfig, logger *logrus.Logger) *Source {
	byTable := make(map[string]config.MonitorConfig, len(monitors))
	for _, m := range monitors {
		byTable[tableKey(m.Database, m.Table)] = m
	}
	return &Source{
		reader:   reader,
		columns:  columns,
		monitors: byTable,
		tables:   make(map[uint64]*replication.TableMapEvent),
		notifier: logNotifier{logger: logger},
		logger:   logger,
	}
}

func tableKey(database, table string) string {
	return strings.ToLower(database + "." + table)
}

// logNotifier writes user notifications to the log; replicated changes
// have no form to show them on
type logNotifier struct {
	logger *logrus.Logger
}

func (n logNotifier) Notify(_ context.Context, entity host.Entity, note host.Notification) error {
	entry := n.logger.WithFields(logrus.Fields{"entity": entity.LogicalName, "record_id": entity.RecordID})
	switch note.Level {
	case host.LevelError:
		entry.Error(note.Message)
	case host.LevelWarning:
		entry.Warn(note.Message)
	default:
		entry.Info(note.Message)
	}
	return nil
}

// Next returns the next field change, reading binlog events as needed
func (s *Source) Next(ctx context.Context) (host.ExecutionContext, error) {
	for len(s.pending) == 0 {
		event, err := s.reader.ReadEvent(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.handle(ctx, event); err != nil {
			s.logger.Errorf("Error processing binlog event: %v", err)
		}
	}

	next := s.pending[0]
	s.pending = s.pending[1:]
	return next, nil
}

func (s *Source) handle(ctx context.Context, event *replication.BinlogEvent) error {
	switch e := event.Event.(type) {
	case *replication.TableMapEvent:
		s.tables[e.TableID] = e
		s.logger.Debugf("Cached table map for %s.%s (ID: %d)", string(e.Schema), string(e.Table), e.TableID)

	case *replication.RowsEvent:
		switch event.Header.EventType {
		case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		default:
			// Inserts and deletes are not field changes
			return nil
		}
		changes, err := s.ProcessUpdate(ctx, e)
		if err != nil {
			return err
		}
		s.pending = append(s.pending, changes...)

	case *replication.RotateEvent:
		s.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))

	case *replication.QueryEvent:
		s.logger.Debugf("Query event: %s", string(e.Query))
		s.forgetAltered(string(e.Schema), string(e.Query))

	default:
		s.logger.Debugf("Unhandled event type: %T", e)
	}
	return nil
}

// forgetAltered drops cached columns of a monitored table after ALTER TABLE
func (s *Source) forgetAltered(defaultDatabase, query string) {
	forgetter, ok := s.columns.(columnForgetter)
	if !ok {
		return
	}
	database, table, ok := alteredTable(defaultDatabase, query)
	if !ok {
		return
	}
	if _, monitored := s.monitors[tableKey(database, table)]; !monitored {
		return
	}
	forgetter.Forget(database, table)
	s.logger.Infof("Table %s.%s altered, column cache cleared", database, table)
}

// alteredTable extracts the target of an ALTER TABLE statement
func alteredTable(defaultDatabase, query string) (string, string, bool) {
	tokens := strings.Fields(query)
	if len(tokens) < 3 || !strings.EqualFold(tokens[0], "ALTER") || !strings.EqualFold(tokens[1], "TABLE") {
		return "", "", false
	}
	tokens = tokens[2:]
	if len(tokens) > 2 && strings.EqualFold(tokens[0], "IF") && strings.EqualFold(tokens[1], "EXISTS") {
		tokens = tokens[2:]
	}

	name := strings.ReplaceAll(tokens[0], "`", "")
	database := defaultDatabase
	if i := strings.Index(name, "."); i >= 0 {
		database, name = name[:i], name[i+1:]
	}
	if name == "" {
		return "", "", false
	}
	return database, name, true
}

// ProcessUpdate diffs the before and after images of an update event
func (s *Source) ProcessUpdate(ctx context.Context, event *replication.RowsEvent) ([]*host.Snapshot, error) {
	tableMap, ok := s.tables[event.TableID]
	if !ok {
		return nil, fmt.Errorf("table map not found for table ID %d", event.TableID)
	}

	database := string(tableMap.Schema)
	table := string(tableMap.Table)
	monitor, ok := s.monitors[tableKey(database, table)]
	if !ok {
		return nil, nil
	}

	columnNames, columnTypes, err := s.columnInfo(ctx, tableMap, database, table)
	if err != nil {
		return nil, err
	}

	var changes []*host.Snapshot
	// event.Rows is [old_1, new_1, old_2, new_2, ...]
	for i := 0; i+1 < len(event.Rows); i += 2 {
		oldRow := rowMap(event.Rows[i], columnNames, columnTypes)
		newRow := rowMap(event.Rows[i+1], columnNames, columnTypes)
		changes = append(changes, s.diff(monitor, oldRow, newRow)...)
	}

	if len(changes) > 0 {
		s.logger.Infof("Detected %d field changes on %s.%s", len(changes), database, table)
	}
	return changes, nil
}

// columnInfo prefers names from the table map (MySQL 8.0+ with
// binlog_row_metadata=FULL) and always needs types from the server
func (s *Source) columnInfo(ctx context.Context, tableMap *replication.TableMapEvent, database, table string) ([]string, []string, error) {
	names, types, err := s.columns.Columns(ctx, database, table)
	if len(tableMap.ColumnName) > 0 {
		if err != nil {
			s.logger.Warnf("Failed to get column types: %v, continuing without type info", err)
		}
		fromMap := make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			fromMap[i] = string(col)
		}
		return fromMap, types, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get column info: %w", err)
	}
	if len(names) < int(tableMap.ColumnCount) {
		s.logger.Warnf("Column count mismatch: expected %d columns, got %d names", tableMap.ColumnCount, len(names))
	}
	return names, types, nil
}

func (s *Source) diff(monitor config.MonitorConfig, oldRow, newRow map[string]any) []*host.Snapshot {
	entity := host.Entity{
		LogicalName: monitor.Entity,
		RecordID:    stringValue(newRow[monitor.IDColumn]),
	}

	var changes []*host.Snapshot
	for _, field := range monitor.Fields {
		oldValue, newValue := oldRow[field.Column], newRow[field.Column]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		changes = append(changes, &host.Snapshot{
			Field:    host.Field{FieldName: field.Name, Raw: fieldValue(field, newValue, newRow)},
			Entity:   entity,
			Notifier: s.notifier,
		})
	}
	return changes
}

// fieldValue types a column value according to the monitored field
func fieldValue(field config.FieldConfig, value any, row map[string]any) models.Value {
	if value == nil {
		return models.EmptyValue{}
	}

	switch field.Type {
	case config.FieldLookup:
		ref := models.Lookup{ID: stringValue(value), EntityType: field.LookupEntity}
		if field.NameColumn != "" {
			ref.Name = stringValue(row[field.NameColumn])
		}
		return models.LookupValue{ref}
	case config.FieldOptionSet:
		code, ok := intValue(value)
		if !ok {
			return models.ScalarValue{Raw: value}
		}
		return models.OptionSetValue{Code: code, Label: field.Options[code]}
	default:
		return models.ScalarValue{Raw: value}
	}
}

// rowMap keys a row by column name, converting TEXT bytes to strings
func rowMap(row []any, columnNames, columnTypes []string) map[string]any {
	m := make(map[string]any, len(row))
	for j := 0; j < len(row) && j < len(columnNames); j++ {
		m[columnNames[j]] = convertValue(row[j], j, columnTypes)
	}
	return m
}

func convertValue(value any, colIndex int, columnTypes []string) any {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	if colIndex < len(columnTypes) {
		colType := strings.ToUpper(columnTypes[colIndex])
		if strings.Contains(colType, "TEXT") || strings.Contains(colType, "CHAR") || strings.Contains(colType, "JSON") {
			return string(b)
		}
		if strings.Contains(colType, "BLOB") || strings.Contains(colType, "BINARY") {
			return b
		}
	}
	// Without type info, treat anything free of NUL bytes as text
	if !strings.ContainsRune(string(b), 0) {
		return string(b)
	}
	return b
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint8:
		return int(x), true
	case uint16:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}
