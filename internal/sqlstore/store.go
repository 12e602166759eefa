package sqlstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultMaxRows = 50

// ErrNotSelect marks a rejected statement. Only read queries run against the
// scratch database; the agent never mutates loaded data.
var ErrNotSelect = errors.New("only SELECT statements are allowed")

// Store is an in-memory SQLite scratchpad holding one table per loaded
// resource for the lifetime of a single research run.
type Store struct {
	db      *sql.DB
	maxRows int
}

// Column describes one column of a loaded table or query result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is the bounded outcome of one query.
type Result struct {
	Columns   []Column   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

func Open(maxRows int) (*Store, error) {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scratch db: %w", err)
	}
	// A second connection would see an empty in-memory database.
	database.SetMaxOpenConns(1)

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping scratch db: %w", err)
	}
	return &Store{db: database, maxRows: maxRows}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadCSV creates a table from raw CSV lines, header first, and inserts every
// data row. Column types are inferred from the data so numeric aggregates
// work without casting.
func (s *Store) LoadCSV(ctx context.Context, tableName string, lines []string) ([]Column, int, error) {
	table := SanitizeTableName(tableName)
	if table == "" {
		return nil, 0, errors.New("table name is required")
	}
	if len(lines) == 0 {
		return nil, 0, errors.New("no csv lines to load")
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, 0, errors.New("csv is empty")
	}

	header := records[0]
	body := records[1:]
	columns := make([]Column, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		colName := sanitizeColumnName(name)
		if colName == "" {
			colName = fmt.Sprintf("col_%d", i+1)
		}
		if n := seen[colName]; n > 0 {
			colName = fmt.Sprintf("%s_%d", colName, n+1)
		}
		seen[colName]++
		columns[i] = Column{Name: colName, Type: inferColumnType(body, i)}
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%q %s", col.Name, col.Type)
	}
	createStmt := fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(defs, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
		return nil, 0, fmt.Errorf("drop stale table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return nil, 0, fmt.Errorf("create table %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %q VALUES (%s)", table, placeholders))
	if err != nil {
		return nil, 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	inserted := 0
	for _, record := range body {
		values := make([]any, len(columns))
		for i := range columns {
			if i < len(record) {
				values[i] = coerceValue(record[i], columns[i].Type)
			}
		}
		if _, err := insertStmt.ExecContext(ctx, values...); err != nil {
			return nil, 0, fmt.Errorf("insert row %d: %w", inserted+1, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit load: %w", err)
	}
	return columns, inserted, nil
}

// Query runs one read-only statement and returns up to the configured row
// cap, reporting truncation rather than failing.
func (s *Store) Query(ctx context.Context, statement string) (Result, error) {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return Result{}, errors.New("query is required")
	}
	if !isReadOnly(trimmed) {
		return Result{}, ErrNotSelect
	}

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return Result{}, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return Result{}, fmt.Errorf("read column types: %w", err)
	}

	result := Result{Columns: make([]Column, len(names))}
	for i, name := range names {
		colType := "TEXT"
		if i < len(types) && types[i].DatabaseTypeName() != "" {
			colType = types[i].DatabaseTypeName()
		}
		result.Columns[i] = Column{Name: name, Type: colType}
	}

	for rows.Next() {
		if len(result.Rows) >= s.maxRows {
			result.Truncated = true
			break
		}
		raw := make([]sql.NullString, len(names))
		dest := make([]any, len(names))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		record := make([]string, len(names))
		for i, value := range raw {
			if value.Valid {
				record[i] = value.String
			}
		}
		result.Rows = append(result.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func isReadOnly(statement string) bool {
	lower := strings.ToLower(statement)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return false
	}
	// A WITH prefix can still front a write, as in
	// "WITH t AS (...) DELETE FROM x". Scan the bare words for write and
	// schema keywords; quoted literals and identifiers are skipped so data
	// values never trip the check.
	for _, token := range bareWords(lower) {
		switch token {
		case "insert", "update", "delete", "drop", "alter", "create",
			"attach", "detach", "pragma", "vacuum", "reindex":
			return false
		}
	}
	return true
}

func bareWords(lower string) []string {
	var words []string
	var current strings.Builder
	var quote byte
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_':
			current.WriteByte(c)
			continue
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

// SanitizeTableName reduces an arbitrary name to a safe SQLite identifier.
func SanitizeTableName(name string) string {
	var builder strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			builder.WriteRune(r)
		case r == ' ', r == '-', r == '.':
			builder.WriteByte('_')
		}
	}
	cleaned := strings.Trim(builder.String(), "_")
	if cleaned == "" {
		return ""
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "t_" + cleaned
	}
	return cleaned
}

func sanitizeColumnName(name string) string {
	return strings.ToLower(SanitizeTableName(name))
}

func inferColumnType(records [][]string, index int) string {
	sawValue := false
	allInt := true
	allFloat := true
	for _, record := range records {
		if index >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[index])
		if value == "" {
			continue
		}
		sawValue = true
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			allFloat = false
		}
		if !allInt && !allFloat {
			return "TEXT"
		}
	}
	switch {
	case !sawValue:
		return "TEXT"
	case allInt:
		return "INTEGER"
	case allFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func coerceValue(raw, columnType string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	switch columnType {
	case "INTEGER":
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	case "REAL":
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return value
}
