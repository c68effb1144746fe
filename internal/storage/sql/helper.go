package sql

import (
	"fmt"
	"strings"

	"github.com/eval-hub/model-arena/internal/storage/sql/schemas"
)

func getUnsupportedDriverError(driver string) error {
	return fmt.Errorf("unsupported driver: %s", driver)
}

func schemasForDriver(driver string) (string, error) {
	schema := schemas.SchemaForDriver(driver)
	if schema == "" {
		return "", getUnsupportedDriverError(driver)
	}
	return schema, nil
}

// quoteIdentifier properly quotes an identifier for the given driver
func quoteIdentifier(_ /*driver*/ string, identifier string) string {
	// Escape double quotes by doubling them
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

// placeholders returns the n first bind parameters of the driver: ? for SQLite, $1, $2 for PostgreSQL.
func placeholders(driver string, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		switch driver {
		case POSTGRES_DRIVER:
			out[i] = fmt.Sprintf("$%d", i+1)
		case SQLITE_DRIVER:
			out[i] = "?"
		default:
			return nil, getUnsupportedDriverError(driver)
		}
	}
	return out, nil
}

// createInsertRunStatement returns a driver-specific INSERT statement for the runs table
func createInsertRunStatement(driver string) (string, error) {
	p, err := placeholders(driver, 5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`INSERT INTO %s (id, created_at, updated_at, status, entity) VALUES (%s);`,
		quoteIdentifier(driver, TABLE_RUNS), strings.Join(p, ", ")), nil
}

// createGetEntityStatement returns a driver-specific SELECT statement
// to retrieve the entity of a row by its key column
func createGetEntityStatement(driver, tableName, keyColumn string) (string, error) {
	p, err := placeholders(driver, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`SELECT entity FROM %s WHERE %s = %s;`,
		quoteIdentifier(driver, tableName), quoteIdentifier(driver, keyColumn), p[0]), nil
}

// createCountEntitiesStatement returns a driver-specific COUNT statement
// to count total entities in the table, optionally filtered by status
func createCountEntitiesStatement(driver, tableName string, statusFilter string) (string, []any, error) {
	p, err := placeholders(driver, 1)
	if err != nil {
		return "", nil, err
	}
	quotedTable := quoteIdentifier(driver, tableName)
	if statusFilter != "" {
		return fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = %s;`, quotedTable, p[0]), []any{statusFilter}, nil
	}
	return fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable), nil, nil
}

// createListEntitiesStatement returns a driver-specific SELECT statement
// to list entities newest first with pagination (LIMIT and OFFSET), optionally filtered by status
func createListEntitiesStatement(driver, tableName string, limit, offset int, statusFilter string) (string, []any, error) {
	p, err := placeholders(driver, 3)
	if err != nil {
		return "", nil, err
	}
	quotedTable := quoteIdentifier(driver, tableName)
	if statusFilter != "" {
		return fmt.Sprintf(`SELECT entity FROM %s WHERE status = %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s;`, quotedTable, p[0], p[1], p[2]),
			[]any{statusFilter, limit, offset}, nil
	}
	return fmt.Sprintf(`SELECT entity FROM %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s;`, quotedTable, p[0], p[1]),
		[]any{limit, offset}, nil
}

// createUpdateRunStatement returns a driver-specific UPDATE statement
// setting the status and the entity of a run by ID
func createUpdateRunStatement(driver string) (string, error) {
	p, err := placeholders(driver, 4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`UPDATE %s SET status = %s, entity = %s, updated_at = %s WHERE id = %s;`,
		quoteIdentifier(driver, TABLE_RUNS), p[0], p[1], p[2], p[3]), nil
}

// createUpsertAggregateStatement returns a driver-specific INSERT statement for the
// aggregates table that replaces the entity of an existing row
func createUpsertAggregateStatement(driver string) (string, error) {
	p, err := placeholders(driver, 3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`INSERT INTO %s (run_id, created_at, entity) VALUES (%s) ON CONFLICT (run_id) DO UPDATE SET entity = excluded.entity, created_at = excluded.created_at;`,
		quoteIdentifier(driver, TABLE_AGGREGATES), strings.Join(p, ", ")), nil
}
