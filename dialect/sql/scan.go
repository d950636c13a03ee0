package sql

import (
	"database/sql"
	"errors"
	"fmt"
)

// ScanMaps reads every remaining row into a map keyed by column name and
// closes rows. Byte slices are copied since drivers reuse their buffers.
func ScanMaps(rows ColumnScanner) (_ []map[string]any, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanInt64 reads the first column of the first row as an int64 and closes
// rows. It returns sql.ErrNoRows when the result is empty.
func ScanInt64(rows ColumnScanner) (_ int64, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, sql.ErrNoRows
	}
	var n sql.NullInt64
	if err := rows.Scan(&n); err != nil {
		return 0, fmt.Errorf("dialect/sql: scan: %w", err)
	}
	return n.Int64, nil
}
