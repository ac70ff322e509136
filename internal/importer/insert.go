package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/SimonWaldherr/dmdb"
)

func createTable(conn *dmdb.Conn, tableName string, colNames []string, colTypes []ColumnType) error {
	defs := make([]string, len(colNames))
	for i, name := range colNames {
		defs[i] = name + " " + colTypes[i].SQL()
	}
	return conn.Execute(fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(defs, ", ")))
}

func truncateTable(conn *dmdb.Conn, tableName string) error {
	return conn.Execute("DELETE FROM " + tableName)
}

// inserter prepares one INSERT per NULL pattern: NULL cannot be bound as a
// parameter, so NULL cells are written as literals and the remaining
// cells bound.
type inserter struct {
	tx    *dmdb.Tx
	table string
	cols  []string
	stmts map[string]*dmdb.Stmt
}

func (in *inserter) insert(row []any) error {
	mask := make([]byte, len(row))
	args := make([]any, 0, len(row))
	for i, v := range row {
		if v == nil {
			mask[i] = 'n'
			continue
		}
		mask[i] = 'v'
		args = append(args, v)
	}
	st, ok := in.stmts[string(mask)]
	if !ok {
		marks := make([]string, len(row))
		for i := range marks {
			marks[i] = "?"
			if mask[i] == 'n' {
				marks[i] = "NULL"
			}
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", in.table, strings.Join(in.cols, ", "), strings.Join(marks, ", "))
		var err error
		if st, err = in.tx.Prepare(q); err != nil {
			return err
		}
		in.stmts[string(mask)] = st
	}
	return st.Exec(args...)
}

func (in *inserter) close() {
	for _, st := range in.stmts {
		st.Close()
	}
}

// insertAllRecords converts and inserts records in transactions of
// opts.BatchSize rows.
func insertAllRecords(ctx context.Context, conn *dmdb.Conn, tableName string, records [][]string, res *ImportResult, opts *ImportOptions) error {
	for start := 0; start < len(records); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(records))
		var inserted, skipped int64
		err := conn.Transaction(func(tx *dmdb.Tx) error {
			in := &inserter{tx: tx, table: tableName, cols: res.ColumnNames, stmts: make(map[string]*dmdb.Stmt)}
			defer in.close()
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				row, err := convertRow(records[i], res.ColumnNames, res.ColumnTypes, opts)
				if err != nil {
					if opts.StrictTypes {
						return fmt.Errorf("row %d: %w", i+1, err)
					}
					res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v (skipped)", i+1, err))
					skipped++
					continue
				}
				if err := in.insert(row); err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
				inserted++
			}
			return nil
		})
		res.RowsSkipped += skipped
		if err != nil {
			return err
		}
		res.RowsInserted += inserted
	}
	return nil
}

func convertRow(rec []string, colNames []string, colTypes []ColumnType, opts *ImportOptions) ([]any, error) {
	row := make([]any, len(colNames))
	for i := range colNames {
		var val string
		if i < len(rec) {
			val = rec[i]
		}
		v, err := convertValue(val, colTypes[i], opts)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", colNames[i], err)
		}
		row[i] = v
	}
	return row, nil
}
