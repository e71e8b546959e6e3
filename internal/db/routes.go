package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/stupiduntilnot/msgflux/internal/route"
)

// InsertRouteEntries stores the route of an execution in one transaction.
// Entries already stored for the same sequence number are left untouched.
func InsertRouteEntries(database *sql.DB, executionID string, entries []route.Entry) error {
	if executionID == "" {
		return fmt.Errorf("execution_id cannot be empty")
	}
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO route_entries
		        (execution_id, seq, module, path, op, timestamp_ns, had_prior_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(
			executionID, e.Seq, e.Module, e.Path, string(e.Op), e.Timestamp.UnixNano(), e.HadPriorValue,
		); err != nil {
			return fmt.Errorf("insert route entry seq=%d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

// RouteEntries returns the stored route of an execution in write order.
// An empty module returns every entry.
func RouteEntries(database *sql.DB, executionID, module string) ([]route.Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT seq, module, path, op, timestamp_ns, had_prior_value FROM route_entries`
	if module == "" {
		rows, err = database.Query(cols+` WHERE execution_id = ? ORDER BY seq ASC`, executionID)
	} else {
		rows, err = database.Query(cols+` WHERE execution_id = ? AND module = ? ORDER BY seq ASC`, executionID, module)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []route.Entry
	for rows.Next() {
		var (
			e  route.Entry
			op string
			ns int64
		)
		if err := rows.Scan(&e.Seq, &e.Module, &e.Path, &op, &ns, &e.HadPriorValue); err != nil {
			return nil, err
		}
		e.Op = route.Op(op)
		e.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
