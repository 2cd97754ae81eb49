package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	appErrors "cms-backup/internal/errors"
)

// WipeStats counts the objects dropped by a wipe
type WipeStats struct {
	Views      int
	Tables     int
	Sequences  int
	Procedures int
	Functions  int
	Events     int
}

type schemaObject struct {
	kind string
	name string
}

const (
	listTablesQuery   = "SELECT TABLE_NAME, TABLE_TYPE FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME"
	listRoutinesQuery = "SELECT ROUTINE_NAME, ROUTINE_TYPE FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = ? ORDER BY ROUTINE_NAME"
	listEventsQuery   = "SELECT EVENT_NAME FROM information_schema.EVENTS WHERE EVENT_SCHEMA = ? ORDER BY EVENT_NAME"
)

// wipeSchema drops every object of schema on a single connection with
// foreign key checks disabled. DDL auto-commits, so a partial wipe is simply
// re-run.
func wipeSchema(ctx context.Context, db *sql.DB, schema string) (WipeStats, error) {
	var stats WipeStats

	conn, err := db.Conn(ctx)
	if err != nil {
		return stats, appErrors.Wipe("failed to acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return stats, appErrors.Wipe("failed to disable foreign key checks", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS = 1")

	objects, err := listSchemaObjects(ctx, conn, schema)
	if err != nil {
		return stats, err
	}

	for _, obj := range objects {
		stmt := fmt.Sprintf("DROP %s IF EXISTS %s", obj.kind, quoteIdent(obj.name))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return stats, appErrors.Wipe(fmt.Sprintf("failed to drop %s %s", strings.ToLower(obj.kind), obj.name), err).
				WithContext("schema", schema)
		}

		switch obj.kind {
		case "VIEW":
			stats.Views++
		case "TABLE":
			stats.Tables++
		case "SEQUENCE":
			stats.Sequences++
		case "PROCEDURE":
			stats.Procedures++
		case "FUNCTION":
			stats.Functions++
		case "EVENT":
			stats.Events++
		}
	}

	return stats, nil
}

// listSchemaObjects returns drop targets ordered views first, since views may
// reference tables.
func listSchemaObjects(ctx context.Context, conn *sql.Conn, schema string) ([]schemaObject, error) {
	var views, tables, others []schemaObject

	rows, err := conn.QueryContext(ctx, listTablesQuery, schema)
	if err != nil {
		return nil, appErrors.Wipe("failed to list tables", err)
	}
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			rows.Close()
			return nil, appErrors.Wipe("failed to scan table row", err)
		}
		switch tableType {
		case "VIEW":
			views = append(views, schemaObject{kind: "VIEW", name: name})
		case "SEQUENCE":
			others = append(others, schemaObject{kind: "SEQUENCE", name: name})
		default:
			tables = append(tables, schemaObject{kind: "TABLE", name: name})
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, appErrors.Wipe("failed to list tables", err)
	}

	rows, err = conn.QueryContext(ctx, listRoutinesQuery, schema)
	if err != nil {
		return nil, appErrors.Wipe("failed to list routines", err)
	}
	for rows.Next() {
		var name, routineType string
		if err := rows.Scan(&name, &routineType); err != nil {
			rows.Close()
			return nil, appErrors.Wipe("failed to scan routine row", err)
		}
		others = append(others, schemaObject{kind: strings.ToUpper(routineType), name: name})
	}
	if err := closeRows(rows); err != nil {
		return nil, appErrors.Wipe("failed to list routines", err)
	}

	rows, err = conn.QueryContext(ctx, listEventsQuery, schema)
	if err != nil {
		return nil, appErrors.Wipe("failed to list events", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, appErrors.Wipe("failed to scan event row", err)
		}
		others = append(others, schemaObject{kind: "EVENT", name: name})
	}
	if err := closeRows(rows); err != nil {
		return nil, appErrors.Wipe("failed to list events", err)
	}

	objects := make([]schemaObject, 0, len(views)+len(tables)+len(others))
	objects = append(objects, views...)
	objects = append(objects, tables...)
	return append(objects, others...), nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
