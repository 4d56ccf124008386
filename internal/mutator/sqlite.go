package mutator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// openDatabase opens a SQLite file with a single connection. readOnly opens
// it with mode=ro so status displays never write.
func openDatabase(path string, readOnly bool) (*sql.DB, error) {
	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return db, nil
}

// column is one column as reported by PRAGMA table_info.
type column struct {
	name     string
	declType string
}

// textLike reports whether the declared type stores text. Columns without
// a declared type hold whatever was written and are included.
func (c column) textLike() bool {
	t := strings.ToUpper(c.declType)
	if t == "" {
		return true
	}
	for _, s := range []string{"TEXT", "CHAR", "CLOB", "BLOB"} {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// querier is the part of *sql.DB and *sql.Tx the table helpers need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func listTables(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func listColumns(ctx context.Context, q querier, table string) ([]column, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			c       column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.name, &c.declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// keyValueColumns reports whether a table has a text key column and a value
// column, the layout of VS Code's ItemTable.
func keyValueColumns(cols []column) bool {
	var key, value bool
	for _, c := range cols {
		switch strings.ToLower(c.name) {
		case "key":
			key = c.textLike()
		case "value":
			value = true
		}
	}
	return key && value
}

// applySubstitute replaces telemetry identifiers stored in a database, in
// one transaction. A read-only pass runs first; a database with nothing to
// replace is neither backed up nor unprotected.
func (m *Mutator) applySubstitute(res *Result, opts Options) Result {
	path := res.Artifact.Path
	if !IsSQLite(path) {
		return res.skip("not a SQLite database")
	}

	pending, err := m.substitute(path, true)
	if err != nil {
		return res.fail(err)
	}
	if len(pending) == 0 {
		return res.succeed(OutcomeUnchanged)
	}

	m.backupFile(res, path, res.Artifact.Label, opts)
	if err := m.unlock(path); err != nil {
		return res.fail(err)
	}

	changes, err := m.substitute(path, false)
	if err != nil {
		return res.fail(err)
	}
	res.Changes = changes
	res.RecordsAffected = int64(len(changes))
	m.lock(res, path, opts)
	if len(changes) == 0 {
		return res.succeed(OutcomeUnchanged)
	}
	return res.succeed(OutcomeMutated)
}

type rowValue struct {
	rowid int64
	value string
}

// substitute rewrites every telemetry identifier in path. With dryRun the
// database is opened read-only and the changes that would be made are
// returned; their New values are never stored.
func (m *Mutator) substitute(path string, dryRun bool) ([]Change, error) {
	ctx := context.Background()
	db, err := openDatabase(path, dryRun)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tables, err := listTables(ctx, tx)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, table := range tables {
		cols, err := listColumns(ctx, tx, table)
		if err != nil {
			m.log.Warn("skipping table", "table", table, "error", err)
			continue
		}

		kv := keyValueColumns(cols)
		if kv {
			for _, key := range TelemetryKeys {
				c, ok, err := m.replaceKeyValue(ctx, tx, table, key, dryRun)
				if err != nil {
					return nil, err
				}
				if ok {
					changes = append(changes, c)
				}
			}
		}

		for _, col := range cols {
			if !col.textLike() {
				continue
			}
			if kv && (strings.EqualFold(col.name, "key") || strings.EqualFold(col.name, "value")) {
				continue
			}
			cs, err := m.replaceEmbedded(ctx, tx, table, col.name, dryRun)
			if err != nil {
				m.log.Warn("skipping column", "table", table, "column", col.name, "error", err)
				continue
			}
			changes = append(changes, cs...)
		}
	}

	if dryRun {
		return changes, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return changes, nil
}

// replaceKeyValue rewrites the value stored under key. JSON-quoted string
// values stay JSON-quoted.
func (m *Mutator) replaceKeyValue(ctx context.Context, tx *sql.Tx, table, key string, dryRun bool) (Change, bool, error) {
	var old sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT CAST("value" AS TEXT) FROM `+quoteIdent(table)+` WHERE "key" = ?`, key).Scan(&old)
	if err == sql.ErrNoRows {
		return Change{}, false, nil
	}
	if err != nil {
		return Change{}, false, fmt.Errorf("failed to read %s from %s: %w", key, table, err)
	}

	id, err := m.generate(key)
	if err != nil {
		return Change{}, false, err
	}
	c := Change{Field: table + "." + key, New: id}
	stored := c.New
	if old.Valid {
		c.Old, c.OldKnown = old.String, true
		var s string
		if strings.HasPrefix(old.String, `"`) && json.Unmarshal([]byte(old.String), &s) == nil {
			c.Old = s
			q, _ := json.Marshal(c.New)
			stored = string(q)
		}
	}

	if dryRun {
		return c, true, nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE "+quoteIdent(table)+` SET "value" = ? WHERE "key" = ?`, stored, key); err != nil {
		return Change{}, false, fmt.Errorf("failed to update %s in %s: %w", key, table, err)
	}
	return c, true, nil
}

// replaceEmbedded rewrites telemetry keys inside JSON objects stored in a
// text column.
func (m *Mutator) replaceEmbedded(ctx context.Context, tx *sql.Tx, table, col string, dryRun bool) ([]Change, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT rowid, CAST("+quoteIdent(col)+" AS TEXT) FROM "+quoteIdent(table)+
			" WHERE "+quoteIdent(col)+" LIKE '%telemetry.%'")
	if err != nil {
		return nil, err
	}
	var candidates []rowValue
	for rows.Next() {
		var rv rowValue
		var v sql.NullString
		if err := rows.Scan(&rv.rowid, &v); err != nil {
			rows.Close()
			return nil, err
		}
		if v.Valid {
			rv.value = v.String
			candidates = append(candidates, rv)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var changes []Change
	for _, rv := range candidates {
		obj, err := decodeObject([]byte(rv.value))
		if err != nil {
			continue
		}
		var rowChanges []Change
		for _, key := range TelemetryKeys {
			old, ok := obj[key]
			if !ok {
				continue
			}
			id, err := m.generate(key)
			if err != nil {
				return nil, err
			}
			c := Change{Field: fmt.Sprintf("%s.%s[%d].%s", table, col, rv.rowid, key), New: id}
			c.Old, c.OldKnown = scalarString(old)
			obj[key] = c.New
			rowChanges = append(rowChanges, c)
		}
		if len(rowChanges) == 0 {
			continue
		}
		if dryRun {
			changes = append(changes, rowChanges...)
			continue
		}
		out, err := marshalJSON(obj)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE "+quoteIdent(table)+" SET "+quoteIdent(col)+" = ? WHERE rowid = ?", string(out), rv.rowid); err != nil {
			return nil, err
		}
		changes = append(changes, rowChanges...)
	}
	return changes, nil
}

// applyDelete removes matching records from the database and from a
// co-located <file>.backup shadow copy. Each file is counted read-only
// first and only backed up and unprotected when something matches.
func (m *Mutator) applyDelete(res *Result, opts Options) Result {
	path := res.Artifact.Path
	if !IsSQLite(path) {
		return res.skip("not a SQLite database")
	}
	if len(opts.Patterns) == 0 {
		return res.skip("no deletion patterns configured")
	}

	matched, err := m.deleteMatching(path, opts.Patterns, true)
	if err != nil {
		return res.fail(err)
	}
	if matched > 0 {
		m.backupFile(res, path, res.Artifact.Label, opts)
		if err := m.unlock(path); err != nil {
			return res.fail(err)
		}
		deleted, err := m.deleteMatching(path, opts.Patterns, false)
		if err != nil {
			return res.fail(err)
		}
		res.RecordsAffected = deleted
		m.lock(res, path, opts)
	}

	shadow := path + ".backup"
	if info, err := os.Stat(shadow); err == nil && info.Mode().IsRegular() && IsSQLite(shadow) {
		res.RecordsAffected += m.cleanShadow(res, shadow, opts)
	}

	if res.RecordsAffected == 0 {
		return res.succeed(OutcomeUnchanged)
	}
	return res.succeed(OutcomeMutated)
}

// cleanShadow applies the deletion to a shadow copy. Failures are logged
// and leave the main result untouched.
func (m *Mutator) cleanShadow(res *Result, shadow string, opts Options) int64 {
	matched, err := m.deleteMatching(shadow, opts.Patterns, true)
	if err != nil {
		m.log.Warn("cannot read shadow database", "path", shadow, "error", err)
		return 0
	}
	if matched == 0 {
		return 0
	}

	m.backupFile(res, shadow, res.Artifact.Label+".backup", opts)
	if err := m.unlock(shadow); err != nil {
		m.log.Warn("cannot unprotect shadow database", "path", shadow, "error", err)
		return 0
	}
	n, err := m.deleteMatching(shadow, opts.Patterns, false)
	if err != nil {
		m.log.Warn("failed to clean shadow database", "path", shadow, "error", err)
		return 0
	}
	m.log.Info("cleaned shadow database", "path", shadow, "deleted", n)
	return n
}

// deleteMatching deletes, for every table, text column and pattern, the
// rows whose column matches the LIKE pattern. Counts are taken before each
// delete and summed. Everything commits together. With dryRun the database
// is opened read-only and only the counts are summed.
func (m *Mutator) deleteMatching(path string, patterns []string, dryRun bool) (int64, error) {
	ctx := context.Background()
	db, err := openDatabase(path, dryRun)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tables, err := listTables(ctx, tx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, table := range tables {
		cols, err := listColumns(ctx, tx, table)
		if err != nil {
			m.log.Warn("skipping table", "table", table, "error", err)
			continue
		}
		for _, col := range cols {
			if !col.textLike() {
				continue
			}
			where := " FROM " + quoteIdent(table) + " WHERE " + quoteIdent(col.name) + " LIKE ?"
			for _, pattern := range patterns {
				var count int64
				if err := tx.QueryRowContext(ctx, "SELECT COUNT(*)"+where, pattern).Scan(&count); err != nil {
					m.log.Warn("cannot count matches", "table", table, "column", col.name, "pattern", pattern, "error", err)
					continue
				}
				if count == 0 {
					continue
				}
				if dryRun {
					total += count
					continue
				}
				result, err := tx.ExecContext(ctx, "DELETE"+where, pattern)
				if err != nil {
					m.log.Warn("cannot delete matches", "table", table, "column", col.name, "pattern", pattern, "error", err)
					continue
				}
				if n, err := result.RowsAffected(); err == nil {
					count = n
				}
				total += count
				m.log.Debug("deleted records", "table", table, "column", col.name, "pattern", pattern, "count", count)
			}
		}
	}

	if dryRun {
		return total, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return total, nil
}
