package mutator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/idreset/internal/artifact"
)

// Peek reads the identifiers an artifact currently holds without changing
// anything. Keys are field names; databases are opened read-only.
func (m *Mutator) Peek(a artifact.Artifact) (map[string]string, error) {
	kind := a.Kind
	if kind == artifact.KindUnrecognized {
		kind = m.Classify(a.Path)
	}

	switch kind {
	case artifact.KindPlainIdentifier:
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", a.Path, err)
		}
		return map[string]string{filepath.Base(a.Path): strings.TrimSpace(string(data))}, nil

	case artifact.KindJSONConfig:
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", a.Path, err)
		}
		obj, err := decodeObject(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", a.Path, err)
		}
		values := make(map[string]string)
		for _, key := range TelemetryKeys {
			if v, ok := obj[key]; ok {
				values[key], _ = scalarString(v)
			}
		}
		return values, nil

	case artifact.KindDatabase:
		return peekDatabase(a.Path)
	}
	return nil, nil
}

func peekDatabase(path string) (map[string]string, error) {
	if !IsSQLite(path) {
		return nil, nil
	}
	db, err := openDatabase(path, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx := context.Background()
	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for _, table := range tables {
		cols, err := listColumns(ctx, db, table)
		if err != nil || !keyValueColumns(cols) {
			continue
		}
		for _, key := range TelemetryKeys {
			var v sql.NullString
			err := db.QueryRowContext(ctx,
				`SELECT CAST("value" AS TEXT) FROM `+quoteIdent(table)+` WHERE "key" = ?`, key).Scan(&v)
			if err != nil || !v.Valid {
				continue
			}
			s := v.String
			var unquoted string
			if strings.HasPrefix(s, `"`) && json.Unmarshal([]byte(s), &unquoted) == nil {
				s = unquoted
			}
			values[table+"."+key] = s
		}
	}
	return values, nil
}
