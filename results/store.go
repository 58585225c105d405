// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package results persists the outcomes of a scan.
//
// Every module produces three sequences: its results, its detections and its
// timeline. They are written as JSON files next to a merged timeline in CSV
// and can additionally be collected in a single sqlite database, the results
// store, which offers a view per module and sequence with one column per
// record field.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/mobilecheck/internal/flatten"
	"github.com/forensicanalysis/mobilecheck/module"
)

const (
	storeVersion  = 1
	applicationID = 1836016227 // "mobc"
)

// The kinds of elements in the results store.
const (
	KindResult           = "result"
	KindDetection        = "detection"
	KindTimeline         = "timeline"
	KindTimelineDetected = "timeline_detected"
)

var (
	// ErrStoreExists is returned by New if the file already exists.
	ErrStoreExists = errors.New("store already exists")
	// ErrStoreNotExists is returned by Open if the file does not exist.
	ErrStoreNotExists = errors.New("store does not exist")
)

// Store is a sqlite database of scan results. It is not safe for concurrent
// use.
type Store struct {
	conn    *sqlite.Conn
	columns *columnMap
}

// New creates a results store.
func New(path string) (*Store, error) {
	return open(path, true)
}

// Open opens an existing results store.
func Open(path string) (*Store, error) {
	return open(path, false)
}

func open(path string, create bool) (*Store, error) {
	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if create && exists {
		return nil, errors.Wrap(ErrStoreExists, path)
	}
	if !create && !exists {
		return nil, errors.Wrap(ErrStoreNotExists, path)
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}

	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, err
	}
	store := &Store{conn: conn, columns: newColumnMap()}

	if create {
		err = sqlitex.ExecScript(conn, fmt.Sprintf(`PRAGMA application_id = %d;
PRAGMA user_version = %d;
CREATE TABLE elements (id TEXT PRIMARY KEY, module TEXT NOT NULL, kind TEXT NOT NULL, json TEXT NOT NULL, insert_time TEXT NOT NULL);
CREATE INDEX elements_module_kind ON elements (module, kind);`, applicationID, storeVersion))
		if err != nil {
			conn.Close() // nolint:errcheck
			return nil, errors.Wrap(err, "could not create results store")
		}
		return store, nil
	}

	for name, want := range map[string]int64{"application_id": applicationID, "user_version": storeVersion} {
		got, err := pragma(conn, name)
		if err != nil {
			conn.Close() // nolint:errcheck
			return nil, err
		}
		if got != want {
			conn.Close() // nolint:errcheck
			return nil, fmt.Errorf("wrong file format (%s is %d, requires %d)", name, got, want)
		}
	}
	if err := store.loadColumns(); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return store, nil
}

// loadColumns fills the column map from stored elements, so views that are
// recreated on Close keep the fields of earlier scans.
func (store *Store) loadColumns() error {
	err := sqlitex.Exec(store.conn, "SELECT module, kind, json FROM elements", func(stmt *sqlite.Stmt) error {
		nested := map[string]interface{}{}
		if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &nested); err != nil {
			return errors.Wrapf(err, "element of %s is not an object", stmt.ColumnText(0))
		}
		store.columns.addAll(view{module: stmt.ColumnText(0), kind: stmt.ColumnText(1)}, flatten.Flatten(nested))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "could not read columns")
	}
	store.columns.changed = false
	return nil
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	return sqlitex.ResultInt64(conn.Prep("PRAGMA " + name))
}

// Insert adds a single element and returns its id.
func (store *Store) Insert(moduleName, kind string, element interface{}) (string, error) {
	b, err := json.Marshal(element)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal element")
	}
	nested := map[string]interface{}{}
	if err := json.Unmarshal(b, &nested); err != nil {
		return "", errors.Wrap(err, "element is not an object")
	}
	store.columns.addAll(view{module: moduleName, kind: kind}, flatten.Flatten(nested))

	id := kind + "--" + uuid.New().String()
	stmt := store.conn.Prep("INSERT INTO elements (id, module, kind, json, insert_time) VALUES ($id, $module, $kind, $json, $time)")
	stmt.SetText("$id", id)
	stmt.SetText("$module", moduleName)
	stmt.SetText("$kind", kind)
	stmt.SetText("$json", string(b))
	stmt.SetText("$time", time.Now().UTC().Format(module.TimeFormat))
	if _, err := stmt.Step(); err != nil {
		return "", errors.Wrap(err, "could not insert element")
	}
	return id, stmt.Reset()
}

// InsertOutcome adds the results, detections and timelines of a module.
func (store *Store) InsertOutcome(o *module.Outcome) (err error) {
	defer sqlitex.Save(store.conn)(&err)

	for _, r := range o.Results {
		if _, err = store.Insert(o.Module, KindResult, r); err != nil {
			return err
		}
	}
	for _, d := range o.Detected {
		if _, err = store.Insert(o.Module, KindDetection, d); err != nil {
			return err
		}
	}
	for _, e := range o.Timeline {
		if _, err = store.Insert(o.Module, KindTimeline, e); err != nil {
			return err
		}
	}
	for _, e := range o.TimelineDetected {
		if _, err = store.Insert(o.Module, KindTimelineDetected, e); err != nil {
			return err
		}
	}
	return nil
}

// Select returns the elements of a module and kind in insertion order.
// Empty arguments match everything.
func (store *Store) Select(moduleName, kind string) ([]json.RawMessage, error) {
	var conditions []string
	var args []interface{}
	if moduleName != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, moduleName)
	}
	if kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, kind)
	}
	query := "SELECT json FROM elements"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid"

	elements := []json.RawMessage{}
	err := sqlitex.Exec(store.conn, query, func(stmt *sqlite.Stmt) error {
		elements = append(elements, json.RawMessage(stmt.ColumnText(0)))
		return nil
	}, args...)
	return elements, err
}

// All returns every element.
func (store *Store) All() ([]json.RawMessage, error) {
	return store.Select("", "")
}

// Close creates the views and closes the database.
func (store *Store) Close() error {
	var err error
	if store.columns.changed {
		err = store.createViews()
	}
	if closeErr := store.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (store *Store) createViews() error {
	for v, fields := range store.columns.all() {
		var columns []string
		for _, field := range fields {
			columns = append(columns, fmt.Sprintf("json_extract(elements.json, %s) AS %s", literal(flatten.JSONPath(field)), quote(field)))
		}
		if len(columns) == 0 {
			continue
		}
		script := fmt.Sprintf("DROP VIEW IF EXISTS %s;\nCREATE VIEW %s AS SELECT %s FROM elements WHERE elements.module = %s AND elements.kind = %s;",
			quote(v.name()), quote(v.name()), strings.Join(columns, ", "), literal(v.module), literal(v.kind))
		if err := sqlitex.ExecScript(store.conn, script); err != nil {
			return errors.Wrapf(err, "could not create view %s", v.name())
		}
	}
	return nil
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
