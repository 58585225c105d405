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

package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Database is an opened sqlite container of an artifact.
type Database struct {
	Conn *sqlite.Conn
	// Source is the path of the artifact that was requested.
	Source string
	// Path is the file that is actually opened. It differs from Source for
	// recovered databases.
	Path string
	// Recovered is set if the data was salvaged from a damaged container.
	Recovered bool
}

// Close closes the connection.
func (db *Database) Close() error {
	return db.Conn.Close()
}

// OpenRecoverable opens a sqlite artifact for reading. If the strict open
// fails, the readable part of the container is recovered. Artifacts that can
// not be read at all result in ErrArtifactUnreadable.
func (s *Store) OpenRecoverable(ctx context.Context, path string) (*Database, error) {
	db, err := s.OpenStrict(ctx, path)
	if err == nil {
		return db, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap(ErrArtifactUnreadable, ctx.Err().Error())
	}

	s.logger.WithError(err).WithField("path", path).Info("database failed integrity check, trying recovery")
	db, err = s.OpenWithRecovery(ctx, path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenStrict opens a sqlite artifact read-only without touching it on disk
// and runs a quick integrity check. Busy or locked databases are retried up
// to the configured number of attempts.
func (s *Store) OpenStrict(ctx context.Context, path string) (*Database, error) {
	var err error
	for attempt := 1; attempt <= s.openAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ErrArtifactUnreadable, ctxErr.Error())
		}

		var db *Database
		db, err = openChecked(ctx, path)
		if err == nil {
			return db, nil
		}
		if !isTransient(err) {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, errors.Wrapf(err, "could not open %s", path)
}

// OpenWithRecovery salvages the readable tables of a damaged sqlite
// container into a private copy and opens that copy. The artifact itself is
// never modified.
func (s *Store) OpenWithRecovery(ctx context.Context, path string) (*Database, error) {
	if recovered, ok := s.recovered.Get(path); ok {
		db, err := openChecked(ctx, recovered)
		if err == nil {
			db.Source, db.Recovered = path, true
			return db, nil
		}
		s.recovered.Remove(path)
	}

	workDir, err := s.ensureWorkDir()
	if err != nil {
		return nil, errors.Wrap(err, "could not create recovery directory")
	}

	recovered, stats, err := recoverDatabase(ctx, path, workDir)
	if err != nil {
		return nil, errors.Wrap(ErrArtifactUnreadable, err.Error())
	}
	if previous, loaded, _ := s.recovered.PeekOrAdd(path, recovered); loaded {
		_ = os.Remove(recovered)
		recovered = previous
	}

	s.logger.WithField("path", path).
		WithField("tables", stats.Tables).
		WithField("rows", stats.Rows).
		WithField("incomplete_tables", strings.Join(stats.Incomplete, ",")).
		WithField("header_repaired", stats.HeaderRepaired).
		WithField("truncated_bytes", stats.TruncatedBytes).
		Warn("recovered damaged database")

	db, err := openChecked(ctx, recovered)
	if err != nil {
		return nil, errors.Wrap(ErrArtifactUnreadable, err.Error())
	}
	db.Source, db.Recovered = path, true
	return db, nil
}

func openChecked(ctx context.Context, path string) (*Database, error) {
	conn, err := sqlite.OpenConn(immutableURI(path), sqlite.SQLITE_OPEN_READONLY|sqlite.SQLITE_OPEN_URI)
	if err != nil {
		return nil, err
	}
	conn.SetInterrupt(ctx.Done())

	if err := quickCheck(conn); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return &Database{Conn: conn, Source: path, Path: path}, nil
}

func quickCheck(conn *sqlite.Conn) error {
	var problems []string
	err := sqlitex.Exec(conn, "PRAGMA quick_check", func(stmt *sqlite.Stmt) error {
		if status := stmt.ColumnText(0); status != "ok" {
			problems = append(problems, status)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("quick_check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func isTransient(err error) bool {
	switch sqlite.ErrCode(errors.Cause(err)) & 0xff {
	case sqlite.SQLITE_BUSY, sqlite.SQLITE_LOCKED:
		return true
	}
	return false
}

// immutableURI returns a sqlite URI that opens the file without locking,
// journal or WAL side files, so evidence directories stay untouched.
func immutableURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "immutable=1"}
	return u.String()
}

func newRecoveryCache(size int) *lru.Cache[string, string] {
	cache, err := lru.NewWithEvict[string, string](size, func(_ string, recovered string) {
		_ = os.Remove(recovered)
	})
	if err != nil {
		panic(err) // only for size <= 0
	}
	return cache
}
