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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	headerSize      = 100
	headerMagic     = "SQLite format 3\x00"
	defaultPageSize = 4096
)

type recoveryStats struct {
	HeaderRepaired bool
	TruncatedBytes int64
	Tables         int
	Rows           int
	// Incomplete lists tables that could only be read partially or not at
	// all.
	Incomplete []string
}

// recoverDatabase copies src into workDir, repairs what can be repaired
// without guessing content (header fields, torn trailing page) and salvages
// all readable rows into a new database. It returns the path of the new
// database.
func recoverDatabase(ctx context.Context, src, workDir string) (string, recoveryStats, error) {
	var stats recoveryStats
	id := uuid.New().String()

	damaged := filepath.Join(workDir, id+".damaged")
	defer os.Remove(damaged) // nolint:errcheck
	if err := copyFile(src, damaged); err != nil {
		return "", stats, err
	}

	pageSize, repaired, err := repairHeader(damaged)
	if err != nil {
		return "", stats, err
	}
	stats.HeaderRepaired = repaired

	truncated, err := truncateToPages(damaged, pageSize)
	if err != nil {
		return "", stats, err
	}
	stats.TruncatedBytes = truncated

	source, err := sqlite.OpenConn(immutableURI(damaged), sqlite.SQLITE_OPEN_READONLY|sqlite.SQLITE_OPEN_URI)
	if err != nil {
		return "", stats, errors.Wrap(err, "could not open repaired copy")
	}
	defer source.Close()
	source.SetInterrupt(ctx.Done())

	objects, err := schemaObjects(source)
	if err != nil {
		return "", stats, errors.Wrap(err, "schema is unreadable")
	}

	recovered := filepath.Join(workDir, id+".db")
	target, err := sqlite.OpenConn(recovered, sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_CREATE)
	if err != nil {
		return "", stats, errors.Wrap(err, "could not create recovery database")
	}

	err = salvage(ctx, source, target, objects, &stats)
	if closeErr := target.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(recovered)
		return "", stats, err
	}
	return recovered, stats, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() // nolint:errcheck
		return err
	}
	return out.Close()
}

// repairHeader restores header fields that have a single valid value or a
// safe default. The content of pages is never changed.
func repairHeader(path string) (pageSize int, repaired bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, false, errors.Wrap(err, "file is too small to contain a database header")
	}
	original := string(header)

	copy(header, headerMagic)

	pageSize = int(binary.BigEndian.Uint16(header[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	if !validPageSize(pageSize) {
		pageSize = defaultPageSize
		binary.BigEndian.PutUint16(header[16:18], uint16(pageSize))
	}

	// the copy has no WAL file, so it is opened in rollback journal mode
	header[18], header[19] = 1, 1

	// maximum embedded payload fraction, minimum embedded payload fraction
	// and leaf payload fraction are fixed
	header[21], header[22], header[23] = 64, 32, 32

	if string(header) == original {
		return pageSize, false, nil
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		return 0, false, err
	}
	return pageSize, true, nil
}

func validPageSize(size int) bool {
	return size >= 512 && size <= 65536 && size&(size-1) == 0
}

// truncateToPages drops an incomplete trailing page.
func truncateToPages(path string, pageSize int) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	rest := info.Size() % int64(pageSize)
	if info.Size()-rest < int64(pageSize) {
		return 0, fmt.Errorf("file does not contain a complete page of %d bytes", pageSize)
	}
	if rest == 0 {
		return 0, nil
	}
	return rest, os.Truncate(path, info.Size()-rest)
}

type schemaObject struct {
	kind, name, sql string
}

func schemaObjects(conn *sqlite.Conn) ([]schemaObject, error) {
	var objects []schemaObject
	query := "SELECT type, name, sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY rowid"
	err := sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		objects = append(objects, schemaObject{
			kind: stmt.ColumnText(0),
			name: stmt.ColumnText(1),
			sql:  stmt.ColumnText(2),
		})
		return nil
	})
	return objects, err
}

func salvage(ctx context.Context, source, target *sqlite.Conn, objects []schemaObject, stats *recoveryStats) error {
	if err := sqlitex.ExecTransient(target, "BEGIN", nil); err != nil {
		return err
	}

	for _, object := range objects {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if object.kind != "table" || strings.HasPrefix(object.name, "sqlite_") {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(object.sql)), "CREATE VIRTUAL TABLE") {
			stats.Incomplete = append(stats.Incomplete, object.name)
			continue
		}
		if err := sqlitex.ExecTransient(target, object.sql, nil); err != nil {
			stats.Incomplete = append(stats.Incomplete, object.name)
			continue
		}

		rows, err := copyRows(source, target, object.name)
		stats.Rows += rows
		stats.Tables++
		if err != nil {
			if isWriteError(err) {
				return err
			}
			stats.Incomplete = append(stats.Incomplete, object.name)
		}
	}

	// views are needed by queries of some extractors, they carry no data
	for _, object := range objects {
		if object.kind == "view" {
			_ = sqlitex.ExecTransient(target, object.sql, nil)
		}
	}

	return sqlitex.ExecTransient(target, "COMMIT", nil)
}

type writeError struct{ error }

func isWriteError(err error) bool {
	_, ok := err.(writeError)
	return ok
}

// copyRows copies rows in storage order until the first unreadable row.
func copyRows(source, target *sqlite.Conn, table string) (rows int, err error) {
	read, _, err := source.PrepareTransient("SELECT * FROM " + quoteIdentifier(table))
	if err != nil {
		return 0, err
	}
	defer read.Finalize() // nolint:errcheck

	columns := read.ColumnCount()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", columns), ",")
	write, _, err := target.PrepareTransient(fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdentifier(table), placeholders))
	if err != nil {
		return 0, writeError{err}
	}
	defer write.Finalize() // nolint:errcheck

	for {
		hasRow, err := read.Step()
		if err != nil {
			return rows, err
		}
		if !hasRow {
			return rows, nil
		}

		for i := 0; i < columns; i++ {
			param := i + 1
			switch read.ColumnType(i) {
			case sqlite.SQLITE_INTEGER:
				write.BindInt64(param, read.ColumnInt64(i))
			case sqlite.SQLITE_FLOAT:
				write.BindFloat(param, read.ColumnFloat(i))
			case sqlite.SQLITE_TEXT:
				write.BindText(param, read.ColumnText(i))
			case sqlite.SQLITE_BLOB:
				buf := make([]byte, read.ColumnLen(i))
				read.ColumnBytes(i, buf)
				write.BindBytes(param, buf)
			default:
				write.BindNull(param)
			}
		}
		if _, err := write.Step(); err != nil {
			return rows, writeError{err}
		}
		if err := write.Reset(); err != nil {
			return rows, writeError{err}
		}
		rows++
	}
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
