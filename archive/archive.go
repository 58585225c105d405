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

// Package archive stores copies of the artifacts a scan processed in a
// sqlite archive. The table layout is the one of the sqlar format, so the
// archive can also be read with "sqlite3 -A".
package archive

import (
	"bytes"
	"compress/zlib"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/forensicanalysis/mobilecheck/archive/spooled"
)

// ErrInvalidName is returned for names that are empty after cleaning.
var ErrInvalidName = errors.New("invalid archive name")

const table = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// memoryLimit is the content size up to which Add buffers in memory.
const memoryLimit = 16 << 20

// Archive is a sqlar archive. It is safe for concurrent use.
type Archive struct {
	mu      sync.Mutex
	conn    *sqlite.Conn
	tempDir string
}

// Info describes an archived file.
type Info struct {
	Name  string
	Mode  os.FileMode
	MTime time.Time
	Size  int64
	// Stored is the size of the data blob.
	Stored int64
}

// New opens or creates the archive at path.
func New(path string) (*Archive, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, err
	}
	if err := sqlitex.ExecTransient(conn, table, nil); err != nil {
		conn.Close() // nolint:errcheck
		return nil, err
	}
	return &Archive{conn: conn, tempDir: filepath.Dir(path)}, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.Close()
}

// Add stores the content of r under name. Content is zlib compressed
// unless compression does not make it smaller. An existing file with the
// same name is replaced.
func (a *Archive) Add(name string, r io.Reader, mode os.FileMode, mtime time.Time) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}

	raw, teardownRaw := spooled.New(a.tempDir, memoryLimit)
	defer teardownRaw() // nolint:errcheck
	compressed, teardownCompressed := spooled.New(a.tempDir, memoryLimit)
	defer teardownCompressed() // nolint:errcheck

	zw := zlib.NewWriter(compressed)
	if _, err := io.Copy(io.MultiWriter(raw, zw), r); err != nil {
		return errors.Wrapf(err, "could not read %s", name)
	}
	if err := zw.Close(); err != nil {
		return err
	}

	data := compressed
	if compressed.Size() >= raw.Size() {
		data = raw
	}
	if err := data.Rewind(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insert(name, mode, mtime, raw.Size(), data)
}

func (a *Archive) insert(name string, mode os.FileMode, mtime time.Time, size int64, data *spooled.TemporaryFile) (err error) {
	defer sqlitex.Save(a.conn)(&err)

	stmt := a.conn.Prep(`INSERT OR REPLACE INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, $sz, $data)`)
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", int64(mode))
	stmt.SetInt64("$mtime", mtime.Unix())
	stmt.SetInt64("$sz", size)
	stmt.SetZeroBlob("$data", data.Size())
	if _, err = stmt.Step(); err != nil {
		return errors.Wrapf(err, "could not insert %s", name)
	}
	if err = stmt.Reset(); err != nil {
		return err
	}

	blob, err := a.conn.OpenBlob("", "sqlar", "data", a.conn.LastInsertRowID(), true)
	if err != nil {
		return err
	}
	if _, err = io.Copy(blob, data); err != nil {
		blob.Close() // nolint:errcheck
		return err
	}
	return blob.Close()
}

// AddFile archives the file src of fs under name, keeping its mode and
// modification time.
func (a *Archive) AddFile(fs afero.Fs, src, name string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Errorf("%s is a directory", src)
	}
	f, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.Add(name, f, info.Mode().Perm(), info.ModTime())
}

// Open returns the decompressed content of an archived file.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	info, rowid, err := a.stat(name)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	blob, err := a.conn.OpenBlob("", "sqlar", "data", rowid, false)
	if err != nil {
		return nil, err
	}
	// the blob is read into memory to release the connection
	b, err := io.ReadAll(blob)
	blob.Close() // nolint:errcheck
	if err != nil {
		return nil, err
	}
	if info.Stored == info.Size {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return zlib.NewReader(bytes.NewReader(b))
}

// Stat returns the metadata of an archived file.
func (a *Archive) Stat(name string) (*Info, error) {
	info, _, err := a.stat(name)
	return info, err
}

func (a *Archive) stat(name string) (*Info, int64, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var info *Info
	var rowid int64
	err = sqlitex.Exec(a.conn, `SELECT rowid, name, mode, mtime, sz, length(data) FROM sqlar WHERE name = ?`, func(stmt *sqlite.Stmt) error {
		rowid = stmt.ColumnInt64(0)
		info = scanInfo(stmt, 1)
		return nil
	}, name)
	if err != nil {
		return nil, 0, err
	}
	if info == nil {
		return nil, 0, errors.Wrap(os.ErrNotExist, name)
	}
	return info, rowid, nil
}

// List returns all archived files ordered by name.
func (a *Archive) List() ([]*Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var infos []*Info
	err := sqlitex.Exec(a.conn, `SELECT name, mode, mtime, sz, length(data) FROM sqlar WHERE data IS NOT NULL ORDER BY name`, func(stmt *sqlite.Stmt) error {
		infos = append(infos, scanInfo(stmt, 0))
		return nil
	})
	return infos, err
}

func scanInfo(stmt *sqlite.Stmt, col int) *Info {
	return &Info{
		Name:   stmt.ColumnText(col),
		Mode:   os.FileMode(stmt.ColumnInt64(col + 1)),
		MTime:  time.Unix(stmt.ColumnInt64(col+2), 0).UTC(),
		Size:   stmt.ColumnInt64(col + 3),
		Stored: stmt.ColumnInt64(col + 4),
	}
}

// Extract writes all archived files to dest. The destination name of each
// file is chosen by mode, see ExportPath.
func (a *Archive) Extract(dest afero.Fs, mode string) error {
	infos, err := a.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := a.extract(dest, info, ExportPath(info.Name, mode)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) extract(dest afero.Fs, info *Info, target string) error {
	r, err := a.Open(info.Name)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := dest.MkdirAll(path.Dir(target), 0750); err != nil {
		return err
	}
	mode := info.Mode.Perm()
	if mode == 0 {
		mode = 0640
	}
	f, err := dest.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close() // nolint:errcheck
		return errors.Wrapf(err, "could not extract %s", info.Name)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return dest.Chtimes(target, info.MTime, info.MTime)
}

func normalizeName(name string) (string, error) {
	name = strings.TrimLeft(path.Clean("/"+filepath.ToSlash(name)), "/")
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}
