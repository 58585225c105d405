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

// Package fixture builds device acquisitions for tests.
package fixture

import (
	"crypto/sha1" // #nosec
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// ViberDomain and ViberPath locate the Viber database in a backup.
const (
	ViberDomain = "AppDomainGroup-group.viber.share.container"
	ViberPath   = "com.viber/database/Contacts.data"
)

// File is a file of a backup.
type File struct {
	Domain       string
	RelativePath string
	// FileID defaults to the content address of Domain and RelativePath.
	FileID string
	Flags  int64
	// Metadata is stored in the file column of the manifest.
	Metadata []byte
	// Content is written to the fan-out location of the file id, nil
	// files are only registered in the manifest.
	Content []byte
}

// ID returns the file id of f.
func (f File) ID() string {
	if f.FileID != "" {
		return f.FileID
	}
	sum := sha1.Sum([]byte(f.Domain + "-" + f.RelativePath)) // #nosec
	return hex.EncodeToString(sum[:])
}

// Open creates or opens a sqlite database without WAL for writing.
func Open(t testing.TB, path string) *sqlite.Conn {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	conn, err := sqlite.OpenConn(path, sqlite.SQLITE_OPEN_READWRITE|sqlite.SQLITE_OPEN_CREATE)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

// Exec runs a sql script on the database in path.
func Exec(t testing.TB, path, script string) {
	t.Helper()
	conn := Open(t, path)
	defer conn.Close()
	if err := sqlitex.ExecScript(conn, script); err != nil {
		t.Fatal(err)
	}
}

// Backup writes a Manifest.db with all files into root and stores their
// content at root/<id[0:2]>/<id>. The Files table has no unique constraint,
// so duplicate ids can be registered.
func Backup(t testing.TB, root string, files []File) {
	t.Helper()
	conn := Open(t, filepath.Join(root, "Manifest.db"))
	defer conn.Close()

	err := sqlitex.ExecScript(conn, `CREATE TABLE Files (fileID TEXT, domain TEXT, relativePath TEXT, flags INTEGER, file BLOB);
CREATE INDEX FilesDomainIdx ON Files(domain);`)
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range files {
		var metadata interface{}
		if f.Metadata != nil {
			metadata = f.Metadata
		}
		err := sqlitex.Exec(conn, "INSERT INTO Files (fileID, domain, relativePath, flags, file) VALUES (?, ?, ?, ?, ?)", nil,
			f.ID(), f.Domain, f.RelativePath, f.Flags, metadata)
		if err != nil {
			t.Fatal(err)
		}
		if f.Content == nil {
			continue
		}
		id := f.ID()
		WriteFile(t, filepath.Join(root, id[:2], id), f.Content)
	}
}

// WriteFile writes content to path and creates missing directories.
func WriteFile(t testing.TB, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path.
func ReadFile(t testing.TB, path string) []byte {
	t.Helper()
	b, err := ioutil.ReadFile(path) // #nosec
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// CorruptHeader overwrites the magic string of a sqlite database, the
// pages stay intact.
func CorruptHeader(t testing.TB, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteAt(make([]byte, 16), 0); err != nil {
		t.Fatal(err)
	}
}

// CorruptPage overwrites page number page (counted from 1) of a sqlite
// database with pageSize bytes of garbage.
func CorruptPage(t testing.TB, path string, page, pageSize int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	garbage := make([]byte, pageSize)
	for i := range garbage {
		garbage[i] = 0xff
	}
	if _, err := f.WriteAt(garbage, int64(page-1)*int64(pageSize)); err != nil {
		t.Fatal(err)
	}
}
