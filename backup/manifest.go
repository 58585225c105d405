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
	"crypto/sha1" // #nosec
	"encoding/hex"
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

// ManifestName is the name of the manifest database in the backup root.
const ManifestName = "Manifest.db"

// ManifestEntry is a single row of the backup manifest.
type ManifestEntry struct {
	Domain       string `json:"domain"`
	RelativePath string `json:"relative_path"`
	FileID       string `json:"file_id"`
	Flags        int64  `json:"flags,omitempty"`
	// Metadata is the raw binary plist stored with the row.
	Metadata []byte `json:"-"`
}

// ComputeFileID returns the content address of a file in a backup:
// the lowercase hex SHA1 of domain + "-" + relativePath.
func ComputeFileID(domain, relativePath string) string {
	sum := sha1.Sum([]byte(domain + "-" + relativePath)) // #nosec
	return hex.EncodeToString(sum[:])
}

// Valid reports whether the file id of the entry matches its domain and path.
func (e ManifestEntry) Valid() bool {
	return e.FileID == ComputeFileID(e.Domain, e.RelativePath)
}

func (e ManifestEntry) String() string {
	return fmt.Sprintf("%s-%s (%s)", e.Domain, e.RelativePath, e.FileID)
}

// manifest holds the verified entries in load order.
type manifest struct {
	entries []ManifestEntry
	byID    map[string]int
}

func newManifest(entries []ManifestEntry, logger log.Interface) *manifest {
	m := &manifest{byID: make(map[string]int, len(entries))}
	for _, entry := range entries {
		if !entry.Valid() {
			logger.WithError(ErrManifestInconsistency).
				WithField("file_id", entry.FileID).
				WithField("domain", entry.Domain).
				WithField("relative_path", entry.RelativePath).
				Warn("dropping manifest entry with mismatching file id")
			continue
		}
		if first, ok := m.byID[entry.FileID]; ok {
			logger.WithError(ErrManifestInconsistency).
				WithField("file_id", entry.FileID).
				WithField("domain", entry.Domain).
				WithField("registered_domain", m.entries[first].Domain).
				Warn("dropping duplicate manifest entry")
			continue
		}
		m.byID[entry.FileID] = len(m.entries)
		m.entries = append(m.entries, entry)
	}
	return m
}

// readManifest reads all rows of the Files table of a Manifest.db.
func readManifest(path string) (entries []ManifestEntry, err error) {
	conn, err := sqlite.OpenConn(immutableURI(path), sqlite.SQLITE_OPEN_READONLY|sqlite.SQLITE_OPEN_URI)
	if err != nil {
		return nil, errors.Wrap(err, "could not open manifest")
	}
	defer conn.Close()

	query := "SELECT fileID, domain, relativePath, flags, file FROM Files ORDER BY rowid"
	err = sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		entry := ManifestEntry{
			FileID:       stmt.ColumnText(0),
			Domain:       stmt.ColumnText(1),
			RelativePath: stmt.ColumnText(2),
			Flags:        stmt.ColumnInt64(3),
		}
		if n := stmt.ColumnLen(4); n > 0 {
			entry.Metadata = make([]byte, n)
			stmt.ColumnBytes(4, entry.Metadata)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read manifest")
	}
	return entries, nil
}
