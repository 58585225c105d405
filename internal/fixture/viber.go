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

package fixture

import (
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite/sqlitex"
)

// ViberMessage is a message of the Viber Contacts.data database.
type ViberMessage struct {
	Text string
	// Date is in seconds since 2001-01-01.
	Date  float64
	Phone string
	Name  string
}

const viberSchema = `CREATE TABLE ZMEMBER (Z_PK INTEGER PRIMARY KEY, ZDISPLAYFULLNAME VARCHAR);
CREATE TABLE ZPHONENUMBER (Z_PK INTEGER PRIMARY KEY, ZMEMBER INTEGER, ZPHONE VARCHAR);
CREATE TABLE ZCONVERSATION (Z_PK INTEGER PRIMARY KEY, ZNAME VARCHAR);
CREATE TABLE Z_5PHONENUMINDEXES (Z_5CONVERSATIONS INTEGER, Z_10PHONENUMINDEXES INTEGER, PRIMARY KEY (Z_5CONVERSATIONS, Z_10PHONENUMINDEXES));
CREATE TABLE ZVIBERMESSAGE (Z_PK INTEGER PRIMARY KEY, ZCONVERSATION INTEGER, ZDATE TIMESTAMP, ZTEXT VARCHAR);`

// ViberDatabase writes a Viber database to path. Every message is sent in
// its own conversation by its own member.
func ViberDatabase(t testing.TB, path string, messages []ViberMessage) {
	t.Helper()
	conn := Open(t, path)
	defer conn.Close()

	if err := sqlitex.ExecScript(conn, viberSchema); err != nil {
		t.Fatal(err)
	}
	for i, m := range messages {
		pk := int64(i + 1)
		var name, phone interface{}
		if m.Name != "" {
			name = m.Name
		}
		if m.Phone != "" {
			phone = m.Phone
		}
		for _, insert := range []struct {
			query string
			args  []interface{}
		}{
			{"INSERT INTO ZMEMBER VALUES (?, ?)", []interface{}{pk, name}},
			{"INSERT INTO ZPHONENUMBER VALUES (?, ?, ?)", []interface{}{pk, pk, phone}},
			{"INSERT INTO ZCONVERSATION VALUES (?, ?)", []interface{}{pk, nil}},
			{"INSERT INTO Z_5PHONENUMINDEXES VALUES (?, ?)", []interface{}{pk, pk}},
			{"INSERT INTO ZVIBERMESSAGE VALUES (?, ?, ?, ?)", []interface{}{pk, pk, m.Date, m.Text}},
		} {
			if err := sqlitex.Exec(conn, insert.query, nil, insert.args...); err != nil {
				t.Fatal(err)
			}
		}
	}
}

// ViberBackup writes a backup with a Viber database into root and returns
// the path of the database.
func ViberBackup(t testing.TB, root string, messages []ViberMessage) string {
	t.Helper()
	f := File{Domain: ViberDomain, RelativePath: ViberPath}
	Backup(t, root, []File{f})
	path := filepath.Join(root, f.ID()[:2], f.ID())
	ViberDatabase(t, path, messages)
	return path
}
