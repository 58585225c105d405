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

package modules

import (
	"context"
	"fmt"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/module"
)

// The Viber database is stored as
// AppDomainGroup-group.viber.share.container-com.viber/database/Contacts.data
// in backups.
var viberLocations = locations{
	domain:  "AppDomainGroup-group.viber.share.container",
	fileIDs: []string{"83b9310399a905c7781f95580174f321cd18fd97"},
	patterns: []string{
		"private/var/mobile/Containers/Shared/AppGroup/*/com.viber/database/Contacts.data",
		"private/var/mobile/Applications/*/com.viber/database/Contacts.data",
	},
}

const viberQuery = `SELECT
	ZVIBERMESSAGE.ZTEXT,
	ZVIBERMESSAGE.ZDATE,
	ZPHONENUMBER.ZPHONE,
	ZMEMBER.ZDISPLAYFULLNAME
FROM
	ZVIBERMESSAGE, Z_5PHONENUMINDEXES, ZMEMBER, ZPHONENUMBER
WHERE
	ZVIBERMESSAGE.ZCONVERSATION = Z_5PHONENUMINDEXES.Z_5CONVERSATIONS
AND
	Z_5PHONENUMINDEXES.Z_10PHONENUMINDEXES = ZPHONENUMBER.Z_PK
AND
	ZPHONENUMBER.ZMEMBER = ZMEMBER.Z_PK`

// Viber extracts messages with links from the Viber database.
type Viber struct{}

// NewViber creates the Viber module.
func NewViber() *Viber { return &Viber{} }

type viberMessage struct {
	Message     string
	Isodate     string
	PhoneNumber string
	Fullname    string
	Links       []string
}

// Name returns "Viber".
func (*Viber) Name() string { return "Viber" }

// Discover finds the Viber databases.
func (v *Viber) Discover(_ context.Context, sc *module.ScanContext) ([]module.Artifact, error) {
	return discover(sc, v.Name(), viberLocations)
}

// Parse returns a record for every message that contains links.
func (v *Viber) Parse(ctx context.Context, sc *module.ScanContext, artifact module.Artifact) ([]module.Record, error) {
	db, err := sc.Store.OpenRecoverable(ctx, artifact.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var records []module.Record
	err = sqlitex.Exec(db.Conn, viberQuery, func(stmt *sqlite.Stmt) error {
		text := stmt.ColumnText(0)
		links := checkForLinks(text)
		if len(links) == 0 {
			return nil
		}
		records = append(records, record(viberMessage{
			Message:     text,
			Isodate:     module.ISOTime(convertMacTime(stmt.ColumnFloat(1))),
			PhoneNumber: stmt.ColumnText(2),
			Fullname:    stmt.ColumnText(3),
			Links:       links,
		}))
		return nil
	})
	sc.Logger(v.Name()).WithField("messages", len(records)).WithField("recovered", db.Recovered).Info("extracted messages with links")
	return records, err
}

// Serialize returns a single event per message.
func (v *Viber) Serialize(r module.Record) []module.TimelineEvent {
	text := strings.ReplaceAll(stringValue(r, "message"), "\n", `\n`)
	user := stringValue(r, "fullname")
	if user == "" {
		user = "<unknown>"
	}
	phone := stringValue(r, "phone_number")
	if phone == "" {
		phone = "<unknown number>"
	}
	links := "- Embedded links: " + strings.Join(stringsValue(r, "links"), ", ")

	return []module.TimelineEvent{{
		Timestamp: timeValue(r, "isodate"),
		Module:    v.Name(),
		Event:     "entry_modified",
		Data:      fmt.Sprintf("%s from user %s (%s) %s", text, user, phone, links),
	}}
}

// CheckIndicators matches the domains of the links.
func (*Viber) CheckIndicators(set *indicators.Set, r module.Record) *indicators.Collection {
	return set.CheckDomains(stringsValue(r, "links"))
}
