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

package results

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/module"
)

func testOutcome() *module.Outcome {
	record := module.Record{
		"message":      "https://kingdom-deals.com/x",
		"phone_number": "+15551234",
		"links":        []string{"https://kingdom-deals.com/x"},
	}
	ts := time.Date(2021, 7, 15, 0, 0, 0, 0, time.UTC)
	event := module.TimelineEvent{Timestamp: ts, Module: "Viber", Event: "entry_modified", Data: "message"}
	return &module.Outcome{
		Module:           "Viber",
		State:            module.Finished,
		Results:          []module.Record{record, {"message": "http://a.com", "links": []string{"http://a.com"}}},
		Timeline:         []module.TimelineEvent{event, {Module: "Viber", Event: "entry_modified", Data: "undated"}},
		Detected:         []module.Detection{{Record: record, Indicator: &indicators.Collection{Name: "Pegasus", Domains: []string{"kingdom-deals.com"}}}},
		TimelineDetected: []module.TimelineEvent{event},
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.InsertOutcome(testOutcome()))

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 6)

	detections, err := store.Select("Viber", KindDetection)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	var detection map[string]interface{}
	require.NoError(t, json.Unmarshal(detections[0], &detection))
	assert.Equal(t, "Pegasus", detection["matched_indicator"].(map[string]interface{})["name"])
	require.NoError(t, store.Close())

	_, err = New(path)
	assert.Equal(t, ErrStoreExists, errors.Cause(err))

	store, err = Open(path)
	require.NoError(t, err)
	timeline, err := store.Select("Viber", KindTimeline)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.JSONEq(t, `{"timestamp": null, "module": "Viber", "event": "entry_modified", "data": "undated"}`, string(timeline[1]))
	require.NoError(t, store.Close())

	conn, err := sqlite.OpenConn(path, 0)
	require.NoError(t, err)
	defer conn.Close()
	var phones []string
	err = sqlitex.Exec(conn, `SELECT "phone_number" FROM "viber_result" WHERE "links.0" LIKE '%kingdom%'`, func(stmt *sqlite.Stmt) error {
		phones = append(phones, stmt.ColumnText(0))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"+15551234"}, phones)
}

func TestStore_ReopenKeepsColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := New(path)
	require.NoError(t, err)
	_, err = store.Insert("Viber", KindResult, module.Record{"phone_number": "+15551234", "message": "first"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	_, err = store.Insert("Viber", KindResult, module.Record{"message": "second", "links": []string{"http://a.com"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	conn, err := sqlite.OpenConn(path, 0)
	require.NoError(t, err)
	defer conn.Close()
	var rows []string
	err = sqlitex.Exec(conn, `SELECT "message", "phone_number", "links.0" FROM "viber_result" ORDER BY rowid`, func(stmt *sqlite.Stmt) error {
		rows = append(rows, stmt.ColumnText(0)+"|"+stmt.ColumnText(1)+"|"+stmt.ColumnText(2))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first|+15551234|", "second||http://a.com"}, rows)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	assert.Equal(t, ErrStoreNotExists, errors.Cause(err))
}

func TestSaveJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveJSON(dir, testOutcome()))

	var results []map[string]interface{}
	b, err := os.ReadFile(filepath.Join(dir, "Viber.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &results))
	assert.Len(t, results, 2)

	var detected []map[string]interface{}
	b, err = os.ReadFile(filepath.Join(dir, "Viber_detected.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &detected))
	require.Len(t, detected, 1)
	assert.Contains(t, detected[0], "matched_indicator")

	require.NoError(t, SaveJSON(dir, &module.Outcome{Module: "Empty"}))
	b, err = os.ReadFile(filepath.Join(dir, "Empty.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(b))
	_, err = os.Stat(filepath.Join(dir, "Empty_detected.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveTimelineCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.csv")
	require.NoError(t, SaveTimelineCSV(path, testOutcome().Timeline))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"UTC Timestamp", "Plugin", "Event", "Description"},
		{"2021-07-15T00:00:00.000000Z", "Viber", "entry_modified", "message"},
		{"", "Viber", "entry_modified", "undated"},
	}, rows)
}
