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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/internal/fixture"
	"github.com/forensicanalysis/mobilecheck/module"
)

func fileMetadata(t *testing.T, birth, modified, changed int64) []byte {
	t.Helper()
	archive := map[string]interface{}{
		"$archiver": "NSKeyedArchiver",
		"$objects": []interface{}{
			"$null",
			map[string]interface{}{
				"Birth":            birth,
				"LastModified":     modified,
				"LastStatusChange": changed,
				"Size":             int64(1024),
				"Mode":             int64(33188),
				"UserID":           int64(501),
			},
		},
	}
	b, err := plist.Marshal(archive, plist.BinaryFormat)
	require.NoError(t, err)
	return b
}

func TestManifest(t *testing.T) {
	root := t.TempDir()
	fixture.Backup(t, root, []fixture.File{
		{Domain: "HomeDomain", RelativePath: "Library/Preferences/com.apple.CoreBrightness.plist", Metadata: fileMetadata(t, 1616071853, 1616071853, 1616071900)},
		{Domain: "HomeDomain", RelativePath: "Library/SMS/sms.db", Metadata: fileMetadata(t, 1616071000, 1616071100, 1616071200)},
		{Domain: "HomeDomain", RelativePath: "Library/NoMetadata"},
		{Domain: "HomeDomain", RelativePath: ""},
	})
	store, err := backup.NewBackup(root)
	require.NoError(t, err)
	defer store.Close()

	set := indicators.Load([]*indicators.Collection{{Name: "Test", FileNames: []string{"com.apple.CoreBrightness.plist"}}})
	o := runModule(t, store, set, NewManifest())
	assert.Equal(t, module.Finished, o.State)
	require.Len(t, o.Results, 3)
	assert.Len(t, o.Timeline, 5)
	require.Len(t, o.Detected, 1)
	assert.Equal(t, "Test", o.Detected[0].Indicator.Name)

	first := o.Results[0]
	assert.Equal(t, "2021-03-18T12:50:53.000000Z", first["created"])
	assert.Equal(t, "2021-03-18T12:50:53.000000Z", first["modified"])
	assert.Equal(t, "2021-03-18T12:51:40.000000Z", first["status_changed"])
	assert.Equal(t, int64(1024), first["size"])
	assert.Equal(t, "100644", first["mode"])

	assert.Equal(t, "M--B", o.Timeline[0].Event)
	assert.Equal(t, "Library/Preferences/com.apple.CoreBrightness.plist - HomeDomain", o.Timeline[0].Data)
	assert.Equal(t, "--C-", o.Timeline[1].Event)
}

func TestManifest_FilesystemDump(t *testing.T) {
	store, err := backup.NewFilesystemDump(t.TempDir())
	require.NoError(t, err)
	o := runModule(t, store, nil, NewManifest())
	assert.Equal(t, module.Finished, o.State)
	assert.Equal(t, 0, o.Discovered)
}
