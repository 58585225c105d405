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

package indicators

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBundle = `{
  "type": "bundle",
  "id": "bundle--1",
  "objects": [
    {"type": "malware", "id": "malware--1", "name": "Pegasus", "description": "NSO Group"},
    {"type": "indicator", "id": "indicator--1", "pattern": "[domain-name:value = 'kingdom-deals.com']"},
    {"type": "indicator", "id": "indicator--2", "pattern": "[file:name = 'bh' OR file:name LIKE '%roleaccountd%']"},
    {"type": "indicator", "id": "indicator--3", "pattern": "[process:name = 'msgacntd']"},
    {"type": "indicator", "id": "indicator--4", "pattern": "[file:hashes.'SHA-256' = 'ABCDEF']"},
    {"type": "indicator", "id": "indicator--5", "pattern": "[url:value = 'https://free247downloads.com/x']"},
    {"type": "indicator", "id": "indicator--6", "pattern": "[email-addr:value = 'a@b.c']"},
    {"type": "indicator", "id": "indicator--7", "pattern": "[domain-name:value = 'unattached.com']"},
    {"type": "relationship", "id": "relationship--1", "relationship_type": "indicates", "source_ref": "indicator--1", "target_ref": "malware--1"},
    {"type": "relationship", "id": "relationship--2", "relationship_type": "indicates", "source_ref": "indicator--2", "target_ref": "malware--1"},
    {"type": "relationship", "id": "relationship--3", "relationship_type": "indicates", "source_ref": "indicator--3", "target_ref": "malware--1"},
    {"type": "relationship", "id": "relationship--4", "relationship_type": "indicates", "source_ref": "indicator--4", "target_ref": "malware--1"},
    {"type": "relationship", "id": "relationship--5", "relationship_type": "indicates", "source_ref": "indicator--5", "target_ref": "malware--1"},
    {"type": "relationship", "id": "relationship--6", "relationship_type": "uses", "source_ref": "indicator--7", "target_ref": "malware--1"}
  ]
}`

func TestParseSTIX2(t *testing.T) {
	collections, err := ParseSTIX2(strings.NewReader(testBundle), "pegasus.stix2", Options{})
	require.NoError(t, err)
	require.Len(t, collections, 2)

	pegasus := collections[0]
	assert.Equal(t, "Pegasus", pegasus.Name)
	assert.Equal(t, "malware--1", pegasus.ID)
	assert.Equal(t, "pegasus.stix2", pegasus.Source)
	assert.Equal(t, []string{"kingdom-deals.com", "free247downloads.com"}, pegasus.Domains)
	assert.Equal(t, []string{"bh"}, pegasus.FileNames)
	assert.Equal(t, []string{"roleaccountd"}, pegasus.FileNamePatterns)
	assert.Equal(t, []string{"msgacntd"}, pegasus.ProcessNames)
	assert.Equal(t, []Hash{{Algorithm: "SHA-256", Digest: "ABCDEF"}}, pegasus.FileHashes)

	unattached := collections[1]
	assert.Equal(t, "pegasus", unattached.Name)
	assert.Equal(t, []string{"unattached.com"}, unattached.Domains)

	s := Load(collections)
	assert.Equal(t, pegasus, s.CheckDomain("https://kingdom-deals.com/index.html"))
	assert.Equal(t, pegasus, s.CheckFileHash("sha256", "abcdef"))
	assert.Equal(t, unattached, s.CheckDomain("www.unattached.com"))
}

func TestParseSTIX2_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{"},
		{"not a bundle", `{"type": "indicator"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSTIX2(strings.NewReader(tt.input), "x.stix2", Options{})
			assert.Equal(t, ErrIndicatorLoadFailed, errors.Cause(err))
		})
	}
}

func TestLoadSTIX2Files(t *testing.T) {
	dir, err := ioutil.TempDir("", "indicators")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	second := `{"type": "bundle", "objects": [
		{"type": "indicator", "id": "indicator--1", "pattern": "[domain-name:value = 'kingdom-deals.com']"}
	]}`
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a.stix2"), []byte(testBundle), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "b.stix2"), []byte(second), 0644))

	s, err := LoadSTIX2Files([]string{filepath.Join(dir, "a.stix2"), filepath.Join(dir, "b.stix2")}, Options{})
	require.NoError(t, err)
	require.Len(t, s.Collections(), 3)
	assert.Equal(t, "Pegasus", s.CheckDomain("kingdom-deals.com").Name)

	_, err = LoadSTIX2Files([]string{filepath.Join(dir, "missing.stix2")}, Options{})
	assert.Equal(t, ErrIndicatorLoadFailed, errors.Cause(err))
}

func Test_validateObject(t *testing.T) {
	flaws, err := validateObject([]byte(`{"id": "indicator--1"}`))
	require.NoError(t, err)
	assert.Len(t, flaws, 1)
}
