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
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSet() *Set {
	return Load([]*Collection{
		{
			Name:             "Pegasus",
			Domains:          []string{"kingdom-deals.com", "static.example.net"},
			FileNames:        []string{"bh"},
			FileNamePatterns: []string{"roleaccountd"},
			ProcessNames:     []string{"bh", "com.apple.CrashReporter.helper"},
			FileHashes:       []Hash{{Algorithm: "SHA-256", Digest: "AABB"}},
		},
		{
			Name:         "Second",
			Domains:      []string{"kingdom-deals.com", "other.com"},
			FileNames:    []string{"stagingd"},
			ProcessNames: []string{"bh"},
		},
	})
}

func TestSet_CheckDomains(t *testing.T) {
	s := testSet()
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"exact", []string{"kingdom-deals.com"}, "Pegasus"},
		{"url", []string{"https://kingdom-deals.com/1234"}, "Pegasus"},
		{"port and case", []string{"HTTP://Kingdom-Deals.COM:8443/x"}, "Pegasus"},
		{"subdomain", []string{"https://a.b.kingdom-deals.com"}, "Pegasus"},
		{"no label boundary", []string{"https://notkingdom-deals.com"}, ""},
		{"suffix of non registrable indicator", []string{"https://a.static.example.net"}, ""},
		{"non registrable exact", []string{"static.example.net"}, "Pegasus"},
		{"second collection", []string{"http://other.com"}, "Second"},
		{"first match wins over value order", []string{"other.com", "kingdom-deals.com"}, "Pegasus"},
		{"no match", []string{"https://example.org"}, ""},
		{"empty", []string{""}, ""},
		{"trailing punctuation", []string{"https://kingdom-deals.com)."}, "Pegasus"},
		{"trailing dot", []string{"kingdom-deals.com."}, "Pegasus"},
		{"incomplete escape", []string{"https://kingdom-deals.com/100%"}, "Pegasus"},
		{"invalid escape", []string{"https://kingdom-deals.com/a%zz"}, "Pegasus"},
		{"invalid port", []string{"https://kingdom-deals.com:abc/x"}, "Pegasus"},
		{"user info and invalid escape", []string{"https://user:pw@a.kingdom-deals.com/%"}, "Pegasus"},
		{"punctuation is no label boundary", []string{"https://evil)kingdom-deals.com"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CheckDomains(tt.values)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.Name)
			}
		})
	}
}

func TestSet_CheckFileNames(t *testing.T) {
	s := testSet()
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"exact", []string{"bh"}, "Pegasus"},
		{"path", []string{"/private/var/tmp/stagingd"}, "Second"},
		{"pattern", []string{"/usr/libexec/roleaccountd.plist"}, "Pegasus"},
		{"exact is not a prefix match", []string{"bhx"}, ""},
		{"no match", []string{"Contacts.data"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CheckFileNames(tt.values)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.Name)
			}
		})
	}
}

func TestSet_CheckProcessNames(t *testing.T) {
	s := testSet()
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"exact", []string{"bh"}, "Pegasus"},
		{"path", []string{"/usr/sbin/bh"}, "Pegasus"},
		{"truncated", []string{"com.apple.CrashR"}, "Pegasus"},
		{"short prefix", []string{"com.apple"}, ""},
		{"no match", []string{"SpringBoard"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CheckProcessNames(tt.values)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.Name)
			}
		})
	}
}

func TestSet_CheckFileHash(t *testing.T) {
	s := testSet()
	if got := s.CheckFileHash("sha256", "aabb"); assert.NotNil(t, got) {
		assert.Equal(t, "Pegasus", got.Name)
	}
	assert.Nil(t, s.CheckFileHash("md5", "aabb"))
	assert.Nil(t, s.CheckFileHash("sha256", "ccdd"))
}

func Test_normalizeHost(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"https://evil.com/100%", "evil.com"},
		{"https://evil.com/a%zz", "evil.com"},
		{"https://evil.com:abc/x", "evil.com"},
		{"https://evil.com).", "evil.com"},
		{"http://[::1]:80/%", "::1"},
		{"https://%zz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHost(tt.value))
		})
	}
}

func TestSet_Nil(t *testing.T) {
	var s *Set
	assert.Nil(t, s.CheckDomain("kingdom-deals.com"))
	assert.Nil(t, s.CheckFileNames([]string{"bh"}))
	assert.Nil(t, s.CheckProcessNames([]string{"bh"}))
	assert.Nil(t, s.CheckFileHash("sha256", "aabb"))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Collections())
}

func TestSet_Len(t *testing.T) {
	assert.Equal(t, 11, testSet().Len())
	assert.Len(t, testSet().Collections(), 2)
}
