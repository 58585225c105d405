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

// Package indicators loads threat intelligence indicators and matches
// extracted values against them.
//
// Indicators are grouped in collections, usually one per malware family of a
// STIX2 bundle. A Set is built once per scan from an ordered list of
// collections and answers membership queries without further allocation of
// state, so it can be shared by concurrently running modules.
package indicators

import "strings"

// Kind is the type of an indicator atom.
type Kind string

// The supported indicator kinds.
const (
	Domain      Kind = "domain"
	FileName    Kind = "file_name"
	ProcessName Kind = "process_name"
	FileHash    Kind = "file_hash"
)

// Hash is a file digest indicator.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// Collection is a named group of indicators from one intelligence source.
type Collection struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Source is the file or feed the collection was loaded from.
	Source string `json:"source,omitempty"`

	Domains      []string `json:"domains,omitempty"`
	FileNames    []string `json:"file_names,omitempty"`
	ProcessNames []string `json:"process_names,omitempty"`
	FileHashes   []Hash   `json:"file_hashes,omitempty"`

	// FileNamePatterns match any file name that contains them.
	FileNamePatterns []string `json:"file_name_patterns,omitempty"`
}

// Count returns the number of atoms in the collection.
func (c *Collection) Count() int {
	return len(c.Domains) + len(c.FileNames) + len(c.ProcessNames) + len(c.FileHashes) + len(c.FileNamePatterns)
}

func (c *Collection) add(kind Kind, value string, partial bool) {
	switch kind {
	case Domain:
		c.Domains = append(c.Domains, value)
	case FileName:
		if partial {
			c.FileNamePatterns = append(c.FileNamePatterns, value)
		} else {
			c.FileNames = append(c.FileNames, value)
		}
	case ProcessName:
		c.ProcessNames = append(c.ProcessNames, value)
	}
}

func (c *Collection) addHash(algorithm, digest string) {
	c.FileHashes = append(c.FileHashes, Hash{Algorithm: algorithm, Digest: digest})
}

// normalizeAlgorithm maps the spellings used by STIX and other feeds
// (SHA-256, sha256, 'SHA256') to one key.
func normalizeAlgorithm(algorithm string) string {
	a := strings.ToLower(strings.Trim(algorithm, `'" `))
	return strings.ReplaceAll(a, "-", "")
}

func normalizeDigest(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}
