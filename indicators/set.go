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
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
)

// Set is an immutable, ordered list of collections with lookup tables per
// indicator kind. When a value matches atoms of several collections, the
// collection that was loaded first is returned.
type Set struct {
	collections []*Collection

	domains map[string]int
	// registrable holds domains that are registrable (eTLD+1), these also
	// match all their subdomains.
	registrable map[string]int
	fileNames   map[string]int
	patterns    []fileNamePattern
	processes   map[string]int
	// processList is sorted for prefix lookups of truncated process names.
	processList []string
	hashes      map[Hash]int
}

type fileNamePattern struct {
	value      string
	collection int
}

// truncatedProcessName is the length at which the kernel cuts process names.
const truncatedProcessName = 16

// Load builds a Set from collections. The collections must not be modified
// afterwards.
func Load(collections []*Collection) *Set {
	s := &Set{
		collections: collections,
		domains:     map[string]int{},
		registrable: map[string]int{},
		fileNames:   map[string]int{},
		processes:   map[string]int{},
		hashes:      map[Hash]int{},
	}

	for i, collection := range collections {
		for _, domain := range collection.Domains {
			host := normalizeHost(domain)
			if host == "" {
				continue
			}
			first(s.domains, host, i)
			if isRegistrable(host) {
				first(s.registrable, host, i)
			}
		}
		for _, name := range collection.FileNames {
			first(s.fileNames, name, i)
		}
		for _, pattern := range collection.FileNamePatterns {
			if pattern != "" {
				s.patterns = append(s.patterns, fileNamePattern{value: pattern, collection: i})
			}
		}
		for _, name := range collection.ProcessNames {
			if _, ok := s.processes[name]; !ok {
				s.processList = append(s.processList, name)
			}
			first(s.processes, name, i)
		}
		for _, hash := range collection.FileHashes {
			first(s.hashes, Hash{Algorithm: normalizeAlgorithm(hash.Algorithm), Digest: normalizeDigest(hash.Digest)}, i)
		}
	}
	sort.Strings(s.processList)
	return s
}

func first[K comparable](m map[K]int, key K, collection int) {
	if _, ok := m[key]; !ok {
		m[key] = collection
	}
}

// Collections returns the collections in load order.
func (s *Set) Collections() []*Collection {
	if s == nil {
		return nil
	}
	return s.collections
}

// Len returns the number of atoms of all collections.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, c := range s.collections {
		n += c.Count()
	}
	return n
}

// CheckDomain checks a single host name or URL.
func (s *Set) CheckDomain(value string) *Collection {
	return s.CheckDomains([]string{value})
}

// CheckDomains checks host names or URLs. A value matches an indicator if
// its host equals the indicator or, for registrable domains like evil.com,
// if the host is a subdomain of it (sub.evil.com, but not notevil.com).
func (s *Set) CheckDomains(values []string) *Collection {
	if s == nil {
		return nil
	}
	best := -1
	for _, value := range values {
		host := normalizeHost(value)
		if host == "" {
			continue
		}
		if i, ok := s.domains[host]; ok {
			best = lower(best, i)
		}
		for suffix := host; ; {
			dot := strings.IndexByte(suffix, '.')
			if dot < 0 {
				break
			}
			suffix = suffix[dot+1:]
			if i, ok := s.registrable[suffix]; ok {
				best = lower(best, i)
			}
		}
	}
	return s.collection(best)
}

// CheckFileNames checks file names or paths by their base name. Patterns
// match if they are contained in the base name.
func (s *Set) CheckFileNames(values []string) *Collection {
	if s == nil {
		return nil
	}
	best := -1
	for _, value := range values {
		name := baseName(value)
		if name == "" {
			continue
		}
		if i, ok := s.fileNames[name]; ok {
			best = lower(best, i)
		}
		for _, pattern := range s.patterns {
			if best >= 0 && pattern.collection >= best {
				break
			}
			if strings.Contains(name, pattern.value) {
				best = lower(best, pattern.collection)
				break
			}
		}
	}
	return s.collection(best)
}

// CheckProcessNames checks process names or executable paths. Names of
// exactly 16 characters are treated as truncated and match every indicator
// they are a prefix of.
func (s *Set) CheckProcessNames(values []string) *Collection {
	if s == nil {
		return nil
	}
	best := -1
	for _, value := range values {
		name := baseName(value)
		if name == "" {
			continue
		}
		if i, ok := s.processes[name]; ok {
			best = lower(best, i)
		}
		if len(name) != truncatedProcessName {
			continue
		}
		for j := sort.SearchStrings(s.processList, name); j < len(s.processList); j++ {
			if !strings.HasPrefix(s.processList[j], name) {
				break
			}
			best = lower(best, s.processes[s.processList[j]])
		}
	}
	return s.collection(best)
}

// CheckFileHash checks a file digest. Algorithm names are compared case and
// dash insensitive, e.g. "SHA-256" equals "sha256".
func (s *Set) CheckFileHash(algorithm, digest string) *Collection {
	if s == nil {
		return nil
	}
	i, ok := s.hashes[Hash{Algorithm: normalizeAlgorithm(algorithm), Digest: normalizeDigest(digest)}]
	if !ok {
		return nil
	}
	return s.collections[i]
}

func (s *Set) collection(i int) *Collection {
	if i < 0 {
		return nil
	}
	return s.collections[i]
}

func lower(best, i int) int {
	if best < 0 || i < best {
		return i
	}
	return best
}

// normalizeHost returns the lowercase host of a host name or URL. Links
// taken from free text often fail to parse, e.g. "https://evil.com/100%",
// their host is then cut from the authority. Characters that can not be
// part of a host name end it, so "evil.com)." is "evil.com".
func normalizeHost(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	var host string
	if u, err := url.Parse(value); err == nil {
		host = u.Hostname()
	} else {
		host = authorityHost(value)
	}
	return cleanHost(host)
}

// authorityHost returns the host of a URL without parsing it: the part
// between the scheme and the first "/", "?" or "#" without user info and
// port.
func authorityHost(value string) string {
	authority := value[strings.Index(value, "://")+3:]
	if i := strings.IndexAny(authority, "/?#"); i >= 0 {
		authority = authority[:i]
	}
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		authority = authority[i+1:]
	}
	if strings.HasPrefix(authority, "[") {
		if i := strings.IndexByte(authority, ']'); i >= 0 {
			return authority[1:i]
		}
		return ""
	}
	if i := strings.IndexByte(authority, ':'); i >= 0 {
		authority = authority[:i]
	}
	return authority
}

func cleanHost(host string) string {
	host = strings.ToLower(host)
	end := strings.IndexFunc(host, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' || r == ':')
	})
	if end >= 0 {
		host = host[:end]
	}
	return strings.Trim(host, ".-_")
}

func isRegistrable(host string) bool {
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	return err == nil && registrable == host
}

func baseName(value string) string {
	name := path.Base(filepath.ToSlash(strings.TrimSpace(value)))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
