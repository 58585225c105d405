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

// Package modules contains the extraction modules for iOS backups and
// filesystem dumps.
package modules

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/stoewer/go-strcase"

	"github.com/forensicanalysis/mobilecheck/module"
)

// ErrUnknownModule is returned by ByName for names of no module.
var ErrUnknownModule = errors.New("unknown module")

// All returns a new instance of every module.
func All() []module.Module {
	return []module.Module{
		NewManifest(),
		NewShutdownLog(),
		NewViber(),
	}
}

// Names returns the sorted names of all modules.
func Names() []string {
	var names []string
	for _, m := range All() {
		names = append(names, m.Name())
	}
	sort.Strings(names)
	return names
}

// ByName returns the modules with the given names in the given order. An
// empty list selects all modules.
func ByName(names []string) ([]module.Module, error) {
	if len(names) == 0 {
		return All(), nil
	}
	available := map[string]module.Module{}
	for _, m := range All() {
		available[strings.ToLower(m.Name())] = m
	}
	var selected []module.Module
	for _, name := range names {
		m, ok := available[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errors.Wrap(ErrUnknownModule, name)
		}
		selected = append(selected, m)
	}
	return selected, nil
}

// macEpoch is 2001-01-01 in seconds since the unix epoch.
const macEpoch = 978307200

// linkPattern matches http and https links. Hosts consist of the
// characters [-a-zA-Z0-9@:%._+~#=], so surrounding punctuation like
// quotes or commas is not part of a link.
var linkPattern = regexp.MustCompile(`(?i)\bhttps?://[-a-z0-9@:%._+~#=]{1,256}[-a-z0-9()@:%_+.~#?&/=]*`)

// checkForLinks returns all http and https links in text.
func checkForLinks(text string) []string {
	return linkPattern.FindAllString(text, -1)
}

// convertMacTime converts seconds since 2001-01-01 to a time. Timestamps in
// nanoseconds are detected by their magnitude. Zero is no time.
func convertMacTime(timestamp float64) time.Time {
	if timestamp == 0 {
		return time.Time{}
	}
	if timestamp >= 1e17 {
		timestamp /= 1e9
	}
	sec := int64(timestamp)
	nsec := int64((timestamp - float64(sec)) * 1e9)
	return time.Unix(sec+macEpoch, nsec).UTC()
}

// record converts a typed row into a record with snake case keys. Empty
// values are dropped.
func record(row interface{}) module.Record {
	return module.Record(lower(structs.Map(row)).(map[string]interface{}))
}

func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case []interface{}:
		for i := range f {
			f[i] = lower(f[i])
		}
		return f
	case map[string]interface{}:
		lf := make(map[string]interface{}, len(f))
		for k, v := range f {
			if !isEmpty(v) {
				lf[strcase.SnakeCase(k)] = lower(v)
			}
		}
		return lf
	default:
		return f
	}
}

func isEmpty(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

func stringValue(r module.Record, key string) string {
	s, _ := r[key].(string)
	return s
}

// stringsValue returns a list of strings of a record, records decoded from
// JSON hold []interface{}.
func stringsValue(r module.Record, key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []interface{}:
		var values []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				values = append(values, s)
			}
		}
		return values
	}
	return nil
}

func timeValue(r module.Record, key string) time.Time {
	s := stringValue(r, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(module.TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
