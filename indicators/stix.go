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
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ErrIndicatorLoadFailed is returned if an indicator source can not be
// loaded. Scans continue without indicator matching.
var ErrIndicatorLoadFailed = errors.New("indicator load failed")

// Options configure the STIX2 loader.
type Options struct {
	// Validate checks indicator objects against the STIX 2.1 JSON schemas
	// and skips invalid ones.
	Validate bool
	Logger   log.Interface
}

func (o Options) logger() log.Interface {
	if o.Logger == nil {
		return log.Log
	}
	return o.Logger
}

// comparisonExpression matches a single comparison of a STIX pattern, e.g.
// domain-name:value = 'example.com'.
var comparisonExpression = regexp.MustCompile(`([a-z0-9-]+):([A-Za-z0-9_.'-]+)\s*(=|LIKE|MATCHES)\s*'((?:[^'\\]|\\.)*)'`)

// LoadSTIX2Files parses STIX2 bundles and returns a Set of all their
// collections in file order.
func LoadSTIX2Files(paths []string, opts Options) (*Set, error) {
	var collections []*Collection
	for _, p := range paths {
		f, err := os.Open(p) // #nosec
		if err != nil {
			return nil, errors.Wrap(ErrIndicatorLoadFailed, err.Error())
		}
		c, err := ParseSTIX2(f, filepath.Base(p), opts)
		f.Close() // nolint:errcheck
		if err != nil {
			return nil, err
		}
		collections = append(collections, c...)
	}
	return Load(collections), nil
}

// ParseSTIX2 reads a STIX2 bundle. Every malware object becomes a
// collection holding the indicators that indicate it. Indicators without
// such a relationship are collected in a collection named after the source.
func ParseSTIX2(r io.Reader, source string, opts Options) ([]*Collection, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(ErrIndicatorLoadFailed, err.Error())
	}
	if !gjson.ValidBytes(b) {
		return nil, errors.Wrapf(ErrIndicatorLoadFailed, "%s is not valid json", source)
	}
	bundle := gjson.ParseBytes(b)
	if bundle.Get("type").String() != "bundle" {
		return nil, errors.Wrapf(ErrIndicatorLoadFailed, "%s is not a STIX2 bundle", source)
	}

	logger := opts.logger().WithField("source", source)

	var collections []*Collection
	byMalware := map[string]*Collection{}
	indicatorObjects := map[string]gjson.Result{}
	var indicatorOrder []string
	indicates := map[string][]string{}

	bundle.Get("objects").ForEach(func(_, object gjson.Result) bool {
		id := object.Get("id").String()
		switch object.Get("type").String() {
		case "malware":
			c := &Collection{
				ID:          id,
				Name:        object.Get("name").String(),
				Description: object.Get("description").String(),
				Source:      source,
			}
			byMalware[id] = c
			collections = append(collections, c)
		case "indicator":
			if opts.Validate {
				flaws, err := validateObject([]byte(object.Raw))
				if err != nil {
					logger.WithError(err).Debug("could not validate indicator")
				} else if len(flaws) > 0 {
					logger.WithField("id", id).WithField("flaws", strings.Join(flaws, "; ")).Warn("skipping invalid indicator")
					return true
				}
			}
			indicatorObjects[id] = object
			indicatorOrder = append(indicatorOrder, id)
		case "relationship":
			if object.Get("relationship_type").String() == "indicates" {
				source := object.Get("source_ref").String()
				indicates[source] = append(indicates[source], object.Get("target_ref").String())
			}
		}
		return true
	})

	unattached := &Collection{Name: strings.TrimSuffix(source, filepath.Ext(source)), Source: source}
	for _, id := range indicatorOrder {
		object := indicatorObjects[id]
		var targets []*Collection
		for _, ref := range indicates[id] {
			if c, ok := byMalware[ref]; ok {
				targets = append(targets, c)
			}
		}
		if len(targets) == 0 {
			targets = []*Collection{unattached}
		}
		pattern := object.Get("pattern").String()
		if !addPattern(targets, pattern) {
			logger.WithField("id", id).WithField("pattern", pattern).Debug("unsupported indicator pattern")
		}
	}
	if unattached.Count() > 0 {
		collections = append(collections, unattached)
	}

	total := 0
	for _, c := range collections {
		total += c.Count()
	}
	logger.WithField("collections", len(collections)).WithField("indicators", total).Info("loaded indicators")
	return collections, nil
}

// addPattern adds all supported comparisons of a STIX pattern to the
// collections. It reports whether any comparison was supported.
func addPattern(collections []*Collection, pattern string) bool {
	supported := false
	for _, m := range comparisonExpression.FindAllStringSubmatch(pattern, -1) {
		object, property, operator := m[1], m[2], m[3]
		value := strings.ReplaceAll(strings.ReplaceAll(m[4], `\'`, `'`), `\\`, `\`)
		if value == "" {
			continue
		}

		if object == "file" && strings.HasPrefix(property, "hashes.") && operator == "=" {
			for _, c := range collections {
				c.addHash(strings.Trim(strings.TrimPrefix(property, "hashes."), "'"), value)
			}
			supported = true
			continue
		}

		kind, partial, ok := atomKind(object, property, operator)
		if !ok {
			continue
		}
		if partial {
			value = strings.Trim(value, "%")
		}
		if kind == Domain && object == "url" {
			value = normalizeHost(value)
		}
		if value == "" {
			continue
		}
		for _, c := range collections {
			c.add(kind, value, partial)
		}
		supported = true
	}
	return supported
}

func atomKind(object, property, operator string) (Kind, bool, bool) {
	switch object + ":" + property {
	case "domain-name:value", "url:value":
		return Domain, false, operator == "="
	case "file:name":
		switch operator {
		case "=":
			return FileName, false, true
		case "LIKE":
			return FileName, true, true
		}
	case "process:name":
		return ProcessName, false, operator == "="
	}
	return "", false, false
}
