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

// Package flatten turns nested records into one level maps whose keys are
// the dotted paths of the values, e.g. {"links": ["a"]} to {"links.0": "a"}.
//
// This code was adapted from
// https://github.com/nqd/flat/blob/master/flat.go
package flatten

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Flatten the map, it returns a map one level deep regardless of how nested
// the original map was. Nil values and empty containers are dropped.
func Flatten(nested map[string]interface{}) map[string]interface{} {
	flatmap := make(map[string]interface{})
	flatten(flatmap, "", nested)
	return flatmap
}

func flatten(flatmap map[string]interface{}, prefix string, nested interface{}) {
	if nested == nil {
		return
	}

	value := reflect.ValueOf(nested)
	switch value.Type().Kind() {
	case reflect.Map:
		for _, k := range value.MapKeys() {
			flatten(flatmap, join(prefix, fmt.Sprint(k.Interface())), value.MapIndex(k).Interface())
		}
	case reflect.Slice:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			flatmap[prefix] = nested
			return
		}
		for i := 0; i < value.Len(); i++ {
			flatten(flatmap, join(prefix, strconv.Itoa(i)), value.Index(i).Interface())
		}
	default:
		flatmap[prefix] = nested
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// JSONPath converts a flattened key into a sqlite JSON path, list indices
// become subscripts: "links.0" is "$.links[0]".
func JSONPath(key string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(key, ".") {
		if _, err := strconv.Atoi(part); err == nil {
			b.WriteString("[" + part + "]")
			continue
		}
		b.WriteString(`."` + strings.ReplaceAll(part, `"`, `\"`) + `"`)
	}
	return b.String()
}
