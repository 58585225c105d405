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
	"sort"
	"strings"
	"sync"
)

// view is the view of the elements of one kind of a module, e.g. viber_result.
type view struct {
	module, kind string
}

func (v view) name() string {
	return strings.ToLower(v.module) + "_" + v.kind
}

// columnMap records the flattened keys of the elements per view.
type columnMap struct {
	sync.Mutex
	changed bool
	views   map[view]map[string]bool
}

func newColumnMap() *columnMap {
	return &columnMap{views: map[view]map[string]bool{}}
}

func (cm *columnMap) addAll(v view, fields map[string]interface{}) {
	cm.Lock()
	defer cm.Unlock()
	if _, ok := cm.views[v]; !ok {
		cm.views[v] = map[string]bool{}
		cm.changed = true
	}
	for field := range fields {
		if !cm.views[v][field] {
			cm.views[v][field] = true
			cm.changed = true
		}
	}
}

// all returns the sorted columns per view.
func (cm *columnMap) all() map[view][]string {
	cm.Lock()
	defer cm.Unlock()
	views := make(map[view][]string, len(cm.views))
	for v, fields := range cm.views {
		columns := make([]string, 0, len(fields))
		for field := range fields {
			columns = append(columns, field)
		}
		sort.Strings(columns)
		views[v] = columns
	}
	return views
}
