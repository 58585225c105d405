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

package module

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/forensicanalysis/mobilecheck/indicators"
)

// TimeFormat is the format of timestamps in results and timelines.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// TimelineEvent is the projection of a record onto the timeline. A zero
// Timestamp means the record has no time.
type TimelineEvent struct {
	Timestamp time.Time
	Module    string
	Event     string
	Data      string
}

// ISOTime formats t in UTC, the zero time is empty.
func ISOTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

type jsonEvent struct {
	Timestamp *string `json:"timestamp"`
	Module    string  `json:"module"`
	Event     string  `json:"event"`
	Data      string  `json:"data"`
}

// MarshalJSON encodes a missing timestamp as null.
func (e TimelineEvent) MarshalJSON() ([]byte, error) {
	j := jsonEvent{Module: e.Module, Event: e.Event, Data: e.Data}
	if !e.Timestamp.IsZero() {
		ts := ISOTime(e.Timestamp)
		j.Timestamp = &ts
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes events written by MarshalJSON.
func (e *TimelineEvent) UnmarshalJSON(b []byte) error {
	var j jsonEvent
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*e = TimelineEvent{Module: j.Module, Event: j.Event, Data: j.Data}
	if j.Timestamp != nil {
		ts, err := time.Parse(TimeFormat, *j.Timestamp)
		if err != nil {
			return err
		}
		e.Timestamp = ts
	}
	return nil
}

// Detection is a record that matched an indicator.
type Detection struct {
	Record    Record
	Indicator *indicators.Collection
}

// MarshalJSON encodes the record with an additional matched_indicator key.
func (d Detection) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(d.Record)+1)
	for k, v := range d.Record {
		m[k] = v
	}
	m["matched_indicator"] = d.Indicator
	return json.Marshal(m)
}

// timeline merges the events of several modules. Events are ordered by
// timestamp, equal timestamps by module and position within the module.
// Events without timestamp follow all others in module order.
type timeline struct {
	events []sequencedEvent
}

type sequencedEvent struct {
	TimelineEvent
	module int
	index  int
}

func (t *timeline) add(module int, events []TimelineEvent) {
	for i, e := range events {
		t.events = append(t.events, sequencedEvent{TimelineEvent: e, module: module, index: i})
	}
	sort.SliceStable(t.events, func(i, j int) bool {
		return t.events[i].less(t.events[j])
	})
}

func (e sequencedEvent) less(o sequencedEvent) bool {
	switch {
	case e.Timestamp.IsZero() != o.Timestamp.IsZero():
		return o.Timestamp.IsZero()
	case !e.Timestamp.Equal(o.Timestamp):
		return e.Timestamp.Before(o.Timestamp)
	case e.module != o.module:
		return e.module < o.module
	}
	return e.index < o.index
}

func (t *timeline) list() []TimelineEvent {
	events := make([]TimelineEvent, len(t.events))
	for i, e := range t.events {
		events[i] = e.TimelineEvent
	}
	return events
}
