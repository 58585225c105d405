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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/indicators"
)

type fakeModule struct {
	name        string
	artifacts   []string
	discoverErr error
	onDiscover  func()
	parse       func(ctx context.Context, artifact Artifact) ([]Record, error)
	serialize   func(record Record)
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Discover(context.Context, *ScanContext) ([]Artifact, error) {
	if m.onDiscover != nil {
		m.onDiscover()
	}
	var artifacts []Artifact
	for _, a := range m.artifacts {
		artifacts = append(artifacts, Artifact{Path: a, Logical: a})
	}
	return artifacts, m.discoverErr
}

func (m *fakeModule) Parse(ctx context.Context, _ *ScanContext, artifact Artifact) ([]Record, error) {
	if m.parse != nil {
		return m.parse(ctx, artifact)
	}
	return []Record{{"artifact": artifact.Logical, "domain": artifact.Logical}}, nil
}

func (m *fakeModule) Serialize(record Record) []TimelineEvent {
	if m.serialize != nil {
		m.serialize(record)
	}
	ts, _ := record["timestamp"].(time.Time)
	return []TimelineEvent{{Timestamp: ts, Module: m.name, Event: "entry", Data: record["artifact"].(string)}}
}

func (m *fakeModule) CheckIndicators(set *indicators.Set, record Record) *indicators.Collection {
	return set.CheckDomain(record["domain"].(string))
}

func testIndicators() *indicators.Set {
	return indicators.Load([]*indicators.Collection{{Name: "Pegasus", Domains: []string{"kingdom-deals.com"}}})
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(&ScanContext{Indicators: testIndicators()})
	o := r.Run(context.Background(), &fakeModule{name: "fake", artifacts: []string{"kingdom-deals.com", "example.org"}})

	assert.Equal(t, Finished, o.State)
	assert.NoError(t, o.Err)
	assert.Equal(t, 2, o.Discovered)
	assert.Equal(t, 2, o.Parsed)
	assert.Len(t, o.Results, 2)
	assert.Len(t, o.Timeline, 2)
	require.Len(t, o.Detected, 1)
	assert.Equal(t, "Pegasus", o.Detected[0].Indicator.Name)
	assert.Len(t, o.TimelineDetected, 1)
	assert.Len(t, r.Timeline(), 2)
	assert.Len(t, r.DetectedTimeline(), 1)
}

func TestRunner_Run_NoIndicators(t *testing.T) {
	r := NewRunner(&ScanContext{})
	o := r.Run(context.Background(), &fakeModule{name: "fake", artifacts: []string{"kingdom-deals.com"}})
	assert.Equal(t, Finished, o.State)
	assert.Len(t, o.Results, 1)
	assert.Empty(t, o.Detected)
}

func TestRunner_Run_NoArtifacts(t *testing.T) {
	r := NewRunner(&ScanContext{})
	o := r.Run(context.Background(), &fakeModule{name: "fake"})
	assert.Equal(t, Finished, o.State)
	assert.Empty(t, o.Results)
}

func TestRunner_Run_Errors(t *testing.T) {
	tests := []struct {
		name          string
		module        *fakeModule
		wantState     State
		wantResults   int
		wantParsed    int
		wantFailed    int
		wantErr       error
		wantTimelines int
	}{
		{
			name:      "discovery fails",
			module:    &fakeModule{name: "fake", discoverErr: errors.New("no access")},
			wantState: Errored,
			wantErr:   ErrModuleErrored,
		},
		{
			name: "parse panics",
			module: &fakeModule{name: "fake", artifacts: []string{"a"}, parse: func(context.Context, Artifact) ([]Record, error) {
				panic("index out of range")
			}},
			wantState: Errored,
			wantErr:   ErrModuleErrored,
		},
		{
			name: "serialize panics",
			module: &fakeModule{name: "fake", artifacts: []string{"a"}, serialize: func(Record) {
				panic("nil map")
			}},
			wantState:   Errored,
			wantResults: 1,
			wantParsed:  1,
			wantErr:     ErrModuleErrored,
		},
		{
			name: "partial parse",
			module: &fakeModule{name: "fake", artifacts: []string{"a", "b"}, parse: func(_ context.Context, a Artifact) ([]Record, error) {
				records := []Record{{"artifact": a.Logical, "domain": a.Logical}}
				if a.Logical == "a" {
					return records, errors.New("malformed row")
				}
				return records, nil
			}},
			wantState:     Finished,
			wantResults:   2,
			wantParsed:    1,
			wantFailed:    1,
			wantTimelines: 2,
		},
		{
			name: "unreadable",
			module: &fakeModule{name: "fake", artifacts: []string{"a"}, parse: func(context.Context, Artifact) ([]Record, error) {
				return nil, backup.ErrArtifactUnreadable
			}},
			wantState:  Finished,
			wantFailed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(&ScanContext{})
			o := r.Run(context.Background(), tt.module)
			assert.Equal(t, tt.wantState, o.State)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(o.Err, tt.wantErr), o.Err)
			} else {
				assert.NoError(t, o.Err)
			}
			assert.Len(t, o.Results, tt.wantResults)
			assert.Equal(t, tt.wantParsed, o.Parsed)
			assert.Equal(t, tt.wantFailed, o.Failed)
			assert.Len(t, r.Timeline(), tt.wantTimelines)
		})
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	r := NewRunner(&ScanContext{ArtifactTimeout: 10 * time.Millisecond})
	o := r.Run(context.Background(), &fakeModule{name: "fake", artifacts: []string{"hung", "b"}, parse: func(ctx context.Context, a Artifact) ([]Record, error) {
		if a.Logical == "hung" {
			time.Sleep(200 * time.Millisecond)
		}
		return []Record{{"artifact": a.Logical, "domain": a.Logical}}, nil
	}})
	assert.Equal(t, Finished, o.State)
	assert.Equal(t, 1, o.Failed)
	assert.Equal(t, 1, o.Parsed)
	require.Len(t, o.Results, 1)
	assert.Equal(t, "b", o.Results[0]["artifact"])
}

func TestRunner_RunAll_Isolation(t *testing.T) {
	r := NewRunner(&ScanContext{Indicators: testIndicators()}, WithConcurrency(4))
	outcomes := r.RunAll(context.Background(), []Module{
		&fakeModule{name: "failing", discoverErr: errors.New("boom")},
		&fakeModule{name: "panicking", artifacts: []string{"a"}, parse: func(context.Context, Artifact) ([]Record, error) {
			panic("boom")
		}},
		&fakeModule{name: "working", artifacts: []string{"kingdom-deals.com"}},
	})
	require.Len(t, outcomes, 3)
	assert.Equal(t, "failing", outcomes[0].Module)
	assert.Equal(t, Errored, outcomes[0].State)
	assert.Equal(t, Errored, outcomes[1].State)
	assert.Equal(t, Finished, outcomes[2].State)
	assert.Len(t, r.Timeline(), 1)

	summary := r.Summary()
	assert.Equal(t, Summary{Modules: 3, Errored: 2, Discovered: 2, Parsed: 1, Records: 1, Detections: 1}, summary)
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.modules.WithLabelValues("errored")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.detections.WithLabelValues("working")))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, r.WriteMetrics(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `mobilecheck_records_total{module="working"} 1`), string(b))
}

func TestRunner_RunAll_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(&ScanContext{}, WithConcurrency(1))
	outcomes := r.RunAll(ctx, []Module{
		&fakeModule{name: "first", artifacts: []string{"a"}, onDiscover: cancel},
		&fakeModule{name: "second", artifacts: []string{"b"}},
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, "first", outcomes[0].Module)
	assert.Equal(t, Finished, outcomes[0].State)
	assert.Len(t, outcomes[0].Results, 1)

	assert.Empty(t, r.RunAll(ctx, []Module{&fakeModule{name: "third"}}))
}

func TestRunner_Timeline_Order(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2021, 7, d, 0, 0, 0, 0, time.UTC) }
	records := func(times ...time.Time) func(context.Context, Artifact) ([]Record, error) {
		return func(_ context.Context, a Artifact) ([]Record, error) {
			var records []Record
			for i, ts := range times {
				records = append(records, Record{"artifact": a.Logical + string(rune('0'+i)), "domain": "", "timestamp": ts})
			}
			return records, nil
		}
	}

	r := NewRunner(&ScanContext{}, WithConcurrency(2))
	r.RunAll(context.Background(), []Module{
		&fakeModule{name: "a", artifacts: []string{"a"}, parse: records(day(3), time.Time{}, day(1))},
		&fakeModule{name: "b", artifacts: []string{"b"}, parse: records(time.Time{}, day(2), day(1))},
	})

	var got []string
	for _, e := range r.Timeline() {
		got = append(got, e.Data)
	}
	assert.Equal(t, []string{"a2", "b2", "b1", "a0", "a1", "b0"}, got)
}
