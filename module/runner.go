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
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/forensicanalysis/mobilecheck/backup"
)

// Runner runs modules and merges their timelines. A Runner can be used for
// several calls of Run and RunAll, the merged timelines grow with each
// finished module.
type Runner struct {
	sc          *ScanContext
	concurrency int
	metrics     *metrics

	mu               sync.Mutex
	next             int
	outcomes         []*Outcome
	timeline         timeline
	timelineDetected timeline
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets how many modules RunAll runs at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates a runner for a scan.
func NewRunner(sc *ScanContext, opts ...RunnerOption) *Runner {
	r := &Runner{
		sc:          sc,
		concurrency: runtime.NumCPU(),
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry of the scan metrics.
func (r *Runner) Registry() *prometheus.Registry {
	return r.metrics.registry
}

// WriteMetrics writes the scan metrics in the Prometheus text format.
func (r *Runner) WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, r.metrics.registry)
}

// Run runs a single module. It never panics and never returns an error, a
// failing module has the state Errored.
func (r *Runner) Run(ctx context.Context, m Module) *Outcome {
	return r.run(ctx, m, r.reserve(1))
}

// RunAll runs modules concurrently. If ctx is cancelled no further modules
// are started, modules that are already running finish. The outcomes of all
// finished modules are returned in module order.
func (r *Runner) RunAll(ctx context.Context, modules []Module) []*Outcome {
	first := r.reserve(len(modules))
	outcomes := make([]*Outcome, len(modules))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, m := range modules {
		if ctx.Err() != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = r.run(context.WithoutCancel(ctx), m, first+i)
			return nil
		})
	}
	_ = g.Wait()

	finished := make([]*Outcome, 0, len(outcomes))
	for i, o := range outcomes {
		if o == nil {
			r.sc.Logger(modules[i].Name()).Warn("scan cancelled, module not started")
			continue
		}
		finished = append(finished, o)
	}
	return finished
}

func (r *Runner) reserve(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := r.next
	r.next += n
	return first
}

func (r *Runner) run(ctx context.Context, m Module, seq int) *Outcome {
	start := time.Now()
	o := &Outcome{Module: m.Name(), State: Created}
	logger := r.sc.Logger(o.Module)

	func() {
		defer func() {
			if p := recover(); p != nil {
				o.fail(errors.Wrapf(ErrModuleErrored, "panic while %s: %v", o.State, p))
			}
		}()
		r.drive(ctx, m, o)
	}()
	o.Duration = time.Since(start)

	if o.State == Errored {
		logger.WithError(o.Err).Error("module failed")
	} else {
		logger.WithField("results", len(o.Results)).
			WithField("detected", len(o.Detected)).
			WithField("failed_artifacts", o.Failed).
			WithField("duration", o.Duration).
			Info("module finished")
	}

	r.metrics.observe(o)
	r.merge(seq, o)
	return o
}

func (r *Runner) drive(ctx context.Context, m Module, o *Outcome) {
	logger := r.sc.Logger(o.Module)

	o.State = Discovering
	artifacts, err := m.Discover(ctx, r.sc)
	if err != nil {
		o.fail(errors.Wrap(ErrModuleErrored, err.Error()))
		return
	}
	o.Discovered = len(artifacts)
	if len(artifacts) == 0 {
		logger.Debug("no artifacts found")
	}

	o.State = Parsing
	for _, artifact := range artifacts {
		records, err := r.parse(ctx, m, artifact)
		o.Results = append(o.Results, records...)
		if err != nil {
			var p panicError
			if errors.As(err, &p) {
				o.fail(errors.Wrapf(ErrModuleErrored, "panic while parsing %s: %v", artifact.Logical, p.value))
				return
			}
			o.Failed++
			logger.WithError(err).
				WithField("artifact", artifact.Logical).
				WithField("records", len(records)).
				Warn("skipping artifact")
			continue
		}
		o.Parsed++
		o.Artifacts = append(o.Artifacts, artifact)
	}

	o.State = Serializing
	for _, record := range o.Results {
		o.Timeline = append(o.Timeline, m.Serialize(record)...)
	}

	o.State = Matching
	if r.sc.Indicators != nil {
		for _, record := range o.Results {
			collection := m.CheckIndicators(r.sc.Indicators, record)
			if collection == nil {
				continue
			}
			logger.WithField("indicator", collection.Name).Warn("found a known suspicious record")
			o.Detected = append(o.Detected, Detection{Record: record, Indicator: collection})
			o.TimelineDetected = append(o.TimelineDetected, m.Serialize(record)...)
		}
	}

	o.State = Finished
}

type panicError struct {
	value interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// parse runs Parse for one artifact, bounded by the artifact timeout.
// An artifact that exceeds the timeout is unreadable.
func (r *Runner) parse(ctx context.Context, m Module, artifact Artifact) ([]Record, error) {
	timeout := r.sc.ArtifactTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		records []Record
		err     error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if p := recover(); p != nil {
				res.err = panicError{value: p}
			}
			done <- res
		}()
		res.records, res.err = m.Parse(ctx, r.sc, artifact)
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.records, nil
		}
		if _, ok := res.err.(panicError); ok {
			return res.records, res.err
		}
		if errors.Is(res.err, backup.ErrArtifactUnreadable) {
			return res.records, res.err
		}
		return res.records, errors.Wrapf(ErrArtifactParseFailed, "%s: %s", artifact.Logical, res.err)
	case <-ctx.Done():
		return nil, errors.Wrapf(backup.ErrArtifactUnreadable, "%s: %s after %s", artifact.Logical, ctx.Err(), timeout)
	}
}

func (r *Runner) merge(seq int, o *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	if o.State != Finished {
		return
	}
	r.timeline.add(seq, o.Timeline)
	r.timelineDetected.add(seq, o.TimelineDetected)
}

// Outcomes returns the outcomes of all finished module runs in the order
// they finished.
func (r *Runner) Outcomes() []*Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcomes := make([]*Outcome, len(r.outcomes))
	copy(outcomes, r.outcomes)
	return outcomes
}

// Timeline returns the merged timeline of all finished modules.
func (r *Runner) Timeline() []TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline.list()
}

// DetectedTimeline returns the merged timeline of all detections.
func (r *Runner) DetectedTimeline() []TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timelineDetected.list()
}

// Summary counts the outcomes of a scan.
type Summary struct {
	Modules    int `json:"modules"`
	Errored    int `json:"errored"`
	Discovered int `json:"artifacts_discovered"`
	Parsed     int `json:"artifacts_parsed"`
	Failed     int `json:"artifacts_failed"`
	Records    int `json:"records"`
	Detections int `json:"detections"`
}

// Summary returns the counts of all finished module runs.
func (r *Runner) Summary() Summary {
	var s Summary
	for _, o := range r.Outcomes() {
		s.Modules++
		if o.State == Errored {
			s.Errored++
		}
		s.Discovered += o.Discovered
		s.Parsed += o.Parsed
		s.Failed += o.Failed
		s.Records += len(o.Results)
		s.Detections += len(o.Detected)
	}
	return s
}
