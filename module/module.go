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

// Package module defines the contract of extraction modules and runs them.
//
// A module locates its artifacts in a backup or filesystem dump, parses them
// into records, serializes records into timeline events and checks records
// against indicators. The Runner drives every module through the states
//
//     Created -> Discovering -> Parsing -> Serializing -> Matching -> Finished
//
// and isolates failures: a module that fails ends in the Errored state while
// all other modules of the scan continue.
package module

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/indicators"
)

var (
	// ErrArtifactParseFailed marks an artifact that could only be parsed
	// partially. Records parsed before the failure are kept.
	ErrArtifactParseFailed = errors.New("artifact parse failed")

	// ErrModuleErrored marks a module that failed during discovery, parsing
	// or with a panic. Its outcome is Errored.
	ErrModuleErrored = errors.New("module errored")
)

// Module is implemented by every extractor.
type Module interface {
	// Name is unique among all modules of a scan.
	Name() string
	// Discover locates the artifacts of the module. Finding none is not an
	// error.
	Discover(ctx context.Context, sc *ScanContext) ([]Artifact, error)
	// Parse reads an artifact into records. Records returned together with
	// an error are kept.
	Parse(ctx context.Context, sc *ScanContext, artifact Artifact) ([]Record, error)
	// Serialize projects a record onto timeline events. It must be pure.
	Serialize(record Record) []TimelineEvent
	// CheckIndicators returns the collection a record matches, or nil.
	CheckIndicators(set *indicators.Set, record Record) *indicators.Collection
}

// ScanContext is passed to every module call.
type ScanContext struct {
	Store *backup.Store
	// Indicators is nil if indicator matching is disabled.
	Indicators *indicators.Set
	Log        log.Interface
	// ArtifactTimeout bounds Parse for a single artifact, zero disables it.
	ArtifactTimeout time.Duration
}

// Logger returns the scan logger for a module.
func (sc *ScanContext) Logger(module string) log.Interface {
	logger := sc.Log
	if logger == nil {
		logger = log.Log
	}
	return logger.WithField("module", module)
}

// IsBackup reports whether the scan reads a backup.
func (sc *ScanContext) IsBackup() bool {
	return sc.Store != nil && sc.Store.Mode() == backup.Backup
}

// IsFilesystemDump reports whether the scan reads a filesystem dump.
func (sc *ScanContext) IsFilesystemDump() bool {
	return sc.Store != nil && sc.Store.Mode() == backup.FilesystemDump
}

// Artifact is a file a module parses.
type Artifact struct {
	// Path is the physical path of the file.
	Path string `json:"path"`
	// Logical names the file on the device, e.g. the domain and relative
	// path of a backup file or the path relative to a dump root.
	Logical string `json:"logical"`
}

// Record is a single parsed entry of an artifact.
type Record map[string]interface{}

// State is the lifecycle state of a module run.
type State int

// The states of a module run. Errored is absorbing.
const (
	Created State = iota
	Discovering
	Parsing
	Serializing
	Matching
	Finished
	Errored
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Discovering:
		return "discovering"
	case Parsing:
		return "parsing"
	case Serializing:
		return "serializing"
	case Matching:
		return "matching"
	case Finished:
		return "finished"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Outcome is the result of a module run. It is not modified after the run
// finished or errored.
type Outcome struct {
	Module string `json:"module"`
	State  State  `json:"-"`
	Err    error  `json:"-"`

	Results          []Record        `json:"results"`
	Timeline         []TimelineEvent `json:"timeline"`
	Detected         []Detection     `json:"detected"`
	TimelineDetected []TimelineEvent `json:"timeline_detected"`

	// Artifacts lists the artifacts that were parsed completely.
	Artifacts  []Artifact `json:"artifacts"`
	Discovered int        `json:"discovered"`
	Parsed     int        `json:"parsed"`
	Failed     int        `json:"failed"`

	Duration time.Duration `json:"-"`
}

func (o *Outcome) fail(err error) {
	o.State = Errored
	o.Err = err
}
