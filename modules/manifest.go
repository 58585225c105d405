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

package modules

import (
	"context"
	"fmt"
	"path"
	"time"

	"howett.net/plist"

	"github.com/forensicanalysis/mobilecheck/backup"
	"github.com/forensicanalysis/mobilecheck/indicators"
	"github.com/forensicanalysis/mobilecheck/module"
)

// Manifest lists all files of a backup with the file system metadata stored
// in the Manifest.db.
type Manifest struct{}

// NewManifest creates the Manifest module.
func NewManifest() *Manifest { return &Manifest{} }

type manifestFile struct {
	FileID        string
	Domain        string
	RelativePath  string
	Created       string
	Modified      string
	StatusChanged string
	Size          int64
	Mode          string
	Owner         int64
}

// Name returns "Manifest".
func (*Manifest) Name() string { return "Manifest" }

// Discover returns the Manifest.db of backups.
func (*Manifest) Discover(_ context.Context, sc *module.ScanContext) ([]module.Artifact, error) {
	if !sc.IsBackup() {
		return nil, nil
	}
	return []module.Artifact{{Path: sc.Store.ManifestPath(), Logical: backup.ManifestName}}, nil
}

// Parse returns a record for every verified manifest entry.
func (m *Manifest) Parse(ctx context.Context, sc *module.ScanContext, _ module.Artifact) ([]module.Record, error) {
	logger := sc.Logger(m.Name())
	var records []module.Record
	for _, entry := range sc.Store.Entries() {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if entry.RelativePath == "" {
			continue
		}
		f := manifestFile{FileID: entry.FileID, Domain: entry.Domain, RelativePath: entry.RelativePath}
		if len(entry.Metadata) > 0 {
			if err := decodeFileMetadata(entry.Metadata, &f); err != nil {
				logger.WithError(err).WithField("file_id", entry.FileID).Debug("could not decode file metadata")
			}
		}
		records = append(records, record(f))
	}
	return records, nil
}

// decodeFileMetadata reads the MBFile archived in the file column.
func decodeFileMetadata(data []byte, f *manifestFile) error {
	var archive struct {
		Objects []interface{} `plist:"$objects"`
	}
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return err
	}
	if len(archive.Objects) < 2 {
		return fmt.Errorf("archive has %d objects", len(archive.Objects))
	}
	file, ok := archive.Objects[1].(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected root object %T", archive.Objects[1])
	}

	unixTime := func(key string) string {
		v, ok := integer(file[key])
		if !ok || v == 0 {
			return ""
		}
		return module.ISOTime(time.Unix(v, 0))
	}
	f.Created = unixTime("Birth")
	f.Modified = unixTime("LastModified")
	f.StatusChanged = unixTime("LastStatusChange")
	f.Size, _ = integer(file["Size"])
	f.Owner, _ = integer(file["UserID"])
	if mode, ok := integer(file["Mode"]); ok {
		f.Mode = fmt.Sprintf("%o", mode)
	}
	return nil
}

func integer(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Serialize returns one event per distinct timestamp of the file. The event
// names the timestamps it stands for, e.g. "M-CB".
func (m *Manifest) Serialize(r module.Record) []module.TimelineEvent {
	created, modified, changed := stringValue(r, "created"), stringValue(r, "modified"), stringValue(r, "status_changed")
	if modified == "" || changed == "" {
		return nil
	}

	var events []module.TimelineEvent
	seen := map[string]bool{}
	for _, ts := range []string{created, modified, changed} {
		if ts == "" || seen[ts] {
			continue
		}
		seen[ts] = true

		macb := []byte("----")
		if ts == modified {
			macb[0] = 'M'
		}
		if ts == changed {
			macb[2] = 'C'
		}
		if ts == created {
			macb[3] = 'B'
		}
		t, _ := time.Parse(module.TimeFormat, ts)
		events = append(events, module.TimelineEvent{
			Timestamp: t,
			Module:    m.Name(),
			Event:     string(macb),
			Data:      fmt.Sprintf("%s - %s", stringValue(r, "relative_path"), stringValue(r, "domain")),
		})
	}
	return events
}

// CheckIndicators matches the file name of the relative path.
func (*Manifest) CheckIndicators(set *indicators.Set, r module.Record) *indicators.Collection {
	return set.CheckFileNames([]string{path.Base(stringValue(r, "relative_path"))})
}
