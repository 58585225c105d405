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
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/mobilecheck/module"
)

// SaveJSON writes the results of a module to <dir>/<module>.json and its
// detections, if any, to <dir>/<module>_detected.json.
func SaveJSON(dir string, o *module.Outcome) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	results := o.Results
	if results == nil {
		results = []module.Record{}
	}
	if err := writeJSON(filepath.Join(dir, o.Module+".json"), results); err != nil {
		return err
	}
	if len(o.Detected) == 0 {
		return nil
	}
	return writeJSON(filepath.Join(dir, o.Module+"_detected.json"), o.Detected)
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(v); err != nil {
		f.Close() // nolint:errcheck
		return errors.Wrapf(err, "could not write %s", path)
	}
	return f.Close()
}

// SaveTimelineCSV writes timeline events as CSV with the columns
// UTC Timestamp, Plugin, Event and Description.
func SaveTimelineCSV(path string, events []module.TimelineEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"UTC Timestamp", "Plugin", "Event", "Description"})
	for _, e := range events {
		_ = w.Write([]string{module.ISOTime(e.Timestamp), e.Module, e.Event, e.Data})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close() // nolint:errcheck
		return errors.Wrapf(err, "could not write %s", path)
	}
	return f.Close()
}
