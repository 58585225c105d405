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
	"github.com/forensicanalysis/mobilecheck/module"
)

// locations of the files of a module in backups and filesystem dumps.
type locations struct {
	domain   string
	fileIDs  []string
	patterns []string
}

// discover finds the artifacts of a module. In backups only the registered
// file ids of the domain are considered, in filesystem dumps all files
// matching one of the patterns.
func discover(sc *module.ScanContext, name string, loc locations) ([]module.Artifact, error) {
	logger := sc.Logger(name)
	var artifacts []module.Artifact

	switch {
	case sc.IsBackup() && loc.domain != "":
		ids := map[string]bool{}
		for _, id := range loc.fileIDs {
			ids[id] = true
		}
		for _, entry := range sc.Store.FindByDomain(loc.domain) {
			if len(ids) > 0 && !ids[entry.FileID] {
				continue
			}
			path, ok := sc.Store.FindByFileID(entry.FileID)
			if !ok {
				continue
			}
			artifacts = append(artifacts, module.Artifact{Path: path, Logical: entry.Domain + "-" + entry.RelativePath})
		}
	case sc.IsFilesystemDump() && len(loc.patterns) > 0:
		matches, err := sc.Store.FindByGlob(loc.patterns)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			path, err := sc.Store.RealPath(match)
			if err != nil {
				logger.WithError(err).WithField("path", match).Warn("skipping file")
				continue
			}
			artifacts = append(artifacts, module.Artifact{Path: path, Logical: match})
		}
	}

	for _, a := range artifacts {
		logger.WithField("path", a.Logical).Info("found artifact")
	}
	return artifacts, nil
}
