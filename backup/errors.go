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

package backup

import "github.com/pkg/errors"

var (
	// ErrInvalidRoot is returned when the backup or dump root cannot be used.
	// It is the only error of this package that is fatal to a scan.
	ErrInvalidRoot = errors.New("invalid store root")

	// ErrManifestInconsistency marks manifest rows that were dropped.
	ErrManifestInconsistency = errors.New("manifest inconsistency")

	// ErrPathTraversalRejected marks paths or patterns that would leave the
	// dump root.
	ErrPathTraversalRejected = errors.New("path traversal rejected")

	// ErrArtifactUnreadable is returned when an artifact could not be opened,
	// not even after recovery.
	ErrArtifactUnreadable = errors.New("artifact unreadable")

	// ErrWrongMode is returned when an operation is used with a store of the
	// other mode, e.g. FindByGlob on a backup.
	ErrWrongMode = errors.New("operation not available in this mode")
)
