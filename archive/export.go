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

package archive

import (
	"path"
	"strings"
)

// Export modes of ExportPath.
const (
	// Folder keeps the archived path, e.g.
	// "HomeDomain/Library/SMS/sms.db".
	Folder = "folder"
	// Compact joins the path segments and shortens long paths, e.g.
	// "HomeDomain_Library_SMS_sms.db".
	Compact = "compact"
	// Basename keeps only the file name, e.g. "sms.db".
	Basename = "basename"
)

// ExportPath returns the relative destination path of an archived file.
// Unknown modes are treated as Compact.
func ExportPath(name, mode string) string {
	switch mode {
	case Basename:
		return path.Base(name)
	case Folder:
		return strings.TrimLeft(name, "/")
	default:
		return compactPath(name)
	}
}

// compactPath joins the segments of name with underscores. While the result
// is longer than maxLength, directory names are cut to their first
// maxSegmentLength characters, then the file name itself.
func compactPath(name string) string {
	const maxLength = 64
	const maxSegmentLength = 4

	segments := strings.Split(strings.TrimLeft(name, "/"), "/")
	compact := strings.Join(segments, "_")

	for i := 0; i < len(segments)-1 && len(compact) > maxLength; i++ {
		segments[i] = first(segments[i], maxSegmentLength)
		compact = strings.Join(segments, "_")
	}

	if len(compact) > maxLength {
		base := segments[len(segments)-1]
		ext := path.Ext(base)
		segments[len(segments)-1] = first(strings.TrimSuffix(base, ext), maxSegmentLength) + ext
		compact = strings.Join(segments, "_")
	}

	return last(compact, maxLength)
}

func first(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[:n]
}

func last(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[len(s)-n:]
}
