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

// Package spooled provides a write-then-read buffer that keeps small
// content in memory and spills larger content to a temporary file.
package spooled

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// TemporaryFile buffers writes in memory until maxSize is exceeded.
type TemporaryFile struct {
	size       int64
	maxSize    int64
	dir        string
	buffer     *bytes.Buffer
	tempFile   *os.File
	rolledOver bool
}

// New creates a buffer that rolls over to a file in dir once more than
// maxSize bytes are written. An empty dir uses the default temp directory.
func New(dir string, maxSize int64) (*TemporaryFile, func() error) {
	t := &TemporaryFile{buffer: &bytes.Buffer{}, maxSize: maxSize, dir: dir}
	return t, t.Close
}

// Read reads from the current position. Call Rewind after writing.
func (t *TemporaryFile) Read(p []byte) (n int, err error) {
	if t.rolledOver {
		return t.tempFile.Read(p)
	}
	return t.buffer.Read(p)
}

func (t *TemporaryFile) Write(p []byte) (n int, err error) {
	t.size += int64(len(p))
	if t.rolledOver {
		return t.tempFile.Write(p)
	}

	if t.size > t.maxSize {
		if err := t.Rollover(); err != nil {
			return 0, err
		}
		return t.tempFile.Write(p)
	}

	return t.buffer.Write(p)
}

// Rewind moves the read position to the start of the written content.
func (t *TemporaryFile) Rewind() error {
	if t.rolledOver {
		_, err := t.tempFile.Seek(0, io.SeekStart)
		return err
	}
	return nil
}

// Rollover moves the buffered content to a temporary file.
func (t *TemporaryFile) Rollover() (err error) {
	t.tempFile, err = os.CreateTemp(t.dir, "spooled")
	if err != nil {
		return errors.Wrap(err, "could not create tmp file")
	}
	t.rolledOver = true
	if _, err = io.Copy(t.tempFile, t.buffer); err != nil {
		return errors.Wrap(err, "could not fill tmp file")
	}
	t.buffer.Reset()
	return nil
}

// RolledOver reports whether the content lives in a temporary file.
func (t *TemporaryFile) RolledOver() bool {
	return t.rolledOver
}

// Close releases the buffer and removes the temporary file.
func (t *TemporaryFile) Close() error {
	if t.rolledOver {
		err := t.tempFile.Close()
		if err != nil {
			return err
		}
		t.rolledOver = false
		return os.Remove(t.tempFile.Name())
	}
	t.buffer.Reset()
	return nil
}

// Size returns the number of written bytes.
func (t *TemporaryFile) Size() int64 {
	return t.size
}
