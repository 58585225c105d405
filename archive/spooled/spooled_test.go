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

package spooled

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporaryFile_Write(t *testing.T) {
	tests := []struct {
		name           string
		writes         [][]byte
		wantSize       int64
		wantRolledOver bool
	}{
		{"small write", [][]byte{[]byte("abc")}, 3, false},
		{"large write", [][]byte{bytes.Repeat([]byte("abc"), 10)}, 30, true},
		{"double write", [][]byte{[]byte("abcdefgh"), []byte("ijklmn")}, 14, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			f, teardown := New(dir, 10)
			defer teardown() // nolint:errcheck

			var want []byte
			for _, p := range tt.writes {
				n, err := f.Write(p)
				require.NoError(t, err)
				assert.Equal(t, len(p), n)
				want = append(want, p...)
			}
			assert.Equal(t, tt.wantSize, f.Size())
			assert.Equal(t, tt.wantRolledOver, f.RolledOver())

			require.NoError(t, f.Rewind())
			got, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTemporaryFile_Close(t *testing.T) {
	dir := t.TempDir()
	f, _ := New(dir, 10)
	_, err := f.Write(bytes.Repeat([]byte("abcd"), 100))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, f.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
