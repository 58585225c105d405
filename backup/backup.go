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

// Package backup resolves logical artifact references of mobile device
// acquisitions to physical files.
//
// Two kinds of acquisitions are supported:
//     - Backups: a content-addressed store where every file is named by the
//       SHA1 of its domain and relative path and a Manifest.db that maps
//       (domain, relative path) pairs to those file ids.
//     - Filesystem dumps: a plain copy of the device filesystem, searched with
//       shell style glob patterns.
//
// Structure
//
// An example backup directory:
//     00008030-001A2B3C4D5E6F/
//     ├── 00
//     │   └── 00a1b2...
//     ├── 83
//     │   └── 83b9310399a905c7781f95580174f321cd18fd97
//     ├── ...
//     ├── Info.plist
//     └── Manifest.db
//
// The store also opens sqlite containers in two phases: a strict, read-only
// open that fails on any integrity error and a recovering open that salvages
// the readable part of a damaged database into a private copy.
package backup

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/forensicanalysis/fsdoublestar"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Mode is the kind of acquisition a Store reads from.
type Mode int

const (
	// Backup is a content-addressed backup with a manifest.
	Backup Mode = iota
	// FilesystemDump is a raw copy of the device filesystem.
	FilesystemDump
)

func (m Mode) String() string {
	switch m {
	case Backup:
		return "backup"
	case FilesystemDump:
		return "filesystem dump"
	}
	return "unknown"
}

const (
	defaultOpenAttempts      = 3
	defaultRecoveryCacheSize = 32
)

// Store is the content store of one acquisition. It is immutable after
// construction and may be shared by concurrently running modules.
type Store struct {
	mode     Mode
	root     string
	fs       afero.Fs
	manifest *manifest
	logger   log.Interface

	openAttempts int

	workDirOnce sync.Once
	workDir     string
	workDirErr  error
	recovered   *lru.Cache[string, string]
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings about dropped entries and
// rejected paths.
func WithLogger(logger log.Interface) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOpenAttempts sets how often a busy or locked database is retried.
func WithOpenAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.openAttempts = n
		}
	}
}

// WithRecoveryCacheSize sets how many recovered databases are kept.
func WithRecoveryCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.recovered = newRecoveryCache(n)
		}
	}
}

func newStore(mode Mode, root string, opts []Option) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRoot, err.Error())
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrInvalidRoot, "%s is not a directory", root)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRoot, err.Error())
	}

	s := &Store{
		mode:         mode,
		root:         root,
		fs:           afero.NewBasePathFs(afero.NewOsFs(), root),
		logger:       log.Log,
		openAttempts: defaultOpenAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recovered == nil {
		s.recovered = newRecoveryCache(defaultRecoveryCacheSize)
	}
	return s, nil
}

// NewBackup opens the backup in root and loads its Manifest.db.
func NewBackup(root string, opts ...Option) (*Store, error) {
	s, err := newStore(Backup, root, opts)
	if err != nil {
		return nil, err
	}
	manifestPath := s.ManifestPath()
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, errors.Wrapf(ErrInvalidRoot, "missing %s", ManifestName)
	}
	entries, err := readManifest(manifestPath)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRoot, err.Error())
	}
	s.manifest = newManifest(entries, s.logger)
	s.logger.WithField("entries", len(s.manifest.entries)).Debug("loaded manifest")
	return s, nil
}

// NewBackupFromEntries creates a backup store from already parsed manifest
// entries. Entries are verified like the rows of a Manifest.db.
func NewBackupFromEntries(root string, entries []ManifestEntry, opts ...Option) (*Store, error) {
	s, err := newStore(Backup, root, opts)
	if err != nil {
		return nil, err
	}
	s.manifest = newManifest(entries, s.logger)
	return s, nil
}

// NewFilesystemDump creates a store for the filesystem dump in root.
func NewFilesystemDump(root string, opts ...Option) (*Store, error) {
	return newStore(FilesystemDump, root, opts)
}

// Mode returns the acquisition mode.
func (s *Store) Mode() Mode { return s.mode }

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// ManifestPath returns the path of the Manifest.db of a backup.
func (s *Store) ManifestPath() string { return filepath.Join(s.root, ManifestName) }

// Entries returns all verified manifest entries in load order.
func (s *Store) Entries() []ManifestEntry {
	if s.manifest == nil {
		return nil
	}
	entries := make([]ManifestEntry, len(s.manifest.entries))
	copy(entries, s.manifest.entries)
	return entries
}

// FindByDomain returns the manifest entries of exactly this domain.
func (s *Store) FindByDomain(domain string) []ManifestEntry {
	return s.filter(func(e ManifestEntry) bool { return e.Domain == domain })
}

// FindByDomainPrefix returns the manifest entries whose domain starts with
// prefix, e.g. "AppDomain-" for all application containers.
func (s *Store) FindByDomainPrefix(prefix string) []ManifestEntry {
	return s.filter(func(e ManifestEntry) bool { return strings.HasPrefix(e.Domain, prefix) })
}

func (s *Store) filter(fn func(ManifestEntry) bool) []ManifestEntry {
	if s.manifest == nil {
		return nil
	}
	var entries []ManifestEntry
	for _, entry := range s.manifest.entries {
		if fn(entry) {
			entries = append(entries, entry)
		}
	}
	return entries
}

// FindByFileID returns the physical path of a registered file id.
// Backups store files as <root>/<id[0:2]>/<id>, older backups as <root>/<id>.
func (s *Store) FindByFileID(id string) (string, bool) {
	if s.mode != Backup || s.manifest == nil {
		return "", false
	}
	id = strings.ToLower(id)
	if _, ok := s.manifest.byID[id]; !ok {
		return "", false
	}
	for _, candidate := range []string{filepath.Join(s.root, id[:2], id), filepath.Join(s.root, id)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	s.logger.WithField("file_id", id).Debug("registered file is missing in backup")
	return "", false
}

// FindByGlob returns all files of a filesystem dump that match any of the
// patterns. Patterns use forward slashes, are relative to the dump root and
// may contain ** to match up to maxGlobDepth directories or **N for N
// directories. The returned paths are
// relative to the root, unique and sorted.
func (s *Store) FindByGlob(patterns []string) ([]string, error) {
	if s.mode != FilesystemDump {
		return nil, ErrWrongMode
	}

	iofs := afero.NewIOFS(s.fs)
	found := map[string]bool{}
	for _, pattern := range patterns {
		cleaned, err := cleanPattern(pattern)
		if err != nil {
			s.logger.WithError(err).WithField("pattern", pattern).Warn("rejected glob pattern")
			continue
		}

		matches, err := fsdoublestar.Glob(iofs, cleaned)
		if err != nil {
			return nil, errors.Wrapf(err, "could not glob %s", pattern)
		}
		for _, match := range matches {
			if _, err := s.RealPath(match); err != nil {
				s.logger.WithError(err).WithField("path", match).Warn("rejected glob match")
				continue
			}
			found[match] = true
		}
	}

	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// maxGlobDepth is the number of directories a bare ** spans. fsdoublestar
// limits a bare ** to three directories, deeper bounds are written as **N.
const maxGlobDepth = 64

// cleanPattern makes a pattern root relative, rejects patterns that leave
// the root and bounds every bare ** by maxGlobDepth.
func cleanPattern(pattern string) (string, error) {
	p := strings.TrimLeft(filepath.ToSlash(pattern), "/")
	if p == "" {
		return "", errors.Wrap(ErrPathTraversalRejected, "empty pattern")
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.Wrapf(ErrPathTraversalRejected, "pattern %s leaves the root", pattern)
	}
	components := strings.Split(p, "/")
	for i, component := range components {
		if component == "**" {
			components[i] = "**" + strconv.Itoa(maxGlobDepth)
		}
	}
	return strings.Join(components, "/"), nil
}

// RealPath returns the physical path of a file relative to the dump root.
// Paths that resolve outside of the root, including via symlinks, are
// rejected.
func (s *Store) RealPath(relative string) (string, error) {
	if s.mode != FilesystemDump {
		return "", ErrWrongMode
	}
	cleaned, err := cleanPattern(relative)
	if err != nil {
		return "", err
	}
	physical := filepath.Join(s.root, filepath.FromSlash(cleaned))

	resolved, err := filepath.EvalSymlinks(physical)
	if err != nil {
		return "", errors.Wrap(ErrArtifactUnreadable, err.Error())
	}
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", errors.Wrap(ErrInvalidRoot, err.Error())
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrPathTraversalRejected, "%s resolves to %s", relative, resolved)
	}
	return physical, nil
}

// Open opens a file as a plain byte stream. The path can be absolute or,
// for filesystem dumps, relative to the dump root.
func (s *Store) Open(name string) (afero.File, error) {
	physical := name
	if !filepath.IsAbs(name) {
		p, err := s.RealPath(name)
		if err != nil {
			return nil, err
		}
		physical = p
	}
	f, err := afero.NewReadOnlyFs(afero.NewOsFs()).Open(physical)
	if err != nil {
		return nil, errors.Wrap(ErrArtifactUnreadable, err.Error())
	}
	return f, nil
}

// Close removes files created while recovering databases.
func (s *Store) Close() error {
	s.recovered.Purge()
	if s.workDir != "" {
		return os.RemoveAll(s.workDir)
	}
	return nil
}

func (s *Store) ensureWorkDir() (string, error) {
	s.workDirOnce.Do(func() {
		s.workDir, s.workDirErr = os.MkdirTemp("", "mobilecheck-recovery")
	})
	return s.workDir, s.workDirErr
}
