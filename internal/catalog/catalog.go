// Package catalog manages the directory of stored backup archives.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Provenance tells generated archives apart from uploaded ones
type Provenance string

const (
	ProvenanceGenerated Provenance = "generated"
	ProvenanceUploaded  Provenance = "uploaded"
)

const (
	archiveExt      = ".zip"
	partialExt      = ".partial"
	generatedPrefix = "backup-"
	uploadedPrefix  = "uploaded-"
	timestampLayout = "20060102-150405"
	maxStemLength   = 64
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.zip$`)

// Entry describes one stored archive
type Entry struct {
	Filename   string     `json:"filename" yaml:"filename"`
	Size       int64      `json:"size" yaml:"size"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`
}

// Verifier checks a candidate archive before it is admitted to the catalog.
// It receives the on-disk path of the staged file.
type Verifier func(path string) error

// Option configures a Catalog
type Option func(*Catalog)

// WithClock overrides the time source used for naming and retention
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithVerifier sets the check run on uploaded and imported archives
func WithVerifier(v Verifier) Option {
	return func(c *Catalog) { c.verify = v }
}

// WithOnDelete registers a hook called with the name of every removed archive
func WithOnDelete(fn func(ctx context.Context, name string)) Option {
	return func(c *Catalog) { c.onDelete = fn }
}

// WithLogger sets the logger for deletion, retention and admission events
func WithLogger(logger *logging.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// Catalog is a directory of backup archives
type Catalog struct {
	fs       afero.Fs
	dir      string
	now      func() time.Time
	verify   Verifier
	onDelete func(ctx context.Context, name string)
	logger   *logging.Logger
}

// New creates a catalog rooted at dir. A nil fs means the OS filesystem.
func New(fs afero.Fs, dir string, opts ...Option) *Catalog {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	c := &Catalog{
		fs:     fs,
		dir:    dir,
		now:    time.Now,
		logger: logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the catalog directory
func (c *Catalog) Dir() string {
	return c.dir
}

// EnsureDir creates the catalog directory if needed
func (c *Catalog) EnsureDir() error {
	if err := c.fs.MkdirAll(c.dir, 0o750); err != nil {
		return appErrors.Storage("failed to create backup directory", err).WithContext("dir", c.dir)
	}
	return nil
}

// ValidateName enforces the filename safety contract. It never touches the
// filesystem.
func ValidateName(name string) error {
	switch {
	case name == "":
		return appErrors.InvalidName(name, "name is empty")
	case strings.ContainsAny(name, `/\`):
		return appErrors.InvalidName(name, "name must not contain a path separator")
	case strings.Contains(name, ".."):
		return appErrors.InvalidName(name, "name must not contain a parent directory segment")
	case !strings.HasSuffix(name, archiveExt):
		return appErrors.InvalidName(name, "name must end in "+archiveExt)
	case !namePattern.MatchString(name):
		return appErrors.InvalidName(name, "name contains characters outside [A-Za-z0-9._-]")
	}
	return nil
}

// Path validates name and returns its location on disk
func (c *Catalog) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

// List returns stored archives, newest first. Staging files and anything
// that does not look like an archive are ignored.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, appErrors.Storage("failed to read backup directory", err).WithContext("dir", c.dir)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() || ValidateName(info.Name()) != nil {
			continue
		}
		entries = append(entries, entryFromInfo(info))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Filename > entries[j].Filename
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Stat returns the entry for name
func (c *Catalog) Stat(ctx context.Context, name string) (Entry, error) {
	path, err := c.Path(name)
	if err != nil {
		return Entry{}, err
	}
	info, err := c.fs.Stat(path)
	if os.IsNotExist(err) {
		return Entry{}, appErrors.NotFound(name)
	}
	if err != nil {
		return Entry{}, appErrors.Storage("failed to stat archive", err).WithContext("name", name)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, appErrors.NotFound(name)
	}
	return entryFromInfo(info), nil
}

// Delete removes one archive
func (c *Catalog) Delete(ctx context.Context, name string) error {
	if _, err := c.Stat(ctx, name); err != nil {
		return err
	}
	if err := c.fs.Remove(filepath.Join(c.dir, name)); err != nil {
		if os.IsNotExist(err) {
			return appErrors.NotFound(name)
		}
		return appErrors.Storage("failed to delete archive", err).WithContext("name", name)
	}

	c.logger.WithField("archive", name).Info("Backup archive deleted")
	if c.onDelete != nil {
		c.onDelete(ctx, name)
	}
	return nil
}

// ApplyRetention deletes archives created more than maxAgeDays ago and
// returns how many were removed.
func (c *Catalog) ApplyRetention(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 1 {
		return 0, appErrors.Validation(fmt.Sprintf("retention must be at least 1 day, got %d", maxAgeDays), nil)
	}

	entries, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	deleted := 0
	var errs []error
	for _, entry := range entries {
		if !entry.CreatedAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := c.Delete(ctx, entry.Filename); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	c.logger.WithFields(map[string]interface{}{
		"max_age_days": maxAgeDays,
		"deleted":      deleted,
		"failed":       len(errs),
	}).Info("Retention sweep finished")

	if len(errs) > 0 {
		return deleted, appErrors.Storage("some archives could not be deleted", errors.Join(errs...))
	}
	return deleted, nil
}

// Open returns a reader for an archive
func (c *Catalog) Open(ctx context.Context, name string) (io.ReadCloser, Entry, error) {
	entry, err := c.Stat(ctx, name)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := c.fs.Open(filepath.Join(c.dir, name))
	if err != nil {
		return nil, Entry{}, appErrors.Storage("failed to open archive", err).WithContext("name", name)
	}
	return f, entry, nil
}

// Upload stores an archive supplied by a caller under an uploaded-* name
func (c *Catalog) Upload(ctx context.Context, originalName string, r io.Reader) (Entry, error) {
	if err := ValidateName(originalName); err != nil {
		return Entry{}, err
	}
	if err := c.EnsureDir(); err != nil {
		return Entry{}, err
	}

	name, err := c.uniqueName(uploadedPrefix + c.now().UTC().Format(timestampLayout) + "-" + uploadStem(originalName))
	if err != nil {
		return Entry{}, err
	}

	return c.admit(ctx, name, func(partial string) error {
		f, err := c.fs.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return appErrors.Storage("failed to create upload file", err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return appErrors.Storage("failed to store upload", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return appErrors.Storage("failed to sync upload", err)
		}
		if err := f.Close(); err != nil {
			return appErrors.Storage("failed to close upload", err)
		}
		return nil
	})
}

// Import admits an archive under its own name. fetch writes the archive
// to the staging path it is given.
func (c *Catalog) Import(ctx context.Context, name string, fetch func(ctx context.Context, partialPath string) error) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	if err := c.EnsureDir(); err != nil {
		return Entry{}, err
	}
	exists, err := afero.Exists(c.fs, filepath.Join(c.dir, name))
	if err != nil {
		return Entry{}, appErrors.Storage("failed to stat archive", err)
	}
	if exists {
		return Entry{}, appErrors.Validation(fmt.Sprintf("archive %q already exists", name), nil)
	}

	return c.admit(ctx, name, func(partial string) error {
		return fetch(ctx, partial)
	})
}

// admit stages a file via write, verifies it and renames it into place
func (c *Catalog) admit(ctx context.Context, name string, write func(partial string) error) (Entry, error) {
	final := filepath.Join(c.dir, name)
	partial := final + partialExt

	if err := write(partial); err != nil {
		c.fs.Remove(partial)
		return Entry{}, err
	}
	if c.verify != nil {
		if err := c.verify(partial); err != nil {
			c.fs.Remove(partial)
			return Entry{}, err
		}
	}
	if err := c.fs.Rename(partial, final); err != nil {
		c.fs.Remove(partial)
		return Entry{}, appErrors.Storage("failed to move archive into place", err)
	}

	info, err := c.fs.Stat(final)
	if err != nil {
		return Entry{}, appErrors.Storage("failed to stat archive", err)
	}
	c.logger.WithFields(map[string]interface{}{
		"archive": name,
		"size":    info.Size(),
	}).Info("Backup archive stored")
	return entryFromInfo(info), nil
}

// NewGeneratedName returns an unused backup-<timestamp>.zip name
func (c *Catalog) NewGeneratedName(now time.Time) (string, error) {
	return c.uniqueName(generatedPrefix + now.UTC().Format(timestampLayout))
}

func (c *Catalog) uniqueName(base string) (string, error) {
	name := base + archiveExt
	for attempt := 0; ; attempt++ {
		exists, err := afero.Exists(c.fs, filepath.Join(c.dir, name))
		if err != nil {
			return "", appErrors.Storage("failed to check archive name", err)
		}
		partial, err := afero.Exists(c.fs, filepath.Join(c.dir, name+partialExt))
		if err != nil {
			return "", appErrors.Storage("failed to check archive name", err)
		}
		if !exists && !partial {
			return name, nil
		}
		if attempt >= 5 {
			return "", appErrors.Storage("could not find a free archive name", nil).WithContext("base", base)
		}
		name = base + "-" + uuid.NewString()[:8] + archiveExt
	}
}

func uploadStem(originalName string) string {
	stem := strings.TrimSuffix(originalName, archiveExt)
	stem = strings.TrimPrefix(stem, uploadedPrefix)
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	stem = strings.TrimRight(stem, ".")
	if stem == "" {
		stem = "archive"
	}
	return stem
}

func entryFromInfo(info os.FileInfo) Entry {
	provenance := ProvenanceGenerated
	if strings.HasPrefix(info.Name(), uploadedPrefix) {
		provenance = ProvenanceUploaded
	}
	return Entry{
		Filename:   info.Name(),
		Size:       info.Size(),
		CreatedAt:  info.ModTime(),
		Provenance: provenance,
	}
}
