// Package archive builds and unpacks backup containers: a zip holding the
// database dump, an optional uploads tree and a manifest.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"
	"cms-backup/internal/snapshot"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	// DumpEntry is the name written for the database export
	DumpEntry = "database.sql"
	// UploadsDir is the top-level directory holding the media tree
	UploadsDir = "uploads"
	// ManifestEntry describes the archive contents
	ManifestEntry = "manifest.json"
	// FormatVersion is the manifest version this build writes and understands
	FormatVersion = 1

	dumpPrefix = "database."
)

// Manifest is the optional description stored alongside the dump
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	Database      string    `json:"database"`
	DumpTool      string    `json:"dump_tool"`
	UploadsFiles  int       `json:"uploads_files"`
	UploadsBytes  int64     `json:"uploads_bytes"`
}

// Info describes a freshly created archive
type Info struct {
	Filename  string
	Size      int64
	Files     int
	CreatedAt time.Time
	Manifest  Manifest
}

// Options configures an Archiver
type Options struct {
	UploadsDir       string
	TempDir          string
	CompressionLevel int
	DatabaseName     string
	DumpTool         string
}

// Archiver creates and extracts backup containers
type Archiver struct {
	snap   snapshot.Snapshotter
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// New creates an Archiver. snap is only needed by Create.
func New(snap snapshot.Snapshotter, opts Options, logger *logging.Logger) *Archiver {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = flate.DefaultCompression
	}
	if opts.DumpTool == "" {
		opts.DumpTool = "mysqldump"
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Archiver{snap: snap, opts: opts, logger: logger, now: time.Now}
}

// Create dumps the database and writes a new archive at destPath. The archive
// is assembled in destPath+".partial" and renamed into place only when
// complete.
func (a *Archiver) Create(ctx context.Context, destPath string) (info *Info, err error) {
	if a.snap == nil {
		return nil, appErrors.Validation("archiver has no database snapshotter", nil)
	}
	createdAt := a.now().UTC()

	if err := os.MkdirAll(a.opts.TempDir, 0o750); err != nil {
		return nil, appErrors.Storage("failed to create temp directory", err)
	}
	tempDump := filepath.Join(a.opts.TempDir, "dump-"+uuid.NewString()+".sql")
	defer os.Remove(tempDump)

	if err := a.snap.Dump(ctx, tempDump); err != nil {
		return nil, err
	}

	partial := destPath + ".partial"
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, appErrors.Storage("failed to create archive file", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	zw := zip.NewWriter(f)
	level := a.opts.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	if err := addFile(zw, tempDump, DumpEntry, createdAt); err != nil {
		zw.Close()
		return nil, appErrors.Storage("failed to add database dump to archive", err)
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		CreatedAt:     createdAt,
		Database:      a.opts.DatabaseName,
		DumpTool:      a.opts.DumpTool,
	}
	if err := a.addUploads(ctx, zw, &manifest); err != nil {
		zw.Close()
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, appErrors.Storage("failed to add uploads to archive", err)
	}
	if err := writeManifest(zw, manifest); err != nil {
		zw.Close()
		return nil, appErrors.Storage("failed to write manifest", err)
	}

	if err := zw.Close(); err != nil {
		return nil, appErrors.Storage("failed to finalise archive", err)
	}
	if err := f.Sync(); err != nil {
		return nil, appErrors.Storage("failed to sync archive", err)
	}
	if err := f.Close(); err != nil {
		return nil, appErrors.Storage("failed to close archive", err)
	}
	if err := os.Rename(partial, destPath); err != nil {
		return nil, appErrors.Storage("failed to move archive into place", err)
	}

	st, err := os.Stat(destPath)
	if err != nil {
		return nil, appErrors.Storage("failed to stat archive", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"archive":       filepath.Base(destPath),
		"size":          st.Size(),
		"uploads_files": manifest.UploadsFiles,
	}).Info("Backup archive created")

	return &Info{
		Filename:  filepath.Base(destPath),
		Size:      st.Size(),
		Files:     manifest.UploadsFiles,
		CreatedAt: createdAt,
		Manifest:  manifest,
	}, nil
}

func (a *Archiver) addUploads(ctx context.Context, zw *zip.Writer, manifest *Manifest) error {
	root := a.opts.UploadsDir
	if root == "" {
		return nil
	}
	st, err := os.Stat(root)
	if os.IsNotExist(err) {
		a.logger.WithField("path", root).Debug("No uploads directory, archive will hold the database only")
		return nil
	}
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("uploads path %s is not a directory", root)
	}
	// WalkDir does not follow a symlinked root; links below it stay skipped
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return err
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := UploadsDir
		if rel != "." {
			name = path.Join(UploadsDir, filepath.ToSlash(rel))
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Name = name + "/"
			_, err = zw.CreateHeader(header)
			return err
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := addFile(zw, p, name, info.ModTime()); err != nil {
				return err
			}
			manifest.UploadsFiles++
			manifest.UploadsBytes += info.Size()
			return nil
		default:
			return nil
		}
	})
}

func addFile(zw *zip.Writer, src, name string, modTime time.Time) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	header.Modified = modTime

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func writeManifest(zw *zip.Writer, manifest Manifest) error {
	header := &zip.FileHeader{
		Name:     ManifestEntry,
		Method:   zip.Deflate,
		Modified: manifest.CreatedAt,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(manifest)
}

// Extract unpacks archivePath into destDir. Entries that would land outside
// destDir fail the whole extraction; symlink entries are skipped.
func (a *Archiver) Extract(ctx context.Context, archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return appErrors.Extract("archive is not a readable zip container", err).
			WithContext("archive", filepath.Base(archivePath))
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return appErrors.Storage("failed to create extraction directory", err)
	}

	for _, file := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return appErrors.Extract(err.Error(), nil).WithContext("entry", file.Name)
		}
		mode := file.Mode()

		switch {
		case mode&fs.ModeSymlink != 0:
			a.logger.WithField("entry", file.Name).Warn("Skipping symlink entry in archive")
		case file.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o750); err != nil {
				return appErrors.Storage("failed to create directory", err).WithContext("entry", file.Name)
			}
		default:
			if err := extractFile(file, target); err != nil {
				return appErrors.Extract(fmt.Sprintf("failed to extract %s", file.Name), err)
			}
		}
	}

	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := file.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !file.Modified.IsZero() {
		return os.Chtimes(target, file.Modified, file.Modified)
	}
	return nil
}

// safeJoin resolves a zip entry name under root, rejecting absolute paths and
// parent traversal.
func safeJoin(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("archive contains an entry with an empty name")
	}
	if strings.Contains(name, `\`) || path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("archive entry %q has an unsafe path", name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
		}
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

// FindDump returns the path of the database.<ext> file in dir
func FindDump(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var candidates []string
	for _, entry := range entries {
		if isDumpName(entry.Name()) {
			candidates = append(candidates, entry.Name())
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i] == DumpEntry {
			return true
		}
		if candidates[j] == DumpEntry {
			return false
		}
		return candidates[i] < candidates[j]
	})
	return filepath.Join(dir, candidates[0]), true
}

func isDumpName(name string) bool {
	return strings.HasPrefix(name, dumpPrefix) && len(name) > len(dumpPrefix) && !strings.Contains(name, "/")
}
