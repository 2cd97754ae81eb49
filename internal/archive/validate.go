package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	appErrors "cms-backup/internal/errors"

	"github.com/klauspost/compress/zip"
)

const maxManifestBytes = 1 << 20

// Validate checks an extracted archive in dir without modifying it. An empty
// result means the archive is restorable.
func Validate(dir string) appErrors.ValidationErrors {
	var issues appErrors.ValidationErrors

	dump, ok := FindDump(dir)
	if !ok {
		issues.Add("database", "archive does not contain a database.<ext> dump", nil)
	} else {
		st, err := os.Lstat(dump)
		switch {
		case err != nil:
			issues.Add("database", fmt.Sprintf("cannot read dump: %v", err), filepath.Base(dump))
		case !st.Mode().IsRegular():
			issues.Add("database", "dump is not a regular file", filepath.Base(dump))
		case st.Size() == 0:
			issues.Add("database", "dump is empty", filepath.Base(dump))
		}
	}

	if st, err := os.Lstat(filepath.Join(dir, UploadsDir)); err == nil && !st.IsDir() {
		issues.Add(UploadsDir, "uploads entry is not a directory", nil)
	}

	if data, err := os.ReadFile(filepath.Join(dir, ManifestEntry)); err == nil {
		if _, err := parseManifest(data); err != nil {
			issues.Add("manifest", err.Error(), nil)
		}
	}

	return issues
}

// Inspect validates the archive container at archivePath without extracting
// it. The manifest is nil when the archive carries none. A non-nil error means
// the container itself could not be read.
func Inspect(archivePath string) (*Manifest, appErrors.ValidationErrors, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, nil, appErrors.Extract("archive is not a readable zip container", err).
			WithContext("archive", filepath.Base(archivePath))
	}
	defer zr.Close()

	var (
		issues      appErrors.ValidationErrors
		manifest    *Manifest
		dumpFound   bool
		dumpEmpty   bool
		uploadsFile bool
	)

	for _, file := range zr.File {
		if _, err := safeJoin(string(filepath.Separator), file.Name); err != nil {
			issues.Add("entry", err.Error(), file.Name)
			continue
		}

		name := strings.TrimSuffix(file.Name, "/")
		isDir := file.FileInfo().IsDir()

		switch {
		case isDumpName(name) && !isDir:
			if !dumpFound || file.UncompressedSize64 > 0 {
				dumpEmpty = file.UncompressedSize64 == 0
			}
			dumpFound = true
		case name == UploadsDir && !isDir:
			uploadsFile = true
		case name == ManifestEntry && !isDir:
			m, err := readManifest(file)
			if err != nil {
				issues.Add("manifest", err.Error(), nil)
				continue
			}
			manifest = m
		}
	}

	switch {
	case !dumpFound:
		issues.Add("database", "archive does not contain a database.<ext> dump", nil)
	case dumpEmpty:
		issues.Add("database", "dump is empty", nil)
	}
	if uploadsFile {
		issues.Add(UploadsDir, "uploads entry is not a directory", nil)
	}

	return manifest, issues, nil
}

// Verify is Inspect reduced to a single error, for admitting uploads
func Verify(archivePath string) error {
	_, issues, err := Inspect(archivePath)
	if err != nil {
		return err
	}
	return issues.Err("archive is not a restorable backup")
}

func readManifest(file *zip.File) (*Manifest, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot open manifest: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("manifest is too large")
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if m.FormatVersion < 1 || m.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("unsupported manifest format version %d", m.FormatVersion)
	}
	return &m, nil
}
