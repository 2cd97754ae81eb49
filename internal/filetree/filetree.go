// Package filetree copies and clears the uploaded-media directory tree.
package filetree

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	appErrors "cms-backup/internal/errors"

	"github.com/spf13/afero"
)

// Stats summarizes a CopyTree run
type Stats struct {
	Dirs            int
	Files           int
	Bytes           int64
	SkippedSymlinks int
}

// Replicator copies and clears directory trees on a filesystem
type Replicator struct {
	fs afero.Fs
}

// New creates a Replicator. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Replicator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Replicator{fs: fs}
}

// Fs returns the underlying filesystem
func (r *Replicator) Fs() afero.Fs {
	return r.fs
}

// Exists reports whether path exists
func (r *Replicator) Exists(path string) (bool, error) {
	return afero.Exists(r.fs, path)
}

// IsDir reports whether path exists and is a directory
func (r *Replicator) IsDir(path string) (bool, error) {
	return afero.DirExists(r.fs, path)
}

// CopyTree recursively copies src into dst, creating dst as needed.
// Regular files keep their permission bits and modification time.
// A symlinked src is followed; symlinks inside it are skipped.
func (r *Replicator) CopyTree(ctx context.Context, src, dst string) (Stats, error) {
	var stats Stats

	rootInfo, err := r.fs.Stat(src)
	if err != nil {
		return stats, appErrors.Storage(fmt.Sprintf("cannot read source tree %s", src), err)
	}
	if !rootInfo.IsDir() {
		return stats, appErrors.Storage(fmt.Sprintf("source %s is not a directory", src), nil)
	}
	if err := r.fs.MkdirAll(dst, rootInfo.Mode().Perm()); err != nil {
		return stats, appErrors.Storage(fmt.Sprintf("failed to create %s", dst), err)
	}
	resolved, err := r.resolveRoot(src)
	if err != nil {
		return stats, appErrors.Storage(fmt.Sprintf("cannot resolve source tree %s", src), err)
	}
	src = resolved

	err = afero.Walk(r.fs, src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch mode := info.Mode(); {
		case mode&os.ModeSymlink != 0:
			stats.SkippedSymlinks++
			return nil
		case mode.IsDir():
			if err := r.fs.MkdirAll(target, mode.Perm()); err != nil {
				return err
			}
			stats.Dirs++
			return nil
		case mode.IsRegular():
			n, err := r.copyFile(path, target, info)
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
			return nil
		default:
			// devices, sockets and pipes have no place in an upload tree
			return nil
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return stats, err
		}
		return stats, appErrors.Storage(fmt.Sprintf("failed to copy %s to %s", src, dst), err)
	}

	return stats, nil
}

// resolveRoot follows symlinks in a tree root so that afero.Walk, which
// Lstats the root, descends into it. Only the OS filesystem has links.
func (r *Replicator) resolveRoot(path string) (string, error) {
	if _, ok := r.fs.(*afero.OsFs); !ok {
		return path, nil
	}
	return filepath.EvalSymlinks(path)
}

func (r *Replicator) copyFile(src, dst string, info os.FileInfo) (int64, error) {
	in, err := r.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := r.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	if err := out.Close(); err != nil {
		return n, err
	}

	// umask may have narrowed the mode on create
	if err := r.fs.Chmod(dst, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := r.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}

// ClearTree removes everything inside path but keeps path itself.
// A missing path is not an error.
func (r *Replicator) ClearTree(ctx context.Context, path string) error {
	info, err := r.fs.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return appErrors.Storage(fmt.Sprintf("cannot read %s", path), err)
	}
	if !info.IsDir() {
		return appErrors.Storage(fmt.Sprintf("%s is not a directory", path), nil)
	}

	dir, err := r.fs.Open(path)
	if err != nil {
		return appErrors.Storage(fmt.Sprintf("cannot open %s", path), err)
	}
	names, err := dir.Readdirnames(-1)
	dir.Close()
	if err != nil {
		return appErrors.Storage(fmt.Sprintf("cannot list %s", path), err)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.fs.RemoveAll(filepath.Join(path, name)); err != nil {
			return appErrors.Storage(fmt.Sprintf("failed to remove %s", name), err)
		}
	}
	return nil
}
