// Package discovery finds files to index, hashes their content and
// watches directories for changes.
package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// DefaultIgnore lists names that are never indexed.
var DefaultIgnore = []string{"node_modules", "__pycache__", "*.tmp", "*.swp", "~$*", ".DS_Store"}

// Options controls which files are reported.
type Options struct {
	// FollowHidden includes dot files and dot directories.
	FollowHidden bool

	// Ignore holds glob patterns matched against base names and paths
	// relative to the walked root.
	Ignore []string
}

// File is a discovered regular file.
type File struct {
	// Path is absolute and clean.
	Path    string
	Size    int64
	ModTime time.Time
}

// IsHidden reports whether any element of path starts with a dot.
func IsHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

// Ignored reports whether name or rel matches one of the patterns.
func Ignored(patterns []string, rel string) bool {
	name := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.ToSlash(rel)); ok {
			return true
		}
	}
	return false
}

func (o Options) patterns() []string {
	return append(append([]string{}, DefaultIgnore...), o.Ignore...)
}

// skip reports whether rel, relative to a root, is excluded.
func (o Options) skip(rel string) bool {
	if rel == "." {
		return false
	}
	if !o.FollowHidden && IsHidden(rel) {
		return true
	}
	return Ignored(o.patterns(), rel)
}

// Walk reports every regular file under roots to fn. A root may be a
// file. Unreadable entries below a root are skipped; a missing root is
// an error.
func Walk(ctx context.Context, roots []string, opts Options, fn func(File) error) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				if err := fn(File{Path: abs, Size: info.Size(), ModTime: info.ModTime()}); err != nil {
					return err
				}
			}
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if err != nil {
				if path == abs {
					return err
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(abs, path)
			if opts.skip(rel) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			return fn(File{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Collect returns every file Walk reports.
func Collect(ctx context.Context, roots []string, opts Options) ([]File, error) {
	var files []File
	err := Walk(ctx, roots, opts, func(f File) error {
		files = append(files, f)
		return nil
	})
	return files, err
}

// HashFile returns the hex BLAKE2b-256 digest of the file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the hex BLAKE2b-256 digest of r.
func HashReader(r io.Reader) (string, error) {
	h, err := blake2b.New(32, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocumentID derives the stable document id of an absolute path.
func DocumentID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(filepath.Clean(path)))).String()
}

// Under reports whether path lies inside root, or is root.
func Under(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ErrNotWatching is returned by Events on a closed watcher.
var ErrNotWatching = errors.New("watcher closed")
