package migrate

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/errs"
)

const (
	backupsDir  = "backups"
	backupStamp = "20060102_150405"
)

// BackupInfo describes one backup directory.
type BackupInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	SizeBytes int64  `json:"size_bytes"`
}

// Backup copies the store and its sidecar files into a timestamped
// directory under <dataDir>/backups. The backups directory itself and
// the capture queue are skipped: nesting backups would recurse, and
// queued jobs are transient work, not memory.
func Backup(dataDir string) (*BackupInfo, error) {
	if _, err := os.Stat(dataDir); err != nil {
		return nil, errs.Wrap(errs.NotFound, "data dir not found", err)
	}

	name := time.Now().UTC().Format(backupStamp)
	dest := filepath.Join(dataDir, backupsDir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil, errs.Newf(errs.Conflict, "backup %s already exists", name)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, "creating backup dir", err)
	}

	size, err := copyTree(dataDir, dest, map[string]bool{backupsDir: true, "queue": true})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "copying store", err)
	}

	return &BackupInfo{
		Name:      name,
		Path:      dest,
		Version:   ReadVersion(dataDir),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		SizeBytes: size,
	}, nil
}

// ListBackups returns the backups under dataDir, newest first. A
// missing backups directory is an empty list.
func ListBackups(dataDir string) ([]BackupInfo, error) {
	root := filepath.Join(dataDir, backupsDir)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "reading backups dir", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info := BackupInfo{
			Name:    entry.Name(),
			Path:    path,
			Version: ReadVersion(path),
		}
		if stamp, err := time.Parse(backupStamp, entry.Name()); err == nil {
			info.CreatedAt = stamp.UTC().Format(time.RFC3339)
		} else if fi, err := entry.Info(); err == nil {
			info.CreatedAt = fi.ModTime().UTC().Format(time.RFC3339)
		}
		if size, err := dirSize(path); err == nil {
			info.SizeBytes = size
		}
		backups = append(backups, info)
	}

	// The stamp format sorts lexicographically.
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name > backups[j].Name })
	return backups, nil
}

// Restore replaces the store contents under dataDir with a named
// backup. The backup's recorded schema version must not be newer than
// what this binary supports; an older one is fine, pending migrations
// re-run on the next start. Callers run this with the daemon stopped
// and reopen the store afterwards.
func Restore(dataDir, name string) error {
	src := filepath.Join(dataDir, backupsDir, name)
	if _, err := os.Stat(src); err != nil {
		return errs.Wrap(errs.NotFound, "backup not found", err)
	}

	if v := ReadVersion(src); v > SchemaVersion {
		return errs.Newf(errs.PreconditionFailed,
			"backup schema v%d is newer than supported v%d", v, SchemaVersion)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errs.Wrap(errs.Internal, "reading backup", err)
	}
	for _, entry := range entries {
		target := filepath.Join(dataDir, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			return errs.Wrap(errs.Internal, "clearing store path", err)
		}
		if _, err := copyTree(filepath.Join(src, entry.Name()), target, nil); err != nil {
			return errs.Wrap(errs.Internal, "restoring store path", err)
		}
	}
	return nil
}

// copyTree copies src (file or directory) to dst, skipping top-level
// entry names listed in skip. Returns bytes copied.
func copyTree(src, dst string, skip map[string]bool) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}

	var total int64
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if skip[firstSegment(rel)] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		n, err := copyFile(path, target, fi.Mode())
		total += n
		return err
	})
	return total, err
}

func firstSegment(rel string) string {
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			return rel[:i]
		}
	}
	return rel
}

func copyFile(src, dst string, mode fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
