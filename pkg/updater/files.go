package updater

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultStagingPrefix = "_"
	DefaultBackupPrefix  = ".bak_"
)

// FileSet is the ordered list of release files, as slash separated paths
// relative to both the repository base and the install root. Files are
// installed in this order.
type FileSet []string

// Validate rejects paths that would escape the install root or cannot be
// staged next to their live file.
func (fs FileSet) Validate(stagingPrefix, backupPrefix string) error {
	if len(fs) == 0 {
		return errors.New("file set is empty")
	}
	seen := map[string]struct{}{}
	for _, p := range fs {
		segments, err := splitPath(p)
		if err != nil {
			return err
		}
		base := segments[len(segments)-1]
		if strings.HasPrefix(base, stagingPrefix) || strings.HasPrefix(base, backupPrefix) {
			return errors.Errorf("%q collides with the staging or backup prefix", p)
		}
		if base == VersionFile && len(segments) == 1 {
			return errors.Errorf("%q is reserved for the version record", p)
		}
		clean := strings.Join(segments, "/")
		if _, dup := seen[clean]; dup {
			return errors.Errorf("%q is listed twice", p)
		}
		seen[clean] = struct{}{}
	}
	return nil
}

// splitPath breaks a release path into its segments: zero or more
// directories followed by the file name.
func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, errors.New("empty file path")
	}
	if strings.HasPrefix(p, "/") {
		return nil, errors.Errorf("%q must be relative", p)
	}
	var segments []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, errors.Errorf("%q must not leave the install root", p)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, errors.Errorf("%q names no file", p)
	}
	return segments, nil
}

// plan holds the on-disk names involved in installing one release file.
type plan struct {
	path   string // release path, as fetched
	dir    string
	live   string
	staged string
	backup string
}

func (m *Manager) planFor(p string) (plan, error) {
	segments, err := splitPath(p)
	if err != nil {
		return plan{}, err
	}
	dir := filepath.Join(append([]string{m.cfg.Root}, segments[:len(segments)-1]...)...)
	base := segments[len(segments)-1]
	return plan{
		path:   path.Join(segments...),
		dir:    dir,
		live:   filepath.Join(dir, base),
		staged: filepath.Join(dir, m.cfg.StagingPrefix+base),
		backup: filepath.Join(dir, m.cfg.BackupPrefix+base),
	}, nil
}

// ensureDirs walks the plan's directory from the install root down, creating
// each missing level. It works the same for any depth.
func (m *Manager) ensureDirs(p plan) error {
	rel, err := filepath.Rel(m.cfg.Root, p.dir)
	if err != nil {
		return err
	}
	cur := m.cfg.Root
	if rel == "." {
		return nil
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, seg)
		stat, err := os.Stat(cur)
		switch {
		case err == nil && stat.IsDir():
			continue
		case err == nil:
			return errors.Errorf("%s exists and is not a directory", cur)
		case !os.IsNotExist(err):
			return errors.Wrapf(err, "unable to inspect %s", cur)
		}
		m.log.WithField("dir", cur).Debug("creating directory")
		if err := os.Mkdir(cur, 0755); err != nil {
			return errors.Wrapf(err, "unable to create %s", cur)
		}
	}
	return nil
}

// preserve keeps the current live file reachable under its backup name
// without ever unlinking the live name. A hard link is preferred; where
// links are unsupported the content is copied.
func preserve(live, backup string) error {
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to clear stale backup %s", backup)
	}
	if err := os.Link(live, backup); err == nil {
		return nil
	}
	return copyFile(live, backup)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	stat, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, stat.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrapf(err, "unable to copy %s", src)
	}
	return out.Close()
}

func exists(p string) (bool, error) {
	_, err := os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	}
	return false, err
}
