// Package atomicfs provides the three primitives every user-visible
// mutation in the Store funnels through: an atomic file
// write, a stage-then-commit directory write, and an atomic directory
// delete. Directory rename is the only operation that is atomic across
// the filesystems the Store targets, so every higher layer — the lock
// manager, the collection engine — is built on top of these three
// functions rather than reaching for os.* directly.
package atomicfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"clinistore/internal/errs"
)

// WriteBufferToFile writes data to a temp file inside tmpRoot, then
// fsyncs and renames it into finalPath. The rename is the
// linearization point: finalPath either doesn't exist or holds the
// complete contents of data, never a partial write.
func WriteBufferToFile(finalPath, tmpRoot string, data []byte) error {
	if err := os.MkdirAll(tmpRoot, 0o700); err != nil {
		return errs.IO("creating tmp root", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return errs.IO("creating parent directory", err)
	}

	tmpPath := filepath.Join(tmpRoot, tempName())
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errs.IO("creating temp file", err)
	}

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.IO("writing temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.IO("syncing temp file", err)
	}
	if err := f.Close(); err != nil {
		return errs.IO("closing temp file", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.IO("renaming into place", err)
	}
	success = true
	return nil
}

// DirCommit renames a staged temp directory into its final location.
// Fails with an IOError wrapping the OS's EEXIST/ENOTEMPTY/EPERM if
// finalPath already exists — that collision is how the lock manager
// detects "someone already holds this lock".
type DirCommit struct {
	tmpPath   string
	finalPath string
	done      bool
}

// TmpPath returns the staged directory the caller should populate
// before calling Commit.
func (c *DirCommit) TmpPath() string { return c.tmpPath }

// Commit renames the staged directory into place. Not safe to call
// twice; not safe to call after Abort.
func (c *DirCommit) Commit() error {
	if c.done {
		return errs.IO("committing staged directory", fmt.Errorf("already finalized"))
	}
	c.done = true
	if err := os.Rename(c.tmpPath, c.finalPath); err != nil {
		os.RemoveAll(c.tmpPath)
		return errs.IO("committing staged directory", err)
	}
	return nil
}

// Abort discards the staged directory without committing it.
func (c *DirCommit) Abort() {
	if c.done {
		return
	}
	c.done = true
	os.RemoveAll(c.tmpPath)
}

// WriteDirectory creates a fresh temp directory under tmpRoot for the
// caller to populate, and returns a DirCommit that atomically renames
// it into finalPath on Commit.
func WriteDirectory(finalPath, tmpRoot string) (*DirCommit, error) {
	if err := os.MkdirAll(tmpRoot, 0o700); err != nil {
		return nil, errs.IO("creating tmp root", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return nil, errs.IO("creating parent directory", err)
	}

	tmpPath := filepath.Join(tmpRoot, tempName())
	if err := os.Mkdir(tmpPath, 0o700); err != nil {
		return nil, errs.IO("creating staged directory", err)
	}

	return &DirCommit{tmpPath: tmpPath, finalPath: finalPath}, nil
}

// DeleteDirectory makes path disappear atomically, even if it is
// populous: rename it out of the way into tmpRoot first, then unlink
// the (now unreferenced) tree. Any observer either still sees the
// original path or sees nothing; it never sees a half-deleted
// directory.
func DeleteDirectory(path, tmpRoot string) error {
	if err := os.MkdirAll(tmpRoot, 0o700); err != nil {
		return errs.IO("creating tmp root", err)
	}

	graveyard := filepath.Join(tmpRoot, tempName())
	if err := os.Rename(path, graveyard); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.IO("moving directory to graveyard", err)
	}

	if err := os.RemoveAll(graveyard); err != nil {
		return errs.IO("removing graveyard directory", err)
	}
	return nil
}

func tempName() string {
	return ".tmp-" + uuid.NewString()
}
