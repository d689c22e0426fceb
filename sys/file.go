package sys

import (
	"io"
	"os"
	"path/filepath"
)

// FileHandle is the subset of *os.File used by the WAL and segment code.
// Wrapping it lets tests substitute handles that fail on demand.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type RemoveHandler func(name string) error
type RenameHandler func(oldpath, newpath string) error

// Create opens name for writing, truncating any previous content.
var Create CreateHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Open opens name read-only.
var Open OpenHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &RealFile{f: f}, nil
}

var Remove RemoveHandler = os.Remove

var Rename RenameHandler = os.Rename

// SyncDir fsyncs a directory so renames and unlinks inside it are durable.
// Platforms that cannot open a directory for sync are treated as success.
func SyncDir(dir string) error {
	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isSyncDirUnsupported(err) {
		return err
	}
	return nil
}

// RemoveIfExists removes name and ignores a missing file.
func RemoveIfExists(name string) error {
	if err := Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
