package sys

import (
	"os"
)

var _ FileHandle = (*RealFile)(nil)

// RealFile adapts *os.File to FileHandle.
type RealFile struct {
	f *os.File
}

func (rf *RealFile) Write(p []byte) (int, error) { return rf.f.Write(p) }
func (rf *RealFile) Read(p []byte) (int, error) { return rf.f.Read(p) }
func (rf *RealFile) ReadAt(p []byte, off int64) (int, error) { return rf.f.ReadAt(p, off) }
func (rf *RealFile) Seek(offset int64, whence int) (int64, error) { return rf.f.Seek(offset, whence) }
func (rf *RealFile) Stat() (os.FileInfo, error) { return rf.f.Stat() }
func (rf *RealFile) Sync() error { return rf.f.Sync() }
func (rf *RealFile) Truncate(size int64) error { return rf.f.Truncate(size) }
func (rf *RealFile) Name() string { return rf.f.Name() }
func (rf *RealFile) Close() error { return rf.f.Close() }

// Fd exposes the descriptor for platform specific calls such as locking.
func (rf *RealFile) Fd() uintptr { return rf.f.Fd() }
