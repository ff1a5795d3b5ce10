package fs

import (
	"errors"
	"os"
)

// Real forwards every call to the os package.
type Real struct{}

// NewReal returns the os-backed [FS].
func NewReal() *Real {
	return &Real{}
}

func (*Real) Open(path string) (File, error) { return os.Open(path) }

func (*Real) Create(path string) (File, error) { return os.Create(path) }

func (*Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (*Real) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (*Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (*Real) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (*Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (*Real) Remove(path string) error { return os.Remove(path) }

func (*Real) RemoveAll(path string) error { return os.RemoveAll(path) }

func (*Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

var _ FS = (*Real)(nil)
