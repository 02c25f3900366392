package util

import (
	"fmt"
	"os"
	"path"

	"pi-timelapse/pkg/storage/consts"
)

// MkdirAll creates every dir with its parents. Existing dirs are fine.
func MkdirAll(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, consts.DefaultDirPerm); err != nil {
			return fmt.Errorf("mkdir %s err: %w", d, err)
		}
	}

	return nil
}

// WriteFile replaces p through a temporary file in the same directory, so a
// reader or a power cut never sees a half written file.
func WriteFile(p string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(path.Dir(p), "."+path.Base(p)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), p)
}
