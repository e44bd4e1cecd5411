package datadir

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

type stagedFile struct {
	tmp  string
	dest string
}

// stage writes data to a hidden temp file next to dest and syncs it.
func stage(dest string, data []byte) (stagedFile, error) {
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*.tmp")
	if err != nil {
		return stagedFile{}, eris.Wrapf(err, "datadir: create temp for %s", filepath.Base(dest))
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return stagedFile{}, eris.Wrapf(err, "datadir: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return stagedFile{}, eris.Wrapf(err, "datadir: sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return stagedFile{}, eris.Wrapf(err, "datadir: close %s", tmp)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return stagedFile{}, eris.Wrapf(err, "datadir: chmod %s", tmp)
	}
	return stagedFile{tmp: tmp, dest: dest}, nil
}

// commit stages every file first and only then renames them into place, so
// an encoding or disk-full failure leaves all previous artifacts untouched.
// Each rename is atomic on its own; a crash between renames is not masked.
func commit(files map[string][]byte, order []string) error {
	staged := make([]stagedFile, 0, len(order))
	cleanup := func() {
		for _, s := range staged {
			_ = os.Remove(s.tmp)
		}
	}

	for _, dest := range order {
		s, err := stage(dest, files[dest])
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, s)
	}

	for i, s := range staged {
		if err := os.Rename(s.tmp, s.dest); err != nil {
			for _, rest := range staged[i:] {
				_ = os.Remove(rest.tmp)
			}
			return eris.Wrapf(err, "datadir: rename %s", filepath.Base(s.dest))
		}
	}
	return nil
}
