package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("blob not found")

// Store keeps objects on disk under objects/<hex-hash>. Writes land in a
// temp file and are renamed into place, so a path either holds a complete
// verified object or nothing.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", h.String())
}

func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

func (s *Store) Size(h Hash) (int64, error) {
	fi, err := os.Stat(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return fi.Size(), nil
}

// Open returns a reader over the stored object. The caller closes it.
func (s *Store) Open(h Hash) (*os.File, error) {
	f, err := os.Open(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Put stores the full contents of r and returns its hash. Content already
// present converges on the existing object file.
func (s *Store) Put(r io.Reader) (Hash, int64, error) {
	h, n, err := s.write(r, nil)
	if err != nil {
		return Hash{}, 0, err
	}
	return h, n, nil
}

// PutExpected stores the contents of r only if they hash to want; a
// mismatch discards the data and fails.
func (s *Store) PutExpected(r io.Reader, want Hash) error {
	_, _, err := s.write(r, &want)
	return err
}

func (s *Store) write(r io.Reader, want *Hash) (Hash, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return Hash{}, 0, err
	}
	tmpPath := tmp.Name()
	discard := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hasher := NewHasher()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		discard()
		return Hash{}, 0, err
	}
	if err := tmp.Sync(); err != nil {
		discard()
		return Hash{}, 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Hash{}, 0, err
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))
	if want != nil && h != *want {
		_ = os.Remove(tmpPath)
		return Hash{}, 0, fmt.Errorf("content hash mismatch: want %s, got %s", *want, h)
	}

	dst := s.objectPath(h)
	if _, err := os.Stat(dst); err == nil {
		// Already stored; the new copy is redundant.
		_ = os.Remove(tmpPath)
		return h, n, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return Hash{}, 0, err
	}
	return h, n, nil
}
