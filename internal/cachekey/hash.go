package cachekey

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/openwrt-k/buildhelper/internal/utils"
)

const DefaultAlgorithm = "sha256"

var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha1":   sha1.New,
	"sha512": sha512.New,
	"md5":    md5.New,
}

// HashDirs streams the contents of every regular file below dirs into one
// digest and returns it as lowercase hex. Within a directory, files are
// hashed in name order before any subdirectory is entered; subdirectories
// are visited in name order as well. Directories listed later are hashed
// after earlier ones, so the argument order matters. A missing directory
// contributes nothing. No names or separators enter the digest.
func HashDirs(algorithm string, dirs ...string) (string, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	newHash, ok := algorithms[algorithm]
	if !ok {
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	h := newHash()
	buf := make([]byte, utils.DefaultBufferSize)
	for _, dir := range dirs {
		if !utils.DirExists(dir) {
			continue
		}
		if err := hashTree(h, dir, buf); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashTree(h hash.Hash, dir string, buf []byte) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("error reading directory %s: %w", dir, err)
	}
	var files, subdirs []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			subdirs = append(subdirs, path)
		case e.Type()&os.ModeSymlink != 0:
			// Links to directories are skipped; links to files are hashed
			// through to their target.
			if utils.DirExists(path) {
				continue
			}
			files = append(files, path)
		default:
			files = append(files, path)
		}
	}
	sort.Strings(files)
	sort.Strings(subdirs)
	for _, path := range files {
		if err := hashFile(h, path, buf); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := hashTree(h, sub, buf); err != nil {
			return err
		}
	}
	return nil
}

func hashFile(h hash.Hash, path string, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}
