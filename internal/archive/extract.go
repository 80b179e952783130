package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

type extractOptions struct {
	skipExisting bool
}

type ExtractOption func(*extractOptions)

// SkipExisting leaves files that already exist in the destination untouched.
func SkipExisting() ExtractOption {
	return func(o *extractOptions) { o.skipExisting = true }
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// ExtractTar unpacks a plain, gzip or xz compressed tarball into dst and
// returns the top-level entry names in archive order.
func ExtractTar(src, dst string, opts ...ExtractOption) ([]string, error) {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := decompress(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, err
	}

	var top []string
	var dirs []*tar.Header
	seen := map[string]bool{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", src, err)
		}
		clean := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if clean == "." {
			continue
		}
		if first := strings.SplitN(clean, "/", 2)[0]; !seen[first] {
			seen[first] = true
			top = append(top, first)
		}
		target, err := safeJoin(dst, clean)
		if err != nil {
			return nil, err
		}
		if o.skipExisting && hdr.Typeflag != tar.TypeDir {
			if _, err := os.Lstat(target); err == nil {
				continue
			}
		}
		if err := writeTarEntry(tr, hdr, dst, target); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeDir {
			d := *hdr
			d.Name = target
			dirs = append(dirs, &d)
		}
	}
	// children bump their parent's mtime, so directories go last, deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := restoreTimes(dirs[i].Name, dirs[i]); err != nil {
			return nil, err
		}
	}
	return top, nil
}

// ExtractTarMember copies a single regular file out of a tarball to dst.
// Leading "./" is ignored when matching member.
func ExtractTarMember(src, member, dst string, perm os.FileMode) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := decompress(f)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	want := path.Clean(strings.TrimPrefix(member, "./"))
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s in %s", ErrMemberNotFound, member, src)
		}
		if err != nil {
			return err
		}
		if path.Clean(strings.TrimPrefix(hdr.Name, "./")) != want || hdr.Typeflag != tar.TypeReg {
			continue
		}
		return writeFile(dst, tr, perm)
	}
}

// ExtractZip unpacks every entry of a zip archive into dst.
func ExtractZip(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, zf := range zr.File {
		target, err := safeJoin(dst, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractZipFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

// ExtractZipMember copies one entry of a zip archive to dst.
func ExtractZipMember(src, member, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if zf.Name == member {
			return extractZipFile(zf, dst)
		}
	}
	return fmt.Errorf("%w: %s in %s", ErrMemberNotFound, member, src)
}

func extractZipFile(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	perm := zf.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	return writeFile(target, rc, perm)
}

func decompress(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	head, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return gzip.NewReader(br)
	case bytes.HasPrefix(head, xzMagic):
		return xz.NewReader(br)
	}
	return br, nil
}

func writeTarEntry(tr *tar.Reader, hdr *tar.Header, root, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0700)
	case tar.TypeReg:
		if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return err
		}
		return restoreTimes(target, hdr)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		source, err := safeJoin(root, path.Clean(strings.TrimPrefix(hdr.Linkname, "./")))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Link(source, target)
	}
	// devices and fifos have no place in a build tree
	return nil
}

// restoreTimes applies the archived times so make sees the original stamps.
// Symlinks keep the extraction time.
func restoreTimes(target string, hdr *tar.Header) error {
	// headers written without a stamp read back as the epoch
	if hdr.ModTime.IsZero() || hdr.ModTime.Unix() <= 0 {
		return nil
	}
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = hdr.ModTime
	}
	return os.Chtimes(target, atime, hdr.ModTime)
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(target, perm)
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}
