package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// TarGz writes srcDir into dst with every entry placed under arcname.
// Symlinks are stored as links.
func TarGz(dst, srcDir, arcname string) error {
	return writeTarGz(dst, func(tw *tar.Writer) error {
		return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(filepath.Join(arcname, rel))
			return addEntry(tw, path, name)
		})
	})
}

// TarGzFiles stores each file under its base name, for flat package bundles.
func TarGzFiles(dst string, files []string) error {
	return writeTarGz(dst, func(tw *tar.Writer) error {
		for _, f := range files {
			if err := addEntry(tw, f, filepath.Base(f)); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTarGz(dst string, fill func(*tar.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	if err := fill(tw); err != nil {
		return fmt.Errorf("error writing archive %s: %w", dst, err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	log.Debug().Str("op", "archive/create").Msgf("wrote %s", dst)
	return nil
}

func addEntry(tw *tar.Writer, path, name string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
