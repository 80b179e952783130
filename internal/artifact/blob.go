package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobStore keeps artifacts in a gocloud bucket under "<name>/". It stands in
// for the Actions artifact service on local runs and in tests.
type BlobStore struct {
	bucket  *blob.Bucket
	mu      sync.Mutex
	pending []pendingUpload
}

type pendingUpload struct {
	name  string
	paths []string
	opts  UploadOptions
}

// OpenBlobStore opens a bucket URL such as file:///tmp/artifacts, mem:// or
// s3://bucket.
func OpenBlobStore(ctx context.Context, bucketURL string) (*BlobStore, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("error opening bucket %s: %w", bucketURL, err)
	}
	return &BlobStore{bucket: b}, nil
}

func NewBlobStore(b *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: b}
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) Fetch(ctx context.Context, name, dir string) (string, error) {
	prefix := name + "/"
	out := filepath.Join(dir, name)
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	found := 0
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error listing %s: %w", prefix, err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		target := filepath.Join(out, filepath.FromSlash(path.Clean(rel)))
		if !strings.HasPrefix(target, out+string(filepath.Separator)) {
			return "", fmt.Errorf("object %s escapes %s", obj.Key, out)
		}
		if err := s.download(ctx, obj.Key, target); err != nil {
			return "", err
		}
		found++
	}
	if found == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	log.Info().Str("op", "artifact/blob").Msgf("fetched %d files of %s", found, name)
	return out, nil
}

func (s *BlobStore) download(ctx context.Context, key, target string) error {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", key, err)
	}
	defer r.Close()
	if err := utils.EnsureDir(filepath.Dir(target)); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("error reading %s: %w", key, err)
	}
	return f.Close()
}

func (s *BlobStore) Register(_ context.Context, name string, paths []string, opts UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingUpload{name: name, paths: paths, opts: opts})
	return nil
}

// Flush uploads every registered artifact. Files are keyed relative to the
// directory or glob root they were matched from, as upload-artifact does.
func (s *BlobStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range pending {
		files, err := expand(p.paths, p.opts.IncludeHiddenFiles != nil && *p.opts.IncludeHiddenFiles)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			if p.opts.IfNoFilesFound == "error" {
				return fmt.Errorf("no files found for artifact %s", p.name)
			}
			log.Warn().Str("op", "artifact/blob").Msgf("no files found for artifact %s", p.name)
			continue
		}
		if p.opts.Overwrite == nil || !*p.opts.Overwrite {
			exists, err := s.bucket.Exists(ctx, p.name+"/"+files[0].key)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("artifact %s already exists", p.name)
			}
		}
		for _, f := range files {
			if err := s.upload(ctx, p.name+"/"+f.key, f.path); err != nil {
				return err
			}
		}
		log.Info().Str("op", "artifact/blob").Msgf("uploaded %d files as %s", len(files), p.name)
	}
	return nil
}

func (s *BlobStore) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("error uploading %s: %w", key, err)
	}
	return w.Close()
}

type uploadFile struct {
	key  string
	path string
}

// expand resolves files, directories and glob patterns. A file is keyed by
// its base name; files found below a directory or glob match keep their path
// relative to that root.
func expand(patterns []string, hidden bool) ([]uploadFile, error) {
	var files []uploadFile
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		root := filepath.Dir(pattern)
		if len(matches) == 1 && matches[0] == pattern {
			root = pattern
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				base := filepath.Dir(m)
				if root != pattern {
					base = root
				}
				rel, _ := filepath.Rel(base, m)
				files = append(files, uploadFile{key: filepath.ToSlash(rel), path: m})
				continue
			}
			err = filepath.WalkDir(m, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !hidden && p != m && strings.HasPrefix(d.Name(), ".") {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if !d.Type().IsRegular() {
					return nil
				}
				rel, _ := filepath.Rel(root, p)
				files = append(files, uploadFile{key: filepath.ToSlash(rel), path: p})
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}
