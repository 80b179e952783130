package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocloud.dev/blob/memblob"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(memblob.OpenBucket(nil))
	defer s.Close()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin", "a.ipk"), "a")
	writeFile(t, filepath.Join(src, "bin", "sub", "b.ipk"), "b")
	writeFile(t, filepath.Join(src, "bin", ".hidden"), "h")
	writeFile(t, filepath.Join(src, "single.tar.gz"), "tar")

	if err := s.Register(ctx, "packages-x", []string{filepath.Join(src, "bin")}, UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(ctx, "base-builds-x", []string{filepath.Join(src, "single.tar.gz")}, UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fetch(ctx, "packages-x", t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("artifact visible before Flush: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dst := t.TempDir()
	dir, err := s.Fetch(ctx, "packages-x", dst)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if dir != filepath.Join(dst, "packages-x") {
		t.Errorf("unexpected dir %s", dir)
	}
	for name, want := range map[string]string{"a.ipk": "a", "sub/b.ipk": "b"} {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v", name, got, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".hidden")); !os.IsNotExist(err) {
		t.Error("hidden file uploaded without include-hidden-files")
	}

	dir, err = s.Fetch(ctx, "base-builds-x", dst)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "single.tar.gz")); string(got) != "tar" {
		t.Errorf("single file content %q", got)
	}
}

func TestBlobStoreNoFiles(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(memblob.OpenBucket(nil))
	missing := filepath.Join(t.TempDir(), "*.ipk")

	s.Register(ctx, "warn", []string{missing}, UploadOptions{IfNoFilesFound: "warn"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("warn mode should not fail: %v", err)
	}
	s.Register(ctx, "strict", []string{missing}, UploadOptions{IfNoFilesFound: "error"})
	if err := s.Flush(ctx); err == nil {
		t.Fatal("expected error for empty artifact")
	}
}

func TestBlobStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(memblob.OpenBucket(nil))
	file := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, file, "one")

	s.Register(ctx, "a", []string{file}, UploadOptions{})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	s.Register(ctx, "a", []string{file}, UploadOptions{})
	if err := s.Flush(ctx); err == nil {
		t.Fatal("expected conflict without overwrite")
	}
	writeFile(t, file, "two")
	yes := true
	s.Register(ctx, "a", []string{file}, UploadOptions{Overwrite: &yes})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	dir, err := s.Fetch(ctx, "a", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(filepath.Join(dir, "f.txt")); string(got) != "two" {
		t.Errorf("got %q after overwrite", got)
	}
}

func TestBlobStoreGlob(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(memblob.OpenBucket(nil))
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "targets", "x86", "64", "fw.img.gz"), "fw")
	writeFile(t, filepath.Join(src, "targets", "x86", "64", "sha256sums"), "sum")

	s.Register(ctx, "firmware-x", []string{filepath.Join(src, "targets", "x86", "64", "*")}, UploadOptions{})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	dir, err := s.Fetch(ctx, "firmware-x", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"fw.img.gz", "sha256sums"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}
