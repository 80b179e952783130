package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ulikunitz/xz"
)

type entry struct {
	name, body string
	mode       int64
}

func writeTar(t *testing.T, dst string, compress string, entries []entry) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0644
		}
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte(e.body))
	}
	tw.Close()

	var out bytes.Buffer
	switch compress {
	case "gz":
		gw := gzip.NewWriter(&out)
		gw.Write(buf.Bytes())
		gw.Close()
	case "xz":
		xw, err := xz.NewWriter(&out)
		if err != nil {
			t.Fatal(err)
		}
		xw.Write(buf.Bytes())
		xw.Close()
	default:
		out = buf
	}
	if err := os.WriteFile(dst, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTarGzRoundTrip(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "staging_dir", "host", "bin"), 0755)
	os.WriteFile(filepath.Join(src, "staging_dir", "host", "bin", "tool"), []byte("#!/bin/sh\n"), 0755)
	os.WriteFile(filepath.Join(src, "staging_dir", "stamp"), []byte("ok"), 0644)
	if err := os.Symlink("host/bin/tool", filepath.Join(src, "staging_dir", "tool-link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "builds.tar.gz")
	if err := TarGz(archivePath, filepath.Join(src, "staging_dir"), "staging_dir"); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	top, err := ExtractTar(archivePath, dst)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(top, []string{"staging_dir"}) {
		t.Errorf("top-level entries = %q", top)
	}
	info, err := os.Stat(filepath.Join(dst, "staging_dir", "host", "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Error("executable bit lost")
	}
	link, err := os.Readlink(filepath.Join(dst, "staging_dir", "tool-link"))
	if err != nil || link != "host/bin/tool" {
		t.Errorf("symlink = %q, %v", link, err)
	}
}

func TestExtractTarRestoresModTimes(t *testing.T) {
	stamp := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	dirTime := time.Date(2002, 2, 2, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	tw.WriteHeader(&tar.Header{Name: "stamp/", Mode: 0755, Typeflag: tar.TypeDir, ModTime: dirTime})
	tw.WriteHeader(&tar.Header{Name: "stamp/.tools_compile", Mode: 0644, Typeflag: tar.TypeReg, ModTime: stamp})
	tw.Close()
	gw.Close()
	dir := t.TempDir()
	src := filepath.Join(dir, "base-builds.tar.gz")
	if err := os.WriteFile(src, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	if _, err := ExtractTar(src, out); err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]time.Time{
		filepath.Join(out, "stamp", ".tools_compile"): stamp,
		filepath.Join(out, "stamp"):                   dirTime,
	} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(want) {
			t.Errorf("%s: mtime %v, want %v", path, info.ModTime(), want)
		}
	}
}

func TestTarGzKeepsModTimes(t *testing.T) {
	src := t.TempDir()
	file := filepath.Join(src, "tree", "include", "toplevel.mk")
	os.MkdirAll(filepath.Dir(file), 0755)
	os.WriteFile(file, []byte("include"), 0644)
	old := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(file, old, old); err != nil {
		t.Fatal(err)
	}
	archivePath := filepath.Join(t.TempDir(), "openwrt-source.tar.gz")
	if err := TarGz(archivePath, filepath.Join(src, "tree"), "openwrt"); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	if _, err := ExtractTar(archivePath, dst); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dst, "openwrt", "include", "toplevel.mk"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("mtime %v, want %v", info.ModTime(), old)
	}
}

func TestTarGzFilesIsFlat(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "x86", "packages", "base", "a.ipk")
	b := filepath.Join(dir, "targets", "kmod-b.ipk")
	for _, p := range []string{a, b} {
		os.MkdirAll(filepath.Dir(p), 0755)
		os.WriteFile(p, []byte(filepath.Base(p)), 0644)
	}
	out := filepath.Join(dir, "packages.tar.gz")
	if err := TarGzFiles(out, []string{a, b}); err != nil {
		t.Fatal(err)
	}
	top, err := ExtractTar(out, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(top, []string{"a.ipk", "kmod-b.ipk"}) {
		t.Errorf("entries = %q", top)
	}
}

func TestExtractTarXZ(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "openwrt-imagebuilder.tar.xz")
	writeTar(t, src, "xz", []entry{
		{name: "openwrt-imagebuilder-x86-64.Linux-x86_64/Makefile", body: "all:"},
		{name: "openwrt-imagebuilder-x86-64.Linux-x86_64/.config", body: "CONFIG_TARGET_x86=y"},
	})
	top, err := ExtractTar(src, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0] != "openwrt-imagebuilder-x86-64.Linux-x86_64" {
		t.Fatalf("top = %q", top)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "out", top[0], "Makefile"))
	if string(data) != "all:" {
		t.Errorf("Makefile = %q", data)
	}
}

func TestExtractTarRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../evil", "/abs/evil", "a/../../evil"} {
		src := filepath.Join(dir, "bad.tar")
		writeTar(t, src, "", []entry{{name: name, body: "x"}})
		if _, err := ExtractTar(src, filepath.Join(dir, "out")); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("%s: expected ErrUnsafePath, got %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "evil")); err == nil {
		t.Fatal("file written outside destination")
	}
}

func TestExtractTarSkipExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "packages.tar.gz")
	writeTar(t, src, "gz", []entry{{name: "a.ipk", body: "new"}, {name: "b.ipk", body: "new"}})
	out := filepath.Join(dir, "packages")
	os.MkdirAll(out, 0755)
	os.WriteFile(filepath.Join(out, "a.ipk"), []byte("old"), 0644)

	if _, err := ExtractTar(src, out, SkipExisting()); err != nil {
		t.Fatal(err)
	}
	a, _ := os.ReadFile(filepath.Join(out, "a.ipk"))
	b, _ := os.ReadFile(filepath.Join(out, "b.ipk"))
	if string(a) != "old" || string(b) != "new" {
		t.Errorf("a=%q b=%q", a, b)
	}
}

func TestExtractTarMember(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "AdGuardHome.tar.gz")
	writeTar(t, src, "gz", []entry{
		{name: "./AdGuardHome/README.md", body: "readme"},
		{name: "./AdGuardHome/AdGuardHome", body: "ELF", mode: 0755},
	})
	dst := filepath.Join(dir, "bin", "AdGuardHome")
	if err := ExtractTarMember(src, "./AdGuardHome/AdGuardHome", dst, 0755); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dst)
	if err != nil || info.Mode().Perm() != 0755 {
		t.Fatalf("member not extracted with 0755: %v %v", info, err)
	}
	if err := ExtractTarMember(src, "clash", dst, 0755); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "artifact.zip")
	f, _ := os.Create(src)
	zw := zip.NewWriter(f)
	w, _ := zw.Create("openwrt-source.tar.gz")
	w.Write([]byte("tarball"))
	w, _ = zw.Create("nested/info.txt")
	w.Write([]byte("info"))
	zw.Close()
	f.Close()

	out := filepath.Join(dir, "out")
	if err := ExtractZip(src, out); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(out, "nested", "info.txt"))
	if string(data) != "info" {
		t.Errorf("nested file = %q", data)
	}
	member := filepath.Join(dir, "member.tar.gz")
	if err := ExtractZipMember(src, "openwrt-source.tar.gz", member); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(member)
	if string(data) != "tarball" {
		t.Errorf("member = %q", data)
	}
	if err := ExtractZipMember(src, "missing", member); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}
