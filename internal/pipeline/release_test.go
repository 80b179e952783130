package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/github"
)

type recordingMirror struct {
	tag   string
	files []string
}

func (m *recordingMirror) Mirror(_ context.Context, tag string, files []string) ([]string, error) {
	m.tag, m.files = tag, files
	return files, nil
}

func TestReleaseTag(t *testing.T) {
	cfg := testConfig()
	if got := TagSuffix(cfg); got != "v23.05.3-x86_64" {
		t.Errorf("TagSuffix = %q", got)
	}
	// 04:30 UTC is 12:30 in UTC+8.
	if got := ReleaseTag(cfg, testNow); got != "2024.05.01-1230-v23.05.3-x86_64" {
		t.Errorf("ReleaseTag = %q", got)
	}
}

func TestReleaseBody(t *testing.T) {
	manifest := ParseManifest("base-files - 2\nkernel - 5.15.150-1\n")
	profiles := &Profiles{VersionNumber: "23.05.3", VersionCode: "r23809-234f1a2efa", Target: "x86/64"}
	body := ReleaseBody(testConfig(), testNow, profiles, manifest, "No package changes")
	for _, want := range []string{
		"Build finished: 2024-05-01 12:30:00",
		"Config: x86_64",
		"OpenWrt version: 23.05.3 r23809-234f1a2efa",
		"Target: x86/64",
		"Kernel: 5.15.150-1",
		"No package changes",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body lacks %q:\n%s", want, body)
		}
	}
	if strings.Contains(ReleaseBody(testConfig(), testNow, nil, nil, ""), "Kernel:") {
		t.Error("kernel line without a manifest")
	}
}

func TestPreviousRelease(t *testing.T) {
	e := newTestEnv(t, "build-images")
	cfg := testConfig()
	e.gh.releases = []github.Release{
		{TagName: "2024.04.01-1000-v23.05.3-x86_64", CreatedAt: time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC)},
		{TagName: "2024.04.20-1000-v23.05.3-x86_64", CreatedAt: time.Date(2024, 4, 20, 2, 0, 0, 0, time.UTC)},
		{TagName: "2024.04.25-1000-v23.05.3-x86_64", Draft: true, CreatedAt: time.Date(2024, 4, 25, 2, 0, 0, 0, time.UTC)},
		{TagName: "2024.04.28-1000-v23.05.3-ramips", CreatedAt: time.Date(2024, 4, 28, 2, 0, 0, 0, time.UTC)},
	}
	rel, err := previousRelease(context.Background(), e.Env, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rel == nil || rel.TagName != "2024.04.20-1000-v23.05.3-x86_64" {
		t.Fatalf("got %+v", rel)
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/old.manifest" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("base-files - 1\nkernel - 5.15.149-1\nold-pkg - 1\n"))
	}))
	defer srv.Close()

	e := newTestEnv(t, "build-images (x86_64)")
	e.Downloader = downloader.New(srv.Client())
	e.Downloader.RetryDelay = 0
	mirror := &recordingMirror{}
	e.Mirror = mirror
	cfg := testConfig()
	e.gh.releases = []github.Release{{
		TagName: "2024.04.20-1000-v23.05.3-x86_64",
		Assets:  []github.Asset{{Name: "openwrt-x86-64.manifest", BrowserDownloadURL: srv.URL + "/old.manifest"}},
	}}

	src := t.TempDir()
	writeFile(t, filepath.Join(src, packagesArchive), "packages")
	writeFile(t, filepath.Join(src, kmodsArchive), "kmods")
	e.publish(t, artifact.PackagesName(cfg.Name), filepath.Join(src, packagesArchive))
	e.publish(t, artifact.KmodsName(cfg.Name), filepath.Join(src, kmodsArchive))

	ib, _ := e.Paths.ImageBuilder()
	writeFile(t, filepath.Join(ib, ".config"), testDotConfig)
	out := filepath.Join(ib, "bin", "targets", "x86", "64")
	writeFile(t, filepath.Join(out, "openwrt-x86-64.manifest"), "base-files - 2\nkernel - 5.15.150-1\n")
	writeFile(t, filepath.Join(out, "profiles.json"), `{"version_number":"23.05.3","version_code":"r23809","target":"x86/64"}`)
	writeFile(t, filepath.Join(out, "openwrt-x86-64-generic-ext4-combined.img.gz"), "img")

	if err := Release(ctx, e.Env, cfg); err != nil {
		t.Fatal(err)
	}

	if len(e.gh.created) != 1 {
		t.Fatalf("created %d releases", len(e.gh.created))
	}
	rel := e.gh.created[0]
	if rel.TagName != "2024.05.01-1230-v23.05.3-x86_64" {
		t.Errorf("tag = %q", rel.TagName)
	}
	for _, want := range []string{
		"Changelog:\n",
		"Updated: base-files 1 -> 2",
		"Updated: kernel 5.15.149-1 -> 5.15.150-1",
		"Removed: old-pkg 1",
		"OpenWrt version: 23.05.3 r23809",
	} {
		if !strings.Contains(rel.Body, want) {
			t.Errorf("body lacks %q:\n%s", want, rel.Body)
		}
	}

	for _, want := range []string{packagesArchive, kmodsArchive, "openwrt-x86-64.manifest", "profiles.json", "openwrt-x86-64-generic-ext4-combined.img.gz"} {
		if !slices.Contains(e.gh.uploaded, want) {
			t.Errorf("%s not uploaded, got %v", want, e.gh.uploaded)
		}
	}
	if mirror.tag != rel.TagName || len(mirror.files) != len(e.gh.uploaded) {
		t.Errorf("mirror got %s %v", mirror.tag, mirror.files)
	}
	if got := e.outputs(t)["release-url"]; !strings.HasSuffix(got, rel.TagName) {
		t.Errorf("release-url = %q", got)
	}
}

func TestReleaseDiscardsIncompleteRelease(t *testing.T) {
	e := newTestEnv(t, "build-images (x86_64)")
	e.gh.uploadErr = errors.New("upload interrupted")
	cfg := testConfig()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, packagesArchive), "packages")
	writeFile(t, filepath.Join(src, kmodsArchive), "kmods")
	e.publish(t, artifact.PackagesName(cfg.Name), filepath.Join(src, packagesArchive))
	e.publish(t, artifact.KmodsName(cfg.Name), filepath.Join(src, kmodsArchive))

	ib, _ := e.Paths.ImageBuilder()
	writeFile(t, filepath.Join(ib, ".config"), testDotConfig)
	writeFile(t, filepath.Join(ib, "bin", "targets", "x86", "64", "openwrt-x86-64-generic-squashfs-combined.img.gz"), "img")

	err := Release(context.Background(), e.Env, cfg)
	if !errors.Is(err, e.gh.uploadErr) {
		t.Fatalf("expected the upload error, got %v", err)
	}
	tag := e.gh.created[0].TagName
	want := []string{"release:7", "tag:" + tag}
	if !slices.Equal(e.gh.deleted, want) {
		t.Errorf("deleted %v, want %v", e.gh.deleted, want)
	}
	if _, err := os.Stat(e.output); !os.IsNotExist(err) {
		t.Error("step outputs written for a discarded release")
	}
}
