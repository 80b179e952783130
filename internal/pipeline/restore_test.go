package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/utils"
)

// publishSource packs a minimal OpenWrt tree as the prepare job does.
func publishSource(t *testing.T, e *testEnv, name string) {
	t.Helper()
	src := t.TempDir()
	tree := filepath.Join(src, "openwrt")
	writeFile(t, filepath.Join(tree, ".config"), testDotConfig)
	writeFile(t, filepath.Join(tree, "tools", "Makefile"), "tools")
	writeFile(t, filepath.Join(tree, "toolchain", "Makefile"), "toolchain")
	writeFile(t, filepath.Join(tree, "files", "etc", "banner"), "hello")
	out := filepath.Join(t.TempDir(), sourceArchive)
	if err := archive.TarGz(out, tree, "openwrt"); err != nil {
		t.Fatal(err)
	}
	e.publish(t, artifact.SourceName(name), out)
}

func TestRestoreBaseBuilds(t *testing.T) {
	e := newTestEnv(t, "base-builds (x86_64)")
	cfg := testConfig()
	publishSource(t, e, cfg.Name)

	if err := Restore(context.Background(), e.Env, cfg); err != nil {
		t.Fatal(err)
	}
	treePath, _ := e.Paths.OpenWrt()
	if !utils.FileExists(filepath.Join(treePath, "tools", "Makefile")) {
		t.Fatal("source tree not extracted")
	}
	key := e.outputs(t)["toolchain-key"]
	if !strings.HasPrefix(key, "toolchain-") || !strings.HasSuffix(key, "-x86-64") {
		t.Errorf("toolchain-key = %q", key)
	}
	if _, ok := e.outputs(t)["cache-key"]; ok {
		t.Error("base-builds should not get a stage cache key")
	}
}

func TestRestorePackages(t *testing.T) {
	e := newTestEnv(t, "build-packages (x86_64)")
	cfg := testConfig()
	publishSource(t, e, cfg.Name)

	staging := filepath.Join(t.TempDir(), "staging_dir")
	writeFile(t, filepath.Join(staging, "host", "stamp"), "built")
	builds := filepath.Join(t.TempDir(), baseBuildsArchive)
	if err := archive.TarGz(builds, staging, "staging_dir"); err != nil {
		t.Fatal(err)
	}
	e.publish(t, artifact.BaseBuildsName(cfg.Name), builds)

	if err := Restore(context.Background(), e.Env, cfg); err != nil {
		t.Fatal(err)
	}
	treePath, _ := e.Paths.OpenWrt()
	if !utils.FileExists(filepath.Join(treePath, "staging_dir", "host", "stamp")) {
		t.Error("base builds not extracted into the tree")
	}
	want := map[string]string{
		"cache-key":         "build-packages-v23.05.3-x86-64-42",
		"cache-restore-key": "build-packages-v23.05.3-x86-64",
		"use-cache":         "true",
		"openwrt-path":      treePath,
	}
	got := e.outputs(t)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRestoreMissingArtifact(t *testing.T) {
	e := newTestEnv(t, "build-packages (x86_64)")
	err := Restore(context.Background(), e.Env, testConfig())
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreUnknownJob(t *testing.T) {
	e := newTestEnv(t, "lint")
	cfg := testConfig()
	publishSource(t, e, cfg.Name)
	if err := Restore(context.Background(), e.Env, cfg); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}
