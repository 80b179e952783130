package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/utils"
)

func TestStages(t *testing.T) {
	got := Stages()
	if len(got) != len(stageRegistry) {
		t.Fatalf("got %d stages, want %d", len(got), len(stageRegistry))
	}
	if !slices.IsSorted(got) {
		t.Errorf("stages not sorted: %v", got)
	}
	for _, name := range []string{StageRestore, StageBaseBuilds, StageBuildPackages, StageBuildImageBuilder, StageBuildImages, StageRelease} {
		if !slices.Contains(got, name) {
			t.Errorf("missing stage %s", name)
		}
	}
}

func TestRunUnknownStage(t *testing.T) {
	e := newTestEnv(t, "build-packages")
	if err := Run(context.Background(), e.Env, "deploy", testConfig()); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestStageConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Target, cfg.Subtarget = "ramips", "mt7621"
	sc := NewStageConfig(StageBuildPackages, cfg)
	if sc.Ref != "v23.05.3" || !sc.UseCache || sc.Target != "ramips" {
		t.Fatalf("unexpected %+v", sc)
	}
	moved := sc.WithTarget("x86", "64")
	if moved.Target != "x86" || moved.Subtarget != "64" || sc.Target != "ramips" {
		t.Errorf("WithTarget changed the receiver or missed: %+v %+v", sc, moved)
	}
}

func TestRunBuildPackages(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, "build-packages (x86_64)")
	cfg := testConfig()
	treePath, _ := e.Paths.OpenWrt()
	writeFile(t, filepath.Join(treePath, ".config"), testDotConfig)
	writeFile(t, filepath.Join(treePath, "bin", "packages", "x86_64", "base", "base-files_1_x86_64.ipk"), "ipk")
	writeFile(t, filepath.Join(treePath, "bin", "targets", "x86", "64", "packages", "kmod-tun_5.15_x86_64.ipk"), "kmod")
	writeFile(t, filepath.Join(treePath, "bin", "targets", "x86", "64", "sha256sums"), "sums")

	if err := Run(ctx, e.Env, StageBuildPackages, cfg); err != nil {
		t.Fatal(err)
	}

	cmds := e.runner.commands()
	for _, want := range []string{"make download -j16", "make package/compile", "make package/install"} {
		if !slices.ContainsFunc(cmds, func(c string) bool { return strings.HasPrefix(c, want) }) {
			t.Errorf("missing %q in %v", want, cmds)
		}
	}
	if !slices.Equal(e.gh.cachePrefixes, []string{"build-packages-v23.05.3-x86-64"}) {
		t.Errorf("deleted caches %v", e.gh.cachePrefixes)
	}

	dir, err := e.Store.Fetch(ctx, artifact.PackagesName(cfg.Name), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	top, err := archive.ExtractTar(filepath.Join(dir, packagesArchive), out)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(top)
	if !slices.Equal(top, []string{"base-files_1_x86_64.ipk", "kmod-tun_5.15_x86_64.ipk"}) {
		t.Errorf("packed %v", top)
	}
}

func TestRunBuildImages(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, "build-images (x86_64)")
	cfg := testConfig()
	ib, _ := e.Paths.ImageBuilder()
	writeFile(t, filepath.Join(ib, ".config"), testDotConfig)
	writeFile(t, filepath.Join(ib, "bin", "targets", "x86", "64", "openwrt-x86-64-generic-squashfs-combined.img.gz"), "img")

	if err := Run(ctx, e.Env, StageBuildImages, cfg); err != nil {
		t.Fatal(err)
	}
	cmds := e.runner.commands()
	if len(cmds) != 3 || cmds[0] != "make info" || !strings.HasPrefix(cmds[2], "make image PACKAGES=") {
		t.Errorf("unexpected commands %v", cmds)
	}
	if !strings.Contains(cmds[2], "base-files") || !strings.Contains(cmds[2], "FILES="+filepath.Join(ib, "files")) {
		t.Errorf("image command %q", cmds[2])
	}

	dir, err := e.Store.Fetch(ctx, artifact.FirmwareName(cfg.Name), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !utils.FileExists(filepath.Join(dir, "openwrt-x86-64-generic-squashfs-combined.img.gz")) {
		t.Error("firmware not published")
	}
}

func TestRunSavesErrorInfo(t *testing.T) {
	e := newTestEnv(t, "build-packages (x86_64)")
	cfg := testConfig()
	treePath, _ := e.Paths.OpenWrt()
	writeFile(t, filepath.Join(treePath, "logs", "package", "base-files", "compile.txt"), "make: *** [Makefile:1] Error 1")

	err := Run(context.Background(), e.Env, StageRestore, cfg)
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	dir, _ := e.Paths.ErrorInfo()
	report := readFile(t, filepath.Join(dir, cfg.Name+"-"+StageRestore+".txt"))
	if !strings.Contains(report, StageRestore+" failed for "+cfg.Name) {
		t.Errorf("report %q", report)
	}
	if !utils.FileExists(filepath.Join(dir, cfg.Name+"-logs", "package", "base-files", "compile.txt")) {
		t.Error("build logs not copied")
	}
}
