package openwrt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/rs/zerolog/log"
)

// kmodPasses is how often EnableKmods rewrites the .config; each defconfig
// run can surface packages that become selectable.
const kmodPasses = 5

// Tree is an OpenWrt source tree.
type Tree struct {
	Path string
	// Ref is the tag or branch the tree was checked out at.
	Ref string
	run Runner
}

func NewTree(path, ref string, run Runner) *Tree {
	if run == nil {
		run = ExecRunner{}
	}
	return &Tree{Path: path, Ref: ref, run: run}
}

func (t *Tree) Target() (string, string, error) { return Target(t.Path) }
func (t *Tree) KernelVersion() (string, error)  { return KernelVersion(t.Path) }
func (t *Tree) ApplyConfig(config string) error { return ApplyConfig(t.Path, config) }

// Make runs make target with -j<cpu+1>; a failure is rerun once with
// -j1 V=s so the log shows the failing step.
func (t *Tree) Make(ctx context.Context, target string) error {
	jobs := fmt.Sprintf("-j%d", runtime.NumCPU()+1)
	log.Info().Str("op", "openwrt/tree").Msgf("make %s %s", target, jobs)
	err := t.run.Run(ctx, t.Path, nil, "make", target, jobs)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	log.Error().Str("op", "openwrt/tree").Msgf("make %s failed, rerunning with -j1 V=s", target)
	if err := t.run.Run(ctx, t.Path, nil, "make", target, "-j1", "V=s"); err != nil {
		return fmt.Errorf("make %s failed: %w", target, err)
	}
	return nil
}

// Download fetches package sources with make download, retrying once in
// verbose mode. A second failure is logged and left to the compile step.
func (t *Tree) Download(ctx context.Context) {
	for attempt, args := range [][]string{{"download", "-j16"}, {"download", "-j1", "V=s"}} {
		err := t.run.Run(ctx, t.Path, nil, "make", args...)
		if err == nil {
			return
		}
		log.Error().Str("op", "openwrt/tree").Msgf("downloading sources failed (attempt %d): %v", attempt+1, err)
		if ctx.Err() != nil {
			return
		}
	}
}

func (t *Tree) output(ctx context.Context, name string, args ...string) (string, error) {
	stdout, _, err := t.run.Output(ctx, t.Path, name, args...)
	return stdout, err
}

func (t *Tree) FeedsUpdate(ctx context.Context) error {
	_, err := t.output(ctx, filepath.Join(t.Path, "scripts", "feeds"), "update", "-a")
	return err
}

func (t *Tree) FeedsInstall(ctx context.Context) error {
	_, err := t.output(ctx, filepath.Join(t.Path, "scripts", "feeds"), "install", "-a")
	return err
}

func (t *Tree) Defconfig(ctx context.Context) error {
	_, err := t.output(ctx, "make", "defconfig")
	return err
}

// DiffConfig returns the output of scripts/diffconfig.sh.
func (t *Tree) DiffConfig(ctx context.Context) (string, error) {
	return t.output(ctx, filepath.Join(t.Path, "scripts", "diffconfig.sh"))
}

// CheckDependencies reports package dependency problems found by
// package-metadata.pl. A non-empty result means the build may fail.
func (t *Tree) CheckDependencies(ctx context.Context) (string, error) {
	if _, err := t.output(ctx, "make", "-s", "prepare-tmpinfo"); err != nil {
		return "", err
	}
	_, stderr, err := t.run.Output(ctx, t.Path, "./scripts/package-metadata.pl", "mk", "tmp/.packageinfo")
	var cmdErr *CommandError
	if err != nil && !errors.As(err, &cmdErr) {
		return "", err
	}
	return strings.TrimSpace(stderr), nil
}

// ApplyPatch feeds patch to patch -p1 inside dir, which is relative to the
// tree unless absolute.
func (t *Tree) ApplyPatch(ctx context.Context, patch, dir string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(t.Path, dir)
	}
	return ApplyPatch(ctx, t.run, patch, dir)
}

// ApplyPatch runs patch -p1 -d dir with patch on stdin.
func ApplyPatch(ctx context.Context, run Runner, patch, dir string) error {
	if err := run.Run(ctx, dir, strings.NewReader(patch), "patch", "-p1", "-d", dir); err != nil {
		return fmt.Errorf("error applying patch in %s: %w", dir, err)
	}
	return nil
}

func (t *Tree) ensureInfo(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return t.Defconfig(ctx)
}

func (t *Tree) PackageInfo(ctx context.Context) (map[string]PackageInfo, error) {
	path := packageInfoPath(t.Path)
	if err := t.ensureInfo(ctx, path); err != nil {
		return nil, err
	}
	return parseFile(path, ParsePackageInfo)
}

// TargetInfo returns the metadata of the target selected in .config, or nil
// when it cannot be determined.
func (t *Tree) TargetInfo(ctx context.Context) (*TargetInfo, error) {
	path := targetInfoPath(t.Path)
	if err := t.ensureInfo(ctx, path); err != nil {
		return nil, err
	}
	infos, err := parseFile(path, ParseTargetInfo)
	if err != nil {
		return nil, err
	}
	return SelectTarget(t.Path, infos)
}

// EnableKmods switches every unset kernel module not in exclude to =m. With
// onlyKmods, selected packages outside the base system and the target's
// default set are dropped.
func (t *Tree) EnableKmods(ctx context.Context, exclude []string, onlyKmods bool) error {
	packages, err := t.PackageInfo(ctx)
	if err != nil {
		return err
	}
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	defaults := map[string]bool{}
	if ti, err := t.TargetInfo(ctx); err != nil {
		log.Warn().Str("op", "openwrt/tree").Msgf("no target info: %v", err)
	} else if ti != nil {
		for _, p := range ti.DefaultPackages {
			defaults[p] = true
		}
	}

	for range kmodPasses {
		lines, err := readConfig(t.Path)
		if err != nil {
			return err
		}
		out := lines[:0]
		for _, line := range lines {
			if m := unsetPkgRe.FindStringSubmatch(line); m != nil {
				if p, ok := packages[m[1]]; ok && p.IsKmod() && !skip[m[1]] {
					out = append(out, "CONFIG_PACKAGE_"+m[1]+"=m")
					continue
				}
			} else if onlyKmods {
				if m := selectedPkgRe.FindStringSubmatch(line); m != nil {
					if p, ok := packages[m[1]]; ok && !p.isCore() && !defaults[m[1]] {
						log.Debug().Str("op", "openwrt/tree").Msgf("dropping package %s", m[1])
						continue
					}
				}
			}
			out = append(out, line)
		}
		if err := writeConfig(t.Path, out); err != nil {
			return err
		}
		if err := t.Defconfig(ctx); err != nil {
			return err
		}
	}
	if diff, err := t.DiffConfig(ctx); err == nil {
		log.Debug().Str("op", "openwrt/tree").Msgf("config after enabling kmods:\n%s", diff)
	}
	return nil
}

// HasToolchain reports whether staging_dir already holds a built toolchain.
func (t *Tree) HasToolchain() bool {
	entries, err := os.ReadDir(filepath.Join(t.Path, "staging_dir"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "toolchain-") {
			return true
		}
	}
	return false
}

// Archive drops .git, tmp and dl and packs the tree as "openwrt/" into dst.
func (t *Tree) Archive(dst string) error {
	for _, dir := range []string{".git", "tmp", "dl"} {
		if err := os.RemoveAll(filepath.Join(t.Path, dir)); err != nil {
			return err
		}
	}
	log.Info().Str("op", "openwrt/tree").Msgf("archiving %s to %s", t.Path, dst)
	return archive.TarGz(dst, t.Path, "openwrt")
}
