package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openwrt-k/buildhelper/internal/archive"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

const (
	adGuardHomeRepo = "AdguardTeam/AdGuardHome"
	clashCoreURL    = "https://raw.githubusercontent.com/vernesong/OpenClash/refs/heads/core/dev/meta/clash-%s.tar.gz"
)

// CoreArch maps an OpenWrt CONFIG_ARCH (and arm version) to the architecture
// names used by AdGuardHome and the OpenClash meta core. An empty result
// means no build exists.
func CoreArch(arch, armVersion string) (adGuard, clash string) {
	switch arch {
	case "i386":
		return "386", "linux-386"
	case "i686":
		return "386", ""
	case "x86_64":
		return "amd64", "linux-amd64"
	case "mipsel":
		return "mipsel", "linux-mipsle-softfloat"
	case "mips64el":
		return "mips64el", ""
	case "mips":
		return "mips", "linux-mips-softfloat"
	case "mips64":
		return "mips64", "linux-mips64"
	case "arm":
		if armVersion != "" {
			return "arm" + armVersion, "linux-arm" + armVersion
		}
		return "armv5", "linux-armv5"
	case "aarch64":
		return "arm64", "linux-arm64"
	case "powerpc":
		return "powerpc", ""
	case "powerpc64":
		return "ppc64", ""
	}
	return "", ""
}

// prepareFiles copies the global files into the tree and adds the
// AdGuardHome and OpenClash cores for the tree's architecture when their
// LuCI apps are built in.
func (p *configPrep) prepareFiles(ctx context.Context) error {
	p.logf("preparing custom files")
	files := p.path("files")
	if err := replaceTree(p.globalFiles, files); err != nil {
		return err
	}
	arch, version, err := openwrt.Arch(p.tree.Path)
	if err != nil {
		return err
	}
	adgArch, clashArch := CoreArch(arch, version)

	tmp, err := p.env.Paths.TempDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	var batch downloader.Batch
	adgArchive := filepath.Join(tmp, "AdGuardHome.tar.gz")
	clashArchive := filepath.Join(tmp, "clash_meta.tar.gz")

	if adgArch != "" {
		if on, err := p.builtIn("luci-app-adguardhome"); err != nil {
			return err
		} else if on {
			p.logf("downloading AdGuardHome core for %s", adgArch)
			url, err := p.adGuardHomeURL(ctx, adgArch)
			if err != nil {
				log.Error().Str("op", "pipeline/prepare").Err(err).Msg("no usable AdGuardHome binary")
			} else {
				batch.Add(p.env.Downloader.Fetch(ctx, url, adgArchive))
			}
		}
	}
	if clashArch != "" {
		if on, err := p.builtIn("luci-app-openclash"); err != nil {
			return err
		} else if on {
			p.logf("downloading OpenClash core for %s", clashArch)
			batch.Add(p.env.Downloader.Fetch(ctx, fmt.Sprintf(clashCoreURL, clashArch), clashArchive))
		}
	}
	if err := batch.Wait(); err != nil {
		return err
	}

	if utils.FileExists(adgArchive) {
		dst := filepath.Join(files, "usr", "bin", "AdGuardHome", "AdGuardHome")
		if err := extractCore(adgArchive, "./AdGuardHome/AdGuardHome", dst); err != nil {
			return err
		}
	}
	coreDir := filepath.Join(files, "etc", "openclash", "core")
	if err := utils.EnsureDir(coreDir); err != nil {
		return err
	}
	if utils.FileExists(clashArchive) {
		if err := extractCore(clashArchive, "clash", filepath.Join(coreDir, "clash_meta")); err != nil {
			return err
		}
	}
	return nil
}

func (p *configPrep) builtIn(pkg string) (bool, error) {
	v, err := openwrt.PackageConfig(p.tree.Path, pkg)
	return v == "y", err
}

func (p *configPrep) adGuardHomeURL(ctx context.Context, arch string) (string, error) {
	rel, err := p.env.GitHub.LatestRelease(ctx, adGuardHomeRepo)
	if err != nil {
		return "", err
	}
	want := "AdGuardHome_linux_" + arch + ".tar.gz"
	for _, a := range rel.Assets {
		if a.Name == want {
			return a.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("release %s of %s has no %s", rel.TagName, adGuardHomeRepo, want)
}

// extractCore copies member out of src as an executable. A missing member
// is logged and skipped.
func extractCore(src, member, dst string) error {
	err := archive.ExtractTarMember(src, member, dst, 0755)
	if errors.Is(err, archive.ErrMemberNotFound) {
		log.Warn().Str("op", "pipeline/prepare").Err(err).Msg("core not found in archive")
		return nil
	}
	return err
}
