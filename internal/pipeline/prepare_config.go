package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

// Upstream fixes fetched as patches.
const (
	kmodDepsPatch   = "https://github.com/openwrt/openwrt/commit/ecc53240945c95bc77663b79ccae6e2bd046c9c8.patch"
	iperf3Patch     = "https://github.com/openwrt/packages/commit/cea45c75c0153a190ee41dedaf6526ae08e33928.patch"
	libpfringPatch1 = "https://github.com/openwrt/packages/commit/534bd518f3fff6c31656a1edcd7e10922f3e06e5.patch"
	libpfringPatch2 = "https://github.com/openwrt/packages/commit/c3a50a9fac8f9d8665f8b012abd85bb9e461e865.patch"
)

const (
	btTrackersURL = "https://github.com/XIU2/TrackersListCollection/raw/master/all_aria2.txt"
	// defaultCompiler is the name the shipped uci-defaults script credits.
	defaultCompiler = "沉默の金"
)

var (
	pkgSourceVersionRe = regexp.MustCompile(`PKG_SOURCE_VERSION:=(.*)`)
	pkgVersionRe       = regexp.MustCompile(`PKG_VERSION:=(.*)`)
)

// configPrep turns a freshly checked out tree into the source archive of
// one build config.
type configPrep struct {
	env         *Env
	cfg         *config.BuildConfig
	tree        *openwrt.Tree
	repos       map[repoRef]string
	globalFiles string
	compiler    string
}

func (p *configPrep) logf(format string, args ...any) {
	log.Info().Str("op", "pipeline/prepare").Msgf(p.cfg.Name+": "+format, args...)
}

func (p *configPrep) path(elem ...string) string {
	return filepath.Join(append([]string{p.tree.Path}, elem...)...)
}

func (p *configPrep) run(ctx context.Context) (string, error) {
	steps := []func(context.Context) error{
		p.setupFeeds,
		p.fixProblems,
		p.applyConfig,
		p.addTurboacc,
		p.prepareFiles,
		p.customize,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return "", err
		}
	}

	target, subtarget, err := p.tree.Target()
	if err != nil {
		return "", err
	}
	p.cfg.Target, p.cfg.Subtarget = target, subtarget
	if err := p.writeInfo(); err != nil {
		return "", err
	}

	p.logf("archiving source")
	uploads, err := p.env.Paths.Uploads()
	if err != nil {
		return "", err
	}
	dst := filepath.Join(uploads, p.cfg.Name, sourceArchive)
	if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", err
	}
	if err := p.tree.Archive(dst); err != nil {
		return "", err
	}
	return dst, nil
}

// setupFeeds updates the feeds, swaps in newer netdata, smartdns and golang
// packages, copies the extension packages and installs the feeds.
func (p *configPrep) setupFeeds(ctx context.Context) error {
	p.logf("updating feeds")
	if err := p.tree.FeedsUpdate(ctx); err != nil {
		return err
	}

	p.logf("replacing netdata and smartdns")
	replacements := []struct{ src, dst string }{
		{filepath.Join(p.repos[immortalwrtPackages], "admin", "netdata"), p.path("feeds", "packages", "admin", "netdata")},
		{p.repos[luciSmartdnsPackage], p.path("feeds", "luci", "applications", "luci-app-smartdns")},
		{p.repos[smartdnsPackage], p.path("feeds", "packages", "net", "smartdns")},
	}
	for _, r := range replacements {
		if err := replaceTree(r.src, r.dst); err != nil {
			return err
		}
	}

	p.logf("copying extension packages")
	for _, name := range sortedKeys(p.cfg.ExtPackages) {
		pkg := p.cfg.ExtPackages[name]
		src := filepath.Join(p.repos[extPackageRef(pkg)], pkg.Path)
		if !utils.DirExists(src) {
			return fmt.Errorf("extension package %s not found at %s, the layout of %s may have changed", name, pkg.Path, pkg.Repository)
		}
		dst := p.path("package", "cmzj_packages", name)
		log.Debug().Str("op", "pipeline/prepare").Msgf("copying %s to %s", name, dst)
		if err := replaceTree(src, dst); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(dst, ".git")); err != nil {
			return err
		}
	}

	if err := replaceTree(p.repos[golangPackages(p.cfg)], p.path("feeds", "packages", "lang", "golang")); err != nil {
		return err
	}
	return p.tree.FeedsInstall(ctx)
}

// fixProblems applies known fixes for the checked out release. Failures are
// reported as workflow errors and do not stop the build.
func (p *configPrep) fixProblems(ctx context.Context) error {
	ref := p.tree.Ref
	if ref != "main" && ref != "master" {
		p.applyRemotePatches(ctx, "", "kernel module dependency fix", kmodDepsPatch)
	}

	p.logf("replacing dnsmasq with dnsmasq-full")
	if err := replaceInFile(p.path("include", "target.mk"), "\tdnsmasq ", "\tdnsmasq-full "); err != nil {
		return err
	}
	p.logf("fixing b43-fwsquash.py path in broadcom.mk")
	if err := replaceInFile(p.path("package", "kernel", "mac80211", "broadcom.mk"),
		"\tb43-fwsquash.py", "\t$(TOPDIR)/tools/b43-tools/files/b43-fwsquash.py"); err != nil {
		return err
	}

	switch ref {
	case "v23.05.2":
		p.applyRemotePatches(ctx, filepath.Join("feeds", "packages"), "iperf3 conflict fix", iperf3Patch)
	case "v23.05.3":
		p.applyRemotePatches(ctx, filepath.Join("feeds", "packages"), "libpfring fix", libpfringPatch1, libpfringPatch2)
	}

	p.logf("fixing bcm27xx-gpu-fw")
	patch, err := os.ReadFile(filepath.Join(p.env.Paths.Patches(), "bcm27xx-gpu-fw.patch"))
	if err == nil {
		err = p.tree.ApplyPatch(ctx, string(patch), ".")
	}
	if err != nil {
		log.Error().Str("op", "pipeline/prepare").Err(err).Msg("bcm27xx-gpu-fw fix failed")
		p.env.Action.Errorf("fixing bcm27xx-gpu-fw failed for %s, the image builder may be broken: %v", p.cfg.Name, err)
	}
	return nil
}

// applyRemotePatches downloads every patch before applying any of them.
func (p *configPrep) applyRemotePatches(ctx context.Context, dir, what string, urls ...string) {
	p.logf("applying %s", what)
	patches := make([]string, 0, len(urls))
	for _, url := range urls {
		patch, err := p.env.Downloader.GetText(ctx, url, nil)
		if err != nil {
			log.Error().Str("op", "pipeline/prepare").Err(err).Msgf("cannot fetch %s", url)
			p.env.Action.Errorf("fetching the %s failed, the build may fail.\n%s", what, url)
			return
		}
		patches = append(patches, patch)
	}
	for i, patch := range patches {
		if err := p.tree.ApplyPatch(ctx, patch, dir); err != nil {
			log.Error().Str("op", "pipeline/prepare").Err(err).Msgf("cannot apply %s", urls[i])
			p.env.Action.Errorf("applying the %s failed, the build may fail.\n%s", what, urls[i])
			return
		}
	}
}

// applyConfig replaces cfg.OpenWrt with the normalised diff config.
func (p *configPrep) applyConfig(ctx context.Context) error {
	p.logf("applying config")
	if err := p.tree.ApplyConfig(p.cfg.OpenWrt); err != nil {
		return err
	}
	if err := p.tree.Defconfig(ctx); err != nil {
		return err
	}
	diff, err := p.tree.DiffConfig(ctx)
	if err != nil {
		return err
	}
	p.cfg.OpenWrt = diff
	return nil
}

func (p *configPrep) packageEnabled(pkgs ...string) (bool, error) {
	for _, pkg := range pkgs {
		v, err := openwrt.PackageConfig(p.tree.Path, pkg)
		if err != nil {
			return false, err
		}
		if v == "y" || v == "m" {
			return true, nil
		}
	}
	return false, nil
}

// addTurboacc adds the kernel patches and netfilter packages needed by
// shortcut-fe and fullcone NAT when either is selected.
func (p *configPrep) addTurboacc(ctx context.Context) error {
	sfe, err := p.packageEnabled("kmod-shortcut-fe", "kmod-shortcut-fe-drv", "kmod-shortcut-fe-cm", "kmod-fast-classifier")
	if err != nil {
		return err
	}
	fullcone, err := p.packageEnabled("kmod-nft-fullcone")
	if err != nil {
		return err
	}
	if !sfe && !fullcone {
		return nil
	}
	kernel, err := p.tree.KernelVersion()
	if err != nil {
		return err
	}
	if kernel == "" {
		return fmt.Errorf("cannot determine kernel version of %s", p.tree.Path)
	}
	turboacc := p.repos[turboaccPackages]
	generic := p.path("target", "linux", "generic")
	kernelConfig := filepath.Join(generic, "config-"+kernel)
	copyPatch := func(kind, name string) error {
		dir := kind + "-" + kernel
		if err := utils.EnsureDir(filepath.Join(generic, dir)); err != nil {
			return err
		}
		return copyFile(filepath.Join(turboacc, dir, name), filepath.Join(generic, dir, name), 0644)
	}

	patch952 := "952-add-net-conntrack-events-support-multiple-registrant.patch"
	if kernel == "5.10" {
		patch952 = "952-net-conntrack-events-support-multiple-registrant.patch"
	}
	p.logf("adding turboacc 952 patch")
	if err := copyPatch("hack", patch952); err != nil {
		return err
	}
	if err := appendFile(kernelConfig, "\n# CONFIG_NF_CONNTRACK_CHAIN_EVENTS is not set"); err != nil {
		return err
	}

	if sfe {
		p.logf("adding shortcut-fe patches")
		if err := copyPatch("hack", "953-net-patch-linux-kernel-to-support-shortcut-fe.patch"); err != nil {
			return err
		}
		if err := copyPatch("pending", "613-netfilter_optional_tcp_window_check.patch"); err != nil {
			return err
		}
		if err := appendFile(kernelConfig, "\nCONFIG_SHORTCUT_FE=y"); err != nil {
			return err
		}
	}

	if fullcone {
		p.logf("replacing libnftnl, firewall4 and nftables")
		return p.replaceNetfilterPackages(turboacc)
	}
	return nil
}

func (p *configPrep) replaceNetfilterPackages(turboacc string) error {
	pkgs := []struct {
		name, dir, key string
		re             *regexp.Regexp
	}{
		{"libnftnl", p.path("package", "libs", "libnftnl"), "LIBNFTNL_VERSION", pkgVersionRe},
		{"firewall4", p.path("package", "network", "config", "firewall4"), "FIREWALL4_VERSION", pkgSourceVersionRe},
		{"nftables", p.path("package", "network", "utils", "nftables"), "NFTABLES_VERSION", pkgVersionRe},
	}
	var latest config.Values
	for _, pkg := range pkgs {
		version, err := makefileVar(filepath.Join(pkg.dir, "Makefile"), pkg.re)
		if err != nil {
			return err
		}
		src := filepath.Join(turboacc, pkg.name+"-"+version)
		if version == "" || !utils.DirExists(src) {
			if latest == nil {
				latest, err = config.ParseKV(filepath.Join(turboacc, "version"), "FIREWALL4_VERSION", "NFTABLES_VERSION", "LIBNFTNL_VERSION")
				if err != nil {
					return err
				}
			}
			log.Warn().Str("op", "pipeline/prepare").Msgf("%s: no turboacc %s for version %q, using the latest", p.cfg.Name, pkg.name, version)
			src = filepath.Join(turboacc, pkg.name+"-"+latest.String(pkg.key))
		}
		if err := replaceTree(src, pkg.dir); err != nil {
			return err
		}
	}
	return nil
}

// customize edits the first boot script and the system defaults.
func (p *configPrep) customize(ctx context.Context) error {
	trackers, err := p.env.Downloader.GetText(ctx, btTrackersURL, nil)
	if err != nil {
		log.Warn().Str("op", "pipeline/prepare").Err(err).Msg("cannot fetch bt trackers, keeping the shipped list")
	}
	trackers = strings.TrimSpace(trackers)

	ext := p.cfg.OpenWrtExt
	err = rewriteLines(p.path("files", "etc", "uci-defaults", "zzz-chenmozhijin"), func(line string) []string {
		switch {
		case strings.HasPrefix(line, "  uci set aria2.main.bt_tracker=") && trackers != "":
			return []string{"  uci set aria2.main.bt_tracker='" + trackers + "'"}
		case strings.HasPrefix(line, "uci set network.lan.ipaddr="):
			return []string{"uci set network.lan.ipaddr='" + ext.IPAddr + "'"}
		case strings.Contains(line, "Compiled by "+defaultCompiler):
			return []string{strings.ReplaceAll(line, "Compiled by "+defaultCompiler, "Compiled by "+p.compiler)}
		}
		return []string{line}
	})
	if err != nil {
		return err
	}

	p.logf("setting hostname and timezone")
	return rewriteLines(p.path("package", "base-files", "files", "bin", "config_generate"), func(line string) []string {
		const hostname = "set system.@system[-1].hostname='OpenWrt'"
		const timezone = "set system.@system[-1].timezone='UTC'"
		switch {
		case strings.Contains(line, hostname):
			return []string{strings.Replace(line, hostname, "set system.@system[-1].hostname='OpenWrt-k'", 1)}
		case strings.Contains(line, timezone):
			return []string{
				strings.Replace(line, timezone, "set system.@system[-1].timezone='"+ext.Timezone+"'", 1),
				"\t\tset system.@system[-1].zonename='" + ext.ZoneName + "'",
			}
		}
		return []string{line}
	})
}

// writeInfo writes files/etc/openwrt-k_info.
func (p *configPrep) writeInfo() error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "COMPILE_START_TIME=%q\n", p.env.now().In(buildZone).Format("06.01.02-15"))
	fmt.Fprintf(&sb, "COMPILER=%q\n", p.compiler)
	fmt.Fprintf(&sb, "REPOSITORY_URL=%q\n", "https://github.com/"+p.env.Action.Repository())
	fmt.Fprintf(&sb, "TAG_SUFFIX=%q\n", TagSuffix(p.cfg))
	log.Debug().Str("op", "pipeline/prepare").Msgf("openwrt-k_info: %s", sb.String())
	path := p.path("files", "etc", "openwrt-k_info")
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func makefileVar(path string, re *regexp.Regexp) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if m := re.FindSubmatch(data); m != nil {
		return strings.TrimSpace(string(m[1])), nil
	}
	return "", nil
}

func replaceInFile(path, old, repl string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.ReplaceAll(string(data), old, repl)), info.Mode().Perm())
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
