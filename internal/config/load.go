package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openwrt-k/buildhelper/internal/paths"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

const cacheConfig = "CONFIG_DEVEL=y\nCONFIG_CCACHE=y"

var (
	validate      = validator.New(validator.WithRequiredStructEnabled())
	extPackageRe  = regexp.MustCompile(`^EXT_PACKAGES_(NAME|PATH|REPOSITORIE|BRANCH)\[(\d+)\]="(.*?)"$`)
	extPackageKey = []string{"NAME", "PATH", "REPOSITORIE", "BRANCH"}
)

// Names returns the build config names listed under config= in the global
// config. Names without a directory are skipped with a warning.
func Names(p *paths.Paths) ([]string, error) {
	values, err := ParseKV(p.GlobalConfig(), "config")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range values.List("config") {
		if name == "" {
			continue
		}
		if !utils.DirExists(p.ConfigDir(name)) {
			log.Warn().Str("op", "config/load").Msgf("config %s does not exist", name)
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Load parses every configured build config in the order they are listed.
func Load(p *paths.Paths) ([]*BuildConfig, error) {
	names, err := Names(p)
	if err != nil {
		return nil, err
	}
	configs := make([]*BuildConfig, 0, len(names))
	for _, name := range names {
		log.Info().Str("op", "config/load").Msgf("parsing config %s", name)
		cfg, err := LoadOne(name, p.ConfigDir(name))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		return nil, ErrNoConfigs
	}
	return configs, nil
}

// LoadOne parses a single config directory.
func LoadOne(name, dir string) (*BuildConfig, error) {
	kdir := filepath.Join(dir, "OpenWrt-K")
	if !utils.DirExists(kdir) {
		return nil, &ParseError{Config: name, Msg: "missing OpenWrt-K directory " + kdir, Err: ErrConfigNotFound}
	}
	cfg := &BuildConfig{Path: dir, Name: name, ExtPackages: map[string]ExtPackage{}}

	compile, err := ParseKV(filepath.Join(kdir, "compile.config"), "openwrt_tag/branch", "kmod_compile_exclude_list", "use_cache")
	if err != nil {
		return nil, &ParseError{Config: name, Msg: "compile.config", Err: err}
	}
	cfg.Compile = CompileConfig{
		TagBranch:   compile.String("openwrt_tag/branch"),
		KmodExclude: compile.List("kmod_compile_exclude_list"),
		UseCache:    compile.Bool("use_cache"),
	}

	ext, err := ParseKV(filepath.Join(kdir, "openwrtext.config"), "ipaddr", "timezone", "zonename", "golang_version")
	if err != nil {
		return nil, &ParseError{Config: name, Msg: "openwrtext.config", Err: err}
	}
	cfg.OpenWrtExt = ExtConfig{
		IPAddr:        ext.String("ipaddr"),
		Timezone:      ext.String("timezone"),
		ZoneName:      ext.String("zonename"),
		GolangVersion: ext.String("golang_version"),
	}

	extPath := filepath.Join(kdir, "extpackages.config")
	if utils.FileExists(extPath) {
		data, err := os.ReadFile(extPath)
		if err != nil {
			return nil, &ParseError{Config: name, Msg: "extpackages.config", Err: err}
		}
		pkgs, err := ParseExtPackages(string(data))
		if err != nil {
			return nil, &ParseError{Config: name, Msg: "extpackages.config", Err: err}
		}
		cfg.ExtPackages = pkgs
	}

	openwrt, err := concatConfigs(dir)
	if err != nil {
		return nil, &ParseError{Config: name, Msg: "reading OpenWrt config fragments", Err: err}
	}
	if cfg.Compile.UseCache {
		openwrt += cacheConfig
	}
	cfg.OpenWrt = openwrt

	if err := validate.Struct(cfg); err != nil {
		return nil, &ParseError{Config: name, Msg: "invalid config", Err: err}
	}
	return cfg, nil
}

// ParseExtPackages groups EXT_PACKAGES_*[i] lines by index and keys the
// result by package name.
func ParseExtPackages(text string) (map[string]ExtPackage, error) {
	groups := map[string]map[string]string{}
	var order []string
	for _, line := range strings.Split(text, "\n") {
		m := extPackageRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		key, id, value := m[1], m[2], m[3]
		if _, ok := groups[id]; !ok {
			groups[id] = map[string]string{}
			order = append(order, id)
		}
		groups[id][key] = value
	}

	pkgs := make(map[string]ExtPackage, len(groups))
	for _, id := range order {
		group := groups[id]
		for _, k := range extPackageKey {
			if _, ok := group[k]; !ok {
				return nil, fmt.Errorf("%w: ext package %s has no %s", ErrMissingKey, id, k)
			}
		}
		name := group["NAME"]
		if _, dup := pkgs[name]; dup {
			return nil, fmt.Errorf("duplicate ext package name %q", name)
		}
		pkgs[name] = ExtPackage{Path: group["PATH"], Repository: group["REPOSITORIE"], Branch: group["BRANCH"]}
	}
	return pkgs, nil
}

func concatConfigs(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".config") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return "", err
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
