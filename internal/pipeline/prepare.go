package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/gitclone"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	openwrtRepo      = "https://github.com/openwrt/openwrt"
	immortalwrtRepo  = "https://github.com/immortalwrt/packages"
	turboaccRepo     = "https://github.com/chenmozhijin/turboacc"
	smartdnsRepo     = "https://github.com/pymumu/openwrt-smartdns"
	luciSmartdnsRepo = "https://github.com/pymumu/luci-app-smartdns"
	golangRepo       = "https://github.com/sbwml/packages_lang_golang"
)

const cloneWorkers = 8

// repoRef is a repository at a branch. An empty branch is the default one.
type repoRef struct {
	URL    string
	Branch string
}

var (
	immortalwrtPackages = repoRef{immortalwrtRepo, ""}
	turboaccPackages    = repoRef{turboaccRepo, "package"}
	smartdnsPackage     = repoRef{smartdnsRepo, "master"}
	luciSmartdnsPackage = repoRef{luciSmartdnsRepo, "master"}
)

func golangPackages(cfg *config.BuildConfig) repoRef {
	return repoRef{golangRepo, cfg.OpenWrtExt.GolangVersion}
}

func extPackageRef(pkg config.ExtPackage) repoRef {
	return repoRef{pkg.Repository, pkg.Branch}
}

// repoDir is <workdir>/repos/<owner>/<name>/<branch or @default@>.
func repoDir(workdir string, ref repoRef) string {
	parts := strings.Split(strings.TrimSuffix(ref.URL, "/"), "/")
	owner, name := "", parts[len(parts)-1]
	if len(parts) > 1 {
		owner = parts[len(parts)-2]
	}
	branch := ref.Branch
	if branch == "" {
		branch = "@default@"
	}
	return filepath.Join(workdir, "repos", owner, name, branch)
}

// reposFor lists every repository the configs need, without duplicates.
func reposFor(configs []*config.BuildConfig) []repoRef {
	seen := map[repoRef]bool{}
	var refs []repoRef
	add := func(r repoRef) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	for _, r := range []repoRef{immortalwrtPackages, turboaccPackages, smartdnsPackage, luciSmartdnsPackage} {
		add(r)
	}
	for _, cfg := range configs {
		add(golangPackages(cfg))
		for _, name := range sortedKeys(cfg.ExtPackages) {
			add(extPackageRef(cfg.ExtPackages[name]))
		}
	}
	return refs
}

// cloneRepos shallow clones refs, at most cloneWorkers at a time.
func cloneRepos(ctx context.Context, env *Env, workdir string, refs []repoRef) (map[repoRef]string, error) {
	dirs := make(map[repoRef]string, len(refs))
	for _, ref := range refs {
		dirs[ref] = repoDir(workdir, ref)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cloneWorkers)
	for _, ref := range refs {
		g.Go(func() error {
			err := env.clone(ctx, ref.URL, dirs[ref], gitclone.Options{Branch: ref.Branch, Depth: 1, Token: env.Token})
			if err != nil {
				return fmt.Errorf("error cloning %s: %w", ref.URL, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dirs, nil
}

// compilerName is the display name of the token owner, falling back to the
// repository owner.
func compilerName(ctx context.Context, env *Env) string {
	if env.GitHub != nil {
		user, err := env.GitHub.User(ctx)
		if err == nil && user.DisplayName() != "" {
			return user.DisplayName()
		}
		if err != nil {
			log.Warn().Str("op", "pipeline/prepare").Err(err).Msg("cannot look up the compiler, using the repository owner")
		}
	}
	return env.Action.Owner
}

// Prepare parses every build config, prepares one OpenWrt source tree per
// config, publishes each tree as an artifact and emits the build matrix.
func Prepare(ctx context.Context, env *Env) ([]*config.BuildConfig, error) {
	configs, err := config.Load(env.Paths)
	if err != nil {
		return nil, err
	}
	workdir, err := env.Paths.Workdir()
	if err != nil {
		return nil, err
	}

	log.Info().Str("op", "pipeline/prepare").Msg("cloning extension package sources")
	repos, err := cloneRepos(ctx, env, workdir, reposFor(configs))
	if err != nil {
		return nil, err
	}
	fixed := map[string]bool{}
	for _, cfg := range configs {
		for _, name := range sortedKeys(cfg.ExtPackages) {
			pkg := cfg.ExtPackages[name]
			dir := filepath.Join(repos[extPackageRef(pkg)], pkg.Path)
			if fixed[dir] || !utils.DirExists(dir) {
				continue
			}
			fixed[dir] = true
			if err := openwrt.FixExtPackage(dir); err != nil {
				return nil, fmt.Errorf("error fixing extension package %s: %w", name, err)
			}
		}
	}

	trees, err := cloneTrees(ctx, env, workdir, configs)
	if err != nil {
		return nil, err
	}

	globalFiles, err := prepareGlobalFiles(ctx, env, workdir)
	if err != nil {
		return nil, err
	}

	compiler := compilerName(ctx, env)
	log.Info().Str("op", "pipeline/prepare").Msgf("compiler: %s", compiler)

	archives := make([]string, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		p := &configPrep{
			env:         env,
			cfg:         cfg,
			tree:        trees[i],
			repos:       repos,
			globalFiles: globalFiles,
			compiler:    compiler,
		}
		g.Go(func() error {
			path, err := p.run(gctx)
			if err != nil {
				return fmt.Errorf("error preparing %s: %w", cfg.Name, err)
			}
			archives[i] = path
			log.Info().Str("op", "pipeline/prepare").Msgf("%s prepared", cfg.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, cfg := range configs {
		if err := env.Store.Register(ctx, artifact.SourceName(cfg.Name), []string{archives[i]}, stageUpload); err != nil {
			return nil, err
		}
	}
	if err := env.Store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("error publishing source archives: %w", err)
	}

	matrix, err := config.EncodeMatrix(configs)
	if err != nil {
		return nil, err
	}
	if err := env.Action.SetOutput("matrix", matrix); err != nil {
		return nil, err
	}
	return configs, nil
}

// cloneTrees clones OpenWrt once, copies it for every further config and
// checks out each config's ref.
func cloneTrees(ctx context.Context, env *Env, workdir string, configs []*config.BuildConfig) ([]*openwrt.Tree, error) {
	log.Info().Str("op", "pipeline/prepare").Msg("cloning OpenWrt source")
	base := filepath.Join(workdir, "openwrts")
	first := filepath.Join(base, configs[0].Name)
	if err := env.clone(ctx, openwrtRepo, first, gitclone.Options{Token: env.Token}); err != nil {
		return nil, fmt.Errorf("error cloning %s: %w", openwrtRepo, err)
	}
	trees := make([]*openwrt.Tree, len(configs))
	for i, cfg := range configs {
		path := filepath.Join(base, cfg.Name)
		if i > 0 {
			if err := replaceTree(first, path); err != nil {
				return nil, err
			}
		}
		if err := env.checkout(path, cfg.Compile.TagBranch); err != nil {
			return nil, fmt.Errorf("error checking out %s for %s: %w", cfg.Compile.TagBranch, cfg.Name, err)
		}
		trees[i] = openwrt.NewTree(path, cfg.Compile.TagBranch, env.Runner)
	}
	return trees, nil
}

// adGuardFilters maps AdGuardHome filter ids to their list URLs.
var adGuardFilters = map[string]string{
	"1628750870": "https://adguardteam.github.io/AdGuardSDNSFilter/Filters/filter.txt",
	"1628750871": "https://anti-ad.net/easylist.txt",
	"1677875715": "https://easylist-downloads.adblockplus.org/easylist.txt",
	"1677875716": "https://easylist-downloads.adblockplus.org/easylistchina.txt",
	"1677875717": "https://raw.githubusercontent.com/cjx82630/cjxlist/master/cjx-annoyance.txt",
	"1677875718": "https://raw.githubusercontent.com/zsakvo/AdGuard-Custom-Rule/master/rule/zhihu-strict.txt",
	"1677875720": "https://gist.githubusercontent.com/Ewpratten/a25ae63a7200c02c850fede2f32453cf/raw/b9318009399b99e822515d388b8458557d828c37/hosts-yt-ads",
	"1677875724": "https://raw.githubusercontent.com/banbendalao/ADgk/master/ADgk.txt",
	"1677875725": "https://www.i-dont-care-about-cookies.eu/abp/",
	"1677875726": "https://raw.githubusercontent.com/jdlingyu/ad-wars/master/hosts",
	"1677875727": "https://raw.githubusercontent.com/Goooler/1024_hosts/master/hosts",
	"1677875728": "https://winhelp2002.mvps.org/hosts.txt",
	"1677875733": "https://raw.githubusercontent.com/hl2guide/Filterlist-for-AdGuard/master/filter_whitelist.txt",
	"1677875734": "https://raw.githubusercontent.com/hg1978/AdGuard-Home-Whitelist/master/whitelist.txt",
	"1677875735": "https://raw.githubusercontent.com/mmotti/adguard-home-filters/master/whitelist.txt",
	"1677875737": "https://raw.githubusercontent.com/liwenjie119/adg-rules/master/white.txt",
	"1677875739": "https://raw.githubusercontent.com/JamesDamp/AdGuard-Home---Personal-Whitelist/master/AdGuardHome-Whitelist.txt",
}

const (
	dnsListURL  = "https://raw.githubusercontent.com/chenmozhijin/AdGuardHome-Rules/main/AdGuardHome-dnslist(by%20cmzj).yaml"
	dnsListFile = "AdGuardHome-dnslist(by cmzj).yaml"
)

// prepareGlobalFiles copies the repository's files/ directory into the
// workdir and downloads the AdGuardHome rule lists into it.
func prepareGlobalFiles(ctx context.Context, env *Env, workdir string) (string, error) {
	log.Info().Str("op", "pipeline/prepare").Msg("downloading AdGuardHome filters and config")
	dst := filepath.Join(workdir, "files")
	if err := replaceTree(env.Paths.Files(), dst); err != nil {
		return "", err
	}
	filters := filepath.Join(dst, "usr", "bin", "AdGuardHome", "data", "filters")
	var batch downloader.Batch
	for _, id := range sortedKeys(adGuardFilters) {
		batch.Add(env.Downloader.Fetch(ctx, adGuardFilters[id], filepath.Join(filters, id+".txt")))
	}
	batch.Add(env.Downloader.Fetch(ctx, dnsListURL, filepath.Join(dst, "etc", dnsListFile)))
	if err := batch.Wait(); err != nil {
		return "", err
	}
	return dst, nil
}
