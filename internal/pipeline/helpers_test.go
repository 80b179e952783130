package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/openwrt-k/buildhelper/internal/paths"
	"gocloud.dev/blob/memblob"
)

type call struct {
	dir   string
	args  []string
	stdin string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, dir string, stdin io.Reader, name string, args ...string) error {
	c := call{dir: dir, args: append([]string{name}, args...)}
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		c.stdin = string(data)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) Output(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	return "", "", f.Run(ctx, dir, nil, name, args...)
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.Join(c.args, " "))
	}
	return out
}

type fakeGitHub struct {
	releases      []github.Release
	latest        map[string]*github.Release
	created       []github.NewRelease
	uploaded      []string
	uploadErr     error
	deleted       []string
	cachePrefixes []string
}

func (f *fakeGitHub) User(context.Context) (*github.User, error) {
	return &github.User{Login: "builder", Name: "Build Bot"}, nil
}

func (f *fakeGitHub) LatestRelease(_ context.Context, repo string) (*github.Release, error) {
	if r, ok := f.latest[repo]; ok {
		return r, nil
	}
	return nil, github.ErrNotFound
}

func (f *fakeGitHub) ListReleases(context.Context, string) ([]github.Release, error) {
	return f.releases, nil
}

func (f *fakeGitHub) CreateRelease(_ context.Context, _ string, in github.NewRelease) (*github.Release, error) {
	f.created = append(f.created, in)
	return &github.Release{ID: 7, TagName: in.TagName, HTMLURL: "https://github.com/owner/repo/releases/tag/" + in.TagName}, nil
}

func (f *fakeGitHub) UploadReleaseAsset(_ context.Context, _ *github.Release, path string) (*github.Asset, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = append(f.uploaded, filepath.Base(path))
	return &github.Asset{Name: filepath.Base(path)}, nil
}

func (f *fakeGitHub) DeleteRelease(_ context.Context, _ string, id int64) error {
	f.deleted = append(f.deleted, fmt.Sprintf("release:%d", id))
	return nil
}

func (f *fakeGitHub) DeleteTag(_ context.Context, _ string, tag string) error {
	f.deleted = append(f.deleted, "tag:"+tag)
	return nil
}

func (f *fakeGitHub) DeleteCachesWithPrefix(_ context.Context, _ string, prefix string) (int, error) {
	f.cachePrefixes = append(f.cachePrefixes, prefix)
	return 1, nil
}

type testEnv struct {
	*Env
	runner *fakeRunner
	gh     *fakeGitHub
	output string
}

var testNow = time.Date(2024, 5, 1, 4, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T, job string) *testEnv {
	t.Helper()
	root := t.TempDir()
	p, err := paths.New(root, root)
	if err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(root, "github_output")
	action, err := github.NewActionContext("owner/repo", "42", job, output)
	if err != nil {
		t.Fatal(err)
	}
	action.Out = io.Discard
	store := artifact.NewBlobStore(memblob.OpenBucket(nil))
	t.Cleanup(func() { store.Close() })
	dl := downloader.New(nil)
	dl.RetryDelay = 0
	runner := &fakeRunner{}
	gh := &fakeGitHub{}
	return &testEnv{
		Env: &Env{
			Paths:      p,
			Action:     action,
			GitHub:     gh,
			Store:      store,
			Downloader: dl,
			Runner:     runner,
			Now:        func() time.Time { return testNow },
		},
		runner: runner,
		gh:     gh,
		output: output,
	}
}

// outputs reads the single-line entries of the step output file.
func (e *testEnv) outputs(t *testing.T) map[string]string {
	t.Helper()
	f, err := os.Open(e.output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), "="); ok {
			out[k] = v
		}
	}
	return out
}

// publish stores files under artifact name as a previous job would have.
func (e *testEnv) publish(t *testing.T, name string, files ...string) {
	t.Helper()
	ctx := context.Background()
	if err := e.Store.Register(ctx, name, files, artifact.UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := e.Store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func testConfig() *config.BuildConfig {
	return &config.BuildConfig{
		Name: "x86_64",
		Compile: config.CompileConfig{
			TagBranch: "v23.05.3",
			UseCache:  true,
		},
		OpenWrtExt: config.ExtConfig{
			IPAddr:        "192.168.2.1",
			Timezone:      "CST-8",
			ZoneName:      "Asia/Shanghai",
			GolangVersion: "22.x",
		},
		ExtPackages: map[string]config.ExtPackage{},
	}
}

const testDotConfig = `CONFIG_TARGET_x86=y
CONFIG_TARGET_x86_64=y
CONFIG_TARGET_BOARD="x86"
CONFIG_TARGET_SUBTARGET="64"
CONFIG_ARCH="x86_64"
CONFIG_LINUX_5_15=y
CONFIG_PACKAGE_base-files=y
CONFIG_PACKAGE_luci-app-openclash=y
CONFIG_PACKAGE_kmod-nft-fullcone=m
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
