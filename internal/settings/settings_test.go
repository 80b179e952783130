package settings

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GITHUB_WORKSPACE", "/work")
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("GITHUB_REPOSITORY", "owner/repo")
	t.Setenv("GITHUB_RUN_ID", "42")
	t.Setenv("GITHUB_JOB", "base-builds")
	t.Setenv("BUILD_HELPER_DEBUG", "TRUE")

	v := viper.New()
	if err := Bind(v, nil); err != nil {
		t.Fatal(err)
	}
	s := Load(v)
	if s.Workspace != "/work" || s.Token != "gh-token" || s.Repository != "owner/repo" {
		t.Errorf("unexpected settings: %+v", s)
	}
	if s.RunID != "42" || s.Job != "base-builds" {
		t.Errorf("unexpected run info: %+v", s)
	}
	if !s.Debug {
		t.Error("BUILD_HELPER_DEBUG=TRUE should enable debug")
	}
	if s.ArtifactStore != StoreGitHub || s.APIURL != DefaultAPIURL {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestInputTokenTakesPrecedence(t *testing.T) {
	t.Setenv("INPUT_TOKEN", "input")
	t.Setenv("GITHUB_TOKEN", "fallback")
	v := viper.New()
	if err := Bind(v, nil); err != nil {
		t.Fatal(err)
	}
	if got := Load(v).Token; got != "input" {
		t.Errorf("Token = %q, want input", got)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("GITHUB_JOB", "from-env")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyJob, "", "")
	flags.String(KeyArtifactStore, "", "")
	if err := flags.Parse([]string{"--job", "from-flag"}); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	if err := Bind(v, flags); err != nil {
		t.Fatal(err)
	}
	s := Load(v)
	if s.Job != "from-flag" {
		t.Errorf("Job = %q, want from-flag", s.Job)
	}
	if s.ArtifactStore != StoreGitHub {
		t.Errorf("unset flag should not hide the default, got %q", s.ArtifactStore)
	}
}
