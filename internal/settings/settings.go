package settings

import (
	"fmt"
	"sort"

	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys double as the CLI flag names bound in cmd.
const (
	KeyWorkspace     = "workspace"
	KeyRepoDir       = "repo-dir"
	KeyToken         = "token"
	KeyRepository    = "repository"
	KeyRunID         = "run-id"
	KeyJob           = "job"
	KeyOutput        = "output"
	KeyDebug         = "debug"
	KeyRunnerDebug   = "runner-debug"
	KeyArtifactStore = "artifact-store"
	KeyS3Bucket      = "s3-bucket"
	KeyS3Prefix      = "s3-prefix"
	KeyAWSProfile    = "aws-profile"
	KeyAPIURL        = "api-url"
	KeyConfig        = "config"
)

const (
	StoreGitHub         = "github"
	DefaultAPIURL       = "https://api.github.com"
	DefaultMirrorPrefix = "releases"
)

var envBindings = map[string][]string{
	KeyWorkspace:     {"GITHUB_WORKSPACE"},
	KeyRepoDir:       {"BUILD_HELPER_REPO_DIR"},
	KeyToken:         {"INPUT_TOKEN", "GITHUB_TOKEN"},
	KeyRepository:    {"GITHUB_REPOSITORY"},
	KeyRunID:         {"GITHUB_RUN_ID"},
	KeyJob:           {"GITHUB_JOB"},
	KeyOutput:        {"GITHUB_OUTPUT"},
	KeyDebug:         {"BUILD_HELPER_DEBUG"},
	KeyRunnerDebug:   {"RUNNER_DEBUG"},
	KeyArtifactStore: {"BUILD_HELPER_ARTIFACT_STORE"},
	KeyS3Bucket:      {"BUILD_HELPER_S3_BUCKET"},
	KeyS3Prefix:      {"BUILD_HELPER_S3_PREFIX"},
	KeyAWSProfile:    {"AWS_PROFILE"},
	KeyAPIURL:        {"GITHUB_API_URL"},
	KeyConfig:        {"INPUT_CONFIG", "BUILD_HELPER_CONFIG"},
}

// Settings is the process configuration shared by every command.
type Settings struct {
	Workspace     string
	RepoDir       string
	Token         string
	Repository    string
	RunID         string
	Job           string
	OutputFile    string
	Debug         bool
	ArtifactStore string
	S3Bucket      string
	S3Prefix      string
	AWSProfile    string
	APIURL        string
	// Config is a packed build config as found in the matrix.
	Config string
}

// Bind registers environment variables, defaults and, when flags is not nil,
// the command line flags on v. Flags set explicitly win over the environment.
func Bind(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := make([]string, 0, len(envBindings))
	for k := range envBindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := v.BindEnv(append([]string{key}, envBindings[key]...)...); err != nil {
			return fmt.Errorf("error binding %s: %w", key, err)
		}
	}
	v.SetDefault(KeyArtifactStore, StoreGitHub)
	v.SetDefault(KeyAPIURL, DefaultAPIURL)
	v.SetDefault(KeyS3Prefix, DefaultMirrorPrefix)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

// Load reads the bound values. It is the only place that reads viper keys.
func Load(v *viper.Viper) *Settings {
	return &Settings{
		Workspace:     v.GetString(KeyWorkspace),
		RepoDir:       v.GetString(KeyRepoDir),
		Token:         v.GetString(KeyToken),
		Repository:    v.GetString(KeyRepository),
		RunID:         v.GetString(KeyRunID),
		Job:           v.GetString(KeyJob),
		OutputFile:    v.GetString(KeyOutput),
		Debug:         utils.IsTruthy(v.GetString(KeyDebug)) || v.GetString(KeyRunnerDebug) == "1",
		ArtifactStore: v.GetString(KeyArtifactStore),
		S3Bucket:      v.GetString(KeyS3Bucket),
		S3Prefix:      v.GetString(KeyS3Prefix),
		AWSProfile:    v.GetString(KeyAWSProfile),
		APIURL:        v.GetString(KeyAPIURL),
		Config:        v.GetString(KeyConfig),
	}
}
