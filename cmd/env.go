package cmd

import (
	"context"
	"fmt"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/downloader"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/openwrt-k/buildhelper/internal/paths"
	"github.com/openwrt-k/buildhelper/internal/pipeline"
	"github.com/openwrt-k/buildhelper/internal/settings"
	"github.com/openwrt-k/buildhelper/internal/utils"
	"github.com/rs/zerolog/log"
)

// newEnv wires the pipeline environment from conf. The returned func
// releases the artifact store.
func newEnv(ctx context.Context) (*pipeline.Env, func(), error) {
	p, err := paths.New(conf.Workspace, conf.RepoDir)
	if err != nil {
		return nil, nil, err
	}
	action, err := github.NewActionContext(conf.Repository, conf.RunID, conf.Job, conf.OutputFile)
	if err != nil {
		return nil, nil, err
	}
	gh, err := github.New(github.Config{Token: conf.Token, BaseURL: conf.APIURL})
	if err != nil {
		return nil, nil, err
	}
	dl := downloader.New(utils.NewHTTPClient(utils.HTTPClientConfig{}))

	env := &pipeline.Env{
		Paths:      p,
		Action:     action,
		GitHub:     gh,
		Downloader: dl,
		Runner:     openwrt.ExecRunner{},
		Token:      conf.Token,
	}
	closeStore := func() {}
	if conf.ArtifactStore == settings.StoreGitHub {
		uploader, err := artifact.NewUploader(p.UploadAction())
		if err != nil {
			return nil, nil, err
		}
		env.Store = artifact.NewGitHubStore(gh, dl, action.Repository(), action.RunID, uploader)
	} else {
		store, err := artifact.OpenBlobStore(ctx, conf.ArtifactStore)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening artifact store %s: %w", conf.ArtifactStore, err)
		}
		env.Store = store
		closeStore = func() {
			if err := store.Close(); err != nil {
				log.Warn().Str("op", "cmd/env").Err(err).Msg("error closing artifact store")
			}
		}
	}
	log.Debug().Str("op", "cmd/env").Msgf("artifact store %s", conf.ArtifactStore)

	if conf.S3Bucket != "" {
		mirror, err := artifact.NewS3Mirror(ctx, conf.AWSProfile, conf.S3Bucket, conf.S3Prefix)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		env.Mirror = mirror
	}
	return env, closeStore, nil
}
