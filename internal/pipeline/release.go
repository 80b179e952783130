package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openwrt-k/buildhelper/internal/artifact"
	"github.com/openwrt-k/buildhelper/internal/config"
	"github.com/openwrt-k/buildhelper/internal/github"
	"github.com/openwrt-k/buildhelper/internal/openwrt"
	"github.com/rs/zerolog/log"
)

// Release times and compile stamps are written in UTC+8.
var buildZone = time.FixedZone("UTC+8", 8*60*60)

// Profiles is the part of profiles.json shown in the release body.
type Profiles struct {
	VersionNumber string `json:"version_number"`
	VersionCode   string `json:"version_code"`
	Target        string `json:"target"`
}

// TagSuffix identifies the releases of one config.
func TagSuffix(cfg *config.BuildConfig) string {
	return cfg.Compile.TagBranch + "-" + cfg.Name
}

func ReleaseTag(cfg *config.BuildConfig, at time.Time) string {
	return at.In(buildZone).Format("2006.01.02-1504") + "-" + TagSuffix(cfg)
}

// ReleaseBody renders the release notes.
func ReleaseBody(cfg *config.BuildConfig, at time.Time, profiles *Profiles, manifest []ManifestEntry, changelog string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Build finished: %s\n", at.In(buildZone).Format(time.DateTime))
	fmt.Fprintf(&sb, "Config: %s\n", cfg.Name)
	if profiles != nil {
		if profiles.VersionNumber != "" && profiles.VersionCode != "" {
			fmt.Fprintf(&sb, "OpenWrt version: %s %s\n", profiles.VersionNumber, profiles.VersionCode)
		}
		if profiles.Target != "" {
			fmt.Fprintf(&sb, "Target: %s\n", profiles.Target)
		}
	}
	if kernel := manifestVersion(manifest, "kernel"); kernel != "" {
		fmt.Fprintf(&sb, "Kernel: %s\n", kernel)
	}
	if changelog != "" {
		fmt.Fprintf(&sb, "\n\n%s", changelog)
	}
	return sb.String()
}

// Release publishes the firmware, packages and kernel modules of cfg as a
// GitHub release, with a changelog against the previous release of cfg.
func Release(ctx context.Context, env *Env, cfg *config.BuildConfig) error {
	uploads, err := env.Paths.Uploads()
	if err != nil {
		return err
	}
	tmp, err := env.Paths.TempDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	log.Info().Str("op", "pipeline/release").Msg("fetching artifacts")
	for name, file := range map[string]string{
		artifact.PackagesName(cfg.Name): packagesArchive,
		artifact.KmodsName(cfg.Name):    kmodsArchive,
	} {
		path, err := fetchFile(ctx, env, name, tmp, file)
		if err != nil {
			return err
		}
		if err := moveFile(path, filepath.Join(uploads, file)); err != nil {
			return err
		}
	}

	ibPath, err := env.Paths.ImageBuilder()
	if err != nil {
		return err
	}
	ib := openwrt.NewImageBuilder(ibPath, env.Runner)
	target, subtarget, err := ib.Target()
	if err != nil {
		return err
	}
	if target == "" || subtarget == "" {
		return fmt.Errorf("cannot determine target of %s", ib.Path)
	}
	firmware := filepath.Join(uploads, "firmware")
	if err := replaceTree(filepath.Join(ib.Path, "bin", "targets", target, subtarget), firmware); err != nil {
		return err
	}
	manifestText, profiles := readFirmwareInfo(firmware)
	manifest := ParseManifest(manifestText)

	assets, err := findFiles(uploads, func(string) bool { return true })
	if err != nil {
		return err
	}

	at := env.now()
	changelog := ""
	if manifestText != "" {
		changelog, err = releaseChangelog(ctx, env, cfg, manifest)
		if err != nil {
			log.Warn().Str("op", "pipeline/release").Err(err).Msg("could not compare with the previous release")
		}
	}
	body := ReleaseBody(cfg, at, profiles, manifest, changelog)

	repo := env.Action.Repository()
	if repo == "" {
		return fmt.Errorf("no repository to release to")
	}
	tag := ReleaseTag(cfg, at)
	rel, err := env.GitHub.CreateRelease(ctx, repo, github.NewRelease{
		TagName: tag,
		Name:    fmt.Sprintf("%s %s (%s)", cfg.Name, at.In(buildZone).Format("2006.01.02-1504"), cfg.Compile.TagBranch),
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("error creating release %s: %w", tag, err)
	}
	log.Info().Str("op", "pipeline/release").Msgf("created release %s, uploading %d assets", tag, len(assets))
	for _, asset := range assets {
		if _, err := env.GitHub.UploadReleaseAsset(ctx, rel, asset); err != nil {
			discardRelease(ctx, env, repo, rel)
			return fmt.Errorf("error uploading %s: %w", filepath.Base(asset), err)
		}
	}

	if env.Mirror != nil {
		if _, err := env.Mirror.Mirror(ctx, tag, assets); err != nil {
			log.Warn().Str("op", "pipeline/release").Err(err).Msg("mirroring release assets failed")
			env.Action.Warningf("mirroring release %s failed: %v", tag, err)
		}
	}
	env.Action.Noticef("released %s: %s", tag, rel.HTMLURL)
	return env.Action.SetOutput("release-url", rel.HTMLURL)
}

// discardRelease removes a partially uploaded release and its tag so the
// next run does not pick it up as the previous release.
func discardRelease(ctx context.Context, env *Env, repo string, rel *github.Release) {
	if err := env.GitHub.DeleteRelease(ctx, repo, rel.ID); err != nil {
		log.Error().Str("op", "pipeline/release").Err(err).Msgf("error deleting incomplete release %s", rel.TagName)
		return
	}
	if err := env.GitHub.DeleteTag(ctx, repo, rel.TagName); err != nil {
		log.Error().Str("op", "pipeline/release").Err(err).Msgf("error deleting tag %s", rel.TagName)
	}
}

// readFirmwareInfo returns the manifest text and the parsed profiles.json
// found below dir.
func readFirmwareInfo(dir string) (string, *Profiles) {
	var manifest string
	var profiles *Profiles
	files, err := findFiles(dir, func(name string) bool {
		return strings.HasSuffix(name, ".manifest") || name == "profiles.json"
	})
	if err != nil {
		log.Warn().Str("op", "pipeline/release").Err(err).Msgf("error scanning %s", dir)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Warn().Str("op", "pipeline/release").Err(err).Msgf("error reading %s", f)
			continue
		}
		if strings.HasSuffix(f, ".manifest") {
			manifest = string(data)
			continue
		}
		var p Profiles
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Str("op", "pipeline/release").Err(err).Msgf("error parsing %s", f)
			continue
		}
		profiles = &p
	}
	return manifest, profiles
}

// releaseChangelog compares manifest with the one attached to the newest
// earlier release of cfg. Without an earlier release it returns "".
func releaseChangelog(ctx context.Context, env *Env, cfg *config.BuildConfig, manifest []ManifestEntry) (string, error) {
	prev, err := previousRelease(ctx, env, cfg)
	if err != nil || prev == nil {
		return "", err
	}
	var url string
	for _, a := range prev.Assets {
		if strings.HasSuffix(a.Name, ".manifest") {
			url = a.BrowserDownloadURL
		}
	}
	if url == "" {
		return "", nil
	}
	text, err := env.Downloader.GetText(ctx, url, nil)
	if err != nil {
		return "", err
	}
	if cl := Changelog(ParseManifest(text), manifest); cl != "" {
		return "Changelog:\n" + cl, nil
	}
	return "No package changes", nil
}

func previousRelease(ctx context.Context, env *Env, cfg *config.BuildConfig) (*github.Release, error) {
	repo := env.Action.Repository()
	if repo == "" {
		return nil, nil
	}
	releases, err := env.GitHub.ListReleases(ctx, repo)
	if err != nil {
		return nil, err
	}
	suffix := "-" + TagSuffix(cfg)
	var latest *github.Release
	for i := range releases {
		r := &releases[i]
		if r.Draft || !strings.HasSuffix(r.TagName, suffix) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}
