package cachekey

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownStage = errors.New("unknown build stage")

// Stage prefixes double as the CI job ids they are derived from.
const (
	StageBaseBuilds   = "base-builds"
	StagePackages     = "build-packages"
	StageImageBuilder = "build-ImageBuilder"
)

var stagePrefixes = []string{StageBaseBuilds, StagePackages, StageImageBuilder}

// StagePrefix returns the cache prefix for a CI job id such as
// "base-builds (x86-64)".
func StagePrefix(job string) (string, error) {
	for _, p := range stagePrefixes {
		if strings.HasPrefix(job, p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, job)
}

// RestoreKey builds "{prefix}-{ref}[-{target}][-{subtarget}]". An empty target
// or subtarget means the value is not known yet and is left out.
func RestoreKey(prefix, ref, target, subtarget string) string {
	return join(prefix+"-"+ref, target, subtarget)
}

// ToolchainKey builds "toolchain-{hash}[-{target}][-{subtarget}]".
func ToolchainKey(hash, target, subtarget string) string {
	return join("toolchain-"+hash, target, subtarget)
}

// CacheKey scopes a restore key to one CI run.
func CacheKey(restoreKey, runID string) string {
	return restoreKey + "-" + runID
}

func join(base string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, p := range parts {
		if p != "" {
			sb.WriteByte('-')
			sb.WriteString(p)
		}
	}
	return sb.String()
}
