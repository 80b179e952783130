package pipeline

import (
	"fmt"
	"strings"
)

// ManifestEntry is one "name - version" line of an image builder manifest.
type ManifestEntry struct {
	Name    string
	Version string
}

// ParseManifest reads "name - version" lines, skipping anything else.
func ParseManifest(text string) []ManifestEntry {
	var entries []ManifestEntry
	for _, line := range strings.Split(text, "\n") {
		name, version, ok := strings.Cut(strings.TrimSpace(line), " - ")
		if !ok || name == "" {
			continue
		}
		entries = append(entries, ManifestEntry{Name: name, Version: version})
	}
	return entries
}

// Changelog compares two manifests. Version changes of luci-i18n-* packages
// are not reported; additions and removals always are. It returns "" when
// nothing changed.
func Changelog(old, current []ManifestEntry) string {
	oldVersions := make(map[string]string, len(old))
	for _, e := range old {
		oldVersions[e.Name] = e.Version
	}
	currentNames := make(map[string]bool, len(current))
	var sb strings.Builder
	for _, e := range current {
		currentNames[e.Name] = true
		prev, ok := oldVersions[e.Name]
		switch {
		case !ok:
			fmt.Fprintf(&sb, "Added: %s %s\n", e.Name, e.Version)
		case prev != e.Version && !strings.HasPrefix(e.Name, "luci-i18n-"):
			fmt.Fprintf(&sb, "Updated: %s %s -> %s\n", e.Name, prev, e.Version)
		}
	}
	for _, e := range old {
		if !currentNames[e.Name] {
			fmt.Fprintf(&sb, "Removed: %s %s\n", e.Name, e.Version)
		}
	}
	return sb.String()
}

// manifestVersion returns the version of pkg in entries.
func manifestVersion(entries []ManifestEntry, pkg string) string {
	for _, e := range entries {
		if e.Name == pkg {
			return e.Version
		}
	}
	return ""
}
