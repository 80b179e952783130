package openwrt

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrNoPackageInfo = errors.New("no package information parsed")
	ErrNoTargetInfo  = errors.New("no target information parsed")
)

// PackageInfo is one entry of tmp/.packageinfo.
type PackageInfo struct {
	Makefile string
	Version  string
	Section  string
	Category string
	Title    string
	Depends  string
	Type     string
}

// IsKmod reports whether the package is a kernel module.
func (p PackageInfo) IsKmod() bool {
	return p.Section == "kernel" || p.Category == "Kernel modules"
}

var coreSections = map[string]bool{"kernel": true, "base": true, "boot": true, "firmware": true, "sys": true, "system": true}
var coreCategories = map[string]bool{"Boot Loaders": true, "Firmware": true, "Base system": true, "Kernel modules": true, "System": true}

// isCore reports whether the package belongs to the base system.
func (p PackageInfo) isCore() bool {
	return coreSections[p.Section] || coreCategories[p.Category]
}

type TargetProfile struct {
	Name             string
	Packages         []string
	SupportedDevices []string
}

// TargetInfo is one entry of tmp/.targetinfo.
type TargetInfo struct {
	Target          string
	Board           string
	Name            string
	Arch            string
	ArchPackages    string
	Features        []string
	LinuxVersion    string
	LinuxRelease    string
	LinuxKernelArch string
	DefaultPackages []string
	Profiles        map[string]*TargetProfile
}

func field(line, key string) (string, bool) {
	if !strings.HasPrefix(line, key+": ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, key+": ")), true
}

// ParsePackageInfo parses the package metadata dump written by
// scripts/package-metadata.pl.
func ParsePackageInfo(r io.Reader) (map[string]PackageInfo, error) {
	packages := map[string]PackageInfo{}
	var (
		name     string
		makefile string
		cur      PackageInfo
	)
	flush := func() {
		if name != "" {
			packages[name] = cur
		}
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := field(line, "Source-Makefile"); ok {
			makefile = v
			continue
		}
		if v, ok := field(line, "Package"); ok {
			flush()
			name = v
			cur = PackageInfo{Makefile: makefile}
			continue
		}
		if v, ok := field(line, "Version"); ok {
			cur.Version = v
		} else if v, ok := field(line, "Section"); ok {
			cur.Section = v
		} else if v, ok := field(line, "Category"); ok {
			cur.Category = v
		} else if v, ok := field(line, "Title"); ok {
			cur.Title = v
		} else if v, ok := field(line, "Depends"); ok {
			cur.Depends = v
		} else if v, ok := field(line, "Type"); ok {
			cur.Type = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	if len(packages) == 0 {
		return nil, ErrNoPackageInfo
	}
	return packages, nil
}

// ParseTargetInfo parses tmp/.targetinfo.
func ParseTargetInfo(r io.Reader) (map[string]*TargetInfo, error) {
	targets := map[string]*TargetInfo{}
	var cur *TargetInfo
	var profile *TargetProfile
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := field(line, "Target"); ok {
			cur = &TargetInfo{Target: v, Profiles: map[string]*TargetProfile{}}
			profile = nil
			targets[v] = cur
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Target-Board: "):
			cur.Board, _ = field(line, "Target-Board")
		case strings.HasPrefix(line, "Target-Name: "):
			cur.Name, _ = field(line, "Target-Name")
		case strings.HasPrefix(line, "Target-Arch: "):
			cur.Arch, _ = field(line, "Target-Arch")
		case strings.HasPrefix(line, "Target-Arch-Packages: "):
			cur.ArchPackages, _ = field(line, "Target-Arch-Packages")
		case strings.HasPrefix(line, "Target-Features: "):
			v, _ := field(line, "Target-Features")
			cur.Features = strings.Fields(v)
		case strings.HasPrefix(line, "Linux-Version: "):
			cur.LinuxVersion, _ = field(line, "Linux-Version")
		case strings.HasPrefix(line, "Linux-Release: "):
			cur.LinuxRelease, _ = field(line, "Linux-Release")
		case strings.HasPrefix(line, "Linux-Kernel-Arch: "):
			cur.LinuxKernelArch, _ = field(line, "Linux-Kernel-Arch")
		case strings.HasPrefix(line, "Default-Packages: "):
			v, _ := field(line, "Default-Packages")
			cur.DefaultPackages = strings.Fields(v)
		case strings.HasPrefix(line, "Target-Profile: "):
			v, _ := field(line, "Target-Profile")
			profile = &TargetProfile{}
			cur.Profiles[v] = profile
		case profile != nil && strings.HasPrefix(line, "Target-Profile-Name: "):
			profile.Name, _ = field(line, "Target-Profile-Name")
		case profile != nil && strings.HasPrefix(line, "Target-Profile-Packages: "):
			v, _ := field(line, "Target-Profile-Packages")
			profile.Packages = strings.Fields(v)
		case profile != nil && strings.HasPrefix(line, "Target-Profile-SupportedDevices: "):
			v, _ := field(line, "Target-Profile-SupportedDevices")
			profile.SupportedDevices = strings.Split(v, ",")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoTargetInfo
	}
	return targets, nil
}

var targetSelRe = regexp.MustCompile(`^CONFIG_TARGET_([^=]+)=`)

// SelectTarget returns the target of infos selected by the .config in dir,
// matching CONFIG_TARGET_<board>_<subtarget>=y lines against target names.
func SelectTarget(dir string, infos map[string]*TargetInfo) (*TargetInfo, error) {
	var selected *TargetInfo
	err := scanConfig(dir, func(line string) bool {
		if m := targetSelRe.FindStringSubmatch(line); m != nil {
			if t, ok := infos[strings.ReplaceAll(m[1], "_", "/")]; ok {
				selected = t
			}
		}
		return true
	})
	return selected, err
}

func parseFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return parse(f)
}

func packageInfoPath(dir string) string { return filepath.Join(dir, "tmp", ".packageinfo") }
func targetInfoPath(dir string) string  { return filepath.Join(dir, "tmp", ".targetinfo") }
