package openwrt

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	targetBoardRe = regexp.MustCompile(`^CONFIG_TARGET_BOARD="(.*)"$`)
	subtargetRe   = regexp.MustCompile(`^CONFIG_TARGET_SUBTARGET="(.*)"$`)
	archRe        = regexp.MustCompile(`^CONFIG_ARCH="(.*)"$`)
	armVersionRe  = regexp.MustCompile(`^CONFIG_arm_([0-9]+)=y$`)
	kernelRe      = regexp.MustCompile(`^CONFIG_LINUX_([0-9]+)_([0-9]+)=y$`)
	enabledPkgRe  = regexp.MustCompile(`^CONFIG_PACKAGE_(.+)=y`)
	unsetPkgRe    = regexp.MustCompile(`^# CONFIG_PACKAGE_([^ ]+) is not set`)
	selectedPkgRe = regexp.MustCompile(`^CONFIG_PACKAGE_([^=]+)=[ym]`)
	imagesRe      = regexp.MustCompile(`^CONFIG_(.+)_IMAGES=y`)
)

// scanConfig calls fn for every line of the .config in dir until fn
// returns false. A missing file yields no lines.
func scanConfig(dir string, fn func(line string) bool) error {
	f, err := os.Open(filepath.Join(dir, ".config"))
	if os.IsNotExist(err) {
		log.Warn().Str("op", "openwrt/dotconfig").Msgf("no .config in %s", dir)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if !fn(sc.Text()) {
			break
		}
	}
	return sc.Err()
}

// Target returns CONFIG_TARGET_BOARD and CONFIG_TARGET_SUBTARGET. Unknown
// values are empty.
func Target(dir string) (target, subtarget string, err error) {
	err = scanConfig(dir, func(line string) bool {
		if m := targetBoardRe.FindStringSubmatch(line); m != nil {
			target = m[1]
		} else if m := subtargetRe.FindStringSubmatch(line); m != nil {
			subtarget = m[1]
		}
		return target == "" || subtarget == ""
	})
	return target, subtarget, err
}

// Arch returns CONFIG_ARCH and, for arm, the CONFIG_arm_<n> version.
func Arch(dir string) (arch, version string, err error) {
	err = scanConfig(dir, func(line string) bool {
		if m := archRe.FindStringSubmatch(line); m != nil {
			arch = m[1]
		} else if m := armVersionRe.FindStringSubmatch(line); m != nil {
			version = m[1]
		}
		return arch == "" || version == ""
	})
	log.Debug().Str("op", "openwrt/dotconfig").Msgf("%s: arch %q version %q", dir, arch, version)
	return arch, version, err
}

// KernelVersion returns "<major>.<minor>" from the first CONFIG_LINUX_X_Y=y.
func KernelVersion(dir string) (string, error) {
	var version string
	err := scanConfig(dir, func(line string) bool {
		if m := kernelRe.FindStringSubmatch(line); m != nil {
			version = m[1] + "." + m[2]
			return false
		}
		return true
	})
	return version, err
}

// PackageConfig returns "y", "m" or "n" for package, or "" when the .config
// does not mention it.
func PackageConfig(dir, pkg string) (string, error) {
	prefix := "CONFIG_PACKAGE_" + pkg + "="
	var value string
	err := scanConfig(dir, func(line string) bool {
		if !strings.HasPrefix(line, prefix) {
			return true
		}
		switch v := strings.TrimPrefix(line, prefix); v {
		case "y", "m", "n":
			value = v
			return false
		}
		return true
	})
	return value, err
}

// EnabledPackages lists every package built into the image (=y).
func EnabledPackages(dir string) ([]string, error) {
	var pkgs []string
	err := scanConfig(dir, func(line string) bool {
		if m := enabledPkgRe.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, m[1])
		}
		return true
	})
	return pkgs, err
}

// ApplyConfig replaces the .config in dir.
func ApplyConfig(dir, config string) error {
	return os.WriteFile(filepath.Join(dir, ".config"), []byte(config), 0644)
}

func readConfig(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".config"))
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

func writeConfig(dir string, lines []string) error {
	return ApplyConfig(dir, strings.Join(lines, "\n")+"\n")
}

// DisableImages rewrites the .config in dir so that no firmware images are
// produced: every CONFIG_X_IMAGES=y becomes CONFIG_X_IMAGE=n and the rootfs
// tarball and cpio outputs are switched off.
func DisableImages(dir string) error {
	lines, err := readConfig(dir)
	if err != nil {
		return err
	}
	for i, line := range lines {
		if m := imagesRe.FindStringSubmatch(line); m != nil {
			lines[i] = "CONFIG_" + m[1] + "_IMAGE=n"
			continue
		}
		switch line {
		case "CONFIG_TARGET_ROOTFS_TARGZ=y":
			lines[i] = "CONFIG_TARGET_ROOTFS_TARGZ=n"
		case "CONFIG_TARGET_ROOTFS_CPIOGZ=y":
			lines[i] = "CONFIG_TARGET_ROOTFS_CPIOGZ=n"
		}
	}
	return writeConfig(dir, lines)
}
