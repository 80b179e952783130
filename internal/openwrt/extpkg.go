package openwrt

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

var (
	relLuciMk = []byte("../../luci.mk")
	topLuciMk = []byte("$(TOPDIR)/feeds/luci/luci.mk")
)

// FixExtPackage makes a package copied from an external repository build
// outside the luci feed: Makefiles including ../../luci.mk point at the feed
// copy, and every po/ directory with zh-cn but no zh_Hans gets a zh_Hans
// symlink.
func FixExtPackage(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if d.Name() == "po" {
				return linkZhHans(path)
			}
			return nil
		}
		if d.Name() != "Makefile" || !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Contains(data, relLuciMk) {
			return nil
		}
		log.Debug().Str("op", "openwrt/extpkg").Msgf("rewriting luci.mk include in %s", path)
		return os.WriteFile(path, bytes.ReplaceAll(data, relLuciMk, topLuciMk), 0644)
	})
}

func linkZhHans(po string) error {
	if _, err := os.Lstat(filepath.Join(po, "zh_Hans")); err == nil {
		return nil
	}
	if info, err := os.Stat(filepath.Join(po, "zh-cn")); err != nil || !info.IsDir() {
		return nil
	}
	log.Debug().Str("op", "openwrt/extpkg").Msgf("linking zh_Hans to zh-cn in %s", po)
	return os.Symlink("zh-cn", filepath.Join(po, "zh_Hans"))
}
