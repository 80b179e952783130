package config

// CompileConfig is OpenWrt-K/compile.config.
type CompileConfig struct {
	TagBranch   string   `json:"openwrt_tag/branch" validate:"required"`
	KmodExclude []string `json:"kmod_compile_exclude_list"`
	UseCache    bool     `json:"use_cache"`
}

// ExtConfig is OpenWrt-K/openwrtext.config.
type ExtConfig struct {
	IPAddr        string `json:"ipaddr" validate:"required"`
	Timezone      string `json:"timezone" validate:"required"`
	ZoneName      string `json:"zonename" validate:"required"`
	GolangVersion string `json:"golang_version" validate:"required"`
}

// ExtPackage is one EXT_PACKAGES_* group of OpenWrt-K/extpackages.config.
// An empty Branch means the repository's default branch.
type ExtPackage struct {
	Path       string `json:"PATH"`
	Repository string `json:"REPOSITORIE" validate:"required,url"`
	Branch     string `json:"BRANCH"`
}

// BuildConfig is one named build configuration. It travels between CI jobs
// inside the matrix, so field order and JSON names are stable.
type BuildConfig struct {
	Path        string                `json:"path"`
	Name        string                `json:"name" validate:"required"`
	Compile     CompileConfig         `json:"compile"`
	OpenWrtExt  ExtConfig             `json:"openwrtext"`
	ExtPackages map[string]ExtPackage `json:"extpackages" validate:"dive"`
	OpenWrt     string                `json:"openwrt"`
	Target      string                `json:"target,omitempty"`
	Subtarget   string                `json:"subtarget,omitempty"`
}
