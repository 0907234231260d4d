package obs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BackendKind selects the engine implementation.
type BackendKind string

const (
	BackendAuto     BackendKind = "auto"     // native when libobs loads, else software
	BackendNative   BackendKind = "native"   // libobs through purego
	BackendSoftware BackendKind = "software" // in-process Go engine
)

// Video output formats, colorspaces, ranges and scale types as libobs
// numbers them.
const (
	VideoFormatI420 = 1
	VideoFormatNV12 = 2

	ColorspaceDefault = 0
	Colorspace709     = 2

	RangeDefault = 0
	RangePartial = 1
	RangeFull    = 2

	ScaleBilinear = 3
	ScaleBicubic  = 2
	ScaleLanczos  = 4
)

// Speaker layouts.
const (
	SpeakersMono    = 1
	SpeakersStereo  = 2
	Speakers5Point1 = 6
)

// VideoInfo is passed to obs_reset_video at startup.
type VideoInfo struct {
	FPSNum        uint32 `toml:"fps_num" yaml:"fps_num"`
	FPSDen        uint32 `toml:"fps_den" yaml:"fps_den"`
	BaseWidth     uint32 `toml:"base_width" yaml:"base_width"`
	BaseHeight    uint32 `toml:"base_height" yaml:"base_height"`
	OutputWidth   uint32 `toml:"output_width" yaml:"output_width"`
	OutputHeight  uint32 `toml:"output_height" yaml:"output_height"`
	Format        int32  `toml:"format" yaml:"format"`
	Adapter       uint32 `toml:"adapter" yaml:"adapter"`
	GPUConversion bool   `toml:"gpu_conversion" yaml:"gpu_conversion"`
	Colorspace    int32  `toml:"colorspace" yaml:"colorspace"`
	Range         int32  `toml:"range" yaml:"range"`
	ScaleType     int32  `toml:"scale_type" yaml:"scale_type"`
}

// AudioInfo is passed to obs_reset_audio at startup.
type AudioInfo struct {
	SamplesPerSec uint32 `toml:"samples_per_sec" yaml:"samples_per_sec"`
	Speakers      int32  `toml:"speakers" yaml:"speakers"`
}

// StartupPaths tell libobs where its data and plugins live. %module% in the
// plugin paths is replaced by libobs with each module's name.
type StartupPaths struct {
	LibobsData string `toml:"libobs_data" yaml:"libobs_data"`
	PluginBin  string `toml:"plugin_bin" yaml:"plugin_bin"`
	PluginData string `toml:"plugin_data" yaml:"plugin_data"`
}

// EngineConfig configures one runtime.
type EngineConfig struct {
	Backend          BackendKind     `toml:"backend" yaml:"backend"`
	LibraryPath      string          `toml:"library_path" yaml:"library_path"`
	Locale           string          `toml:"locale" yaml:"locale"`
	ModuleConfigPath string          `toml:"module_config_path" yaml:"module_config_path"`
	Paths            StartupPaths    `toml:"paths" yaml:"paths"`
	LoadModules      bool            `toml:"load_modules" yaml:"load_modules"`
	Video            VideoInfo       `toml:"video" yaml:"video"`
	Audio            AudioInfo       `toml:"audio" yaml:"audio"`
	Platform         Platform        `toml:"platform" yaml:"platform"`
	Software         SoftwareOptions `toml:"software" yaml:"software"`

	// Logger overrides the package logger for this runtime.
	Logger *zap.Logger `toml:"-" yaml:"-"`
}

// DefaultEngineConfig returns 1080p30 NV12 video, 44.1 kHz stereo audio and
// the platform's default startup paths.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Backend:     BackendAuto,
		Locale:      "en-US",
		Paths:       DefaultStartupPaths(),
		LoadModules: true,
		Video: VideoInfo{
			FPSNum:        30,
			FPSDen:        1,
			BaseWidth:     1920,
			BaseHeight:    1080,
			OutputWidth:   1920,
			OutputHeight:  1080,
			Format:        VideoFormatNV12,
			GPUConversion: true,
			Colorspace:    Colorspace709,
			Range:         RangePartial,
			ScaleType:     ScaleBilinear,
		},
		Audio: AudioInfo{SamplesPerSec: 44100, Speakers: SpeakersStereo},
	}
}

// DefaultStartupPaths returns where libobs installs its data on this
// platform. On Linux a Nix-installed obs binary on PATH selects the Nix
// store layout.
func DefaultStartupPaths() StartupPaths {
	if runtime.GOOS != "linux" {
		return StartupPaths{
			LibobsData: "data/libobs",
			PluginBin:  "obs-plugins/64bit",
			PluginData: "data/obs-plugins/%module%",
		}
	}
	if root, ok := nixObsRoot(); ok {
		share := filepath.Join(root, "share", "obs", "libobs")
		return StartupPaths{
			LibobsData: share,
			PluginBin:  filepath.Join(root, "lib", "obs-plugins", "%module%"),
			PluginData: filepath.Join(share, "obs-plugins", "%module%"),
		}
	}
	libDir := "/usr/lib"
	switch runtime.GOARCH {
	case "amd64":
		libDir = "/usr/lib/x86_64-linux-gnu"
	case "arm64":
		libDir = "/usr/lib/aarch64-linux-gnu"
	case "arm":
		libDir = "/usr/lib/arm-linux-gnueabihf"
	}
	return StartupPaths{
		LibobsData: "/usr/share/obs/libobs",
		PluginBin:  libDir + "/obs-plugins/%module%",
		PluginData: "/usr/share/obs/obs-plugins/%module%",
	}
}

// nixObsRoot returns the package root of an obs binary that lives in the Nix
// store.
func nixObsRoot() (string, bool) {
	bin, err := exec.LookPath("obs")
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(bin); err == nil {
		bin = resolved
	}
	if !slices.Contains(strings.Split(filepath.ToSlash(bin), "/"), "nix") {
		return "", false
	}
	return filepath.Dir(filepath.Dir(bin)), true
}

// applyDefaults fills zero fields from DefaultEngineConfig.
func (c *EngineConfig) applyDefaults() {
	def := DefaultEngineConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	if c.Video == (VideoInfo{}) {
		c.Video = def.Video
	}
	if c.Audio == (AudioInfo{}) {
		c.Audio = def.Audio
	}
}

// Validate checks the configuration for values the engine would reject.
func (c *EngineConfig) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendNative, BackendSoftware:
	default:
		return fmt.Errorf("invalid backend %q (want auto, native or software)", c.Backend)
	}
	if c.Video.FPSNum == 0 || c.Video.FPSDen == 0 {
		return fmt.Errorf("invalid video frame rate %d/%d", c.Video.FPSNum, c.Video.FPSDen)
	}
	if c.Video.BaseWidth == 0 || c.Video.BaseHeight == 0 || c.Video.OutputWidth == 0 || c.Video.OutputHeight == 0 {
		return fmt.Errorf("invalid video size %dx%d -> %dx%d",
			c.Video.BaseWidth, c.Video.BaseHeight, c.Video.OutputWidth, c.Video.OutputHeight)
	}
	if c.Audio.SamplesPerSec == 0 {
		return fmt.Errorf("invalid audio sample rate 0")
	}
	if c.Audio.Speakers <= 0 {
		return fmt.Errorf("invalid speaker layout %d", c.Audio.Speakers)
	}
	return nil
}

// LoadConfig reads an EngineConfig from a TOML or YAML file, chosen by
// extension. Fields the file leaves out keep their defaults.
func LoadConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from OBS_* environment variables. OBS_LIB_PATH is
// not a config field: the library loader reads it as a search directory.
func ApplyEnv(cfg *EngineConfig) {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("OBS_BACKEND"); v != "" {
		cfg.Backend = BackendKind(strings.ToLower(v))
	}
	setString("OBS_LIBRARY", &cfg.LibraryPath)
	setString("OBS_LOCALE", &cfg.Locale)
	setString("OBS_DATA_PATH", &cfg.Paths.LibobsData)
	setString("OBS_PLUGIN_BIN_PATH", &cfg.Paths.PluginBin)
	setString("OBS_PLUGIN_DATA_PATH", &cfg.Paths.PluginData)
}
