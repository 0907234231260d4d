package obs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultEngineConfig_Valid(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendAuto, cfg.Backend)
	assert.Equal(t, uint32(1920), cfg.Video.BaseWidth)
	assert.Equal(t, int32(VideoFormatNV12), cfg.Video.Format)
	assert.Equal(t, uint32(44100), cfg.Audio.SamplesPerSec)
	assert.NotEmpty(t, cfg.Paths.LibobsData)
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "engine.toml", `
backend = "software"
locale = "de-DE"

[video]
fps_num = 60
fps_den = 1
base_width = 1280
base_height = 720
output_width = 1280
output_height = 720

[software]
platform = "wayland"
dpi_unaware = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, cfg.Backend)
	assert.Equal(t, "de-DE", cfg.Locale)
	assert.Equal(t, uint32(60), cfg.Video.FPSNum)
	assert.Equal(t, uint32(720), cfg.Video.OutputHeight)
	assert.Equal(t, PlatformWayland, cfg.Software.Platform)
	assert.True(t, cfg.Software.DPIUnaware)
	// Left out of the file, so still the default.
	assert.Equal(t, uint32(44100), cfg.Audio.SamplesPerSec)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "engine.yaml", `
backend: native
library_path: /opt/obs/lib/libobs.so.30
paths:
  libobs_data: /opt/obs/share/obs/libobs
audio:
  samples_per_sec: 48000
  speakers: 1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendNative, cfg.Backend)
	assert.Equal(t, "/opt/obs/lib/libobs.so.30", cfg.LibraryPath)
	assert.Equal(t, "/opt/obs/share/obs/libobs", cfg.Paths.LibobsData)
	assert.Equal(t, uint32(48000), cfg.Audio.SamplesPerSec)
	assert.Equal(t, int32(SpeakersMono), cfg.Audio.Speakers)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "engine.json", `{}`))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.toml", `backend = [`))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "software:\n  platform: amiga\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OBS_BACKEND", "Software")
	t.Setenv("OBS_LIBRARY", "/tmp/libobs.so")
	t.Setenv("OBS_LOCALE", "fr-FR")
	t.Setenv("OBS_DATA_PATH", "/data")
	t.Setenv("OBS_PLUGIN_BIN_PATH", "/bin/%module%")
	t.Setenv("OBS_PLUGIN_DATA_PATH", "")

	cfg := DefaultEngineConfig()
	pluginData := cfg.Paths.PluginData
	ApplyEnv(&cfg)

	assert.Equal(t, BackendSoftware, cfg.Backend)
	assert.Equal(t, "/tmp/libobs.so", cfg.LibraryPath)
	assert.Equal(t, "fr-FR", cfg.Locale)
	assert.Equal(t, "/data", cfg.Paths.LibobsData)
	assert.Equal(t, "/bin/%module%", cfg.Paths.PluginBin)
	assert.Equal(t, pluginData, cfg.Paths.PluginData)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"backend", func(c *EngineConfig) { c.Backend = "gpu" }},
		{"fps", func(c *EngineConfig) { c.Video.FPSDen = 0 }},
		{"size", func(c *EngineConfig) { c.Video.OutputWidth = 0 }},
		{"rate", func(c *EngineConfig) { c.Audio.SamplesPerSec = 0 }},
		{"speakers", func(c *EngineConfig) { c.Audio.Speakers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg EngineConfig
	cfg.applyDefaults()
	assert.Equal(t, BackendAuto, cfg.Backend)
	assert.Equal(t, "en-US", cfg.Locale)
	assert.Equal(t, DefaultEngineConfig().Video, cfg.Video)
	require.NoError(t, cfg.Validate())
}
