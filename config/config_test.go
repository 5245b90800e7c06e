package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/richinsley/autoboard/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "krita", "autoboarding.json")

	cfg := Default()
	cfg.BackendURL = "http://10.0.0.5:8188"
	cfg.BackendType = string(client.ComfyUI)
	cfg.UseWebSocket = true
	cfg.DefaultCFGScale = 6.5
	cfg.DefaultSampler = "DPM++ 2M"
	cfg.ExportFormat = "jpeg"
	cfg.ExportBucket = "boards"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "http://10.0.0.5:8188", raw["backend_url"])
	assert.Equal(t, "comfyui", raw["backend_type"])

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoboarding.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend_url": "http://gpu-box:7860", "default_steps": 35}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:7860", cfg.BackendURL)
	assert.Equal(t, 35, cfg.DefaultSteps)
	assert.Equal(t, 512, cfg.DefaultWidth)
	assert.Equal(t, "Euler a", cfg.DefaultSampler)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoboarding.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend_url": "http://gpu-box:7860"}`), 0o644))

	t.Setenv("AUTOBOARD_BACKEND_URL", "http://override:8188")
	t.Setenv("AUTOBOARD_BACKEND_TYPE", "comfyui")
	t.Setenv("AUTOBOARD_MAX_WAIT", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:8188", cfg.BackendURL)
	assert.Equal(t, client.ComfyUI, cfg.Backend())
	assert.Equal(t, 120, cfg.MaxWait)
	assert.Equal(t, 20, cfg.DefaultSteps)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, body := range map[string]string{
		"unknown backend": `{"backend_type": "midjourney"}`,
		"width too large": `{"default_width": 4096}`,
		"bad url":         `{"backend_url": "not a url"}`,
		"export format":   `{"export_format": "pdf"}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "autoboarding.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoboarding.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend_url": `), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultRequestBuilds(t *testing.T) {
	cfg := Default()
	req := cfg.DefaultRequest("a quiet harbor at dawn")

	job, err := cfg.Builder().Build(req, cfg.Backend())
	require.NoError(t, err)
	require.NotNil(t, job.Txt2Img)
	assert.Equal(t, 512, job.Txt2Img.Width)
	assert.Equal(t, "Euler a", job.Txt2Img.SamplerName)
	assert.Len(t, cfg.ClientOptions(), 6)

	cfg.UseWebSocket = true
	cfg.OutputDir = "/srv/comfy/output"
	assert.Len(t, cfg.ClientOptions(), 8)
	c := client.NewClient(cfg.BackendURL, cfg.ClientOptions()...)
	assert.Equal(t, client.Automatic1111, c.Backend())
}
