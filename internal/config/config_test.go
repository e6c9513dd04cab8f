package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: "1"
python: /opt/venv/bin/python
default_model: yolo26n
storage:
  models_dir: ~/models
export:
  timeout_seconds: 120
  verify: true
logging:
  level: debug
models:
  yolo26n:
    path: BoxToBox.API/Models/yolo26n.pt
    image_size: 640
    parameters:
      opset: 12
      simplify: true
  yolo26s:
    path: /abs/yolo26s.pt
    format: onnx
    source:
      huggingface:
        repo: Ultralytics/YOLO26
        include: ["yolo26s.pt"]
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "")
	require.NoError(t, err)

	assert.Equal(t, "/opt/venv/bin/python", cfg.Python)
	assert.Equal(t, 2*time.Minute, cfg.Export.Timeout())
	assert.True(t, cfg.Export.VerifyEnabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"yolo26n", "yolo26s"}, cfg.ModelIDs())

	id, m, err := cfg.Model("")
	require.NoError(t, err)
	assert.Equal(t, "yolo26n", id)
	assert.Equal(t, DefaultExporter, m.Exporter)
	assert.Equal(t, DefaultFormat, m.Format)
	assert.Equal(t, 640, m.ImageSize)
	assert.Equal(t, 12, m.Parameters["opset"])
	assert.Nil(t, m.GetSource())

	_, s, err := cfg.Model("yolo26s")
	require.NoError(t, err)
	assert.Equal(t, DefaultImageSize, s.ImageSize)
	src := s.GetSource()
	require.NotNil(t, src)
	assert.Equal(t, SourceTypeHuggingFace, src.Type())
	assert.Equal(t, "Ultralytics/YOLO26", src.(HuggingFaceSource).Repo)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":        "version: [",
		"missing models":  `version: "1"`,
		"unknown field":   "version: \"1\"\nmodels:\n  a:\n    path: a.pt\n    colour: red\n",
		"bad image size":  "version: \"1\"\nmodels:\n  a:\n    path: a.pt\n    image_size: 8\n",
		"bad exporter":    "version: \"1\"\nmodels:\n  a:\n    path: a.pt\n    exporter: tensorrt\n",
		"hf without repo": "version: \"1\"\nmodels:\n  a:\n    path: a.pt\n    source:\n      huggingface:\n        revision: main\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), "")
			assert.Error(t, err)
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := LoadAndValidate(path, "")
	require.NoError(t, err)
	assert.Len(t, cfg.Models, 2)

	_, err = LoadAndValidate(filepath.Join(dir, "missing.yaml"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAndValidate_ExternalSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type": "object", "required": ["version", "models", "owner"]}`), 0o644))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	_, err := LoadAndValidate(path, schemaPath)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	id, m, err := cfg.Model("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, id)
	assert.Equal(t, DefaultModelPath, m.Path)
	assert.Equal(t, "onnx", m.Format)
	assert.Equal(t, 640, m.ImageSize)
	assert.Equal(t, "ultralytics", m.Exporter)
	assert.False(t, cfg.Export.VerifyEnabled(), "verification is opt-in")
	assert.Equal(t, DefaultTimeout, cfg.Export.Timeout())
}

func TestModel_NotFound(t *testing.T) {
	cfg := Default()
	_, _, err := cfg.Model("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "/abs/model.pt", ResolvePath("/abs/model.pt", "/base"))
	assert.Equal(t, filepath.Join("/base", "BoxToBox.API", "Models", "yolo26n.pt"), ResolvePath(DefaultModelPath, "/base"))
	assert.Equal(t, filepath.Join(home, "m", "a.pt"), ResolvePath("a.pt", "~/m"))
}

func TestDefaultConfigPath_XDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG only applies on linux and bsd")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	assert.Equal(t, filepath.Join("/tmp/xdg", "modelport"), DefaultConfigPath())
	assert.Equal(t, filepath.Join("/tmp/xdg", "modelport", "config.yaml"), DefaultConfigFile())
}
