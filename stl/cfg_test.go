package stl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stlgen.yaml")
	data := []byte(`
logging:
  level: debug
generator:
  cores: 4
  snaplen: 2KB
seed: 42
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 4, cfg.Generator.Cores)
	assert.Equal(t, 2*datasize.KB, cfg.Generator.Snaplen)
	// Unset values keep their defaults.
	assert.Equal(t, uint64(16), cfg.Generator.Packets)
	assert.Equal(t, uint64(42), cfg.Seed)
}

func Test_LoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generator: ["), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
